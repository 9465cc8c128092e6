package nats

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/core/es/estests"
)

func TestEventStore_contract(t *testing.T) {
	estests.RequireIntegration(t)

	connect := ReuseConnection(NewTestContainer(t))
	estests.RunStoreContract(t, func(t *testing.T) es.EventStore {
		store, err := NewEventStore(t.Context(), EventStoreConfig{
			Connect:       connect,
			StreamName:    "ES_" + gonanoid.MustGenerate("ABCDEFGHIJ", 8),
			SubjectPrefix: "es" + gonanoid.MustGenerate("abcdefghij", 8),
			MemoryStorage: true,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestEventStore_streamConfig(t *testing.T) {
	estests.RequireIntegration(t)

	store, err := NewEventStore(t.Context(), EventStoreConfig{Connect: NewTestContainer(t)})
	require.NoError(t, err)
	defer store.Close()

	si, err := store.stream.Info(t.Context())
	require.NoError(t, err)
	require.Equal(t, defaultStreamName, si.Config.Name)
	require.Equal(t, []string{defaultSubjectPrefix + ".>"}, si.Config.Subjects)
	require.True(t, si.Config.DenyDelete)

	_, err = store.Append(t.Context(), "class", "maths", 0, estests.Envelopes("class", "maths", 0, 2))
	require.NoError(t, err)

	t.Run("one message per batch", func(t *testing.T) {
		si, err := store.stream.Info(t.Context())
		require.NoError(t, err)
		require.Equal(t, uint64(1), si.State.Msgs)
	})

	t.Run("no dangling consumers", func(t *testing.T) {
		_, err := store.Read(t.Context(), "class", "maths")
		require.NoError(t, err)
		cons := store.stream.ConsumerNames(t.Context())
		names := make([]string, 0)
		for n := range cons.Name() {
			names = append(names, n)
		}
		require.NoError(t, cons.Err())
		require.Empty(t, names)
	})
}

func TestCheckKey(t *testing.T) {
	require.NoError(t, checkKey("class", "maths-101"))
	require.Error(t, checkKey("", "x"))
	require.Error(t, checkKey("class", ""))
	require.Error(t, checkKey("class", "a.b"))
	require.Error(t, checkKey("class", "a*"))
}
