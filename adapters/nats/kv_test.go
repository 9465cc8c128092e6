package nats

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es/estests"
	"github.com/tstuttard/eventsourcing/ports/kv"
	"github.com/tstuttard/eventsourcing/ports/kv/kvtests"
)

func TestKvStore(t *testing.T) {
	estests.RequireIntegration(t)

	type roster struct {
		Class   string
		Members []string
	}
	store, err := NewKvStore(t.Context(), KvConfig{Bucket: "rosters", Connect: NewTestContainer(t)})
	require.NoError(t, err)
	defer store.Close()

	_, err = kv.Get[roster](t.Context(), store, "maths")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, kv.Put(t.Context(), store, "maths", roster{Class: "maths", Members: []string{"ada"}}))
	v, err := kv.Get[roster](t.Context(), store, "maths")
	require.NoError(t, err)
	require.Equal(t, roster{Class: "maths", Members: []string{"ada"}}, v)

	require.NoError(t, store.Delete(t.Context(), "maths"))
	_, err = store.Get(t.Context(), "maths")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestKvStore_contract(t *testing.T) {
	estests.RequireIntegration(t)

	connect := ReuseConnection(NewTestContainer(t))
	kvtests.RunStoreContract(t, func(t *testing.T) kv.Store {
		store, err := NewKvStore(t.Context(), KvConfig{
			Bucket:  "kv_" + gonanoid.MustGenerate("abcdefghij", 8),
			Connect: connect,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
