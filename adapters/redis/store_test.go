package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/core/es/estests"
	"github.com/tstuttard/eventsourcing/ports/kv"
	"github.com/tstuttard/eventsourcing/ports/kv/kvtests"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestEventStore_contract(t *testing.T) {
	estests.RunStoreContract(t, func(t *testing.T) es.EventStore {
		client, _ := newClient(t)
		return NewEventStore(client, "", nil)
	})
}

func TestEventStore_keysDoNotCollide(t *testing.T) {
	client, _ := newClient(t)
	s := NewEventStore(client, "test", nil)

	_, err := s.Append(t.Context(), "a:b", "c", 0, estests.Envelopes("a:b", "c", 0, 1))
	require.NoError(t, err)

	_, err = s.Read(t.Context(), "a", "b:c")
	require.ErrorIs(t, err, es.ErrNotFound)
	v, err := s.StreamVersion(t.Context(), "a", "b:c")
	require.NoError(t, err)
	require.Equal(t, es.Version(0), v)
}

func TestEventStore_conflictLeavesStreamUntouched(t *testing.T) {
	client, mr := newClient(t)
	s := NewEventStore(client, "test", nil)

	_, err := s.Append(t.Context(), "class", "maths", 0, estests.Envelopes("class", "maths", 0, 2))
	require.NoError(t, err)

	_, err = s.Append(t.Context(), "class", "maths", 1, estests.Envelopes("class", "maths", 1, 1))
	var conflict *es.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, es.Version(2), conflict.Actual)

	n, err := mr.List(s.streamKey("events", "class", "maths"))
	require.NoError(t, err)
	require.Len(t, n, 2)
	seq, err := mr.Get("{test}:seq")
	require.NoError(t, err)
	require.Equal(t, "2", seq) // counter unchanged by the rejected batch
}

func TestKvStore(t *testing.T) {
	client, mr := newClient(t)
	store := NewKvStore(client, "rm")

	_, err := store.Get(t.Context(), "maths")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Put(t.Context(), "maths", []byte(`{"size":3}`), kv.PutOptions{TTL: time.Minute}))
	b, err := store.Get(t.Context(), "maths")
	require.NoError(t, err)
	require.JSONEq(t, `{"size":3}`, string(b))
	require.True(t, mr.Exists("rm:maths"))

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(t.Context(), "maths")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Delete(t.Context(), "missing"))
}

func TestEventStore_keysShareOneSlot(t *testing.T) {
	client, mr := newClient(t)
	s := NewEventStore(client, "test", nil)

	_, err := s.Append(t.Context(), "class", "maths", 0, estests.Envelopes("class", "maths", 0, 1))
	require.NoError(t, err)
	_, err = s.Append(t.Context(), "mentor", "m-1", 0, estests.Envelopes("mentor", "m-1", 0, 1))
	require.NoError(t, err)

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, k := range keys {
		require.True(t, strings.HasPrefix(k, "{test}:"), "key %q is outside the store's hash slot", k)
	}
}

func TestKvStore_contract(t *testing.T) {
	kvtests.RunStoreContract(t, func(t *testing.T) kv.Store {
		client, _ := newClient(t)
		return NewKvStore(client, "rm")
	})
}
