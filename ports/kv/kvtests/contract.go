// Package kvtests holds the behaviour every kv.Store must show.
package kvtests

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/ports/kv"
)

type StoreFactory func(t *testing.T) kv.Store

type roster struct {
	Class   string   `json:"class"`
	Members []string `json:"members"`
}

// RunStoreContract checks put, get, delete and update semantics. Stores
// implementing kv.Swapper must also keep every concurrent update.
func RunStoreContract(t *testing.T, newStore StoreFactory) {
	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(t.Context(), "missing")
		require.ErrorIs(t, err, kv.ErrNotFound)
		require.NoError(t, s.Delete(t.Context(), "missing"))
	})

	t.Run("put get delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(t.Context(), "class/maths", []byte(`{"size":3}`), kv.PutOptions{}))
		require.NoError(t, s.Put(t.Context(), "class/art", []byte(`{"size":1}`), kv.PutOptions{}))

		v, err := s.Get(t.Context(), "class/maths")
		require.NoError(t, err)
		require.JSONEq(t, `{"size":3}`, string(v))

		require.NoError(t, s.Put(t.Context(), "class/maths", []byte(`{"size":4}`), kv.PutOptions{}))
		v, err = s.Get(t.Context(), "class/maths")
		require.NoError(t, err)
		require.JSONEq(t, `{"size":4}`, string(v))

		require.NoError(t, s.Delete(t.Context(), "class/maths"))
		_, err = s.Get(t.Context(), "class/maths")
		require.ErrorIs(t, err, kv.ErrNotFound)
		_, err = s.Get(t.Context(), "class/art")
		require.NoError(t, err)
	})

	t.Run("update", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, kv.Update(t.Context(), s, "roster", func(r *roster) { r.Class = "maths" }))
		require.NoError(t, kv.Update(t.Context(), s, "roster", func(r *roster) { r.Members = append(r.Members, "ada") }))

		got, err := kv.Get[roster](t.Context(), s, "roster")
		require.NoError(t, err)
		require.Equal(t, roster{Class: "maths", Members: []string{"ada"}}, got)
	})

	t.Run("concurrent updates are all kept", func(t *testing.T) {
		s := newStore(t)
		if _, ok := s.(kv.Swapper); !ok {
			t.Skip("store updates are not atomic")
		}

		const n = 32
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := kv.Update(t.Context(), s, "ids", func(ids *[]int) { *ids = append(*ids, i) })
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		ids, err := kv.Get[[]int](t.Context(), s, "ids")
		require.NoError(t, err)
		require.ElementsMatch(t, seq(n), ids)
	})
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
