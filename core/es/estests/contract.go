// Package estests holds the behaviour every es.EventStore must show,
// shared by the in-memory store and the adapters.
package estests

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es"
)

// StoreFactory returns a store with no streams for a single test.
type StoreFactory func(t *testing.T) es.EventStore

// Envelopes builds n envelopes for the stream that follow expected.
func Envelopes(aggType, aggID string, expected es.Version, n int) []es.Envelope {
	out := make([]es.Envelope, n)
	for i := range out {
		v := expected.Add(i + 1)
		out[i] = es.Envelope{
			ID:            gonanoid.Must(),
			Version:       v,
			AggregateType: aggType,
			AggregateID:   aggID,
			Type:          "counted",
			OccurredAt:    time.Now().UTC().Truncate(time.Microsecond),
			Data:          []byte(fmt.Sprintf(`{"n":%d}`, v)),
		}
	}
	return out
}

// RunStoreContract runs the EventStore conformance suite against newStore.
func RunStoreContract(t *testing.T, newStore StoreFactory) {
	t.Run("read unknown stream", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Read(t.Context(), "class", "nope")
		require.ErrorIs(t, err, es.ErrNotFound)

		v, err := es.StreamVersion(t.Context(), s, "class", "nope")
		require.NoError(t, err)
		require.Equal(t, es.Version(0), v)
	})

	t.Run("version monotonicity", func(t *testing.T) {
		s := newStore(t)
		id := gonanoid.Must()
		for i := range 5 {
			v, err := s.Append(t.Context(), "class", id, es.Version(i), Envelopes("class", id, es.Version(i), 1))
			require.NoError(t, err)
			require.Equal(t, es.Version(i+1), v)
		}

		envs, err := s.Read(t.Context(), "class", id)
		require.NoError(t, err)
		require.Len(t, envs, 5)
		var lastSeq uint64
		for i, env := range envs {
			require.Equal(t, es.Version(i+1), env.Version)
			require.Equal(t, fmt.Sprintf(`{"n":%d}`, i+1), string(env.Data))
			require.Greater(t, env.Seq, lastSeq)
			lastSeq = env.Seq
		}
		requireVersion(t, s, "class", id, 5)
	})

	t.Run("batch append", func(t *testing.T) {
		s := newStore(t)
		id := gonanoid.Must()
		in := Envelopes("class", id, 0, 3)
		v, err := s.Append(t.Context(), "class", id, 0, in)
		require.NoError(t, err)
		require.Equal(t, es.Version(3), v)

		envs, err := s.Read(t.Context(), "class", id)
		require.NoError(t, err)
		require.Len(t, envs, 3)
		for i := range in {
			require.Equal(t, in[i].ID, envs[i].ID)
			require.Equal(t, in[i].Type, envs[i].Type)
			require.Equal(t, in[i].AggregateID, envs[i].AggregateID)
			require.True(t, in[i].OccurredAt.Equal(envs[i].OccurredAt))
		}
	})

	t.Run("stale expected version is rejected", func(t *testing.T) {
		s := newStore(t)
		id := gonanoid.Must()
		_, err := s.Append(t.Context(), "class", id, 0, Envelopes("class", id, 0, 2))
		require.NoError(t, err)
		before, err := s.Read(t.Context(), "class", id)
		require.NoError(t, err)

		for _, expected := range []es.Version{0, 1, 3} {
			_, err = s.Append(t.Context(), "class", id, expected, Envelopes("class", id, expected, 1))
			require.ErrorIs(t, err, es.ErrConcurrencyConflict, "expected=%d", expected)

			var ce *es.ConflictError
			if errors.As(err, &ce) {
				require.Equal(t, expected, ce.Expected)
				require.Equal(t, es.Version(2), ce.Actual)
			}
		}

		after, err := s.Read(t.Context(), "class", id)
		require.NoError(t, err)
		require.Equal(t, ids(before), ids(after))
		requireVersion(t, s, "class", id, 2)
	})

	t.Run("aggregate types are separate namespaces", func(t *testing.T) {
		s := newStore(t)
		id := gonanoid.Must()
		_, err := s.Append(t.Context(), "class", id, 0, Envelopes("class", id, 0, 2))
		require.NoError(t, err)
		_, err = s.Append(t.Context(), "mentor", id, 0, Envelopes("mentor", id, 0, 1))
		require.NoError(t, err)

		requireVersion(t, s, "class", id, 2)
		requireVersion(t, s, "mentor", id, 1)
		_, err = s.Read(t.Context(), "room", id)
		require.ErrorIs(t, err, es.ErrNotFound)
	})

	t.Run("invalid batches", func(t *testing.T) {
		s := newStore(t)
		id := gonanoid.Must()
		_, err := s.Append(t.Context(), "class", id, 0, nil)
		require.ErrorIs(t, err, es.ErrStoreNoEvents)

		other := Envelopes("class", "someone-else", 0, 1)
		_, err = s.Append(t.Context(), "class", id, 0, other)
		require.Error(t, err)

		_, err = s.Read(t.Context(), "class", id)
		require.ErrorIs(t, err, es.ErrNotFound)
	})

	t.Run("racing writers on one stream", func(t *testing.T) {
		s := newStore(t)
		id := gonanoid.Must()
		_, err := s.Append(t.Context(), "class", id, 0, Envelopes("class", id, 0, 1))
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			ok        atomic.Int32
			conflicts atomic.Int32
			start     = make(chan struct{})
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.Append(context.Background(), "class", id, 1, Envelopes("class", id, 1, 2))
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, es.ErrConcurrencyConflict):
					conflicts.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), ok.Load())
		require.Equal(t, int32(writers-1), conflicts.Load())
		requireVersion(t, s, "class", id, 3)
	})

	t.Run("independent streams in parallel", func(t *testing.T) {
		s := newStore(t)
		const streams = 10
		var wg sync.WaitGroup
		errs := make([]error, streams)
		idList := make([]string, streams)
		for i := range streams {
			idList[i] = gonanoid.Must()
			wg.Add(1)
			go func() {
				defer wg.Done()
				for v := range 3 {
					if _, err := s.Append(context.Background(), "class", idList[i], es.Version(v), Envelopes("class", idList[i], es.Version(v), 1)); err != nil {
						errs[i] = err
						return
					}
				}
			}()
		}
		wg.Wait()
		for i := range streams {
			require.NoError(t, errs[i])
			requireVersion(t, s, "class", idList[i], 3)
		}
	})
}

func requireVersion(t *testing.T, s es.EventStore, aggType, aggID string, want es.Version) {
	t.Helper()
	got, err := es.StreamVersion(t.Context(), s, aggType, aggID)
	require.NoError(t, err)
	require.Equal(t, want, got)

	envs, err := s.Read(t.Context(), aggType, aggID)
	require.NoError(t, err)
	require.Len(t, envs, int(want))
}

func ids(envs []es.Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.ID
	}
	return out
}

// IntegrationEnv gates tests that need containers or external services.
const IntegrationEnv = "ES_INTEGRATION"

// RequireIntegration skips t unless ES_INTEGRATION=1.
func RequireIntegration(t testing.TB) {
	t.Helper()
	if os.Getenv(IntegrationEnv) != "1" {
		t.Skipf("set %s=1 to run", IntegrationEnv)
	}
}
