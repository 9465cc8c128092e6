package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_collapsesConcurrentCalls(t *testing.T) {
	var (
		g       Group[[]string]
		calls   atomic.Int32
		release = make(chan struct{})
		started = make(chan struct{})
		wg      sync.WaitGroup
	)

	fn := func() ([]string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []string{"a", "b"}, nil
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, _, err := g.Do("k", fn)
		assert.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, v)
	}()
	<-started

	const joiners = 4
	for range joiners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := g.Do("k", fn)
			assert.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, v)
		}()
	}
	// joiners that have not reached Do yet simply start a second call
	close(release)
	wg.Wait()
	require.LessOrEqual(t, calls.Load(), int32(1+joiners))
	require.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestGroup_error(t *testing.T) {
	var g Group[int]
	boom := errors.New("boom")

	v, shared, err := g.Do("k", func() (int, error) { return 7, boom })
	require.ErrorIs(t, err, boom)
	require.Zero(t, v)
	require.False(t, shared)

	v, _, err = g.Do("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)
}
