package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_sequentialPerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		mu      sync.Mutex
		seq     []int
		running atomic.Int32
		wg      sync.WaitGroup
	)
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Do(t.Context(), "class-1", func(context.Context) error {
				assert.Equal(t, int32(1), running.Add(1))
				defer running.Add(-1)
				mu.Lock()
				seq = append(seq, i)
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				return nil
			}))
		}()
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2}, seq)
	require.Equal(t, 0, s.Len())
}

func TestScheduler_parallelAcrossKeys(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		running    atomic.Int32
		maxRunning atomic.Int32
		wg         sync.WaitGroup
	)
	for i := range 5 {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(t.Context(), key, func(context.Context) error {
				cur := running.Add(1)
				for {
					m := maxRunning.Load()
					if cur <= m || maxRunning.CompareAndSwap(m, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.GreaterOrEqual(t, maxRunning.Load(), int32(2))
}

func TestScheduler_errorPropagation(t *testing.T) {
	s := New[string]()
	defer s.Close()

	want := errors.New("class is cancelled")
	require.ErrorIs(t, s.Do(t.Context(), "k", func(context.Context) error { return want }), want)
}

func TestScheduler_cancelledBeforeStart(t *testing.T) {
	s := New[string]()
	defer s.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := s.Do(ctx, "k", func(context.Context) error {
		t.Error("must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_timeoutWhileWaiting(t *testing.T) {
	s := New[string]()
	defer s.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do(t.Context(), "k", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := s.Do(ctx, "k", func(context.Context) error { ran.Store(true); return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
	require.False(t, ran.Load())
}

func TestScheduler_Close(t *testing.T) {
	s := New[int]()

	started := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_ = s.Do(t.Context(), 1, func(context.Context) error {
			close(started)
			time.Sleep(30 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	<-started

	s.Close()
	require.True(t, finished.Load(), "close waits for admitted work")
	require.ErrorIs(t, s.Do(t.Context(), 2, func(context.Context) error { return nil }), ErrClosed)
	require.NotPanics(t, s.Close)
}

func TestScheduler_manyKeys(t *testing.T) {
	s := New[int]()
	defer s.Close()

	var (
		count atomic.Int64
		wg    sync.WaitGroup
	)
	for i := range 500 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(t.Context(), i%50, func(context.Context) error {
				count.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int64(500), count.Load())
	require.Equal(t, 0, s.Len())
}
