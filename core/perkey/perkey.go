// Package perkey serializes work per key while letting different keys run
// concurrently. Commands addressed to one aggregate id are run one at a
// time; commands for different aggregates do not wait on each other.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("perkey: scheduler is closed")

// Scheduler runs functions such that, for any key, at most one runs at a
// time and waiting callers are admitted in arrival order.
type Scheduler[K comparable] struct {
	mu       sync.Mutex
	lanes    map[K]*lane
	closed   bool
	inflight sync.WaitGroup
}

// lane is the per-key token. Holding the single slot of turn means running.
type lane struct {
	turn chan struct{}
	refs int
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{lanes: map[K]*lane{}}
}

// Do runs fn once every earlier call for key has returned, and returns its
// error. If ctx ends while waiting, fn is not run and ctx's error is
// returned. A running fn is never interrupted by ctx.
func (s *Scheduler[K]) Do(ctx context.Context, key K, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, err := s.acquire(key)
	if err != nil {
		return err
	}
	defer s.release(key, l)

	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	return fn(ctx)
}

// Len reports the number of keys with running or waiting work.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Close rejects new work and waits for all admitted calls to return.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *Scheduler[K]) acquire(key K) (*lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{turn: make(chan struct{}, 1)}
		s.lanes[key] = l
	}
	l.refs++
	s.inflight.Add(1)
	return l, nil
}

func (s *Scheduler[K]) release(key K, l *lane) {
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.lanes, key)
	}
	s.mu.Unlock()
	s.inflight.Done()
}
