package es

import (
	"context"
	"fmt"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tstuttard/eventsourcing/core/ds"
)

// CommitStrategy decides what SubmitChanges does when one of several
// repositories cannot be committed.
type CommitStrategy int

const (
	// ValidateThenCommit compares the expected version of every dirty
	// aggregate with the store before appending anything. A stale aggregate
	// fails the whole submit with no append performed.
	ValidateThenCommit CommitStrategy = iota
	// FailFast commits repositories in enlistment order and stops at the
	// first failure. Earlier repositories stay committed.
	FailFast
)

func (s CommitStrategy) String() string {
	switch s {
	case ValidateThenCommit:
		return "validate_then_commit"
	case FailFast:
		return "fail_fast"
	}
	return fmt.Sprintf("commit_strategy(%d)", int(s))
}

type enlisted interface {
	aggregateType() string
	precheck(ctx context.Context) error
	commitPending(ctx context.Context) error
	discard()
}

// Session is one unit of work. It owns the repositories enlisted during a
// logical operation and commits them together. A Session is not safe for
// concurrent use.
type Session struct {
	id       string
	log      *slog.Logger
	storage  *EventStorage
	bus      *Bus
	metrics  ESMetrics
	strategy CommitStrategy
	repos    *ds.Set[enlisted]
	byType   map[string]enlisted
	closed   bool
}

type sessionKey struct{}

// SessionFrom returns the active session carried by ctx.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok || s.closed {
		return nil, false
	}
	return s, true
}

func openSession(
	ctx context.Context,
	log *slog.Logger,
	storage *EventStorage,
	bus *Bus,
	metrics ESMetrics,
	strategy CommitStrategy,
) (context.Context, *Session, error) {
	if _, active := SessionFrom(ctx); active {
		return ctx, nil, ErrNestedSession
	}
	id := gonanoid.Must(8)
	s := &Session{
		id:       id,
		log:      log.With(slog.String("session", id)),
		storage:  storage,
		bus:      bus,
		metrics:  metrics,
		strategy: strategy,
		repos:    ds.NewSet[enlisted](),
		byType:   map[string]enlisted{},
	}
	metrics.SessionsOpen().Inc()
	s.log.Debug("opened", slog.String("strategy", strategy.String()))
	return context.WithValue(ctx, sessionKey{}, s), s, nil
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Active() bool     { return !s.closed }
func (s *Session) Bus() *Bus        { return s.bus }
func (s *Session) NumEnlisted() int { return s.repos.Len() }

func (s *Session) checkOpen() error {
	if s == nil || s.closed {
		return ErrSessionClosed
	}
	return nil
}

// enlist registers r with the session, once, and hands back the storage
// partition r must use.
func enlist[T Aggregate](s *Session, r *Repository[T]) (*AggregateRootStorage[T], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	storage, err := StorageFor(s.storage, r.aggType)
	if err != nil {
		return nil, err
	}
	if !s.repos.Contains(r) {
		s.repos.Add(r)
		s.byType[r.aggregateType()] = r
		s.log.Debug("enlisted", slog.String("agg_type", r.aggregateType()), slog.Int("position", s.repos.Len()))
	}
	return storage, nil
}

// SubmitChanges commits every enlisted repository in enlistment order
// according to the session's CommitStrategy.
func (s *Session) SubmitChanges(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	defer s.metrics.SessionCommitDuration().ObserveDuration()

	repos := s.repos.Values()
	if s.strategy == ValidateThenCommit {
		for _, r := range repos {
			if err := r.precheck(ctx); err != nil {
				s.log.Debug("submit rejected", slog.String("agg_type", r.aggregateType()), slog.Any("error", err))
				return err
			}
		}
	}
	for _, r := range repos {
		if err := r.commitPending(ctx); err != nil {
			s.log.Debug("submit failed", slog.String("agg_type", r.aggregateType()), slog.Any("error", err))
			return err
		}
	}
	s.log.Debug("submitted", slog.Int("repositories", len(repos)))
	return nil
}

// Close ends the unit of work, committed or not. It clears the active
// session marker and drops every enlisted repository and its cache.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	for _, r := range s.repos.Values() {
		r.discard()
	}
	s.repos.Clear()
	clear(s.byType)
	s.metrics.SessionsOpen().Dec()
	s.log.Debug("closed")
	return nil
}
