package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Repository is the identity-mapped access layer for one aggregate type
// within one Session. It loads aggregates on first Find, keeps at most one
// instance per id and commits their buffered events when the session submits.
type Repository[T Aggregate] struct {
	sess    *Session
	aggType *AggregateType[T]
	storage *AggregateRootStorage[T]
	log     *slog.Logger
	entries map[string]T
	order   []string
}

// RepositoryFor returns the session's repository for aggType, enlisting a
// new one on first use. Within one session every call for the same
// aggregate type yields the same repository and therefore the same cache.
func RepositoryFor[T Aggregate](sess *Session, aggType *AggregateType[T]) (*Repository[T], error) {
	if err := sess.checkOpen(); err != nil {
		return nil, err
	}
	if c, ok := sess.byType[aggType.Name()]; ok {
		r, ok := c.(*Repository[T])
		if !ok {
			return nil, fmt.Errorf("aggregate type %q already enlisted with a different Go type", aggType.Name())
		}
		return r, nil
	}

	r := &Repository[T]{
		sess:    sess,
		aggType: aggType,
		log:     sess.log.With(slog.String("repo", aggType.Name())),
		entries: map[string]T{},
	}
	storage, err := enlist(sess, r)
	if err != nil {
		return nil, err
	}
	r.storage = storage
	return r, nil
}

func (r *Repository[T]) aggregateType() string { return r.aggType.Name() }

// Len returns the number of aggregates tracked by this repository.
func (r *Repository[T]) Len() int { return len(r.entries) }

// Find returns the tracked instance for id, loading and caching it on the
// first call. It fails with ErrNotFound when the stream does not exist.
func (r *Repository[T]) Find(ctx context.Context, id string) (T, error) {
	var zero T
	if err := r.sess.checkOpen(); err != nil {
		return zero, err
	}
	if id == "" {
		return zero, errors.New("aggregate id is empty")
	}

	name := r.aggType.Name()
	if agg, ok := r.entries[id]; ok {
		r.sess.metrics.CacheHit(name)
		return agg, nil
	}
	r.sess.metrics.CacheMiss(name)

	history, version, err := r.storage.Read(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, fmt.Errorf("%s %s: %w", name, id, ErrNotFound)
		}
		return zero, fmt.Errorf("load %s %s: %w", name, id, err)
	}

	agg, err := r.aggType.ReconstituteFrom(id, history)
	if err != nil {
		return zero, err
	}
	if agg.GetVersion() != version {
		return zero, fmt.Errorf("load %s %s: replayed to version %d, stream is at %d", name, id, agg.GetVersion(), version)
	}

	r.track(id, agg)
	r.log.Debug("loaded", slog.String("id", id), version.SlogAttr())
	return agg, nil
}

// Add starts tracking a freshly created aggregate so its initial events are
// committed with the session. It fails with ErrDuplicateID if the id is
// already tracked.
func (r *Repository[T]) Add(agg T) error {
	if err := r.sess.checkOpen(); err != nil {
		return err
	}
	b := agg.base()
	if b.apply == nil {
		return ErrAggregateNotInitialized
	}
	id := agg.GetID()
	if id == "" {
		return errors.New("aggregate id is empty")
	}
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s %s", ErrDuplicateID, r.aggType.Name(), id)
	}
	r.track(id, agg)
	return nil
}

func (r *Repository[T]) track(id string, agg T) {
	r.entries[id] = agg
	r.order = append(r.order, id)
}

// precheck compares the expected version of every dirty aggregate with the store.
func (r *Repository[T]) precheck(ctx context.Context) error {
	name := r.aggType.Name()
	for _, id := range r.order {
		agg := r.entries[id]
		if !agg.HasUncommitted() {
			continue
		}
		actual, err := r.storage.StreamVersion(ctx, id)
		if err != nil {
			return fmt.Errorf("precheck %s %s: %w", name, id, err)
		}
		if expected := agg.GetVersion(); actual != expected {
			r.sess.metrics.ConcurrencyConflict(name)
			return NewConflictError(name, id, expected, actual)
		}
	}
	return nil
}

// commitPending appends the buffer of every dirty aggregate and publishes
// the appended events in order. A rejected append leaves the aggregate's
// buffer and version untouched and publishes nothing for it.
func (r *Repository[T]) commitPending(ctx context.Context) error {
	name := r.aggType.Name()
	for _, id := range r.order {
		agg := r.entries[id]
		if !agg.HasUncommitted() {
			continue
		}

		b := agg.base()
		events := agg.Uncommitted()
		newVersion, envs, err := r.storage.Append(ctx, id, b.version, events)
		if err != nil {
			return fmt.Errorf("commit %s %s: %w", name, id, err)
		}
		b.markCommitted(newVersion)

		r.log.Debug(
			"committed",
			slog.String("id", id),
			newVersion.SlogAttr(),
			slog.Int("num_events", len(events)),
		)

		for i, ev := range events {
			if err := r.sess.bus.Raise(withEventMeta(ctx, envs[i]), ev); err != nil {
				return fmt.Errorf("publish %s %s v%d: %w", name, id, envs[i].Version, err)
			}
		}
	}
	return nil
}

func (r *Repository[T]) discard() {
	clear(r.entries)
	r.order = nil
}
