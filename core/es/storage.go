package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tstuttard/eventsourcing/internal/codec"
)

// EventStorage partitions an EventStore by aggregate type. Each aggregate
// type gets one AggregateRootStorage handle, resolved on first use.
type EventStorage struct {
	mu      sync.Mutex
	log     *slog.Logger
	store   EventStore
	codec   codec.Codec
	clock   func() time.Time
	newID   IDGenerator
	metrics ESMetrics
	handles map[string]any
}

func NewEventStorage(store EventStore, opts ...StorageOption) *EventStorage {
	options := newStorageOpts(opts...)
	return &EventStorage{
		log:     options.log.With(slog.String("component", "storage")),
		store:   store,
		codec:   options.codec,
		clock:   options.clock,
		newID:   options.idGenerator,
		metrics: options.metrics,
		handles: map[string]any{},
	}
}

func (s *EventStorage) Store() EventStore { return s.store }

// StorageFor returns the handle for aggType, creating it on first request.
// Registering two different Go types under one aggregate type name is an error.
func StorageFor[T Aggregate](s *EventStorage, aggType *AggregateType[T]) (*AggregateRootStorage[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[aggType.Name()]; ok {
		typed, ok := h.(*AggregateRootStorage[T])
		if !ok {
			return nil, fmt.Errorf("aggregate type %q already registered with a different Go type", aggType.Name())
		}
		return typed, nil
	}

	registry := NewRegistry(s.codec)
	aggType.Table().Register(registry)

	h := &AggregateRootStorage[T]{
		storage:  s,
		aggType:  aggType,
		registry: registry,
		log:      s.log.With(slog.String("agg_type", aggType.Name())),
	}
	s.handles[aggType.Name()] = h
	s.log.Debug("partition resolved", slog.String("agg_type", aggType.Name()), slog.Any("kinds", aggType.Kinds()))
	return h, nil
}

// AggregateRootStorage is the stream namespace of one aggregate type. It
// turns domain events into envelopes and back.
type AggregateRootStorage[T Aggregate] struct {
	storage  *EventStorage
	aggType  *AggregateType[T]
	registry *EventRegistry
	log      *slog.Logger
}

func (h *AggregateRootStorage[T]) AggregateType() *AggregateType[T] { return h.aggType }

// Read returns the decoded history of id and the stream version.
func (h *AggregateRootStorage[T]) Read(ctx context.Context, id string) ([]any, Version, error) {
	name := h.aggType.Name()
	defer h.storage.metrics.StoreReadDuration(name).ObserveDuration()

	envs, err := h.storage.store.Read(ctx, name, id)
	if err != nil {
		return nil, 0, err
	}

	events := make([]any, 0, len(envs))
	for i, env := range envs {
		if want := Version(i + 1); env.Version != want {
			return nil, 0, fmt.Errorf("stream %s/%s: expect version %d, got %d", name, id, want, env.Version)
		}
		ev, err := h.registry.Decode(env)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}
	return events, Version(len(envs)), nil
}

// Append encodes events and appends them after expected. It returns the new
// stream version and the envelopes as stored.
func (h *AggregateRootStorage[T]) Append(
	ctx context.Context,
	id string,
	expected Version,
	events []any,
) (Version, []Envelope, error) {
	if len(events) == 0 {
		return 0, nil, ErrStoreNoEvents
	}
	name := h.aggType.Name()
	defer h.storage.metrics.StoreAppendDuration(name).ObserveDuration()

	envs := make([]Envelope, 0, len(events))
	now := h.storage.clock()
	for i, ev := range events {
		kind := EventTypeOf(ev)
		if !h.aggType.Table().Handles(kind) {
			return 0, nil, fmt.Errorf("%w: %s is not declared by %s", ErrUnknownEventType, kind, name)
		}
		data, err := h.registry.Encode(ev)
		if err != nil {
			return 0, nil, fmt.Errorf("encode %s: %w", kind, err)
		}
		envs = append(envs, Envelope{
			ID:            h.storage.newID(),
			Version:       expected.Add(i + 1),
			AggregateType: name,
			AggregateID:   id,
			Type:          kind,
			OccurredAt:    now,
			Data:          data,
		})
	}

	newVersion, err := h.storage.store.Append(ctx, name, id, expected, envs)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			h.storage.metrics.ConcurrencyConflict(name)
			h.log.Warn("append rejected", slog.String("agg_id", id), expected.SlogAttrWithKey("expected"))
		}
		return 0, nil, err
	}
	h.storage.metrics.EventsAppended(name, len(envs))
	return newVersion, envs, nil
}

// StreamVersion reports the current version of id's stream, 0 if it does not exist.
func (h *AggregateRootStorage[T]) StreamVersion(ctx context.Context, id string) (Version, error) {
	return StreamVersion(ctx, h.storage.store, h.aggType.Name(), id)
}
