package es

import (
	"fmt"
	"sync"

	"github.com/tstuttard/eventsourcing/core/reflector"
	"github.com/tstuttard/eventsourcing/internal/codec"
)

// EventTyper lets an event choose its own stable kind name. Events without
// it are named after their Go type.
type EventTyper interface {
	EventType() string
}

// EventTypeOf returns the kind identifier of ev.
func EventTypeOf(ev any) string {
	if t, ok := ev.(EventTyper); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}

// EventTypeFor returns the kind identifier of events of type E.
func EventTypeFor[E any]() string {
	return EventTypeOf(new(E))
}

// EventRegistry maps event type names to constructors so we can decode persisted events.
type EventRegistry struct {
	mu    sync.RWMutex
	codec codec.Codec
	news  map[string]func() any
}

func NewRegistry(c codec.Codec) *EventRegistry {
	if c == nil {
		c = codec.JSON{}
	}
	return &EventRegistry{codec: c, news: map[string]func() any{}}
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.news[eventType]
	return ok
}

func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if len(env.Data) > 0 {
		if err := r.codec.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s v%d: %w", env.Type, env.Version, err)
		}
	}
	return ev, nil
}

func (r *EventRegistry) Encode(ev any) ([]byte, error) {
	return r.codec.Marshal(ev)
}
