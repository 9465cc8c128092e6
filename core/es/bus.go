package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type (
	// Handler processes committed events of type E, typically to update a read model.
	Handler[E any] interface {
		Handle(ctx context.Context, event E) error
	}
	HandlerFunc[E any] func(ctx context.Context, event E) error
)

func (f HandlerFunc[E]) Handle(ctx context.Context, event E) error { return f(ctx, event) }

// EventMeta describes the stored envelope an event was published from.
type EventMeta struct {
	EnvelopeID    string
	AggregateType string
	AggregateID   string
	Version       Version
	OccurredAt    time.Time
}

type eventMetaKey struct{}

func withEventMeta(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, eventMetaKey{}, EventMeta{
		EnvelopeID:    env.ID,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		Version:       env.Version,
		OccurredAt:    env.OccurredAt,
	})
}

// MetaFrom returns the metadata of the event being handled, if ctx carries one.
func MetaFrom(ctx context.Context) (EventMeta, bool) {
	m, ok := ctx.Value(eventMetaKey{}).(EventMeta)
	return m, ok
}

type registration struct {
	seq    int
	kind   string
	match  func(event any) bool
	invoke func(ctx context.Context, event any) error
}

// Bus delivers committed events to every registration able to process them.
// Registrations are keyed by event kind, so matching is a map lookup; each
// delivery constructs a fresh handler from the registered factory.
type Bus struct {
	mu      sync.RWMutex
	log     *slog.Logger
	metrics ESMetrics
	seq     int
	byKind  map[string][]*registration
	all     []*registration
}

func NewBus(opts ...BusOption) *Bus {
	options := newBusOpts(opts...)
	return &Bus{
		log:     options.log.With(slog.String("component", "bus")),
		metrics: options.metrics,
		byKind:  map[string][]*registration{},
	}
}

func (b *Bus) add(kind string, match func(any) bool, invoke func(ctx context.Context, event any) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	r := &registration{seq: b.seq, kind: kind, match: match, invoke: invoke}
	if kind == "" {
		b.all = append(b.all, r)
	} else {
		b.byKind[kind] = append(b.byKind[kind], r)
	}
	b.log.Debug("registered", slog.String("kind", kindOrAll(kind)), slog.Int("seq", r.seq))
}

// Subscribe registers factory for events of type E. Handlers receive *E.
func Subscribe[E any](b *Bus, factory func() Handler[*E]) {
	b.add(EventTypeFor[E](), nil, func(ctx context.Context, event any) error {
		e, err := asEvent[E](event)
		if err != nil {
			return err
		}
		return factory().Handle(ctx, e)
	})
}

// SubscribeFunc registers a stateless handler function for events of type E.
func SubscribeFunc[E any](b *Bus, fn func(ctx context.Context, event *E) error) {
	Subscribe[E](b, func() Handler[*E] { return HandlerFunc[*E](fn) })
}

// SubscribeAll registers factory for events of every kind.
func SubscribeAll(b *Bus, factory func() Handler[any]) {
	b.add("", nil, func(ctx context.Context, event any) error {
		return factory().Handle(ctx, event)
	})
}

// SubscribeAs registers factory for every event implementing I, whatever
// its kind.
func SubscribeAs[I any](b *Bus, factory func() Handler[I]) {
	b.add("", func(event any) bool {
		_, ok := event.(I)
		return ok
	}, func(ctx context.Context, event any) error {
		return factory().Handle(ctx, event.(I))
	})
}

// Raise delivers event to the matching registrations in registration order.
// Without a match it does nothing. The first handler error stops delivery
// and is returned to the caller.
func (b *Bus) Raise(ctx context.Context, event any) error {
	kind := EventTypeOf(event)
	for _, r := range b.matching(kind) {
		if r.match != nil && !r.match(event) {
			continue
		}
		timer := b.metrics.HandlerDuration(kind)
		err := r.invoke(ctx, event)
		timer.ObserveDuration()
		if err != nil {
			b.metrics.HandlerFailed(kind)
			b.log.Error(
				"handler failed",
				slog.String("kind", kind),
				slog.Int("seq", r.seq),
				slog.Any("error", err),
			)
			return fmt.Errorf("handle %s: %w", kind, err)
		}
	}
	return nil
}

// matching merges kind-specific and catch-all registrations by seq.
func (b *Bus) matching(kind string) []*registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	specific, all := b.byKind[kind], b.all
	out := make([]*registration, 0, len(specific)+len(all))
	i, j := 0, 0
	for i < len(specific) && j < len(all) {
		if specific[i].seq < all[j].seq {
			out = append(out, specific[i])
			i++
		} else {
			out = append(out, all[j])
			j++
		}
	}
	out = append(out, specific[i:]...)
	return append(out, all[j:]...)
}

func asEvent[E any](event any) (*E, error) {
	switch e := event.(type) {
	case *E:
		return e, nil
	case E:
		return &e, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, event)
}

func kindOrAll(kind string) string {
	if kind == "" {
		return "*"
	}
	return kind
}
