package es

import (
	"fmt"

	"github.com/tstuttard/eventsourcing/core/es/assert"
)

// Aggregate is the core interface for event-sourced domain objects.
// Implementations embed BaseAggregate and are created through an
// AggregateType, which binds the aggregate's apply table.
//
// The typical lifecycle is:
//  1. Create a new aggregate with AggregateType.New or load one with Repository.Find
//  2. Execute domain logic that calls Raise to validate, apply and buffer events
//  3. Session.SubmitChanges appends the buffer to the store and publishes it
type Aggregate interface {
	// GetID returns the unique identifier of this aggregate instance.
	GetID() string
	// GetVersion returns the persisted stream version the aggregate was built from.
	GetVersion() Version
	// Uncommitted returns a copy of events raised but not yet persisted.
	Uncommitted() []any
	// HasUncommitted reports whether there is anything to commit.
	HasUncommitted() bool

	base() *BaseAggregate
}

// BaseAggregate is an embeddable helper that tracks identity, the persisted
// version and the uncommitted event buffer.
type BaseAggregate struct {
	id          string
	version     Version
	uncommitted []any
	apply       func(event any) error
}

func (b *BaseAggregate) base() *BaseAggregate { return b }

func (b *BaseAggregate) GetID() string        { return b.id }
func (b *BaseAggregate) GetVersion() Version  { return b.version }
func (b *BaseAggregate) HasUncommitted() bool { return len(b.uncommitted) > 0 }
func (b *BaseAggregate) IsNew() bool          { return b.version == 0 }
func (b *BaseAggregate) PendingVersion() Version {
	return b.version.Add(len(b.uncommitted))
}

func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// Raise checks conds, applies event to the aggregate state and buffers it
// for the next commit. A failed condition or event validation aborts before
// anything is applied or buffered.
func (b *BaseAggregate) Raise(event any, conds ...assert.Cond) error {
	if b.apply == nil {
		return ErrAggregateNotInitialized
	}
	if err := assert.All(conds...).Check(); err != nil {
		return err
	}
	if ev, ok := event.(interface{ Validate() error }); ok {
		if err := ev.Validate(); err != nil {
			return fmt.Errorf("invalid event %T: %w", event, err)
		}
	}
	if err := b.apply(event); err != nil {
		return err
	}
	b.uncommitted = append(b.uncommitted, event)
	return nil
}

func (b *BaseAggregate) markCommitted(v Version) {
	b.version = v
	b.uncommitted = nil
}

// === AggregateType ===

// AggregateType describes one kind of aggregate: its stream namespace, how
// to construct an empty instance and which apply step handles each event kind.
type AggregateType[T Aggregate] struct {
	name  string
	newFn func() T
	table *ApplyTable[T]
}

// NewAggregateType checks the definition once, at construction.
func NewAggregateType[T Aggregate](name string, newFn func() T, table *ApplyTable[T]) (*AggregateType[T], error) {
	if name == "" {
		return nil, fmt.Errorf("aggregate type name is empty")
	}
	if newFn == nil {
		return nil, fmt.Errorf("aggregate type %s: constructor is nil", name)
	}
	if table == nil {
		return nil, fmt.Errorf("aggregate type %s: apply table is nil", name)
	}
	return &AggregateType[T]{name: name, newFn: newFn, table: table}, nil
}

// MustAggregateType is like NewAggregateType but panics on an invalid definition.
func MustAggregateType[T Aggregate](name string, newFn func() T, table *ApplyTable[T]) *AggregateType[T] {
	t, err := NewAggregateType(name, newFn, table)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *AggregateType[T]) Name() string          { return t.name }
func (t *AggregateType[T]) Kinds() []string       { return t.table.Kinds() }
func (t *AggregateType[T]) Table() *ApplyTable[T] { return t.table }

// New returns an empty aggregate with the given id, ready to Raise events.
func (t *AggregateType[T]) New(id string) T {
	agg := t.newFn()
	b := agg.base()
	b.id = id
	b.version = 0
	b.uncommitted = nil
	b.apply = func(event any) error { return t.table.Apply(agg, event) }
	return agg
}

// ReconstituteFrom folds history through the apply table, in order. The
// result is at the version of the last event and has nothing uncommitted.
func (t *AggregateType[T]) ReconstituteFrom(id string, history []any) (T, error) {
	agg := t.New(id)
	for i, ev := range history {
		if err := t.table.Apply(agg, ev); err != nil {
			var zero T
			return zero, fmt.Errorf("replay %s/%s event %d: %w", t.name, id, i+1, err)
		}
	}
	agg.base().version = Version(len(history))
	return agg, nil
}
