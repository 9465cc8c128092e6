package es

import (
	"fmt"
	"slices"
)

// ApplyStep binds one event kind to the mutator that folds it into T.
type ApplyStep[T any] struct {
	kind  string
	ctor  func() any
	apply func(T, any) error
}

// On declares that events of type E are applied to T by fn. fn must be a
// pure function of the current state and the event: it is re-run verbatim
// on every replay.
func On[T any, E any](fn func(T, *E)) ApplyStep[T] {
	kind := EventTypeFor[E]()
	if fn == nil {
		return ApplyStep[T]{kind: kind}
	}
	return ApplyStep[T]{
		kind: kind,
		ctor: func() any { return new(E) },
		apply: func(agg T, event any) error {
			switch e := event.(type) {
			case *E:
				fn(agg, e)
			case E:
				fn(agg, &e)
			default:
				return fmt.Errorf("%w: %T is not %s", ErrUnknownEventType, event, kind)
			}
			return nil
		},
	}
}

// ApplyTable is the closed set of event kinds an aggregate type understands,
// each with exactly one apply step.
type ApplyTable[T any] struct {
	kinds []string
	steps map[string]ApplyStep[T]
}

// NewApplyTable builds the dispatch table. Duplicate kinds and an empty table
// are rejected here so that a missing or ambiguous apply step never surfaces
// as a silent no-op during replay.
func NewApplyTable[T any](steps ...ApplyStep[T]) (*ApplyTable[T], error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("apply table has no steps")
	}
	t := &ApplyTable[T]{
		steps: make(map[string]ApplyStep[T], len(steps)),
	}
	for _, s := range steps {
		if s.kind == "" || s.apply == nil {
			return nil, fmt.Errorf("apply table: no apply step for %q", s.kind)
		}
		if _, dup := t.steps[s.kind]; dup {
			return nil, fmt.Errorf("apply table: duplicate step for %s", s.kind)
		}
		t.steps[s.kind] = s
		t.kinds = append(t.kinds, s.kind)
	}
	return t, nil
}

// MustApplyTable is like NewApplyTable but panics on an invalid table.
func MustApplyTable[T any](steps ...ApplyStep[T]) *ApplyTable[T] {
	t, err := NewApplyTable(steps...)
	if err != nil {
		panic(err)
	}
	return t
}

// Apply runs the step registered for the kind of event.
func (t *ApplyTable[T]) Apply(agg T, event any) error {
	kind := EventTypeOf(event)
	s, ok := t.steps[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, kind)
	}
	return s.apply(agg, event)
}

func (t *ApplyTable[T]) Handles(kind string) bool {
	_, ok := t.steps[kind]
	return ok
}

// Kinds returns the declared event kinds in declaration order.
func (t *ApplyTable[T]) Kinds() []string { return slices.Clone(t.kinds) }

// Register hands the constructor of every declared kind to r.
func (t *ApplyTable[T]) Register(r *EventRegistry) {
	for _, k := range t.kinds {
		r.Register(k, t.steps[k].ctor)
	}
}
