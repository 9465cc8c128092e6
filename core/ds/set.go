// Package ds provides small generic containers.
package ds

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// Set keeps each element once and iterates in insertion order, so
// whatever is driven by it runs deterministically. It is not safe for
// concurrent use.
type Set[T comparable] struct {
	index map[T]int
	order []T
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{index: make(map[T]int, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }

// Add appends v unless it is already present and reports whether it did.
func (s *Set[T]) Add(v T) bool {
	if s.index == nil {
		s.index = map[T]int{}
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = len(s.order)
	s.order = append(s.order, v)
	return true
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.index[v]
	return ok
}

// Position returns the zero-based insertion position of v, or -1.
func (s *Set[T]) Position(v T) int {
	if i, ok := s.index[v]; ok {
		return i
	}
	return -1
}

// Remove deletes v, keeping the relative order of the rest.
func (s *Set[T]) Remove(v T) bool {
	i, ok := s.index[v]
	if !ok {
		return false
	}
	delete(s.index, v)
	s.order = slices.Delete(s.order, i, i+1)
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j]] = j
	}
	return true
}

func (s *Set[T]) Len() int      { return len(s.order) }
func (s *Set[T]) IsEmpty() bool { return len(s.order) == 0 }

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T { return slices.Clone(s.order) }

// All iterates in insertion order.
func (s *Set[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s.order {
			if !yield(v) {
				return
			}
		}
	}
}

func (s *Set[T]) Clear() {
	clear(s.index)
	s.order = nil
}

func (s Set[T]) MarshalJSON() ([]byte, error) {
	if s.order == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.order)
}

func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	s.Clear()
	for _, v := range items {
		s.Add(v)
	}
	return nil
}
