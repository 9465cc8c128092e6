// Package sf collapses concurrent calls for the same key into one.
package sf

import "golang.org/x/sync/singleflight"

// Group runs at most one fn per key at a time. Callers arriving while a call
// is in flight wait for it and receive its result; shared reports whether the
// result went to more than one caller.
type Group[T any] struct {
	group singleflight.Group
}

func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	out, err, shared := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, shared, err
	}
	return out.(T), shared, nil
}

// Forget makes the next Do for key run fn even if a call is still in flight.
func (g *Group[T]) Forget(key string) { g.group.Forget(key) }
