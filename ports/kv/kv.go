// Package kv is the key-value port read models are kept in.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("key not found")

type PutOptions struct {
	TTL time.Duration // zero keeps the entry forever
}

// Store holds opaque values by key. Get returns ErrNotFound for a missing key
// and Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Put stores v as JSON.
func Put[T any](ctx context.Context, s Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data, PutOptions{})
}

// Get loads the JSON value stored at key.
func Get[T any](ctx context.Context, s Store, key string) (T, error) {
	var out T
	data, err := s.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// GetOr is like Get but yields def for a missing key.
func GetOr[T any](ctx context.Context, s Store, key string, def T) (T, error) {
	v, err := Get[T](ctx, s, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

// Swapper is implemented by stores that can replace the value at a key as
// one atomic step. fn receives the current value, or found=false when the
// key is missing, and returns the value to store. It may run more than once.
type Swapper interface {
	Swap(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error
}

// ErrSwapContended is returned when a Swap keeps losing to other writers.
var ErrSwapContended = errors.New("swap contended")

// Update replaces the value at key with fn applied to the current one, or
// to the zero value when the key is missing. fn may run more than once.
// Stores implementing Swapper update atomically; for any other store two
// concurrent updates of one key may lose one of them.
func Update[T any](ctx context.Context, s Store, key string, fn func(*T)) error {
	sw, ok := s.(Swapper)
	if !ok {
		var zero T
		v, err := GetOr(ctx, s, key, zero)
		if err != nil {
			return err
		}
		fn(&v)
		return Put(ctx, s, key, v)
	}
	return sw.Swap(ctx, key, func(old []byte, found bool) ([]byte, error) {
		var v T
		if found {
			if err := json.Unmarshal(old, &v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		fn(&v)
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		return data, nil
	})
}
