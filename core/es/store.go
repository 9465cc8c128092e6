package es

import (
	"context"
	"errors"
)

// EventStore is the durable, append-only log of envelopes per stream. A
// stream is identified by (aggregate type, aggregate id).
//
// Append must compare expected with the stream version, insert the events
// and bump the version as one atomic unit with respect to any other append
// to the same stream. On a mismatch it returns an error matching
// ErrConcurrencyConflict and leaves the stream untouched. Appends to
// different streams must not block each other.
type EventStore interface {
	// Read returns every envelope of the stream in version order, or ErrNotFound.
	Read(ctx context.Context, aggType, aggID string) ([]Envelope, error)
	// Append returns the new stream version, expected+len(events).
	Append(ctx context.Context, aggType, aggID string, expected Version, events []Envelope) (Version, error)
}

// StreamVersioner is implemented by stores that can report a stream version
// without reading its events. Unknown streams are at version 0.
type StreamVersioner interface {
	StreamVersion(ctx context.Context, aggType, aggID string) (Version, error)
}

// StreamVersion asks store for the current version of a stream, falling back
// to counting its events.
func StreamVersion(ctx context.Context, store EventStore, aggType, aggID string) (Version, error) {
	if sv, ok := store.(StreamVersioner); ok {
		return sv.StreamVersion(ctx, aggType, aggID)
	}
	envs, err := store.Read(ctx, aggType, aggID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return Version(len(envs)), nil
}

// StreamKey identifies one stream. Using a struct rather than a joined string
// keeps ids of different aggregate types from ever colliding.
type StreamKey struct {
	AggregateType string
	AggregateID   string
}
