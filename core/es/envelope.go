package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps an event with metadata for persistence and routing.
// It is the unit of storage in the EventStore and contains all information
// needed to reconstruct an event during replay.
type Envelope struct {
	// ID is the unique identifier of this event envelope.
	ID string `json:"id"`
	// Seq is the store-wide position assigned on append. Envelopes appended
	// in one batch may share it.
	Seq uint64 `json:"seq"`
	// Version is the per-aggregate stream version (1, 2, 3, ...).
	Version Version `json:"version"`
	// AggregateType identifies the stream namespace.
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the aggregate instance within its namespace.
	AggregateID string `json:"aggregate_id"`
	// Type is the event kind used to pick the decoder and apply step.
	Type string `json:"type"`
	// OccurredAt is when the event was raised.
	OccurredAt time.Time `json:"occurred_at"`
	// Data contains the encoded event payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("envelope version is zero")
	}
	return nil
}

// ValidateBatch checks that events belong to the given stream and carry
// consecutive versions starting right after expected.
func ValidateBatch(aggType, aggID string, expected Version, events []Envelope) error {
	if len(events) == 0 {
		return ErrStoreNoEvents
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid envelope %d: %w", i, err)
		}
		if e.AggregateType != aggType || e.AggregateID != aggID {
			return fmt.Errorf(
				"envelope %d belongs to %s/%s, not %s/%s",
				i, e.AggregateType, e.AggregateID, aggType, aggID,
			)
		}
		if want := expected.Add(i + 1); e.Version != want {
			return fmt.Errorf("envelope %d has version %d, want %d", i, e.Version, want)
		}
	}
	return nil
}
