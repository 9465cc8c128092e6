package es

import (
	"errors"
	"fmt"

	"github.com/tstuttard/eventsourcing/core/es/assert"
)

var (
	// ErrNotFound is returned when a stream or aggregate has never been appended to.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict is returned when the expected version of an append
	// does not match the stream. The stream is left unchanged.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrDuplicateID is returned by Repository.Add for an id already tracked by the session.
	ErrDuplicateID = errors.New("duplicate aggregate id")
	// ErrNestedSession is returned when a session is opened while another one is active.
	ErrNestedSession = errors.New("cannot nest unit of work")
	// ErrSessionClosed is returned when a closed session or one of its repositories is used.
	ErrSessionClosed = errors.New("session closed")

	ErrUnknownEventType        = errors.New("unknown event type")
	ErrStoreNoEvents           = errors.New("no events to store")
	ErrAggregateNotInitialized = errors.New("aggregate not initialized")
)

// ConflictError carries the details of a rejected append.
type ConflictError struct {
	AggregateType string
	AggregateID   string
	Expected      Version
	Actual        Version
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"%s: expected version %d, got %d (agg_type=%s agg_id=%s)",
		ErrConcurrencyConflict,
		e.Expected,
		e.Actual,
		e.AggregateType,
		e.AggregateID,
	)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// NewConflictError is used by EventStore implementations to report a version mismatch.
func NewConflictError(aggType, aggID string, expected, actual Version) error {
	return &ConflictError{AggregateType: aggType, AggregateID: aggID, Expected: expected, Actual: actual}
}

// IsValidation reports whether err was raised by an aggregate invariant check.
func IsValidation(err error) bool {
	var v *assert.Violation
	return errors.As(err, &v)
}
