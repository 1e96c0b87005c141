package es

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEvents indicates an attempt to append zero events.
	ErrNoEvents = errors.New("no events to append")

	// ErrVersionConflict indicates an optimistic concurrency conflict during append.
	// Use errors.Is with this sentinel; the concrete error is a *VersionConflictError
	// carrying the expected and actual versions.
	ErrVersionConflict = errors.New("stream version conflict")

	// ErrMissingConsumerID indicates a consumer was configured without an id.
	ErrMissingConsumerID = errors.New("consumer id is required")

	// ErrConsumerRunning indicates Start was called on an already running consumer.
	ErrConsumerRunning = errors.New("consumer is already running")

	// ErrNoProcessors indicates Start was called with no processors registered.
	ErrNoProcessors = errors.New("no processors registered")
)

// VersionConflictError reports an optimistic concurrency conflict.
// Actual is NoStreamVersion when the stream does not exist.
type VersionConflictError struct {
	Stream   string
	Expected ExpectedVersion
	Actual   int64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("stream %q: version conflict: expected %s, actual %d", e.Stream, e.Expected, e.Actual)
}

// Unwrap makes errors.Is(err, ErrVersionConflict) work.
func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}
