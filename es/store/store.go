// Package store provides storage abstractions for the event sourcing engine.
package store

import (
	"context"

	"github.com/getpup/docstream/es"
)

// AppendResult reports the outcome of a successful append.
type AppendResult struct {
	// NextVersion is the stream version of the last appended event
	NextVersion int64

	// CreatedStream is true if this append created the stream
	CreatedStream bool
}

// ReadOptions selects a window of a stream.
type ReadOptions struct {
	// FromVersion is the inclusive lower bound, nil for the start of the stream
	FromVersion *int64

	// ToVersion is the inclusive upper bound, nil for the end of the stream
	ToVersion *int64

	// MaxCount limits the number of returned events, 0 for no limit.
	// It truncates the result but never affects the reported CurrentVersion.
	MaxCount int
}

// ReadResult is the outcome of reading a stream.
type ReadResult struct {
	// CurrentVersion is the stream's true latest version regardless of the
	// requested window, or es.NoStreamVersion if the stream does not exist
	CurrentVersion int64

	// Events are the events within the requested window, in stream order
	Events []es.RecordedEvent

	// Exists is false for a stream that has never been appended to
	Exists bool
}

// StreamStore defines the per-stream append and read operations.
type StreamStore interface {
	// Append atomically appends one or more events to a stream.
	//
	// The version check against expected, the global position reservation,
	// the event writes and the stream metadata update happen in one storage
	// transaction: either all events are appended or none are.
	//
	// Returns es.ErrNoEvents if events is empty and a *es.VersionConflictError
	// if expected does not match the stream's actual version.
	Append(ctx context.Context, stream string, events []es.Event, expected es.ExpectedVersion) (AppendResult, error)

	// Read reads a window of a stream in stream order.
	// A stream that has never been appended to yields Exists=false and no
	// events, not an error.
	Read(ctx context.Context, stream string, opts ReadOptions) (ReadResult, error)
}

// GlobalReader reads events across all streams in global position order.
type GlobalReader interface {
	// ReadAll returns up to limit events with GlobalPosition > afterPosition,
	// merged across all streams and ordered by global position.
	ReadAll(ctx context.Context, afterPosition int64, limit int) ([]es.RecordedEvent, error)
}

// CheckpointStore persists consumer checkpoints.
// A checkpoint is the last global position a consumer has durably finished
// processing; it is exclusively owned by that consumer's single active run.
type CheckpointStore interface {
	// LoadCheckpoint returns the checkpoint for a consumer id.
	// found is false if no checkpoint has been saved yet.
	LoadCheckpoint(ctx context.Context, consumerID string) (position int64, found bool, err error)

	// SaveCheckpoint stores the checkpoint for a consumer id, creating it if absent.
	SaveCheckpoint(ctx context.Context, consumerID string, position int64) error
}

// DocumentStore persists read model documents keyed by projection name and
// document id. Documents exist fully or not at all; deletion removes the
// record rather than flagging it.
type DocumentStore interface {
	// GetDocument returns the document, or found=false if it does not exist.
	GetDocument(ctx context.Context, projection, docID string) (doc map[string]any, found bool, err error)

	// PutDocument fully replaces the document.
	PutDocument(ctx context.Context, projection, docID string, doc map[string]any) error

	// DeleteDocument removes the document. Deleting a missing document is a no-op.
	DeleteDocument(ctx context.Context, projection, docID string) error
}
