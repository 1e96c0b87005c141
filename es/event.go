// Package es provides core event sourcing interfaces and types.
package es

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NoStreamVersion is the version of a stream that has never been appended to.
// Stream versions are zero-based: the first event of a stream is version 0.
const NoStreamVersion int64 = -1

// Event represents an immutable domain event.
// Events are value objects without identity until persisted.
type Event struct {
	// CreatedAt is when the event was created.
	// The store fills it with the current UTC time when zero.
	CreatedAt time.Time

	// Type identifies the type of event
	Type string

	// Data contains the event payload as JSON
	Data json.RawMessage

	// Metadata contains additional event metadata
	Metadata map[string]string

	// EventID is a unique identifier for this event.
	// The store assigns one when zero.
	EventID uuid.UUID
}

// RecordedEvent is an event that has been appended to a stream.
// StreamVersion and GlobalPosition are assigned by the store and are
// guaranteed to be set for recorded events.
type RecordedEvent struct {
	Event

	// StreamName is the stream the event belongs to
	StreamName string

	// StreamVersion is the zero-based position of the event within its stream
	StreamVersion int64

	// GlobalPosition is the store-wide strictly increasing sequence number
	GlobalPosition int64
}

// StreamMetadata describes a stream's current state.
type StreamMetadata struct {
	// Name identifies the stream
	Name string

	// Version is the stream version of the latest event,
	// or NoStreamVersion if the stream has never been appended to
	Version int64

	// CreatedAt is when the first event was appended
	CreatedAt time.Time

	// UpdatedAt is when the latest event was appended
	UpdatedAt time.Time
}
