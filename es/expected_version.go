package es

import "fmt"

// ExpectedVersion represents the expected stream version for optimistic concurrency control.
// It is used in the Append operation to declare expectations about the current state of a stream.
type ExpectedVersion struct {
	value int64
}

const (
	// expectedVersionAny indicates no version check should be performed
	expectedVersionAny = -1
	// expectedVersionNoStream indicates the stream must not exist
	expectedVersionNoStream = -2
	// expectedVersionStreamExists indicates the stream must exist at any version
	expectedVersionStreamExists = -3
)

// Any returns an ExpectedVersion that skips version validation.
// Use this when you don't need optimistic concurrency control.
func Any() ExpectedVersion {
	return ExpectedVersion{value: expectedVersionAny}
}

// NoStream returns an ExpectedVersion that enforces the stream must not exist.
// Use this when creating a new stream to ensure it doesn't already exist.
// This is useful for enforcing uniqueness constraints via reservation streams.
func NoStream() ExpectedVersion {
	return ExpectedVersion{value: expectedVersionNoStream}
}

// StreamExists returns an ExpectedVersion that enforces the stream must exist,
// at any version. Use this when appending to a stream that another flow is
// responsible for creating.
func StreamExists() ExpectedVersion {
	return ExpectedVersion{value: expectedVersionStreamExists}
}

// Exact returns an ExpectedVersion that enforces the stream must be at exactly the specified version.
// Use this for normal command handling with optimistic concurrency control.
// The version must be non-negative (>= 0).
func Exact(version int64) ExpectedVersion {
	if version < 0 {
		panic(fmt.Sprintf("exact version must be non-negative, got %d", version))
	}
	return ExpectedVersion{value: version}
}

// IsAny returns true if this is an "Any" expected version (no version check).
func (ev ExpectedVersion) IsAny() bool {
	return ev.value == expectedVersionAny
}

// IsNoStream returns true if this is a "NoStream" expected version (stream must not exist).
func (ev ExpectedVersion) IsNoStream() bool {
	return ev.value == expectedVersionNoStream
}

// IsStreamExists returns true if this is a "StreamExists" expected version (stream must exist).
func (ev ExpectedVersion) IsStreamExists() bool {
	return ev.value == expectedVersionStreamExists
}

// IsExact returns true if this is an "Exact" expected version (stream must be at a specific version).
func (ev ExpectedVersion) IsExact() bool {
	return ev.value >= 0
}

// Value returns the exact version number if this is an Exact expected version.
// Returns 0 for Any, NoStream and StreamExists.
func (ev ExpectedVersion) Value() int64 {
	if ev.value >= 0 {
		return ev.value
	}
	return 0
}

// Validate checks the expected version against the actual stream version.
// actual is NoStreamVersion for a stream that does not exist.
// Returns a *VersionConflictError on mismatch, nil otherwise.
func (ev ExpectedVersion) Validate(stream string, actual int64) error {
	exists := actual != NoStreamVersion

	switch {
	case ev.IsAny():
		return nil
	case ev.IsNoStream():
		if exists {
			return &VersionConflictError{Stream: stream, Expected: ev, Actual: actual}
		}
	case ev.IsStreamExists():
		if !exists {
			return &VersionConflictError{Stream: stream, Expected: ev, Actual: actual}
		}
	default:
		if !exists || actual != ev.value {
			return &VersionConflictError{Stream: stream, Expected: ev, Actual: actual}
		}
	}
	return nil
}

// String returns a string representation of the ExpectedVersion.
func (ev ExpectedVersion) String() string {
	if ev.IsAny() {
		return "Any"
	}
	if ev.IsNoStream() {
		return "NoStream"
	}
	if ev.IsStreamExists() {
		return "StreamExists"
	}
	return fmt.Sprintf("Exact(%d)", ev.value)
}
