// Package aggregate rebuilds application state by folding a stream's events.
package aggregate

import (
	"context"

	"github.com/getpup/docstream/es"
	"github.com/getpup/docstream/es/store"
)

// EvolveFunc applies one event to the current state and returns the new state.
//
// Evolve must be pure: no I/O, no mutation of the input state. It should
// dispatch on event.Type and return the state unchanged for types it does not
// recognize, so that replaying a stream written by a newer version of the
// application degrades gracefully instead of failing.
type EvolveFunc[S any] func(state S, event es.RecordedEvent) S

// Result is the outcome of aggregating a stream.
type Result[S any] struct {
	// State is the folded state, or the initial state if the stream does not exist
	State S

	// CurrentVersion is the stream's latest version,
	// or es.NoStreamVersion if the stream does not exist
	CurrentVersion int64

	// Exists is false for a stream that has never been appended to
	Exists bool
}

// Aggregate reads a window of a stream and left-folds evolve over the initial
// state across its events in stream order.
//
// For a stream that does not exist, the returned state is initial() and evolve
// is never invoked.
func Aggregate[S any](
	ctx context.Context,
	streams store.StreamStore,
	stream string,
	evolve EvolveFunc[S],
	initial func() S,
	opts store.ReadOptions,
) (Result[S], error) {
	read, err := streams.Read(ctx, stream, opts)
	if err != nil {
		return Result[S]{}, err
	}

	state := initial()
	for _, event := range read.Events {
		state = evolve(state, event)
	}

	return Result[S]{
		State:          state,
		CurrentVersion: read.CurrentVersion,
		Exists:         read.Exists,
	}, nil
}
