// Package es provides core event sourcing infrastructure on top of
// transactional document stores.
//
// # Overview
//
// This package defines the fundamental types and interfaces for event sourcing:
//   - Event / RecordedEvent: immutable domain events
//   - ExpectedVersion: optimistic concurrency policies
//   - Logger: optional observability seam
//
// Storage interfaces live in the store package; concrete backends live in
// adapter packages (adapters/bolt, adapters/sqlite).
//
// # Design Philosophy
//
// Clean Architecture: Core interfaces are storage-agnostic. Infrastructure
// concerns (like bbolt bucket layout or SQL schema) are isolated in adapter
// packages.
//
// Atomic appends: an adapter's Append runs the version check, the global
// position reservation, the event writes and the stream metadata update in a
// single storage transaction. Conflicting writers race; the loser receives a
// version conflict and re-reads, conflict resolution stays in the caller's
// business layer.
//
// Immutability: Events are value objects. They don't have identity until
// persisted and assigned a stream version and global position by the store.
//
// # Quick Start
//
// 1. Open a store:
//
//	import (
//	    "github.com/getpup/docstream/es"
//	    "github.com/getpup/docstream/es/adapters/bolt"
//	)
//
//	store, err := bolt.Open("events.db", bolt.DefaultStoreConfig())
//
// 2. Append events:
//
//	events := []es.Event{
//	    {Type: "OrderPlaced", Data: payload, Metadata: map[string]string{"source": "api"}},
//	}
//
//	result, err := store.Append(ctx, "order-123", events, es.NoStream())
//
// 3. Rebuild state with the aggregate package:
//
//	res, err := aggregate.Aggregate(ctx, store, "order-123", evolve, initialOrder, store.ReadOptions{})
//
// 4. Process events with a catch-up consumer and document projections:
//
//	proj := projection.New("order_summaries", store, evolveOrderSummary,
//	    projection.WithEventTypes("OrderPlaced", "OrderShipped"))
//
//	c := consumer.New(store, consumer.Config{ConsumerID: "read-models"})
//	c.Register(proj)
//	c.Start(ctx)
//	defer c.Stop()
//
// # Optimistic Concurrency
//
// Append validates the expected version against the stream's actual version
// under four policies: Any (no check), NoStream (must not exist), StreamExists
// (must exist), Exact (must match). Conflicts return a *VersionConflictError
// that satisfies errors.Is(err, ErrVersionConflict) and carries both versions.
//
// # Global Ordering
//
// Every appended event receives a store-wide strictly increasing global
// position. A single append reserves one contiguous block for its batch, so
// events of one append are always adjacent in the global order.
//
// # Projections
//
// Consumers poll all streams beyond a durable checkpoint and deliver ordered
// pages to processors. Delivery is at-least-once: the checkpoint only advances
// after a fully successful page, so processors must be idempotent.
//
// See the consumer and projection packages for details.
package es
