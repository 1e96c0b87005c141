// Package projection folds event streams into denormalized read model
// documents with create, update and delete semantics.
package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/getpup/docstream/es"
	"github.com/getpup/docstream/es/consumer"
	"github.com/getpup/docstream/es/store"
)

// Document is a read model document. A nil Document means "does not exist":
// an evolve returning nil deletes the document, the tombstone is its absence.
type Document = map[string]any

// MetadataKey is the reserved document field holding projection bookkeeping.
const MetadataKey = "_metadata"

// Metadata is the bookkeeping stamped into every written document.
// StreamPosition is the stream version of the last folded event, serialized
// as a decimal string like every other 64-bit integer field.
type Metadata struct {
	StreamID       string `json:"streamId"`
	Name           string `json:"name"`
	SchemaVersion  int64  `json:"schemaVersion"`
	StreamPosition string `json:"streamPosition"`
}

// EvolveFunc applies one event to a document and returns the new document.
//
// The incoming document is nil when it does not exist yet (unless the
// projection declares an initial state). Returning nil deletes the document.
// Evolve should dispatch on event.Type and return the document unchanged for
// types it does not recognize.
type EvolveFunc func(doc Document, event es.RecordedEvent) (Document, error)

// DocumentIDFunc extracts the document id an event contributes to.
type DocumentIDFunc func(event es.RecordedEvent) string

// foldStrategy decides what the fold starts from when a document is loaded.
// Exactly one of the two variants is selected at construction time.
type foldStrategy interface {
	seed(current Document) Document
}

// nullableFold passes the loaded document through, nil included. Used by
// projections whose evolve tolerates a nil document.
type nullableFold struct{}

func (nullableFold) seed(current Document) Document { return current }

// seededFold substitutes a declared initial state for a missing document.
type seededFold struct {
	initial func() Document
}

func (f seededFold) seed(current Document) Document {
	if current == nil {
		return f.initial()
	}
	return current
}

// Projection folds batches of events into documents of a document store.
// It implements consumer.Processor.
type Projection struct {
	name          string
	schemaVersion int64
	docs          store.DocumentStore
	evolve        EvolveFunc
	docID         DocumentIDFunc
	handles       map[string]struct{}
	fold          foldStrategy
	logger        es.Logger
}

var _ consumer.Processor = (*Projection)(nil)

// Option is a functional option for configuring a Projection.
type Option func(*Projection)

// WithEventTypes restricts the projection to an allow-list of event types.
// Without it, every event in a batch is folded.
func WithEventTypes(types ...string) Option {
	return func(p *Projection) {
		p.handles = make(map[string]struct{}, len(types))
		for _, t := range types {
			p.handles[t] = struct{}{}
		}
	}
}

// WithDocumentID sets how events map to document ids. The default is the
// event's stream name (one document per stream); a custom extractor can
// aggregate many streams into one document.
func WithDocumentID(fn DocumentIDFunc) Option {
	return func(p *Projection) {
		p.docID = fn
	}
}

// WithSchemaVersion sets the schema version stamped into document metadata.
func WithSchemaVersion(version int64) Option {
	return func(p *Projection) {
		p.schemaVersion = version
	}
}

// WithInitialState declares an initial document, selecting the seeded fold:
// evolve receives initial() instead of nil when the document does not exist.
func WithInitialState(initial func() Document) Option {
	return func(p *Projection) {
		p.fold = seededFold{initial: initial}
	}
}

// WithLogger sets a logger for the projection.
func WithLogger(logger es.Logger) Option {
	return func(p *Projection) {
		p.logger = logger
	}
}

// New creates a projection writing to the given document store.
func New(name string, docs store.DocumentStore, evolve EvolveFunc, opts ...Option) *Projection {
	p := &Projection{
		name:   name,
		docs:   docs,
		evolve: evolve,
		docID:  func(event es.RecordedEvent) string { return event.StreamName },
		fold:   nullableFold{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the projection name used for document namespacing.
func (p *Projection) Name() string {
	return p.name
}

// canHandle reports whether the event type is in the allow-list.
func (p *Projection) canHandle(event es.RecordedEvent) bool {
	if p.handles == nil {
		return true
	}
	_, ok := p.handles[event.Type]
	return ok
}

// Handle implements consumer.Processor for an already-ordered batch.
//
// Events are partitioned by document id; each partition is folded and written
// independently. A failing evolve or write aborts only its own document, the
// remaining partitions still process, and the joined error is returned.
func (p *Projection) Handle(ctx context.Context, events []es.RecordedEvent) error {
	var ids []string
	partitions := make(map[string][]es.RecordedEvent)
	for _, event := range events {
		if !p.canHandle(event) {
			continue
		}
		id := p.docID(event)
		if _, seen := partitions[id]; !seen {
			ids = append(ids, id)
		}
		partitions[id] = append(partitions[id], event)
	}

	var errs []error
	for _, id := range ids {
		if err := p.project(ctx, id, partitions[id]); err != nil {
			if p.logger != nil {
				p.logger.Error(ctx, "document projection failed",
					"projection", p.name,
					"document_id", id,
					"error", err)
			}
			errs = append(errs, fmt.Errorf("document %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// project folds one document id's events and writes or deletes the document.
func (p *Projection) project(ctx context.Context, id string, events []es.RecordedEvent) error {
	current, found, err := p.docs.GetDocument(ctx, p.name, id)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	var doc Document
	if found {
		delete(current, MetadataKey)
		doc = current
	}
	doc = p.fold.seed(doc)

	var last es.RecordedEvent
	for _, event := range events {
		doc, err = p.evolve(doc, event)
		if err != nil {
			return fmt.Errorf("evolve %s at version %d: %w", event.Type, event.StreamVersion, err)
		}
		last = event
	}

	if doc == nil {
		if err := p.docs.DeleteDocument(ctx, p.name, id); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if p.logger != nil {
			p.logger.Debug(ctx, "document deleted", "projection", p.name, "document_id", id)
		}
		return nil
	}

	doc[MetadataKey] = Metadata{
		StreamID:       last.StreamName,
		Name:           p.name,
		SchemaVersion:  p.schemaVersion,
		StreamPosition: strconv.FormatInt(last.StreamVersion, 10),
	}

	if err := p.docs.PutDocument(ctx, p.name, id, sanitize(doc)); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if p.logger != nil {
		p.logger.Debug(ctx, "document written",
			"projection", p.name,
			"document_id", id,
			"stream_position", last.StreamVersion)
	}
	return nil
}

// sanitize prepares a document for a store that accepts neither 64-bit
// integers nor absent values natively: int64/uint64 fields become decimal
// strings and nil fields are pruned, recursively.
func sanitize(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case Document:
		return sanitize(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitizeValue(e)
		}
		return out
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	default:
		return v
	}
}
