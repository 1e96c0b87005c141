// Package bolt provides a bbolt adapter for the event sourcing engine.
//
// All records are stored as JSON documents in nested buckets:
//
//	streams/{name}                  -> { version, createdAt, updatedAt }
//	events/{name}/{padded version}  -> { eventId, type, data, metadata, timestamp, streamVersion, globalPosition }
//	all/{padded global position}    -> {name}/{padded version}
//	counters/global_position        -> uint64 (big endian)
//	checkpoints/{consumerId}        -> { position, updatedAt, consumerId }
//	projections/{name}/{docId}      -> read model document
//
// Event keys are zero-padded to a fixed width so lexicographic bucket order
// equals numeric order; stream and global range reads are plain cursor scans
// without secondary indices.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/getpup/docstream/es"
	"github.com/getpup/docstream/es/store"
)

const (
	bucketStreams     = "streams"
	bucketEvents      = "events"
	bucketAll         = "all"
	bucketCounters    = "counters"
	bucketCheckpoints = "checkpoints"
	bucketProjections = "projections"

	globalPositionKey = "global_position"

	// paddedWidth fits the full int64 range (19 decimal digits).
	paddedWidth = 20
)

// StoreConfig contains configuration for the bolt store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// OpenTimeout bounds the wait for the file lock when opening the database.
	OpenTimeout time.Duration
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Logger:      nil, // No logging by default
		OpenTimeout: time.Second,
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithOpenTimeout sets the file lock timeout used when opening the database.
func WithOpenTimeout(timeout time.Duration) StoreOption {
	return func(c *StoreConfig) {
		c.OpenTimeout = timeout
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a bbolt-backed implementation of every storage interface the
// engine needs: stream store, global reader, checkpoint store and document
// store.
type Store struct {
	db     *bbolt.DB
	config StoreConfig
}

var (
	_ store.StreamStore     = (*Store)(nil)
	_ store.GlobalReader    = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
	_ store.DocumentStore   = (*Store)(nil)
)

// Open opens a bolt store at the provided path, creating the file and the
// bucket layout as needed.
func Open(path string, config StoreConfig) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: config.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	s := &Store{db: db, config: config}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{
			bucketStreams, bucketEvents, bucketAll,
			bucketCounters, bucketCheckpoints, bucketProjections,
		} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// streamRecord is the persisted stream metadata document.
type streamRecord struct {
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// eventRecord is the persisted event document.
type eventRecord struct {
	EventID        string            `json:"eventId"`
	Type           string            `json:"type"`
	Data           json.RawMessage   `json:"data"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	StreamVersion  int64             `json:"streamVersion"`
	GlobalPosition int64             `json:"globalPosition"`
}

// checkpointRecord is the persisted consumer checkpoint document.
// The position is stored as a decimal string, matching the read model
// convention for 64-bit integers.
type checkpointRecord struct {
	Position   string    `json:"position"`
	UpdatedAt  time.Time `json:"updatedAt"`
	ConsumerID string    `json:"consumerId"`
}

// padKey formats a non-negative integer as a fixed-width zero-padded key.
func padKey(v int64) []byte {
	return []byte(fmt.Sprintf("%0*d", paddedWidth, v))
}

// Append implements store.StreamStore.
//
// The expected version check, the global position block reservation, the event
// writes, the global index writes and the stream metadata update all run in
// one bbolt update transaction.
func (s *Store) Append(ctx context.Context, stream string, events []es.Event, expected es.ExpectedVersion) (store.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return store.AppendResult{}, err
	}
	if strings.TrimSpace(stream) == "" {
		return store.AppendResult{}, fmt.Errorf("stream name is required")
	}
	if len(events) == 0 {
		return store.AppendResult{}, es.ErrNoEvents
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "append starting",
			"stream", stream,
			"event_count", len(events),
			"expected_version", expected.String())
	}

	var result store.AppendResult
	err := s.db.Update(func(tx *bbolt.Tx) error {
		streams := tx.Bucket([]byte(bucketStreams))

		var meta streamRecord
		current := es.NoStreamVersion
		if raw := streams.Get([]byte(stream)); raw != nil {
			if err := json.Unmarshal(raw, &meta); err != nil {
				return fmt.Errorf("unmarshal stream %q: %w", stream, err)
			}
			current = meta.Version
		}

		if err := expected.Validate(stream, current); err != nil {
			if s.config.Logger != nil {
				s.config.Logger.Error(ctx, "expected version validation failed",
					"stream", stream,
					"current_version", current,
					"expected_version", expected.String())
			}
			return err
		}

		firstPosition, err := s.reserveGlobalBlock(tx, int64(len(events)))
		if err != nil {
			return err
		}

		streamEvents, err := tx.Bucket([]byte(bucketEvents)).CreateBucketIfNotExists([]byte(stream))
		if err != nil {
			return fmt.Errorf("create events bucket for %q: %w", stream, err)
		}
		all := tx.Bucket([]byte(bucketAll))

		now := time.Now().UTC()
		for i := range events {
			event := events[i]
			if event.EventID == uuid.Nil {
				event.EventID = uuid.New()
			}
			if event.CreatedAt.IsZero() {
				event.CreatedAt = now
			}

			version := current + 1 + int64(i)
			position := firstPosition + int64(i)

			rec := eventRecord{
				EventID:        event.EventID.String(),
				Type:           event.Type,
				Data:           event.Data,
				Metadata:       event.Metadata,
				Timestamp:      event.CreatedAt,
				StreamVersion:  version,
				GlobalPosition: position,
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal event %d: %w", i, err)
			}

			key := padKey(version)
			if err := streamEvents.Put(key, payload); err != nil {
				return fmt.Errorf("put event %d: %w", i, err)
			}
			if err := all.Put(padKey(position), []byte(stream+"/"+string(key))); err != nil {
				return fmt.Errorf("index event %d: %w", i, err)
			}
		}

		created := current == es.NoStreamVersion
		if created {
			meta.CreatedAt = now
		}
		meta.Version = current + int64(len(events))
		meta.UpdatedAt = now

		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal stream %q: %w", stream, err)
		}
		if err := streams.Put([]byte(stream), raw); err != nil {
			return fmt.Errorf("put stream %q: %w", stream, err)
		}

		result = store.AppendResult{NextVersion: meta.Version, CreatedStream: created}
		return nil
	})
	if err != nil {
		return store.AppendResult{}, err
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "events appended",
			"stream", stream,
			"event_count", len(events),
			"next_version", result.NextVersion,
			"created_stream", result.CreatedStream)
	}

	return result, nil
}

// reserveGlobalBlock atomically reserves a contiguous block of n global
// positions and returns the first. The counter holds the last used position.
func (s *Store) reserveGlobalBlock(tx *bbolt.Tx, n int64) (int64, error) {
	counters := tx.Bucket([]byte(bucketCounters))

	var last int64
	if raw := counters.Get([]byte(globalPositionKey)); raw != nil {
		last = int64(binary.BigEndian.Uint64(raw))
	}

	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, uint64(last+n))
	if err := counters.Put([]byte(globalPositionKey), next); err != nil {
		return 0, fmt.Errorf("update global position counter: %w", err)
	}

	return last + 1, nil
}

// Read implements store.StreamStore.
func (s *Store) Read(ctx context.Context, stream string, opts store.ReadOptions) (store.ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return store.ReadResult{}, err
	}

	result := store.ReadResult{CurrentVersion: es.NoStreamVersion}
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucketStreams)).Get([]byte(stream))
		if raw == nil {
			return nil
		}

		var meta streamRecord
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("unmarshal stream %q: %w", stream, err)
		}
		result.Exists = true
		result.CurrentVersion = meta.Version

		streamEvents := tx.Bucket([]byte(bucketEvents)).Bucket([]byte(stream))
		if streamEvents == nil {
			return nil
		}

		var from int64
		if opts.FromVersion != nil {
			from = *opts.FromVersion
		}
		var to []byte
		if opts.ToVersion != nil {
			to = padKey(*opts.ToVersion)
		}

		c := streamEvents.Cursor()
		for k, v := c.Seek(padKey(from)); k != nil; k, v = c.Next() {
			if to != nil && string(k) > string(to) {
				break
			}
			event, err := decodeEvent(stream, v)
			if err != nil {
				return err
			}
			result.Events = append(result.Events, event)
			if opts.MaxCount > 0 && len(result.Events) >= opts.MaxCount {
				break
			}
		}
		return nil
	})
	if err != nil {
		return store.ReadResult{}, err
	}

	return result, nil
}

// ReadAll implements store.GlobalReader.
//
// It scans the global index and resolves each entry back to its event record,
// deriving the owning stream name from the indexed path.
func (s *Store) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]es.RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []es.RecordedEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		all := tx.Bucket([]byte(bucketAll))
		eventsRoot := tx.Bucket([]byte(bucketEvents))

		c := all.Cursor()
		for k, v := c.Seek(padKey(afterPosition + 1)); k != nil; k, v = c.Next() {
			stream, key, err := splitEventPath(string(v))
			if err != nil {
				return err
			}

			streamEvents := eventsRoot.Bucket([]byte(stream))
			if streamEvents == nil {
				return fmt.Errorf("global index references missing stream %q", stream)
			}
			raw := streamEvents.Get([]byte(key))
			if raw == nil {
				return fmt.Errorf("global index references missing event %s/%s", stream, key)
			}

			event, err := decodeEvent(stream, raw)
			if err != nil {
				return err
			}
			events = append(events, event)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// splitEventPath splits "{stream}/{padded version}" on the last separator,
// so stream names containing slashes stay intact.
func splitEventPath(path string) (stream, key string, err error) {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("malformed event path %q", path)
	}
	return path[:i], path[i+1:], nil
}

func decodeEvent(stream string, raw []byte) (es.RecordedEvent, error) {
	var rec eventRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return es.RecordedEvent{}, fmt.Errorf("unmarshal event in %q: %w", stream, err)
	}

	eventID, err := uuid.Parse(rec.EventID)
	if err != nil {
		return es.RecordedEvent{}, fmt.Errorf("parse event id in %q: %w", stream, err)
	}

	return es.RecordedEvent{
		Event: es.Event{
			EventID:   eventID,
			Type:      rec.Type,
			Data:      rec.Data,
			Metadata:  rec.Metadata,
			CreatedAt: rec.Timestamp,
		},
		StreamName:     stream,
		StreamVersion:  rec.StreamVersion,
		GlobalPosition: rec.GlobalPosition,
	}, nil
}

// Stream returns a stream's metadata, or found=false if it does not exist.
func (s *Store) Stream(ctx context.Context, name string) (es.StreamMetadata, bool, error) {
	if err := ctx.Err(); err != nil {
		return es.StreamMetadata{}, false, err
	}

	var meta streamRecord
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucketStreams)).Get([]byte(name))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("unmarshal stream %q: %w", name, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return es.StreamMetadata{}, false, err
	}
	if !found {
		return es.StreamMetadata{}, false, nil
	}

	return es.StreamMetadata{
		Name:      name,
		Version:   meta.Version,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}, true, nil
}

// LoadCheckpoint implements store.CheckpointStore.
func (s *Store) LoadCheckpoint(ctx context.Context, consumerID string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if strings.TrimSpace(consumerID) == "" {
		return 0, false, es.ErrMissingConsumerID
	}

	var position int64
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(bucketCheckpoints)).Get([]byte(consumerID))
		if raw == nil {
			return nil
		}

		var rec checkpointRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("unmarshal checkpoint %q: %w", consumerID, err)
		}
		pos, err := strconv.ParseInt(rec.Position, 10, 64)
		if err != nil {
			return fmt.Errorf("parse checkpoint position %q: %w", rec.Position, err)
		}
		position = pos
		found = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	return position, found, nil
}

// SaveCheckpoint implements store.CheckpointStore.
func (s *Store) SaveCheckpoint(ctx context.Context, consumerID string, position int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(consumerID) == "" {
		return es.ErrMissingConsumerID
	}

	rec := checkpointRecord{
		Position:   strconv.FormatInt(position, 10),
		UpdatedAt:  time.Now().UTC(),
		ConsumerID: consumerID,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %q: %w", consumerID, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketCheckpoints)).Put([]byte(consumerID), raw)
	})
}

// GetDocument implements store.DocumentStore.
func (s *Store) GetDocument(ctx context.Context, projection, docID string) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var doc map[string]any
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		docs := tx.Bucket([]byte(bucketProjections)).Bucket([]byte(projection))
		if docs == nil {
			return nil
		}
		raw := docs.Get([]byte(docID))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("unmarshal document %s/%s: %w", projection, docID, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return doc, found, nil
}

// PutDocument implements store.DocumentStore.
func (s *Store) PutDocument(ctx context.Context, projection, docID string, doc map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", projection, docID, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		docs, err := tx.Bucket([]byte(bucketProjections)).CreateBucketIfNotExists([]byte(projection))
		if err != nil {
			return fmt.Errorf("create projection bucket %q: %w", projection, err)
		}
		return docs.Put([]byte(docID), raw)
	})
}

// DeleteDocument implements store.DocumentStore.
func (s *Store) DeleteDocument(ctx context.Context, projection, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket([]byte(bucketProjections)).Bucket([]byte(projection))
		if docs == nil {
			return nil
		}
		return docs.Delete([]byte(docID))
	})
}
