// Package sqlite provides a database/sql adapter for the event sourcing
// engine, written against SQLite semantics.
//
// Unlike SQL event stores that lean on an autoincrement column, global
// positions come from a counter row so that one append reserves one
// contiguous block inside its transaction, exactly like the bolt adapter.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/docstream/es"
	"github.com/getpup/docstream/es/store"
)

const (
	// sqliteDateTimeFormat is the format used for timestamp storage/parsing in SQLite
	sqliteDateTimeFormat = "2006-01-02 15:04:05.999999"

	globalPositionCounter = "global_position"
)

// StoreConfig contains configuration for the SQLite store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// StreamsTable is the name of the stream metadata table
	StreamsTable string

	// EventsTable is the name of the events table
	EventsTable string

	// CountersTable is the name of the counters table
	CountersTable string

	// CheckpointsTable is the name of the consumer checkpoints table
	CheckpointsTable string

	// DocumentsTable is the name of the projection documents table
	DocumentsTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		StreamsTable:     "streams",
		EventsTable:      "events",
		CountersTable:    "counters",
		CheckpointsTable: "checkpoints",
		DocumentsTable:   "projection_documents",
		Logger:           nil, // No logging by default
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

// WithTablePrefix prefixes every table name, for sharing a database with
// other schemas.
func WithTablePrefix(prefix string) StoreOption {
	return func(c *StoreConfig) {
		c.StreamsTable = prefix + c.StreamsTable
		c.EventsTable = prefix + c.EventsTable
		c.CountersTable = prefix + c.CountersTable
		c.CheckpointsTable = prefix + c.CheckpointsTable
		c.DocumentsTable = prefix + c.DocumentsTable
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

// Store is a SQLite-backed implementation of the storage interfaces.
// It owns its transactions: every Append runs version check, position
// reservation and writes in one database transaction.
type Store struct {
	db     *sql.DB
	config StoreConfig
}

var (
	_ store.StreamStore     = (*Store)(nil)
	_ store.GlobalReader    = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
	_ store.DocumentStore   = (*Store)(nil)
)

// NewStore creates a new SQLite store with the given configuration.
// Call Migrate before first use.
func NewStore(db *sql.DB, config StoreConfig) *Store {
	return &Store{db: db, config: config}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				version INTEGER NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)
		`, s.config.StreamsTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				global_position INTEGER PRIMARY KEY,
				stream_name TEXT NOT NULL,
				stream_version INTEGER NOT NULL,
				event_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				data BLOB,
				metadata TEXT,
				created_at TEXT NOT NULL,
				UNIQUE (stream_name, stream_version)
			)
		`, s.config.EventsTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				value INTEGER NOT NULL
			)
		`, s.config.CountersTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				consumer_id TEXT PRIMARY KEY,
				position TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)
		`, s.config.CheckpointsTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				projection_name TEXT NOT NULL,
				doc_id TEXT NOT NULL,
				body TEXT NOT NULL,
				PRIMARY KEY (projection_name, doc_id)
			)
		`, s.config.DocumentsTable),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Append implements store.StreamStore.
// The database constraint on (stream_name, stream_version) acts as a safety
// net: if another transaction commits between the version check and the
// insert, the insert fails with a unique constraint violation and the append
// is reported as a version conflict.
func (s *Store) Append(ctx context.Context, stream string, events []es.Event, expected es.ExpectedVersion) (store.AppendResult, error) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.AppendResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	current, err := s.streamVersion(ctx, tx, stream)
	if err != nil {
		return store.AppendResult{}, err
	}

	if err := expected.Validate(stream, current); err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "expected version validation failed",
				"stream", stream,
				"current_version", current,
				"expected_version", expected.String())
		}
		return store.AppendResult{}, err
	}

	firstPosition, err := s.reserveGlobalBlock(ctx, tx, int64(len(events)))
	if err != nil {
		return store.AppendResult{}, err
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (
			global_position, stream_name, stream_version,
			event_id, event_type, data, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.EventsTable)

	now := time.Now().UTC()
	for i := range events {
		event := events[i]
		if event.EventID == uuid.Nil {
			event.EventID = uuid.New()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = now
		}

		var metadata any
		if event.Metadata != nil {
			raw, err := json.Marshal(event.Metadata)
			if err != nil {
				return store.AppendResult{}, fmt.Errorf("marshal metadata %d: %w", i, err)
			}
			metadata = string(raw)
		}

		_, execErr := tx.ExecContext(ctx, insertQuery,
			firstPosition+int64(i),
			stream,
			current+1+int64(i),
			event.EventID.String(),
			event.Type,
			[]byte(event.Data),
			metadata,
			event.CreatedAt.Format(sqliteDateTimeFormat),
		)
		if execErr != nil {
			if IsUniqueViolation(execErr) {
				return store.AppendResult{}, &es.VersionConflictError{Stream: stream, Expected: expected, Actual: current}
			}
			return store.AppendResult{}, fmt.Errorf("insert event %d: %w", i, execErr)
		}
	}

	nextVersion := current + int64(len(events))
	created := current == es.NoStreamVersion

	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (name, version, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name)
		DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at
	`, s.config.StreamsTable)

	nowStr := now.Format(sqliteDateTimeFormat)
	if _, err := tx.ExecContext(ctx, upsertQuery, stream, nextVersion, nowStr, nowStr); err != nil {
		return store.AppendResult{}, fmt.Errorf("update stream %q: %w", stream, err)
	}

	if err := tx.Commit(); err != nil {
		return store.AppendResult{}, fmt.Errorf("commit: %w", err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "events appended",
			"stream", stream,
			"event_count", len(events),
			"next_version", nextVersion,
			"created_stream", created)
	}

	return store.AppendResult{NextVersion: nextVersion, CreatedStream: created}, nil
}

// streamVersion returns the stream's current version within a transaction,
// or es.NoStreamVersion if the stream does not exist.
func (s *Store) streamVersion(ctx context.Context, tx *sql.Tx, stream string) (int64, error) {
	query := fmt.Sprintf(`SELECT version FROM %s WHERE name = ?`, s.config.StreamsTable)

	var version int64
	err := tx.QueryRowContext(ctx, query, stream).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return es.NoStreamVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("check stream version: %w", err)
	}
	return version, nil
}

// reserveGlobalBlock reserves a contiguous block of n global positions within
// the append transaction and returns the first.
func (s *Store) reserveGlobalBlock(ctx context.Context, tx *sql.Tx, n int64) (int64, error) {
	var last int64
	query := fmt.Sprintf(`SELECT value FROM %s WHERE name = ?`, s.config.CountersTable)
	err := tx.QueryRowContext(ctx, query, globalPositionCounter).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read global position counter: %w", err)
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`, s.config.CountersTable)
	if _, err := tx.ExecContext(ctx, upsert, globalPositionCounter, last+n); err != nil {
		return 0, fmt.Errorf("update global position counter: %w", err)
	}

	return last + 1, nil
}

// IsUniqueViolation checks if an error is a SQLite unique constraint violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "unique constraint") ||
		strings.Contains(errMsg, "constraint failed")
}

// Read implements store.StreamStore.
func (s *Store) Read(ctx context.Context, stream string, opts store.ReadOptions) (store.ReadResult, error) {
	result := store.ReadResult{CurrentVersion: es.NoStreamVersion}

	query := fmt.Sprintf(`SELECT version FROM %s WHERE name = ?`, s.config.StreamsTable)
	err := s.db.QueryRowContext(ctx, query, stream).Scan(&result.CurrentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		result.CurrentVersion = es.NoStreamVersion
		return result, nil
	}
	if err != nil {
		return store.ReadResult{}, fmt.Errorf("check stream version: %w", err)
	}
	result.Exists = true

	baseQuery := fmt.Sprintf(`
		SELECT global_position, stream_version, event_id, event_type, data, metadata, created_at
		FROM %s
		WHERE stream_name = ?
	`, s.config.EventsTable)

	args := []any{stream}
	if opts.FromVersion != nil {
		baseQuery += " AND stream_version >= ?"
		args = append(args, *opts.FromVersion)
	}
	if opts.ToVersion != nil {
		baseQuery += " AND stream_version <= ?"
		args = append(args, *opts.ToVersion)
	}
	baseQuery += " ORDER BY stream_version ASC"
	if opts.MaxCount > 0 {
		baseQuery += " LIMIT ?"
		args = append(args, opts.MaxCount)
	}

	rows, err := s.db.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return store.ReadResult{}, fmt.Errorf("query stream: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		event, err := scanEvent(rows, stream)
		if err != nil {
			return store.ReadResult{}, err
		}
		result.Events = append(result.Events, event)
	}
	if err := rows.Err(); err != nil {
		return store.ReadResult{}, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}

// ReadAll implements store.GlobalReader.
func (s *Store) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]es.RecordedEvent, error) {
	query := fmt.Sprintf(`
		SELECT stream_name, global_position, stream_version, event_id, event_type, data, metadata, created_at
		FROM %s
		WHERE global_position > ?
		ORDER BY global_position ASC
		LIMIT ?
	`, s.config.EventsTable)

	sqlLimit := int64(limit)
	if limit <= 0 {
		sqlLimit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, afterPosition, sqlLimit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []es.RecordedEvent
	for rows.Next() {
		var (
			stream    string
			e         es.RecordedEvent
			eventID   string
			data      []byte
			metadata  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&stream, &e.GlobalPosition, &e.StreamVersion, &eventID, &e.Type, &data, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := fillEvent(&e, stream, eventID, data, metadata, createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows, stream string) (es.RecordedEvent, error) {
	var (
		e         es.RecordedEvent
		eventID   string
		data      []byte
		metadata  sql.NullString
		createdAt string
	)
	if err := rows.Scan(&e.GlobalPosition, &e.StreamVersion, &eventID, &e.Type, &data, &metadata, &createdAt); err != nil {
		return es.RecordedEvent{}, fmt.Errorf("scan event: %w", err)
	}
	if err := fillEvent(&e, stream, eventID, data, metadata, createdAt); err != nil {
		return es.RecordedEvent{}, err
	}
	return e, nil
}

func fillEvent(e *es.RecordedEvent, stream, eventID string, data []byte, metadata sql.NullString, createdAt string) error {
	e.StreamName = stream
	e.Data = data

	id, err := uuid.Parse(eventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}
	e.EventID = id

	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	e.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	return nil
}

// sqliteDateTimeFormats lists common SQLite datetime formats for parsing
var sqliteDateTimeFormats = []string{
	sqliteDateTimeFormat,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	time.RFC3339Nano,
}

// parseTimestamp parses SQLite datetime strings to time.Time
func parseTimestamp(s string) (time.Time, error) {
	for _, format := range sqliteDateTimeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// LoadCheckpoint implements store.CheckpointStore.
func (s *Store) LoadCheckpoint(ctx context.Context, consumerID string) (int64, bool, error) {
	if strings.TrimSpace(consumerID) == "" {
		return 0, false, es.ErrMissingConsumerID
	}

	query := fmt.Sprintf(`SELECT position FROM %s WHERE consumer_id = ?`, s.config.CheckpointsTable)

	var position string
	err := s.db.QueryRowContext(ctx, query, consumerID).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint: %w", err)
	}

	pos, err := strconv.ParseInt(position, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse checkpoint position %q: %w", position, err)
	}
	return pos, true, nil
}

// SaveCheckpoint implements store.CheckpointStore.
func (s *Store) SaveCheckpoint(ctx context.Context, consumerID string, position int64) error {
	if strings.TrimSpace(consumerID) == "" {
		return es.ErrMissingConsumerID
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (consumer_id, position, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (consumer_id)
		DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at
	`, s.config.CheckpointsTable)

	_, err := s.db.ExecContext(ctx, query,
		consumerID,
		strconv.FormatInt(position, 10),
		time.Now().UTC().Format(sqliteDateTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// GetDocument implements store.DocumentStore.
func (s *Store) GetDocument(ctx context.Context, projection, docID string) (map[string]any, bool, error) {
	query := fmt.Sprintf(`SELECT body FROM %s WHERE projection_name = ? AND doc_id = ?`, s.config.DocumentsTable)

	var body string
	err := s.db.QueryRowContext(ctx, query, projection, docID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load document: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, false, fmt.Errorf("unmarshal document %s/%s: %w", projection, docID, err)
	}
	return doc, true, nil
}

// PutDocument implements store.DocumentStore.
func (s *Store) PutDocument(ctx context.Context, projection, docID string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", projection, docID, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (projection_name, doc_id, body)
		VALUES (?, ?, ?)
		ON CONFLICT (projection_name, doc_id)
		DO UPDATE SET body = excluded.body
	`, s.config.DocumentsTable)

	if _, err := s.db.ExecContext(ctx, query, projection, docID, string(body)); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// DeleteDocument implements store.DocumentStore.
func (s *Store) DeleteDocument(ctx context.Context, projection, docID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE projection_name = ? AND doc_id = ?`, s.config.DocumentsTable)

	if _, err := s.db.ExecContext(ctx, query, projection, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
