package sqlite_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/getpup/docstream/es"
	"github.com/getpup/docstream/es/adapters/sqlite"
	"github.com/getpup/docstream/es/store"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close database: %v", err)
		}
	})

	// SQLite serializes writers; a single connection avoids busy errors in tests.
	db.SetMaxOpenConns(1)

	s := sqlite.NewStore(db, sqlite.DefaultStoreConfig())
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func event(eventType string, data string) es.Event {
	return es.Event{
		Type: eventType,
		Data: json.RawMessage(data),
	}
}

func mustAppend(t *testing.T, s *sqlite.Store, stream string, expected es.ExpectedVersion, events ...es.Event) store.AppendResult {
	t.Helper()

	result, err := s.Append(context.Background(), stream, events, expected)
	if err != nil {
		t.Fatalf("append to %s: %v", stream, err)
	}
	return result
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestAppendRead_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result := mustAppend(t, s, "order-1", es.NoStream(),
		es.Event{
			Type:     "OrderPlaced",
			Data:     json.RawMessage(`{"total":100}`),
			Metadata: map[string]string{"source": "api"},
		},
		event("OrderPaid", `{"amount":100}`),
	)
	if result.NextVersion != 1 {
		t.Errorf("Expected next version 1, got %d", result.NextVersion)
	}
	if !result.CreatedStream {
		t.Error("Expected CreatedStream to be true")
	}

	read, err := s.Read(ctx, "order-1", store.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !read.Exists || read.CurrentVersion != 1 {
		t.Fatalf("Expected existing stream at version 1, got exists=%v version=%d", read.Exists, read.CurrentVersion)
	}
	if len(read.Events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(read.Events))
	}

	first := read.Events[0]
	if first.Type != "OrderPlaced" || first.StreamVersion != 0 || first.GlobalPosition != 1 {
		t.Errorf("Unexpected first event: %+v", first)
	}
	if diff := cmp.Diff(map[string]string{"source": "api"}, first.Metadata); diff != "" {
		t.Errorf("Metadata mismatch (-want +got):\n%s", diff)
	}
	if first.CreatedAt.IsZero() {
		t.Error("Expected an assigned timestamp")
	}
}

func TestAppend_VersionConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, "order-1", es.NoStream(), event("A", `{}`))

	_, err := s.Append(ctx, "order-1", []es.Event{event("B", `{}`)}, es.NoStream())
	if !errors.Is(err, es.ErrVersionConflict) {
		t.Errorf("Expected a version conflict for NoStream, got %v", err)
	}

	_, err = s.Append(ctx, "missing", []es.Event{event("B", `{}`)}, es.StreamExists())
	if !errors.Is(err, es.ErrVersionConflict) {
		t.Errorf("Expected a version conflict for StreamExists, got %v", err)
	}

	_, err = s.Append(ctx, "order-1", []es.Event{event("B", `{}`)}, es.Exact(3))
	var conflict *es.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected a *VersionConflictError, got %v", err)
	}
	if conflict.Actual != 0 {
		t.Errorf("Expected actual version 0, got %d", conflict.Actual)
	}

	// Nothing mutated by the failed appends.
	read, err := s.Read(ctx, "order-1", store.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if read.CurrentVersion != 0 || len(read.Events) != 1 {
		t.Errorf("Expected unchanged stream, got version=%d events=%d", read.CurrentVersion, len(read.Events))
	}
}

func TestAppend_EmptyBatch(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Append(context.Background(), "order-1", nil, es.Any())
	if !errors.Is(err, es.ErrNoEvents) {
		t.Errorf("Expected ErrNoEvents, got %v", err)
	}
}

func TestRead_NonExistentStream(t *testing.T) {
	s := newTestStore(t)

	read, err := s.Read(context.Background(), "missing", store.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if read.Exists || read.CurrentVersion != es.NoStreamVersion || len(read.Events) != 0 {
		t.Errorf("Expected empty non-existent stream result, got %+v", read)
	}
}

func TestRead_WindowAndMaxCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, "order-1", es.NoStream(),
		event("E0", `{}`), event("E1", `{}`), event("E2", `{}`), event("E3", `{}`))

	from, to := int64(1), int64(2)
	read, err := s.Read(ctx, "order-1", store.ReadOptions{FromVersion: &from, ToVersion: &to, MaxCount: 1})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(read.Events) != 1 || read.Events[0].Type != "E1" {
		t.Errorf("Expected just E1, got %+v", read.Events)
	}
	if read.CurrentVersion != 3 {
		t.Errorf("Expected current version 3 despite window, got %d", read.CurrentVersion)
	}
}

func TestReadAll_GlobalOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, "order-1", es.NoStream(), event("A0", `{}`))
	mustAppend(t, s, "order-2", es.NoStream(), event("B0", `{}`), event("B1", `{}`))
	mustAppend(t, s, "order-1", es.Exact(0), event("A1", `{}`))

	all, err := s.ReadAll(ctx, 0, 100)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}

	var positions []int64
	var streams []string
	for _, e := range all {
		positions = append(positions, e.GlobalPosition)
		streams = append(streams, e.StreamName)
	}
	if diff := cmp.Diff([]int64{1, 2, 3, 4}, positions); diff != "" {
		t.Errorf("Positions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"order-1", "order-2", "order-2", "order-1"}, streams); diff != "" {
		t.Errorf("Streams mismatch (-want +got):\n%s", diff)
	}

	page, err := s.ReadAll(ctx, 2, 1)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(page) != 1 || page[0].GlobalPosition != 3 {
		t.Errorf("Expected one event at position 3, got %+v", page)
	}
}

func TestCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadCheckpoint(ctx, "reader-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Error("Expected no checkpoint for a fresh consumer")
	}

	if err := s.SaveCheckpoint(ctx, "reader-1", 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "reader-1", 50); err != nil {
		t.Fatalf("save: %v", err)
	}

	pos, found, err := s.LoadCheckpoint(ctx, "reader-1")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if pos != 50 {
		t.Errorf("Expected position 50, got %d", pos)
	}

	if _, _, err := s.LoadCheckpoint(ctx, ""); !errors.Is(err, es.ErrMissingConsumerID) {
		t.Errorf("Expected ErrMissingConsumerID, got %v", err)
	}
}

func TestDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := map[string]any{"total": 36.0, "count": 15.0}
	if err := s.PutDocument(ctx, "summaries", "order-1", doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := s.GetDocument(ctx, "summaries", "order-1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("Document mismatch (-want +got):\n%s", diff)
	}

	// Full replace, not merge.
	if err := s.PutDocument(ctx, "summaries", "order-1", map[string]any{"total": 40.0}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _, err = s.GetDocument(ctx, "summaries", "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := got["count"]; ok {
		t.Error("Expected put to fully replace the document")
	}

	if err := s.DeleteDocument(ctx, "summaries", "order-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := s.GetDocument(ctx, "summaries", "order-1"); found {
		t.Error("Expected document to be absent after delete")
	}
	if err := s.DeleteDocument(ctx, "summaries", "order-1"); err != nil {
		t.Errorf("Expected delete of missing document to succeed, got %v", err)
	}
}
