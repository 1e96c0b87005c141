package es

import (
	"errors"
	"fmt"
	"testing"
)

func TestExpectedVersion_Any(t *testing.T) {
	ev := Any()

	if !ev.IsAny() {
		t.Error("Expected IsAny() to be true")
	}
	if ev.IsNoStream() {
		t.Error("Expected IsNoStream() to be false")
	}
	if ev.IsStreamExists() {
		t.Error("Expected IsStreamExists() to be false")
	}
	if ev.IsExact() {
		t.Error("Expected IsExact() to be false")
	}
	if ev.Value() != 0 {
		t.Errorf("Expected Value() to be 0, got %d", ev.Value())
	}
	if ev.String() != "Any" {
		t.Errorf("Expected String() to be 'Any', got '%s'", ev.String())
	}
}

func TestExpectedVersion_NoStream(t *testing.T) {
	ev := NoStream()

	if ev.IsAny() {
		t.Error("Expected IsAny() to be false")
	}
	if !ev.IsNoStream() {
		t.Error("Expected IsNoStream() to be true")
	}
	if ev.IsStreamExists() {
		t.Error("Expected IsStreamExists() to be false")
	}
	if ev.IsExact() {
		t.Error("Expected IsExact() to be false")
	}
	if ev.String() != "NoStream" {
		t.Errorf("Expected String() to be 'NoStream', got '%s'", ev.String())
	}
}

func TestExpectedVersion_StreamExists(t *testing.T) {
	ev := StreamExists()

	if ev.IsAny() {
		t.Error("Expected IsAny() to be false")
	}
	if ev.IsNoStream() {
		t.Error("Expected IsNoStream() to be false")
	}
	if !ev.IsStreamExists() {
		t.Error("Expected IsStreamExists() to be true")
	}
	if ev.IsExact() {
		t.Error("Expected IsExact() to be false")
	}
	if ev.String() != "StreamExists" {
		t.Errorf("Expected String() to be 'StreamExists', got '%s'", ev.String())
	}
}

func TestExpectedVersion_Exact(t *testing.T) {
	tests := []struct {
		name    string
		version int64
	}{
		{"version 0", 0},
		{"version 5", 5},
		{"version 100", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Exact(tt.version)

			if ev.IsAny() {
				t.Error("Expected IsAny() to be false")
			}
			if ev.IsNoStream() {
				t.Error("Expected IsNoStream() to be false")
			}
			if !ev.IsExact() {
				t.Error("Expected IsExact() to be true")
			}
			if ev.Value() != tt.version {
				t.Errorf("Expected Value() to be %d, got %d", tt.version, ev.Value())
			}
			expectedStr := fmt.Sprintf("Exact(%d)", tt.version)
			if ev.String() != expectedStr {
				t.Errorf("Expected String() to be '%s', got '%s'", expectedStr, ev.String())
			}
		})
	}
}

func TestExpectedVersion_ExactNegativePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected Exact(-1) to panic")
		}
	}()
	Exact(-1)
}

func TestExpectedVersion_Validate(t *testing.T) {
	tests := []struct {
		name     string
		expected ExpectedVersion
		actual   int64
		conflict bool
	}{
		{"any on absent stream", Any(), NoStreamVersion, false},
		{"any on existing stream", Any(), 7, false},
		{"no-stream on absent stream", NoStream(), NoStreamVersion, false},
		{"no-stream on existing stream", NoStream(), 0, true},
		{"stream-exists on existing stream", StreamExists(), 3, false},
		{"stream-exists on absent stream", StreamExists(), NoStreamVersion, true},
		{"exact match", Exact(4), 4, false},
		{"exact mismatch", Exact(4), 5, true},
		{"exact on absent stream", Exact(0), NoStreamVersion, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.expected.Validate("test-stream", tt.actual)
			if !tt.conflict {
				if err != nil {
					t.Fatalf("Expected no conflict, got %v", err)
				}
				return
			}

			if err == nil {
				t.Fatal("Expected a version conflict")
			}
			if !errors.Is(err, ErrVersionConflict) {
				t.Errorf("Expected errors.Is(err, ErrVersionConflict), got %v", err)
			}

			var conflict *VersionConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Expected a *VersionConflictError, got %T", err)
			}
			if conflict.Stream != "test-stream" {
				t.Errorf("Expected stream 'test-stream', got %q", conflict.Stream)
			}
			if conflict.Actual != tt.actual {
				t.Errorf("Expected actual version %d, got %d", tt.actual, conflict.Actual)
			}
			if conflict.Expected != tt.expected {
				t.Errorf("Expected expected version %s, got %s", tt.expected, conflict.Expected)
			}
		})
	}
}
