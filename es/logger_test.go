package es_test

import (
	"context"
	"testing"

	"github.com/getpup/docstream/es"
)

// TestNoOpLogger verifies the NoOpLogger doesn't panic.
func TestNoOpLogger(t *testing.T) {
	ctx := context.Background()
	logger := es.NoOpLogger{}

	// These should not panic
	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

// TestLoggerInterface verifies NoOpLogger implements Logger.
func TestLoggerInterface(t *testing.T) {
	var _ es.Logger = es.NoOpLogger{}
}
