package consumer

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/getpup/docstream/es"
)

// Config configures a catch-up consumer.
type Config struct {
	// ConsumerID identifies this consumer for checkpoint tracking. Required.
	// Only one running consumer instance per id is supported; the checkpoint
	// is exclusively owned by that instance.
	ConsumerID string `env:"DOCSTREAM_CONSUMER_ID"`

	// BatchSize is the number of events to read per poll
	BatchSize int `env:"DOCSTREAM_BATCH_SIZE" envDefault:"100"`

	// PollInterval is the pause between a completed poll and the next one
	PollInterval time.Duration `env:"DOCSTREAM_POLL_INTERVAL" envDefault:"250ms"`

	// MaxRetries is the total attempt budget for delivering one page,
	// including the first attempt
	MaxRetries int `env:"DOCSTREAM_MAX_RETRIES" envDefault:"3"`

	// Backoff computes the delay between delivery attempts.
	// Defaults to LinearBackoff{Interval: 100ms}.
	Backoff Backoff

	// OnError is invoked once per page whose delivery exhausted the retry
	// budget. The checkpoint is not advanced; the page is re-attempted on
	// subsequent polls.
	OnError func(error)

	// Logger is an optional logger for observability.
	// If nil, logging is disabled.
	Logger es.Logger
}

// DefaultConfig returns the default configuration for a consumer id.
func DefaultConfig(consumerID string) Config {
	c := Config{ConsumerID: consumerID}
	c.applyDefaults()
	return c
}

// ConfigFromEnv loads configuration from DOCSTREAM_* environment variables.
func ConfigFromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff == nil {
		c.Backoff = LinearBackoff{Interval: 100 * time.Millisecond}
	}
}
