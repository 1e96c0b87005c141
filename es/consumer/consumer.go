// Package consumer provides a polling catch-up consumer with durable
// checkpoints and at-least-once delivery.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getpup/docstream/es"
	"github.com/getpup/docstream/es/store"
)

// EventStore is the storage surface a consumer needs: a global event feed
// plus durable checkpoints.
type EventStore interface {
	store.GlobalReader
	store.CheckpointStore
}

// Processor handles one ordered page of events.
//
// A page may be delivered more than once: any processor failing causes the
// whole page to be retried against all processors, and a crash before the
// checkpoint write re-delivers the page on restart. Processors must be
// idempotent.
type Processor interface {
	Handle(ctx context.Context, events []es.RecordedEvent) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, events []es.RecordedEvent) error

// Handle implements Processor.
func (f ProcessorFunc) Handle(ctx context.Context, events []es.RecordedEvent) error {
	return f(ctx, events)
}

// Consumer polls all streams' events beyond its checkpoint and delivers
// ordered pages to registered processors, sequentially and in registration
// order. The checkpoint advances only after a fully successful page, so
// delivery is at-least-once across restarts.
//
// Polls never overlap: one page is fully processed, including retries, before
// the next poll is scheduled.
type Consumer struct {
	store  EventStore
	config Config

	mu         sync.Mutex
	processors []Processor
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a consumer on top of an event store.
func New(st EventStore, config Config) *Consumer {
	config.applyDefaults()
	return &Consumer{store: st, config: config}
}

// Register adds a processor. Processors are invoked in registration order.
// Register must be called before Start.
func (c *Consumer) Register(p Processor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors = append(c.processors, p)
}

// Start loads the checkpoint for the consumer id and begins polling in a
// background goroutine. A missing checkpoint means the consumer starts from
// the beginning of the global feed.
//
// Start is single-flight: it returns es.ErrConsumerRunning if the consumer is
// already running, es.ErrMissingConsumerID without an id and
// es.ErrNoProcessors if nothing is registered.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return es.ErrConsumerRunning
	}
	if strings.TrimSpace(c.config.ConsumerID) == "" {
		return es.ErrMissingConsumerID
	}
	if len(c.processors) == 0 {
		return es.ErrNoProcessors
	}

	checkpoint, found, err := c.store.LoadCheckpoint(ctx, c.config.ConsumerID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if !found {
		checkpoint = 0
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "consumer starting",
			"consumer_id", c.config.ConsumerID,
			"checkpoint", checkpoint,
			"processors", len(c.processors))
	}

	go c.run(runCtx, checkpoint)
	return nil
}

// Stop halts the polling loop and waits for any in-flight poll to finish.
// It cancels pending scheduling and is idempotent.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Consumer) run(ctx context.Context, checkpoint int64) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(c.done)
	}()

	// Fires immediately for the first poll.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, err := c.poll(ctx, checkpoint)
		if err != nil {
			// Store unreachable or checkpoint write failed. The checkpoint
			// did not advance, so the next poll re-fetches the same page.
			if c.config.Logger != nil {
				c.config.Logger.Error(ctx, "poll failed",
					"consumer_id", c.config.ConsumerID,
					"checkpoint", checkpoint,
					"error", err)
			}
		} else {
			checkpoint = next
		}

		if ctx.Err() != nil {
			return
		}
		timer.Reset(c.config.PollInterval)
	}
}

// poll fetches one page past the checkpoint, delivers it and persists the new
// checkpoint. It returns the checkpoint to resume from.
func (c *Consumer) poll(ctx context.Context, checkpoint int64) (int64, error) {
	page, err := c.store.ReadAll(ctx, checkpoint, c.config.BatchSize)
	if err != nil {
		return checkpoint, fmt.Errorf("read events: %w", err)
	}
	if len(page) == 0 {
		return checkpoint, nil
	}

	if err := c.deliver(ctx, page); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return checkpoint, nil
		}
		// Retry budget exhausted. Surface the error once and park the page:
		// the checkpoint stays put and the next poll re-fetches it.
		if c.config.Logger != nil {
			c.config.Logger.Error(ctx, "page delivery exhausted retries",
				"consumer_id", c.config.ConsumerID,
				"from_position", page[0].GlobalPosition,
				"to_position", page[len(page)-1].GlobalPosition,
				"error", err)
		}
		if c.config.OnError != nil {
			c.config.OnError(err)
		}
		return checkpoint, nil
	}

	last := page[len(page)-1].GlobalPosition
	if err := c.store.SaveCheckpoint(ctx, c.config.ConsumerID, last); err != nil {
		return checkpoint, fmt.Errorf("save checkpoint: %w", err)
	}

	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "page processed",
			"consumer_id", c.config.ConsumerID,
			"event_count", len(page),
			"checkpoint", last)
	}
	return last, nil
}

// deliver hands the page to every processor in registration order. On any
// failure the whole page is retried against all processors, up to the
// MaxRetries attempt budget with backoff between attempts.
func (c *Consumer) deliver(ctx context.Context, page []es.RecordedEvent) error {
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		lastErr = c.deliverOnce(ctx, page)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == c.config.MaxRetries {
			break
		}

		delay := c.config.Backoff.Delay(attempt)
		if c.config.Logger != nil {
			c.config.Logger.Debug(ctx, "page delivery failed, retrying",
				"consumer_id", c.config.ConsumerID,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
		}
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", c.config.MaxRetries, lastErr)
}

func (c *Consumer) deliverOnce(ctx context.Context, page []es.RecordedEvent) error {
	c.mu.Lock()
	processors := c.processors
	c.mu.Unlock()

	for _, p := range processors {
		if err := p.Handle(ctx, page); err != nil {
			return err
		}
	}
	return nil
}

// sleep waits for the duration or until the context is done.
// It reports whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
