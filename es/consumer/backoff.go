package consumer

import "time"

// Backoff computes the delay before a retry attempt.
// Attempts are numbered starting at 1.
type Backoff interface {
	// Delay returns how long to wait after the given failed attempt.
	Delay(attempt int) time.Duration
}

// LinearBackoff waits attempt * Interval between retries.
type LinearBackoff struct {
	Interval time.Duration
}

// Delay implements Backoff.
func (b LinearBackoff) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * b.Interval
}

// ExponentialBackoff waits 2^attempt * Base between retries.
type ExponentialBackoff struct {
	Base time.Duration
}

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * b.Base
}
