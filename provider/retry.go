package provider

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxAttempts bounds retries of transient provider failures.
	DefaultMaxAttempts = 3

	retryBaseDelay = 100 * time.Millisecond
)

// Retry runs fn up to maxAttempts times, backing off exponentially between
// attempts (100ms, 200ms, 400ms, ...). Only transient errors are retried;
// permanent errors and context cancellation surface immediately. Callers
// must ensure fn is idempotent or protected by an idempotency claim, since
// a timed-out attempt may still have been accepted by the remote provider.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
	}

	return lastErr
}
