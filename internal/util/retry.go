package util

import (
	"context"
	"log/slog"
	"time"
)

// Retry calls fn up to maxAttempts times, doubling the delay after each
// failure starting from baseDelay. It returns nil on the first success or
// the last error once attempts are exhausted. Cancellation of ctx between
// attempts aborts with ctx.Err().
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return RetryLog(ctx, nil, maxAttempts, baseDelay, fn)
}

// RetryLog is Retry with every failed attempt reported to log at warn level.
func RetryLog(ctx context.Context, log *slog.Logger, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if log != nil {
			log.Warn("attempt failed", "attempt", attempt, "of", maxAttempts, "err", err)
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
