package util

import (
	"context"
	"log/slog"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting
// at baseDelay, logging each failed attempt. It returns nil on the first
// success, the last error when every attempt fails, or the context's error
// if the context is done while waiting between attempts.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		slog.Debug("attempt failed, backing off",
			"attempt", attempt, "maxAttempts", maxAttempts, "delay", delay, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
