package util

import (
	"context"
	"time"
)

// Retry calls fn until it succeeds, fails with an error that retryable
// rejects, or has been called maxAttempts times. The delay between calls
// starts at baseDelay and doubles. A nil retryable treats every error as
// transient. The last error from fn is returned unchanged so callers can
// still match it with errors.Is / errors.As.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := baseDelay

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || (retryable != nil && !retryable(err)) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
