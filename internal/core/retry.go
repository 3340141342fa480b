package core

import (
	"context"
	"time"
)

// retry runs fn up to maxAttempts times, sleeping with exponential backoff
// between attempts. Only retryable errors are retried; everything else
// returns immediately.
func retry(ctx context.Context, maxAttempts int, base, maxDelay time.Duration, fn func() error) error {
	var err error
	delay := base
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return WrapError(KindCancelled, "retry", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}
