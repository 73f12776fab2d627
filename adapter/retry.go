package adapter

import (
	"context"
	"fmt"
	"time"
)

// retryBase is the backoff before the first retry; it doubles per attempt.
const retryBase = 500 * time.Millisecond

// WithRetry runs attempt up to 1+retries times with exponential backoff,
// honoring ctx between attempts. An error for which permanent returns true
// stops retrying immediately. The name prefixes returned errors.
func WithRetry(ctx context.Context, name string, retries int, permanent func(error) bool, attempt func(context.Context) error) error {
	attempts := 1 + retries

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := retryBase << uint(i-1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
