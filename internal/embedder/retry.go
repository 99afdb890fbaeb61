package embedder

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff for remote providers
type RetryConfig struct {
	MaxRetries int // total attempts, not retries after the first
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Retryable decides whether an error is transient. nil retries everything.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the backoff used for remote providers
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
		Retryable:  retryable,
	}
}

// delay returns the wait before attempt n+1, capped at MaxDelay
func (c RetryConfig) delay(n int) time.Duration {
	d := float64(c.BaseDelay)
	for i := 0; i < n; i++ {
		d *= c.Multiplier
		if time.Duration(d) >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return time.Duration(d)
}

// retryWithBackoff calls fn until it succeeds, returns a permanent error or
// runs out of attempts. Cancellation wins over a pending retry.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var err error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		var v T
		if v, err = fn(); err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries-1 {
			break
		}

		t := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, err
}
