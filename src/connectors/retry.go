package connectors

import (
	"context"
	"errors"
	"time"

	"github.com/username/wealthos/backend/src/logger"
)

// RetryPolicy configures Retry. The zero value is not usable; start from
// DefaultRetryPolicy and override fields as the provider requires.
type RetryPolicy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64

	// Retryable decides which errors are worth another attempt. Nil means
	// IsRetryable, which retries fetch and rate-limit errors but never
	// authentication errors.
	Retryable func(error) bool
}

// DefaultRetryPolicy matches the limits connectors use for network-class
// failures.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialDelay:    time.Second,
	MaxDelay:        60 * time.Second,
	ExponentialBase: 2.0,
}

// Retry runs fn up to policy.MaxRetries+1 times with exponential backoff
// between attempts. A *RateLimitError carrying RetryAfter overrides the
// computed delay for that attempt. The last error is returned unmodified once
// attempts are exhausted; non-retryable errors propagate immediately.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	base := policy.ExponentialBase
	if base <= 1 {
		base = 2.0
	}

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			logger.L.Error("All retry attempts failed", "attempts", policy.MaxRetries+1, "error", lastErr)
			break
		}

		pause := delay
		var rle *RateLimitError
		if errors.As(lastErr, &rle) && rle.RetryAfter > 0 {
			pause = rle.RetryAfter
		}

		logger.L.Warn("Attempt failed, retrying",
			"attempt", attempt+1,
			"maxAttempts", policy.MaxRetries+1,
			"pause", pause,
			"error", lastErr)

		if err := sleepCtx(ctx, pause); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * base)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return lastErr
}
