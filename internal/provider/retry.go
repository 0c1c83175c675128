package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts (including initial)
	BaseDelay   time.Duration // Initial delay between retries
	MaxDelay    time.Duration // Maximum delay between retries
}

// DefaultRetryConfig is 3 attempts with delays of roughly 500ms and 1s.
// The coordinator retries on its own schedule, so vendor retries stay short.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Retry runs operation until it succeeds, returns a non-retryable error,
// or cfg.MaxAttempts is reached. A RetryAfter hint on the error overrides
// the computed backoff, capped at cfg.MaxDelay.
func Retry[T any](ctx context.Context, cfg RetryConfig, operation func() (T, error)) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return result, err
		}

		if attempt < cfg.MaxAttempts-1 {
			delay := backoff(attempt, cfg.BaseDelay, cfg.MaxDelay)
			if hint := retryAfterOf(err); hint > 0 {
				delay = min(hint, cfg.MaxDelay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return result, fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, err)
}

// backoff is exponential with jitter in [delay/2, delay).
func backoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := baseDelay * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half) //nolint:gosec // G404: jitter does not require cryptographic randomness
}

// IsRetryable returns true if the error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return bwerr.Is(err, bwerr.ErrRetryable) ||
		bwerr.Is(err, bwerr.ErrTimeout) ||
		bwerr.Is(err, bwerr.ErrRateLimited) ||
		bwerr.Is(err, context.DeadlineExceeded)
}

// ParseRetryAfter parses a Retry-After header given in seconds.
// Returns 0 when absent or malformed.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// rateLimitError carries the server's Retry-After hint.
type rateLimitError struct {
	err        error
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string { return e.err.Error() }
func (e *rateLimitError) Unwrap() error { return e.err }

func retryAfterOf(err error) time.Duration {
	var rl *rateLimitError
	if bwerr.As(err, &rl) {
		return rl.retryAfter
	}
	return 0
}

// WrapRetryable marks err as retryable.
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", bwerr.ErrRetryable, err)
}
