package llm

import (
	"context"
	"errors"
	"time"
)

// Retry defaults shared by the expander and embedding providers
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultMultiplier     = 2.0
	DefaultRateLimitFloor = 10 * time.Second
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxAttempts    int           // Total calls, including the first
	BaseDelay      time.Duration // Delay before the second call
	MaxDelay       time.Duration // Cap on the exponential delay
	Multiplier     float64       // Exponential backoff multiplier
	RateLimitFloor time.Duration // Minimum delay after a rate-limit signal

	// Sleep waits between attempts; nil uses a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig returns the backoff used for provider calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		Multiplier:     DefaultMultiplier,
		RateLimitFloor: DefaultRateLimitFloor,
	}
}

// Delay returns the wait before the attempt following a failed attempt
// (0-based), honoring the rate-limit floor.
func (c RetryConfig) Delay(attempt int, err error) time.Duration {
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if c.MaxDelay > 0 && delay > c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	if errors.Is(err, ErrRateLimited) && delay < c.RateLimitFloor {
		delay = c.RateLimitFloor
	}
	return delay
}

// Retry executes fn with exponential backoff. Only transient errors are
// retried; any other error, or context cancellation, returns immediately.
func Retry[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !IsTransient(err) {
			return zero, err
		}

		if attempt < attempts-1 {
			delay := config.Delay(attempt, err)
			if config.OnRetry != nil {
				config.OnRetry(attempt+1, delay, err)
			}
			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
		}
	}

	return zero, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
