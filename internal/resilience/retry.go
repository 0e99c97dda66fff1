package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with full exponential backoff and jitter.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt, so a
	// persistently failing operation is invoked MaxRetries+1 times in total.
	// Default: 3.
	MaxRetries int

	// BaseDelay is the backoff unit. The delay before retry n (0-indexed) is
	// BaseDelay*2^n plus a uniform random jitter in [0, BaseDelay*2^n), which
	// spreads concurrent retries apart. Default: 200ms.
	BaseDelay time.Duration

	// ShouldRetry decides whether an error is worth retrying. If nil,
	// IsRetryable is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each backoff sleep with the retry number
	// (1-based), the computed delay, and the error that triggered it.
	OnRetry func(retry int, delay time.Duration, err error)
}

// DefaultRetryConfig returns the standard retry policy for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
	}
}

// Do executes fn with retries. Non-retryable errors return immediately.
// When retries are exhausted the last error is returned unchanged, so callers
// see the original failure mode rather than a wrapper.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for operations that return a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyRetryDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		// Context cancellation stops retries immediately.
		if ctx.Err() != nil {
			return zero, lastErr
		}

		if !shouldRetry(lastErr) {
			return zero, lastErr
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		delay := backoffDelay(attempt, cfg.BaseDelay)
		zap.L().Debug("retrying after backoff",
			zap.Int("retry", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func applyRetryDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	return cfg
}

// backoffDelay computes BaseDelay*2^attempt with 0-100% additive jitter,
// keeping the result in [base*2^n, base*2^(n+1)).
func backoffDelay(attempt int, base time.Duration) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt))
	jitter := rand.Float64() * exp
	return time.Duration(exp + jitter)
}
