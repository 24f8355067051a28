package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig shapes the backoff between attempts. Zero fields take the
// defaults: 3 attempts, 100ms initial delay doubling up to 10s, 10% jitter.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.1
	}
	return cfg
}

// Retry calls fn until it succeeds, attempts run out, ctx is done, or fn
// returns an error cfg.Retryable rejects. The returned error wraps the last
// error fn returned.
func Retry(ctx context.Context, op string, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", op)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			return fmt.Errorf("%s abandoned after %d attempts: %w (last error: %v)", op, attempt-1, err, lastErr)
		}
		lastErr = fn(ctx)
		switch {
		case lastErr == nil:
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		case cfg.Retryable != nil && !cfg.Retryable(lastErr):
			logger.Warn("giving up on permanent error", "attempt", attempt, "error", lastErr)
			return fmt.Errorf("%s: %w", op, lastErr)
		case attempt == cfg.MaxAttempts:
			return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, op, lastErr)
		}

		delay := cfg.backoff(attempt)
		logger.Warn("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"next_delay", delay,
			"error", lastErr,
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

// backoff is the jittered delay after the given failed attempt.
func (cfg RetryConfig) backoff(attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	d += d * cfg.JitterFraction * (2*rand.Float64() - 1)
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if d < 0 {
		d = float64(cfg.InitialDelay)
	}
	return time.Duration(d)
}
