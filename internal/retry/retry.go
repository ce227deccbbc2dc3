// Package retry generalizes an exponential-backoff helper
// (infrastructure/resilience/retry.go, system/framework/core/dispatch.go)
// for use by the remote federation driver (initial 100ms, factor 2,
// capped, max attempts default 10) and, by the same mechanism, any other
// caller needing transient-failure backoff (e.g. the KV driver's
// connection retry).
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config is the exponential-backoff schedule a caller retries under.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, adds randomness
}

// DefaultConfig matches federation driver defaults: initial
// 100ms, factor 2, capped at 10s, max attempts 10.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// ShouldRetry is called after each failed attempt; returning false stops
// retrying immediately even if attempts remain (used to exclude
// VALIDATION_ERROR/UNAUTHORIZED/FORBIDDEN/NOT_FOUND).
type ShouldRetry func(err error) bool

// Do executes fn with exponential backoff, retrying only errors for which
// shouldRetry returns true (or unconditionally if shouldRetry is nil).
func Do(ctx context.Context, cfg Config, shouldRetry ShouldRetry, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(addJitter(delay, cfg.Jitter)):
			}
			delay = nextDelay(delay, cfg)
		}
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg Config) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
