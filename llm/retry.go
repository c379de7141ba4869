// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures the per-provider retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64

	// Jitter adds randomness to each wait (0.0-1.0 of the backoff).
	Jitter float64

	// RetryIf decides whether an error is worth another attempt.
	RetryIf func(err error) bool
}

// DefaultRetryConfig returns the standard policy: three attempts with a
// 1s, 2s, 4s backoff schedule, retrying only transient errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     4 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0,
		RetryIf:        IsRetryable,
	}
}

// RetryWithBackoff executes fn with exponential backoff, stopping on the
// first success, the first non-retryable error, context cancellation, or
// exhaustion of the attempt budget.
func RetryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}

	backoff := cfg.InitialBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryIf(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		wait := backoff
		if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
		if cfg.Jitter > 0 {
			delta := float64(wait) * cfg.Jitter
			wait = time.Duration(float64(wait) + (rand.Float64()*2-1)*delta)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		if cfg.BackoffFactor > 0 {
			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		}
	}

	return zero, lastErr
}
