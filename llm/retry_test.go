// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewProviderError("anthropic", ErrCodeRateLimited, "slow down")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls++
		return "", NewProviderError("anthropic", ErrCodeValidation, "schema mismatch")
	})

	var provErr *ProviderError
	if !errors.As(err, &provErr) || provErr.Code != ErrCodeValidation {
		t.Fatalf("err = %v, want VALIDATION_FAILED", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (terminal errors never retry)", calls)
	}
}

func TestRetryExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls++
		return "", NewProviderError("anthropic", ErrCodeTimeout, "deadline exceeded")
	})

	if CodeOf(err) != ErrCodeTimeout {
		t.Fatalf("err = %v, want the last attempt's TIMEOUT", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastRetryConfig(3)
	cfg.InitialBackoff = time.Minute

	calls := 0
	start := time.Now()
	_, err := RetryWithBackoff(ctx, cfg, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", NewProviderError("anthropic", ErrCodeUnavailable, "connection refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %s, should not wait out the backoff", elapsed)
	}
}

func TestRetryBackoffSchedule(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		BackoffFactor:  2.0,
	}

	var gaps []time.Duration
	last := time.Now()
	_, _ = RetryWithBackoff(context.Background(), cfg, func(ctx context.Context) (string, error) {
		now := time.Now()
		gaps = append(gaps, now.Sub(last))
		last = now
		return "", NewProviderError("anthropic", ErrCodeServerError, "boom")
	})

	if len(gaps) != 3 {
		t.Fatalf("fn called %d times, want 3", len(gaps))
	}
	// First gap is the call itself; the second and third carry the 10ms
	// and 20ms waits. Only lower bounds are stable under CI scheduling.
	if gaps[1] < 10*time.Millisecond {
		t.Errorf("first backoff = %s, want >= 10ms", gaps[1])
	}
	if gaps[2] < 20*time.Millisecond {
		t.Errorf("second backoff = %s, want >= 20ms", gaps[2])
	}
}

func TestRetryCustomPredicate(t *testing.T) {
	sentinel := errors.New("try harder")
	cfg := fastRetryConfig(2)
	cfg.RetryIf = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	_, err := RetryWithBackoff(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %s, want 1s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 4*time.Second {
		t.Errorf("MaxBackoff = %s, want 4s", cfg.MaxBackoff)
	}
	if cfg.BackoffFactor != 2.0 {
		t.Errorf("BackoffFactor = %v, want 2.0", cfg.BackoffFactor)
	}
	if cfg.RetryIf == nil {
		t.Error("RetryIf should default to the transient error predicate")
	}
}
