// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterNilIsUnlimited(t *testing.T) {
	var r *RateLimiter
	if r != NewRateLimiter(0) {
		t.Error("non-positive quota should return nil")
	}
	if !r.TryAcquire() {
		t.Error("nil limiter should always admit")
	}
	if err := r.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait returned %v", err)
	}
}

func TestRateLimiterBurstCapacity(t *testing.T) {
	// 60 rpm: burst of 6, refilling one token per second.
	r := NewRateLimiter(60)

	admitted := 0
	for i := 0; i < 10; i++ {
		if r.TryAcquire() {
			admitted++
		}
	}
	if admitted != 6 {
		t.Errorf("admitted %d calls from a cold limiter, want burst of 6", admitted)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	// 6000 rpm refills 100 tokens per second, so a short sleep is enough.
	r := NewRateLimiter(6000)
	for r.TryAcquire() {
	}

	time.Sleep(50 * time.Millisecond)
	if !r.TryAcquire() {
		t.Error("limiter did not refill after elapsed time")
	}
}

func TestRateLimiterMinimumBurst(t *testing.T) {
	// 5 rpm would compute a fractional burst; the floor is one request.
	r := NewRateLimiter(5)
	if !r.TryAcquire() {
		t.Error("limiter should admit at least one request from cold")
	}
	if r.TryAcquire() {
		t.Error("second immediate request should be refused at 5 rpm")
	}
}

func TestRateLimiterWaitCancellation(t *testing.T) {
	// 60 rpm refills too slowly for the test window, forcing Wait to block.
	r := NewRateLimiter(60)
	for r.TryAcquire() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on drained limiter returned %v, want deadline exceeded", err)
	}
}

func TestRateLimiterAvailable(t *testing.T) {
	r := NewRateLimiter(600)
	if got := r.Available(); got < 59 || got > 60 {
		t.Errorf("cold limiter Available() = %v, want ~60", got)
	}

	r.TryAcquire()
	if got := r.Available(); got >= 60 {
		t.Errorf("Available() after acquire = %v, want < 60", got)
	}

	var nilLimiter *RateLimiter
	if got := nilLimiter.Available(); got != 0 {
		t.Errorf("nil limiter Available() = %v, want 0", got)
	}
}
