// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter adapters use to stay under each
// vendor's request quota before the vendor has to say 429.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter from a requests-per-minute quota. Burst
// capacity is a tenth of the quota, at least one request. A quota of zero
// or less returns nil, which Wait and TryAcquire treat as unlimited.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := float64(requestsPerMinute) / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: float64(requestsPerMinute) / 60,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for {
		if r.TryAcquire() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TryAcquire attempts to take a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time. Caller holds the lock.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}

// Available returns the current token count.
func (r *RateLimiter) Available() float64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}
