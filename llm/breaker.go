// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CircuitState is the health gate state for one provider.
type CircuitState int

const (
	// CircuitClosed admits all calls.
	CircuitClosed CircuitState = iota
	// CircuitOpen refuses calls until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen admits one probe at a time.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the run of consecutive failures that trips a
	// closed circuit open.
	FailureThreshold int

	// SuccessThreshold is the run of consecutive probe successes that
	// closes a half-open circuit.
	SuccessThreshold int

	// Cooldown is how long an open circuit refuses calls before admitting
	// a probe.
	Cooldown time.Duration

	// OpTimeout is the absolute deadline for each gated operation. A
	// timeout counts as a failure.
	OpTimeout time.Duration
}

// DefaultBreakerConfig returns the standard tuning: trip after 5
// consecutive failures, 30s cooldown, close after 2 probe successes, 10s
// per operation.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		OpTimeout:        10 * time.Second,
	}
}

// CircuitBreaker gates calls to one provider. State transitions happen in
// exactly one place (recordSuccess/recordFailure under the mutex) so the
// lifecycle invariants hold no matter how many goroutines call Execute.
type CircuitBreaker struct {
	provider string
	cfg      BreakerConfig

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
	probing   bool

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named provider.
func NewCircuitBreaker(provider string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &CircuitBreaker{
		provider: provider,
		cfg:      cfg,
		state:    CircuitClosed,
		nowFunc:  time.Now,
	}
}

// Execute runs op through the gate under the configured absolute timeout.
// An open circuit fails immediately with ErrCodeCircuitOpen and never
// invokes op. A deadline expiry inside op is normalized to a TIMEOUT
// provider error and counted as a failure; caller cancellation is passed
// through without touching the circuit.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	opCtx := ctx
	cancel := func() {}
	if b.cfg.OpTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, b.cfg.OpTimeout)
	}
	defer cancel()

	err := op(opCtx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// The caller walked away; not the provider's fault.
			b.clearProbe()
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = NewProviderError(b.provider, ErrCodeTimeout,
				fmt.Sprintf("operation exceeded %s", b.cfg.OpTimeout)).WithCause(err)
		}
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed, claiming the probe slot when
// the circuit is recovering.
func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		retryAt := b.openedAt.Add(b.cfg.Cooldown)
		if b.nowFunc().Before(retryAt) {
			return NewProviderError(b.provider, ErrCodeCircuitOpen,
				fmt.Sprintf("circuit open until %s", retryAt.UTC().Format(time.RFC3339)))
		}
		// Cooldown elapsed; this caller becomes the probe.
		b.state = CircuitHalfOpen
		b.successes = 0
		b.probing = true
		return nil

	case CircuitHalfOpen:
		if b.probing {
			return NewProviderError(b.provider, ErrCodeCircuitOpen, "half-open probe in flight")
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	switch b.state {
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = CircuitClosed
			b.failures = 0
			b.successes = 0
		}
	case CircuitClosed:
		b.failures = 0
	}
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	switch b.state {
	case CircuitHalfOpen:
		// Any failure during recovery reopens with a fresh cooldown.
		b.failures++
		b.state = CircuitOpen
		b.openedAt = b.nowFunc()
	case CircuitClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = CircuitOpen
			b.openedAt = b.nowFunc()
		}
	case CircuitOpen:
		// Late failure from a call admitted before the trip.
		b.failures++
	}
}

func (b *CircuitBreaker) clearProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current circuit state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSnapshot is a point-in-time view of one circuit for health
// endpoints and metrics.
type BreakerSnapshot struct {
	Provider            string     `json:"provider"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	RetryAt             *time.Time `json:"retry_at,omitempty"`
}

// Snapshot returns the current view of this circuit.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := BreakerSnapshot{
		Provider:            b.provider,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
	}
	if b.state == CircuitOpen {
		retryAt := b.openedAt.Add(b.cfg.Cooldown).UTC()
		snap.RetryAt = &retryAt
	}
	return snap
}

// Breakers is a lazy per-provider breaker registry. Each provider gets its
// own isolated circuit on first use.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	nowFunc func() time.Time
}

// NewBreakers creates a registry that builds breakers with cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
		nowFunc:  time.Now,
	}
}

// For returns the breaker for a provider, creating it on first use.
func (s *Breakers) For(provider string) *CircuitBreaker {
	s.mu.RLock()
	b, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[provider]; ok {
		return b
	}

	b = NewCircuitBreaker(provider, s.cfg)
	b.nowFunc = s.nowFunc
	s.breakers[provider] = b
	return b
}

// Snapshots returns the current state of every tracked circuit, sorted by
// provider name.
func (s *Breakers) Snapshots() []BreakerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]BreakerSnapshot, 0, len(s.breakers))
	for _, b := range s.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Provider < snaps[j].Provider })
	return snaps
}
