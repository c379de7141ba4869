// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"modvet/engine/kv"
	"modvet/engine/shared/logger"
)

const lockKeyPrefix = "analysis:lock:"

func lockKey(subjectID string) string {
	return lockKeyPrefix + subjectID
}

// CoalescerConfig tunes the duplicate-suppression window.
type CoalescerConfig struct {
	// LockTTL bounds how long a crashed holder can block a subject.
	LockTTL time.Duration `json:"lock_ttl" yaml:"lock_ttl"`

	// PollStart is the first wait before checking for the holder's result.
	PollStart time.Duration `json:"poll_start" yaml:"poll_start"`

	// PollFactor grows the wait between checks.
	PollFactor float64 `json:"poll_factor" yaml:"poll_factor"`

	// PollCap bounds the wait between checks.
	PollCap time.Duration `json:"poll_cap" yaml:"poll_cap"`

	// MaxWait bounds the total wait before giving up and calling anyway.
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`
}

// DefaultCoalescerConfig returns the standard window: 30s lock expiry,
// polling at 500ms growing 1.5x up to 1s, for at most 10s.
func DefaultCoalescerConfig() CoalescerConfig {
	return CoalescerConfig{
		LockTTL:    30 * time.Second,
		PollStart:  500 * time.Millisecond,
		PollFactor: 1.5,
		PollCap:    1 * time.Second,
		MaxWait:    10 * time.Second,
	}
}

// Coalescer collapses concurrent analyses of the same subject into one
// paid provider call. It is a best-effort cost optimization, never a
// correctness gate: on any store trouble it lets the call through,
// because duplicate spend beats stalled moderation.
type Coalescer struct {
	store kv.Store
	cache *ResultCache
	cfg   CoalescerConfig
	log   *logger.Logger
}

// NewCoalescer builds a coalescer that polls cache while another holder
// works. Zero config fields take their defaults.
func NewCoalescer(store kv.Store, cache *ResultCache, cfg CoalescerConfig, log *logger.Logger) *Coalescer {
	def := DefaultCoalescerConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.PollStart <= 0 {
		cfg.PollStart = def.PollStart
	}
	if cfg.PollFactor <= 1 {
		cfg.PollFactor = def.PollFactor
	}
	if cfg.PollCap <= 0 {
		cfg.PollCap = def.PollCap
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if log == nil {
		log = logger.New("coalescer")
	}
	return &Coalescer{store: store, cache: cache, cfg: cfg, log: log}
}

// Acquire attempts to become the single in-flight caller for subjectID.
// The returned token proves ownership to Release. A store error fails
// open: acquired is true with an empty token, and Release becomes a
// no-op.
func (c *Coalescer) Acquire(ctx context.Context, subjectID, correlationID string) (token string, acquired bool) {
	token = uuid.NewString()
	ok, err := c.store.SetNX(ctx, lockKey(subjectID), token, c.cfg.LockTTL)
	if err != nil {
		promCoalescer.WithLabelValues("error").Inc()
		c.log.Warn(subjectID, correlationID, "lock store unavailable, proceeding without coalescing", map[string]interface{}{
			"error": err.Error(),
		})
		return "", true
	}
	if !ok {
		promCoalescer.WithLabelValues("contended").Inc()
		return "", false
	}
	promCoalescer.WithLabelValues("acquired").Inc()
	return token, true
}

// Release deletes the lock when this caller still owns it. Everything
// here is best effort; an expired or stolen lock is simply left alone,
// and a dead store means the TTL cleans up.
func (c *Coalescer) Release(ctx context.Context, subjectID, token string) {
	if token == "" {
		return
	}
	key := lockKey(subjectID)
	held, err := c.store.Get(ctx, key)
	if err != nil || held != token {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.log.Warn(subjectID, "", "lock release failed, expiry will clean up", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// AwaitResult polls the result cache while another holder analyzes the
// subject. It returns the holder's result, or nil once MaxWait elapses
// or ctx is done, at which point the caller issues its own call.
func (c *Coalescer) AwaitResult(ctx context.Context, subjectID string) *Result {
	deadline := time.Now().Add(c.cfg.MaxWait)
	delay := c.cfg.PollStart

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			promCoalescer.WithLabelValues("timeout").Inc()
			return nil
		}
		if delay > remaining {
			delay = remaining
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if result := c.cache.peek(ctx, subjectID); result != nil {
			promCoalescer.WithLabelValues("coalesced").Inc()
			return result
		}

		next := time.Duration(float64(delay) * c.cfg.PollFactor)
		if next > c.cfg.PollCap {
			next = c.cfg.PollCap
		}
		delay = next
	}
}
