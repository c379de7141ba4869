// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"modvet/engine/kv"
	"modvet/engine/shared/logger"
)

// TierTTLs maps a trust tier to its cache lifetime. Lifetime grows with
// behavioral stability: trusted users change slowly, and known-bad
// classifications are already settled, so re-querying either wastes
// budget.
type TierTTLs map[TrustTier]time.Duration

// DefaultTierTTLs returns the documented lifetime table.
func DefaultTierTTLs() TierTTLs {
	return TierTTLs{
		TierHigh:     48 * time.Hour,
		TierMedium:   24 * time.Hour,
		TierLow:      12 * time.Hour,
		TierKnownBad: 168 * time.Hour,
	}
}

const resultKeyPrefix = "analysis:result:"

func resultKey(subjectID string) string {
	return resultKeyPrefix + subjectID
}

// ResultCache stores completed analysis results in the KV store under
// the lifetime chosen from the subject's trust tier. Store errors are
// treated as a miss on read and a logged no-op on write: staleness here
// only costs money, never safety.
type ResultCache struct {
	store kv.Store
	ttls  TierTTLs
	log   *logger.Logger
}

// NewResultCache builds a cache over store. A nil ttls table selects the
// defaults; a partial table falls back to the default per missing tier.
func NewResultCache(store kv.Store, ttls TierTTLs, log *logger.Logger) *ResultCache {
	if ttls == nil {
		ttls = DefaultTierTTLs()
	}
	if log == nil {
		log = logger.New("result-cache")
	}
	return &ResultCache{store: store, ttls: ttls, log: log}
}

// TTLFor returns the configured lifetime for tier.
func (c *ResultCache) TTLFor(tier TrustTier) time.Duration {
	if d, ok := c.ttls[tier]; ok {
		return d
	}
	return DefaultTierTTLs()[tier]
}

// Get returns the cached result for subjectID, or nil on a miss. Store
// and decode failures count as misses.
func (c *ResultCache) Get(ctx context.Context, subjectID string) *Result {
	result := c.peek(ctx, subjectID)
	if result == nil {
		promCacheMisses.Inc()
		return nil
	}
	promCacheHits.Inc()
	return result
}

// peek is Get without the hit/miss accounting. The coalescer polls
// through it so waiting on another holder does not inflate the miss
// counter.
func (c *ResultCache) peek(ctx context.Context, subjectID string) *Result {
	raw, err := c.store.Get(ctx, resultKey(subjectID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.log.Warn(subjectID, "", "result cache read failed, treating as miss", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		c.log.Warn(subjectID, "", "cached result is not valid JSON, treating as miss", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return &result
}

// Put stores result under the lifetime for tier. Write failures are
// logged and swallowed.
func (c *ResultCache) Put(ctx context.Context, result *Result, tier TrustTier) {
	payload, err := json.Marshal(result)
	if err != nil {
		c.log.Error(result.SubjectID, result.CorrelationID, "result not cacheable", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	ttl := c.TTLFor(tier)
	if err := c.store.Set(ctx, resultKey(result.SubjectID), string(payload), ttl); err != nil {
		c.log.Warn(result.SubjectID, result.CorrelationID, "result cache write failed", map[string]interface{}{
			"error": err.Error(),
			"tier":  string(tier),
		})
	}
}
