// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package analysis orchestrates one moderation pass per content item:
// result cache, request coalescing, budget pre-check, PII sanitizing,
// provider selection, schema validation, cost recording. Degraded
// outcomes are typed values so the decision layer can always fall back
// to human review instead of crashing or silently approving.
package analysis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"modvet/engine/llm"
)

// TrustTier classifies how much scrutiny a subject needs. It drives the
// cache lifetime of the subject's analysis result and nothing else.
type TrustTier string

const (
	TierHigh     TrustTier = "high"
	TierMedium   TrustTier = "medium"
	TierLow      TrustTier = "low"
	TierKnownBad TrustTier = "known_bad"
)

// ErrUnknownTier is returned when a caller supplies a trust tier outside
// the four known values.
var ErrUnknownTier = errors.New("analysis: unknown trust tier")

// ErrEmptySubject is returned when a caller supplies no subject id.
var ErrEmptySubject = errors.New("analysis: empty subject id")

// ErrEmptyText is returned when a caller supplies no text to analyze.
var ErrEmptyText = errors.New("analysis: empty text")

// ParseTier canonicalizes a trust tier string. "known-bad" is accepted
// as an alias for known_bad.
func ParseTier(s string) (TrustTier, error) {
	switch TrustTier(strings.ToLower(strings.TrimSpace(s))) {
	case TierHigh:
		return TierHigh, nil
	case TierMedium:
		return TierMedium, nil
	case TierLow:
		return TierLow, nil
	case TierKnownBad, TrustTier("known-bad"):
		return TierKnownBad, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Valid reports whether the tier is one of the four known values.
func (t TrustTier) Valid() bool {
	switch t {
	case TierHigh, TierMedium, TierLow, TierKnownBad:
		return true
	}
	return false
}

// Disposition is the final classification of one orchestration pass.
type Disposition string

const (
	// DispositionAnalyzed means a provider produced a fresh valid result.
	DispositionAnalyzed Disposition = "analyzed"

	// DispositionCached means the result came from the cache, either
	// directly or by waiting out a concurrent holder's call.
	DispositionCached Disposition = "cached"

	// DispositionDegradedBudget means the daily spend cap (or an
	// unreachable ledger) blocked the call before any provider ran.
	DispositionDegradedBudget Disposition = "degraded_budget"

	// DispositionDegradedNoProvider means no providers are configured.
	DispositionDegradedNoProvider Disposition = "degraded_no_provider"

	// DispositionDegradedAllFailed means every configured provider failed.
	DispositionDegradedAllFailed Disposition = "degraded_all_failed"
)

// Result is one completed analysis. Results are immutable values: they
// are cached and returned as-is, never patched in place.
type Result struct {
	SubjectID     string                 `json:"subject_id"`
	Provider      string                 `json:"provider"`
	Model         string                 `json:"model"`
	CorrelationID string                 `json:"correlation_id"`
	Verdict       string                 `json:"verdict"`
	Confidence    float64                `json:"confidence"`
	Findings      map[string]interface{} `json:"findings"`
	InputTokens   int                    `json:"input_tokens"`
	OutputTokens  int                    `json:"output_tokens"`

	// TTLSeconds is the cache lifetime chosen from the trust tier when
	// the result was created. A cached result is never served past it.
	TTLSeconds int64 `json:"ttl_seconds"`

	CreatedAt time.Time `json:"created_at"`
}

// Degradation explains a degraded outcome. It is a value, not an error:
// the decision layer maps it to "flag for human review", never to
// "verified safe".
type Degradation struct {
	Code   llm.ErrorCode `json:"code"`
	Reason string        `json:"reason"`
}

// Outcome is what one orchestration pass hands back to the decision
// layer: either a Result or a Degradation, with the disposition and the
// bookkeeping the audit trail wants.
type Outcome struct {
	Disposition Disposition  `json:"disposition"`
	Result      *Result      `json:"result,omitempty"`
	Degraded    *Degradation `json:"degraded,omitempty"`

	CorrelationID string `json:"correlation_id"`
	CacheHit      bool   `json:"cache_hit"`
	Coalesced     bool   `json:"coalesced"`
	CostMinor     int64  `json:"cost_minor_units"`
	Attempts      int    `json:"attempts"`
	DurationMS    int64  `json:"duration_ms"`
}
