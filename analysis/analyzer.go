// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"modvet/engine/audit"
	"modvet/engine/cost"
	"modvet/engine/llm"
	"modvet/engine/shared/logger"
)

// estimateOutputTokens sizes the pre-flight cost estimate. It matches
// the adapters' completion cap so the estimate is an upper bound.
const estimateOutputTokens = 1024

// AnalyzerDeps are the collaborators one Analyzer is built from. Cache,
// Coalescer, Tracker and Selector are required; the rest default.
type AnalyzerDeps struct {
	Cache     *ResultCache
	Coalescer *Coalescer
	Tracker   *cost.Tracker
	Selector  *llm.Selector
	Sanitizer *Sanitizer
	Schema    Schema
	Paths     *FieldPaths
	Audit     audit.Sink
	Log       *logger.Logger
}

// Analyzer runs one moderation pass per content item. Components are
// constructed once per process and passed in explicitly; there is no
// global registry.
type Analyzer struct {
	cache     *ResultCache
	coalescer *Coalescer
	tracker   *cost.Tracker
	selector  *llm.Selector
	sanitizer *Sanitizer
	schema    Schema
	paths     *FieldPaths
	sink      audit.Sink
	log       *logger.Logger
}

// NewAnalyzer wires an analyzer from deps.
func NewAnalyzer(deps AnalyzerDeps) *Analyzer {
	if deps.Sanitizer == nil {
		deps.Sanitizer = NewSanitizer()
	}
	if deps.Schema.Fields == nil {
		deps.Schema = DefaultSchema()
	}
	if deps.Paths == nil {
		deps.Paths = DefaultFieldPaths()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewLogSink(nil)
	}
	if deps.Log == nil {
		deps.Log = logger.New("analyzer")
	}
	return &Analyzer{
		cache:     deps.Cache,
		coalescer: deps.Coalescer,
		tracker:   deps.Tracker,
		selector:  deps.Selector,
		sanitizer: deps.Sanitizer,
		schema:    deps.Schema,
		paths:     deps.Paths,
		sink:      deps.Audit,
		log:       deps.Log,
	}
}

// Analyze runs the full orchestration sequence for one content item:
// cache, provider check, budget pre-check, coalescing lock, sanitize,
// provider selection with schema validation, cost recording, cache
// write, lock release. Degraded outcomes are returned as values with a
// reason code; the error return is reserved for caller mistakes and
// context cancellation.
func (a *Analyzer) Analyze(ctx context.Context, subjectID, rawText string, tier TrustTier, correlationID string) (*Outcome, error) {
	start := time.Now()

	if strings.TrimSpace(subjectID) == "" {
		return nil, ErrEmptySubject
	}
	if strings.TrimSpace(rawText) == "" {
		return nil, ErrEmptyText
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	// (1) Cache first: a hit costs nothing and needs no lock.
	if cached := a.cache.Get(ctx, subjectID); cached != nil {
		return a.finish(ctx, subjectID, start, &Outcome{
			Disposition:   DispositionCached,
			Result:        cached,
			CorrelationID: correlationID,
			CacheHit:      true,
		}), nil
	}

	// (2) No providers means no analysis, not an error.
	primary := a.selector.Primary()
	if primary == nil {
		return a.finish(ctx, subjectID, start, &Outcome{
			Disposition:   DispositionDegradedNoProvider,
			CorrelationID: correlationID,
			Degraded: &Degradation{
				Code:   llm.ErrCodeNoProviders,
				Reason: "no providers configured",
			},
		}), nil
	}

	// (3) Budget pre-check, failing closed: an unreachable ledger blocks
	// spend exactly like an exhausted one.
	estimate := primary.CostOf(llm.EstimateTokens(llm.SystemPrompt+rawText), estimateOutputTokens)
	affordable, err := a.tracker.CanAfford(ctx, estimate)
	if err != nil {
		a.log.Error(subjectID, correlationID, "cost ledger unavailable, failing closed", map[string]interface{}{
			"error": err.Error(),
		})
		return a.finish(ctx, subjectID, start, &Outcome{
			Disposition:   DispositionDegradedBudget,
			CorrelationID: correlationID,
			Degraded: &Degradation{
				Code:   llm.ErrCodeBudgetExceeded,
				Reason: "cost ledger unavailable",
			},
		}), nil
	}
	if !affordable {
		return a.finish(ctx, subjectID, start, &Outcome{
			Disposition:   DispositionDegradedBudget,
			CorrelationID: correlationID,
			Degraded: &Degradation{
				Code:   llm.ErrCodeBudgetExceeded,
				Reason: fmt.Sprintf("estimated cost %d minor units exceeds the remaining daily budget", estimate),
			},
		}), nil
	}

	// (4) Coalescing lock. On contention, wait for the holder's result;
	// when the wait runs out, pay for our own call rather than stall.
	coalesced := false
	token, acquired := a.coalescer.Acquire(ctx, subjectID, correlationID)
	if !acquired {
		coalesced = true
		if result := a.coalescer.AwaitResult(ctx, subjectID); result != nil {
			return a.finish(ctx, subjectID, start, &Outcome{
				Disposition:   DispositionCached,
				Result:        result,
				CorrelationID: correlationID,
				CacheHit:      true,
				Coalesced:     true,
			}), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.log.Info(subjectID, correlationID, "coalescing wait expired, issuing own call", nil)
	}
	if token != "" {
		defer a.coalescer.Release(ctx, subjectID, token)
	}

	// (5) Strip PII before the text leaves the process.
	sanitized := a.sanitizer.Sanitize(rawText)
	if n := sanitized.Total(); n > 0 {
		a.log.Info(subjectID, correlationID, "sanitized outbound text", map[string]interface{}{
			"replacements": n,
		})
	}

	// (6)+(7) Provider selection; schema validation runs inside the
	// failover loop so an invalid answer fails that provider over.
	resp, failures, err := a.selector.Analyze(ctx, llm.Request{
		SubjectID:     subjectID,
		Text:          sanitized.Text,
		CorrelationID: correlationID,
	}, func(r *llm.Response) error {
		return a.schema.Validate(r.Findings)
	})
	for _, f := range failures {
		promProviderCalls.WithLabelValues(f.Provider, "failure").Inc()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return a.finish(ctx, subjectID, start, &Outcome{
			Disposition:   a.degradedDisposition(err),
			CorrelationID: correlationID,
			Coalesced:     coalesced,
			Attempts:      len(failures),
			Degraded: &Degradation{
				Code:   llm.CodeOf(err),
				Reason: err.Error(),
			},
		}), nil
	}
	promProviderCalls.WithLabelValues(resp.Provider, "success").Inc()

	// (8) Record the actual cost from reported usage. A failed ledger
	// write is loud but does not void a result we already paid for.
	actual := a.actualCost(resp)
	if err := a.tracker.Record(ctx, resp.Provider, actual); err != nil {
		a.log.Error(subjectID, correlationID, "cost record failed", map[string]interface{}{
			"error":    err.Error(),
			"provider": resp.Provider,
			"amount":   actual,
		})
	}

	// (9) Cache under the tier's lifetime, chosen now and recorded on
	// the result.
	result := a.buildResult(subjectID, correlationID, tier, resp)
	a.cache.Put(ctx, result, tier)

	// (10) The deferred lock release runs after the cache write, so a
	// waiting poller always finds the result. (11) Done.
	return a.finish(ctx, subjectID, start, &Outcome{
		Disposition:   DispositionAnalyzed,
		Result:        result,
		CorrelationID: correlationID,
		Coalesced:     coalesced,
		CostMinor:     actual,
		Attempts:      len(failures) + 1,
	}), nil
}

func (a *Analyzer) degradedDisposition(err error) Disposition {
	if errors.Is(err, llm.ErrNoProviders) {
		return DispositionDegradedNoProvider
	}
	return DispositionDegradedAllFailed
}

func (a *Analyzer) actualCost(resp *llm.Response) int64 {
	provider := a.selector.ByName(resp.Provider)
	if provider == nil {
		return 0
	}
	return provider.CostOf(resp.Usage.InputTokens, resp.Usage.OutputTokens)
}

func (a *Analyzer) buildResult(subjectID, correlationID string, tier TrustTier, resp *llm.Response) *Result {
	verdict, _ := a.paths.Lookup(resp.Findings, "verdict")
	confidence, _ := a.paths.Lookup(resp.Findings, "confidence")
	verdictStr, _ := verdict.(string)
	confidenceNum, _ := confidence.(float64)

	return &Result{
		SubjectID:     subjectID,
		Provider:      resp.Provider,
		Model:         resp.Model,
		CorrelationID: correlationID,
		Verdict:       verdictStr,
		Confidence:    confidenceNum,
		Findings:      resp.Findings,
		InputTokens:   resp.Usage.InputTokens,
		OutputTokens:  resp.Usage.OutputTokens,
		TTLSeconds:    int64(a.cache.TTLFor(tier) / time.Second),
		CreatedAt:     time.Now().UTC(),
	}
}

// finish stamps the duration, updates the per-disposition metrics and
// breaker gauges, and emits exactly one audit event. Every disposition
// path funnels through here.
func (a *Analyzer) finish(ctx context.Context, subjectID string, start time.Time, oc *Outcome) *Outcome {
	oc.DurationMS = time.Since(start).Milliseconds()

	promAnalyses.WithLabelValues(string(oc.Disposition)).Inc()
	promAnalysisDuration.WithLabelValues(string(oc.Disposition)).Observe(float64(oc.DurationMS))
	a.refreshBreakerGauges()

	provider, model, reason := "none", "", ""
	if oc.Result != nil {
		provider = oc.Result.Provider
		model = oc.Result.Model
	}
	if oc.Degraded != nil {
		reason = string(oc.Degraded.Code)
	}

	a.sink.Emit(ctx, audit.Event{
		CorrelationID: oc.CorrelationID,
		SubjectID:     subjectID,
		Disposition:   string(oc.Disposition),
		Provider:      provider,
		Model:         model,
		CostMinor:     oc.CostMinor,
		CacheHit:      oc.CacheHit,
		Coalesced:     oc.Coalesced,
		Attempts:      oc.Attempts,
		DurationMS:    oc.DurationMS,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	})
	return oc
}

func (a *Analyzer) refreshBreakerGauges() {
	if a.selector == nil {
		return
	}
	breakers := a.selector.Breakers()
	if breakers == nil {
		return
	}
	for _, snap := range breakers.Snapshots() {
		promBreakerState.WithLabelValues(snap.Provider).Set(breakerStateValue(snap.State))
	}
}

func breakerStateValue(state string) float64 {
	switch state {
	case llm.CircuitOpen.String():
		return 1
	case llm.CircuitHalfOpen.String():
		return 2
	}
	return 0
}
