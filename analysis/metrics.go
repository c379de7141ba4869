// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modvet_analyzer_requests_total",
			Help: "Analysis passes by final disposition",
		},
		[]string{"disposition"},
	)
	promAnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modvet_analyzer_duration_milliseconds",
			Help:    "Analysis pass duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"disposition"},
	)
	promProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modvet_provider_calls_total",
			Help: "Provider attempts by outcome",
		},
		[]string{"provider", "status"},
	)
	promCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modvet_result_cache_hits_total",
			Help: "Result cache hits",
		},
	)
	promCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modvet_result_cache_misses_total",
			Help: "Result cache misses, including store errors treated as misses",
		},
	)
	promCoalescer = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modvet_coalescer_outcomes_total",
			Help: "Coalescing lock outcomes (acquired, contended, coalesced, timeout, error)",
		},
		[]string{"outcome"},
	)
	promSanitizerMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modvet_sanitizer_matches_total",
			Help: "PII matches replaced before text left the process, by type",
		},
		[]string{"type"},
	)
	promBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modvet_breaker_state",
			Help: "Circuit state per provider (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)
	promDailySpend = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modvet_budget_daily_spent_minor_units",
			Help: "Daily provider spend in minor currency units",
		},
	)
	promBudgetPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modvet_budget_daily_percent",
			Help: "Daily spend as a percentage of the daily limit",
		},
	)
	promThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modvet_http_throttled_total",
			Help: "Requests refused by the per-client rate limit",
		},
	)
	promHTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modvet_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promAnalyses)
	prometheus.MustRegister(promAnalysisDuration)
	prometheus.MustRegister(promProviderCalls)
	prometheus.MustRegister(promCacheHits)
	prometheus.MustRegister(promCacheMisses)
	prometheus.MustRegister(promCoalescer)
	prometheus.MustRegister(promSanitizerMatches)
	prometheus.MustRegister(promBreakerState)
	prometheus.MustRegister(promDailySpend)
	prometheus.MustRegister(promBudgetPercent)
	prometheus.MustRegister(promThrottled)
	prometheus.MustRegister(promHTTPRequests)
}
