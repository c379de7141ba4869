// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

/*
Package llm defines the provider abstraction the analysis pipeline calls
AI vendors through, plus the resilience machinery around those calls.

# Provider Interface

Every vendor adapter implements the same small contract so the Selector can
treat them interchangeably:

	type Provider interface {
		Name() string
		Analyze(ctx context.Context, req Request) (*Response, error)
		HealthCheck(ctx context.Context) error
		CostOf(inputTokens, outputTokens int) int64
	}

Adapters live in subpackages (anthropic, openai, gemini, bedrock), own their
vendor wire formats, and normalize vendor errors into *ProviderError with a
shared code taxonomy.

# Resilience

Calls flow retry(breaker(analyze+validate)):

  - CircuitBreaker gates each provider independently: CLOSED trips OPEN
    after consecutive failures, OPEN admits a single probe per cooldown
    window (HALF_OPEN), and the probe outcome decides whether the circuit
    closes again. Every gated operation runs under an absolute timeout; a
    timeout counts as a failure.
  - RetryWithBackoff retries only retryable codes (rate limits, timeouts,
    transient upstream errors) with exponential backoff. Validation and
    auth failures never consume retry budget.
  - Selector walks the configured primary/fallback order exactly once,
    failing over on any per-provider error including "circuit open", and
    returns a structured AllProvidersError when nothing succeeded.

# Error Taxonomy

	RATE_LIMITED        retryable, same provider
	TIMEOUT             retryable, same or next provider
	UNAVAILABLE         retryable, vendor overloaded or down
	SERVER_ERROR        retryable, vendor 5xx
	VALIDATION_FAILED   terminal for that provider, triggers failover
	AUTH_FAILED         terminal for that provider
	INVALID_REQUEST     terminal for that provider
	CIRCUIT_OPEN        terminal for that provider, immediate failover
	ALL_PROVIDERS_UNAVAILABLE  terminal for the whole request

Components are wired by explicit construction; there is no global provider
registry.
*/
package llm
