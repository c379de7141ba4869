// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"time"
)

// Request is the normalized analysis request a vendor adapter consumes.
// Text must already be sanitized; nothing below this layer strips PII.
type Request struct {
	// SubjectID identifies the content unit under analysis.
	SubjectID string

	// Text is the sanitized submission text.
	Text string

	// CorrelationID ties this call to one orchestration pass.
	CorrelationID string

	// MaxTokens caps the generated output. Zero means the adapter default.
	MaxTokens int
}

// Response is the normalized answer from a vendor adapter.
type Response struct {
	// Provider is the adapter name that produced this response.
	Provider string

	// Model is the vendor model that answered.
	Model string

	// Content is the raw completion text.
	Content string

	// Findings is the structured verdict parsed out of Content. Adapters
	// ask the model for a single JSON object and parse it here.
	Findings map[string]interface{}

	// Usage is the billable token usage reported by the vendor.
	Usage UsageStats

	// StopReason is the vendor's stop reason, when reported.
	StopReason string

	// Latency is the wall time of the vendor call.
	Latency time.Duration
}

// UsageStats contains token usage for one vendor call.
type UsageStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Provider is the contract every vendor adapter implements. Adapters apply
// their own retry-relevant error classification but never retry internally;
// retry and circuit breaking are layered on top by the Selector.
type Provider interface {
	// Name returns the stable provider identifier ("anthropic", "openai", ...).
	Name() string

	// Analyze sends one sanitized request to the vendor and returns the
	// normalized response. Errors are *ProviderError where the vendor
	// answered, or wrapped transport errors otherwise.
	Analyze(ctx context.Context, req Request) (*Response, error)

	// HealthCheck verifies the vendor is reachable with valid credentials.
	// A nil return means healthy.
	HealthCheck(ctx context.Context) error

	// CostOf converts token usage into integral minor currency units using
	// the adapter's configured pricing. Never returns a fractional value;
	// billable usage always rounds up.
	CostOf(inputTokens, outputTokens int) int64
}
