// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package anthropic adapts Anthropic's Claude Messages API to the shared
// provider contract. Claude is the usual primary for moderation verdicts.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"modvet/engine/llm"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens caps the verdict completion; the JSON object is small
	DefaultMaxTokens = 1024
)

// Model constants for supported Claude models
const (
	ModelClaude4Sonnet  = "claude-sonnet-4-20250514"
	ModelClaude35Sonnet = "claude-3-5-sonnet-20241022"
	ModelClaude35Haiku  = "claude-3-5-haiku-20241022"

	// Default model
	DefaultModel = ModelClaude35Sonnet
)

// Default pricing for Claude 3.5 Sonnet: $3/1M input, $15/1M output,
// expressed in minor units (cents) per million tokens.
const (
	DefaultInputCentsPerMTok  = 300
	DefaultOutputCentsPerMTok = 1500
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey             string        // Required: Anthropic API key
	BaseURL            string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion         string        // Optional: API version (default: 2023-06-01)
	Model              string        // Optional: model (default: claude-3-5-sonnet-20241022)
	MaxTokens          int           // Optional: completion cap (default: 1024)
	Timeout            time.Duration // Optional: HTTP timeout (default: 60s)
	RequestsPerMinute  int           // Optional: client-side rate limit (0 = unlimited)
	InputCentsPerMTok  int64         // Optional: input pricing (default: 300)
	OutputCentsPerMTok int64         // Optional: output pricing (default: 1500)
}

// Provider implements the shared provider contract for Anthropic Claude
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	maxTokens  int
	inputRate  int64
	outputRate int64
	client     HTTPClient
	limiter    *llm.RateLimiter
}

// NewProvider creates a new Anthropic provider instance
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.InputCentsPerMTok <= 0 {
		cfg.InputCentsPerMTok = DefaultInputCentsPerMTok
	}

	if cfg.OutputCentsPerMTok <= 0 {
		cfg.OutputCentsPerMTok = DefaultOutputCentsPerMTok
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		inputRate:  cfg.InputCentsPerMTok,
		outputRate: cfg.OutputCentsPerMTok,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    llm.NewRateLimiter(cfg.RequestsPerMinute),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "anthropic"
}

// CostOf prices a call from its token usage in integral minor units.
func (p *Provider) CostOf(inputTokens, outputTokens int) int64 {
	return llm.TokenCost(inputTokens, p.inputRate) + llm.TokenCost(outputTokens, p.outputRate)
}

// Analyze sends the sanitized payload for a moderation verdict and parses
// the strict-JSON completion into findings.
func (p *Provider) Analyze(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	// Temperature 0: moderation verdicts should be deterministic.
	temperature := 0.0
	apiReq := anthropicRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		System:      llm.SystemPrompt,
		Temperature: &temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Text},
		},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, p.parseAPIError(resp.StatusCode, body)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeServerError, "failed to decode response").WithCause(err)
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}
	content := contentBuilder.String()

	findings, err := llm.ExtractJSONObject(content)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeValidation, err.Error())
	}

	return &llm.Response{
		Provider:   p.Name(),
		Model:      apiResp.Model,
		Content:    content,
		Findings:   findings,
		StopReason: apiResp.StopReason,
		Usage: llm.UsageStats{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// HealthCheck performs a minimal one-token completion to verify the
// credential and endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	apiReq := anthropicRequest{
		Model:     p.model,
		MaxTokens: 1,
		Messages: []anthropicMessage{
			{Role: "user", Content: "ping"},
		},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return transportError(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return p.parseAPIError(resp.StatusCode, body)
	}
	return nil
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.apiVersion)
}

// parseAPIError normalizes an API error response into the shared taxonomy.
// The vendor error type is more precise than the status when both disagree.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))

	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	code := llm.CodeForStatus(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		switch errResp.Error.Type {
		case "rate_limit_error":
			code = llm.ErrCodeRateLimited
		case "overloaded_error":
			code = llm.ErrCodeUnavailable
		case "authentication_error", "permission_error":
			code = llm.ErrCodeAuth
		case "invalid_request_error":
			code = llm.ErrCodeInvalidRequest
		}
	}

	return llm.NewProviderError(p.Name(), code, message).WithStatus(statusCode)
}

// transportError classifies a failed HTTP round trip. Context expiry keeps
// its native error so the breaker and retry layers can tell caller
// cancellation from a slow vendor.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return llm.NewProviderError("anthropic", llm.ErrCodeUnavailable, "request failed").WithCause(err)
}

// Internal API types

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
