// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package gemini adapts Google's Gemini generateContent API to the shared
// provider contract.
package gemini

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
	// DefaultBaseURL is the default Gemini API endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the Gemini API version
	DefaultAPIVersion = "v1beta"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens caps the verdict completion
	DefaultMaxTokens = 1024
)

// Model constants for supported Gemini models
const (
	ModelGemini2Flash     = "gemini-2.0-flash"
	ModelGemini2FlashLite = "gemini-2.0-flash-lite"
	ModelGemini15Flash    = "gemini-1.5-flash"

	// Default model
	DefaultModel = ModelGemini2Flash
)

// Default pricing for Gemini 2.0 Flash: $0.10/1M input, $0.40/1M output,
// expressed in minor units (cents) per million tokens.
const (
	DefaultInputCentsPerMTok  = 10
	DefaultOutputCentsPerMTok = 40
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the Gemini provider
type Config struct {
	APIKey             string        // Required: Gemini API key
	BaseURL            string        // Optional: API base URL (default: https://generativelanguage.googleapis.com)
	APIVersion         string        // Optional: API version (default: v1beta)
	Model              string        // Optional: model (default: gemini-2.0-flash)
	MaxTokens          int           // Optional: completion cap (default: 1024)
	Timeout            time.Duration // Optional: HTTP timeout (default: 60s)
	RequestsPerMinute  int           // Optional: client-side rate limit (0 = unlimited)
	InputCentsPerMTok  int64         // Optional: input pricing (default: 10)
	OutputCentsPerMTok int64         // Optional: output pricing (default: 40)
}

// Provider implements the shared provider contract for Gemini
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

// NewProvider creates a new Gemini provider instance
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

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
	return "gemini"
}

// CostOf prices a call from its token usage in integral minor units.
func (p *Provider) CostOf(inputTokens, outputTokens int) int64 {
	return llm.TokenCost(inputTokens, p.inputRate) + llm.TokenCost(outputTokens, p.outputRate)
}

// Analyze sends the sanitized payload for a moderation verdict. The JSON
// response MIME type pins the completion to a bare object.
func (p *Provider) Analyze(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	apiReq := map[string]any{
		"contents": []map[string]any{
			{
				"role": "user",
				"parts": []map[string]any{
					{"text": req.Text},
				},
			},
		},
		"systemInstruction": map[string]any{
			"parts": []map[string]any{
				{"text": llm.SystemPrompt},
			},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens":  maxTokens,
			"temperature":      0.0,
			"responseMimeType": "application/json",
		},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		p.baseURL, p.apiVersion, p.model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeServerError, "failed to decode response").WithCause(err)
	}

	// A safety block carries no candidates; that is the vendor refusing,
	// not a malformed answer.
	if apiResp.PromptFeedback != nil && apiResp.PromptFeedback.BlockReason != "" {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeInvalidRequest,
			fmt.Sprintf("prompt blocked: %s", apiResp.PromptFeedback.BlockReason))
	}

	var contentBuilder strings.Builder
	if len(apiResp.Candidates) > 0 {
		for _, part := range apiResp.Candidates[0].Content.Parts {
			contentBuilder.WriteString(part.Text)
		}
	}
	content := contentBuilder.String()

	stopReason := ""
	if len(apiResp.Candidates) > 0 {
		stopReason = mapFinishReason(apiResp.Candidates[0].FinishReason)
	}

	findings, err := llm.ExtractJSONObject(content)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeValidation, err.Error())
	}

	inputTokens := 0
	outputTokens := 0
	if apiResp.UsageMetadata != nil {
		inputTokens = apiResp.UsageMetadata.PromptTokenCount
		outputTokens = apiResp.UsageMetadata.CandidatesTokenCount
	}

	return &llm.Response{
		Provider:   p.Name(),
		Model:      p.model,
		Content:    content,
		Findings:   findings,
		StopReason: stopReason,
		Usage: llm.UsageStats{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// HealthCheck fetches the configured model's metadata, a free call that
// verifies the key and endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s/models/%s?key=%s", p.baseURL, p.apiVersion, p.model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

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

// parseAPIError normalizes an API error response into the shared taxonomy.
// The gRPC-style status string is more precise than the HTTP status.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	code := llm.CodeForStatus(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		switch errResp.Error.Status {
		case "RESOURCE_EXHAUSTED":
			code = llm.ErrCodeRateLimited
		case "UNAUTHENTICATED", "PERMISSION_DENIED":
			code = llm.ErrCodeAuth
		case "UNAVAILABLE":
			code = llm.ErrCodeUnavailable
		case "DEADLINE_EXCEEDED":
			code = llm.ErrCodeTimeout
		case "INVALID_ARGUMENT":
			code = llm.ErrCodeInvalidRequest
		}
	}

	return llm.NewProviderError(p.Name(), code, message).WithStatus(statusCode)
}

// mapFinishReason maps Gemini finish reasons to standard reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return reason
	}
}

// transportError classifies a failed HTTP round trip, passing context
// expiry through untouched.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return llm.NewProviderError("gemini", llm.ErrCodeUnavailable, "request failed").WithCause(err)
}

// Internal API types

type geminiResponse struct {
	Candidates     []geminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata  *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}
