// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package openai adapts OpenAI's Chat Completions API to the shared
// provider contract. JSON mode pins the completion to a bare object.
package openai

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
	// DefaultBaseURL is the default OpenAI API endpoint
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens caps the verdict completion
	DefaultMaxTokens = 1024
)

// Model constants for supported OpenAI models
const (
	ModelGPT4o     = "gpt-4o"
	ModelGPT4oMini = "gpt-4o-mini"

	// Default model
	DefaultModel = ModelGPT4oMini
)

// Default pricing for GPT-4o mini: $0.15/1M input, $0.60/1M output,
// expressed in minor units (cents) per million tokens.
const (
	DefaultInputCentsPerMTok  = 15
	DefaultOutputCentsPerMTok = 60
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI provider
type Config struct {
	APIKey             string        // Required: OpenAI API key
	BaseURL            string        // Optional: API base URL (default: https://api.openai.com)
	Model              string        // Optional: model (default: gpt-4o-mini)
	MaxTokens          int           // Optional: completion cap (default: 1024)
	Timeout            time.Duration // Optional: HTTP timeout (default: 60s)
	RequestsPerMinute  int           // Optional: client-side rate limit (0 = unlimited)
	InputCentsPerMTok  int64         // Optional: input pricing (default: 15)
	OutputCentsPerMTok int64         // Optional: output pricing (default: 60)
}

// Provider implements the shared provider contract for OpenAI
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	inputRate  int64
	outputRate int64
	client     HTTPClient
	limiter    *llm.RateLimiter
}

// NewProvider creates a new OpenAI provider instance
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

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
	return "openai"
}

// CostOf prices a call from its token usage in integral minor units.
func (p *Provider) CostOf(inputTokens, outputTokens int) int64 {
	return llm.TokenCost(inputTokens, p.inputRate) + llm.TokenCost(outputTokens, p.outputRate)
}

// Analyze sends the sanitized payload for a moderation verdict. JSON mode
// guarantees a syntactically valid object; the shared schema check still
// decides whether it is the right object.
func (p *Provider) Analyze(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	apiReq := openAIRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "system", Content: llm.SystemPrompt},
			{Role: "user", Content: req.Text},
		},
		MaxTokens:      maxTokens,
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
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

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeServerError, "failed to decode response").WithCause(err)
	}

	content := ""
	stopReason := ""
	if len(apiResp.Choices) > 0 {
		content = apiResp.Choices[0].Message.Content
		stopReason = apiResp.Choices[0].FinishReason
	}

	findings, err := llm.ExtractJSONObject(content)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeValidation, err.Error())
	}

	return &llm.Response{
		Provider:   p.Name(),
		Model:      apiResp.Model,
		Content:    content,
		Findings:   findings,
		StopReason: stopReason,
		Usage: llm.UsageStats{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// HealthCheck lists models, a free call that verifies the credential and
// endpoint without spending tokens.
func (p *Provider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/v1/models", nil)
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

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

// parseAPIError normalizes an API error response into the shared taxonomy.
func (p *Provider) parseAPIError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	code := llm.CodeForStatus(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		switch {
		case errResp.Error.Code == "rate_limit_exceeded" || errResp.Error.Type == "rate_limit_error":
			code = llm.ErrCodeRateLimited
		case errResp.Error.Code == "insufficient_quota" || errResp.Error.Type == "insufficient_quota":
			code = llm.ErrCodeRateLimited
		case errResp.Error.Code == "invalid_api_key" || errResp.Error.Type == "authentication_error":
			code = llm.ErrCodeAuth
		case errResp.Error.Type == "server_error":
			code = llm.ErrCodeServerError
		case errResp.Error.Type == "invalid_request_error":
			code = llm.ErrCodeInvalidRequest
		}
	}

	return llm.NewProviderError(p.Name(), code, message).WithStatus(statusCode)
}

// transportError classifies a failed HTTP round trip, passing context
// expiry through untouched.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return llm.NewProviderError("openai", llm.ErrCodeUnavailable, "request failed").WithCause(err)
}

// Internal API types

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
