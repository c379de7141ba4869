// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package bedrock adapts AWS Bedrock's InvokeModel API to the shared
// provider contract, using the Anthropic-on-Bedrock body shape. Auth is
// AWS Signature V4 through the ambient credential chain, so deployments
// already inside AWS need no vendor API key.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"modvet/engine/llm"
)

const (
	// DefaultRegion is the default AWS region
	DefaultRegion = "us-east-1"

	// DefaultMaxTokens caps the verdict completion
	DefaultMaxTokens = 1024

	// anthropicVersion is the required version marker for the
	// Anthropic-on-Bedrock body shape
	anthropicVersion = "bedrock-2023-05-31"
)

// Model constants for Anthropic models on Bedrock
const (
	ModelClaude35Sonnet = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	ModelClaude35Haiku  = "anthropic.claude-3-5-haiku-20241022-v1:0"
	ModelClaude3Haiku   = "anthropic.claude-3-haiku-20240307-v1:0"

	// Default model
	DefaultModel = ModelClaude35Sonnet
)

// Default pricing for Claude 3.5 Sonnet on Bedrock: $3/1M input, $15/1M
// output, expressed in minor units (cents) per million tokens.
const (
	DefaultInputCentsPerMTok  = 300
	DefaultOutputCentsPerMTok = 1500
)

// BedrockClient is the slice of the Bedrock runtime API this adapter uses
// (enables testing).
type BedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config contains configuration for the Bedrock provider
type Config struct {
	Region             string // Optional: AWS region (default: us-east-1)
	Model              string // Optional: model id (default: anthropic.claude-3-5-sonnet-20240620-v1:0)
	MaxTokens          int    // Optional: completion cap (default: 1024)
	RequestsPerMinute  int    // Optional: client-side rate limit (0 = unlimited)
	InputCentsPerMTok  int64  // Optional: input pricing (default: 300)
	OutputCentsPerMTok int64  // Optional: output pricing (default: 1500)
}

// Provider implements the shared provider contract for AWS Bedrock
type Provider struct {
	client     BedrockClient
	region     string
	model      string
	maxTokens  int
	inputRate  int64
	outputRate int64
	limiter    *llm.RateLimiter
}

// NewProvider creates a new Bedrock provider. The AWS credential chain is
// resolved at construction, which needs a context for IMDS and SSO lookups.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if !strings.HasPrefix(cfg.Model, "anthropic.") {
		return nil, fmt.Errorf("bedrock model %q is not an Anthropic model id", cfg.Model)
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	if cfg.InputCentsPerMTok <= 0 {
		cfg.InputCentsPerMTok = DefaultInputCentsPerMTok
	}

	if cfg.OutputCentsPerMTok <= 0 {
		cfg.OutputCentsPerMTok = DefaultOutputCentsPerMTok
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
	}

	return &Provider{
		client:     bedrockruntime.NewFromConfig(awsCfg),
		region:     cfg.Region,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		inputRate:  cfg.InputCentsPerMTok,
		outputRate: cfg.OutputCentsPerMTok,
		limiter:    llm.NewRateLimiter(cfg.RequestsPerMinute),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "bedrock"
}

// CostOf prices a call from its token usage in integral minor units.
func (p *Provider) CostOf(inputTokens, outputTokens int) int64 {
	return llm.TokenCost(inputTokens, p.inputRate) + llm.TokenCost(outputTokens, p.outputRate)
}

// Analyze sends the sanitized payload for a moderation verdict.
func (p *Provider) Analyze(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	requestJSON, err := json.Marshal(invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		System:           llm.SystemPrompt,
		Temperature:      0,
		Messages: []invokeMessage{
			{Role: "user", Content: req.Text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, p.classifyError(ctx, err)
	}

	var apiResp invokeResponse
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.ErrCodeServerError, "failed to decode response").WithCause(err)
	}

	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "" || block.Type == "text" {
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
		Model:      p.model,
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

// HealthCheck performs a minimal one-token invocation to verify IAM access
// to the configured model.
func (p *Provider) HealthCheck(ctx context.Context) error {
	requestJSON, err := json.Marshal(invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        1,
		Messages: []invokeMessage{
			{Role: "user", Content: "ping"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	_, err = p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return p.classifyError(ctx, err)
	}
	return nil
}

// classifyError maps SDK exception types into the shared taxonomy, passing
// context expiry through untouched.
func (p *Provider) classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	code := llm.ErrCodeUnavailable
	var (
		throttle     *types.ThrottlingException
		quota        *types.ServiceQuotaExceededException
		modelTimeout *types.ModelTimeoutException
		notReady     *types.ModelNotReadyException
		internal     *types.InternalServerException
		modelErr     *types.ModelErrorException
		validation   *types.ValidationException
		notFound     *types.ResourceNotFoundException
		denied       *types.AccessDeniedException
	)
	switch {
	case errors.As(err, &throttle), errors.As(err, &quota):
		code = llm.ErrCodeRateLimited
	case errors.As(err, &modelTimeout):
		code = llm.ErrCodeTimeout
	case errors.As(err, &notReady):
		code = llm.ErrCodeUnavailable
	case errors.As(err, &internal), errors.As(err, &modelErr):
		code = llm.ErrCodeServerError
	case errors.As(err, &validation), errors.As(err, &notFound):
		code = llm.ErrCodeInvalidRequest
	case errors.As(err, &denied):
		code = llm.ErrCodeAuth
	}

	return llm.NewProviderError(p.Name(), code, err.Error()).WithCause(err)
}

// Internal API types (Anthropic-on-Bedrock body shape)

type invokeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Temperature      float64         `json:"temperature"`
	Messages         []invokeMessage `json:"messages"`
}

type invokeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeResponse struct {
	ID         string `json:"id"`
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
