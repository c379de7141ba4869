// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"strings"
	"sync"

	"modvet/engine/llm"
)

// ModelRates holds metering rates for one model, expressed as minor currency
// units per million tokens. List prices that do not divide evenly into minor
// units are rounded up so metering never undercounts.
type ModelRates struct {
	InputCentsPerMTok  int64 `json:"input_cents_per_mtok" yaml:"input_cents_per_mtok"`
	OutputCentsPerMTok int64 `json:"output_cents_per_mtok" yaml:"output_cents_per_mtok"`
}

// PricingTable maps provider and model names to metering rates. The "*"
// model row is the fallback for models without an exact entry.
type PricingTable struct {
	mu    sync.RWMutex
	rates map[string]map[string]ModelRates
}

// NewPricingTable returns a table preloaded with current list prices for the
// supported providers (as of mid 2026).
func NewPricingTable() *PricingTable {
	return &PricingTable{
		rates: map[string]map[string]ModelRates{
			"anthropic": {
				"claude-sonnet-4-20250514":   {InputCentsPerMTok: 300, OutputCentsPerMTok: 1500},
				"claude-3-5-sonnet-20241022": {InputCentsPerMTok: 300, OutputCentsPerMTok: 1500},
				"claude-3-5-haiku-20241022":  {InputCentsPerMTok: 80, OutputCentsPerMTok: 400},
				"*":                          {InputCentsPerMTok: 300, OutputCentsPerMTok: 1500},
			},
			"openai": {
				"gpt-4o":      {InputCentsPerMTok: 250, OutputCentsPerMTok: 1000},
				"gpt-4o-mini": {InputCentsPerMTok: 15, OutputCentsPerMTok: 60},
				"*":           {InputCentsPerMTok: 250, OutputCentsPerMTok: 1000},
			},
			"gemini": {
				"gemini-2.0-flash":      {InputCentsPerMTok: 10, OutputCentsPerMTok: 40},
				"gemini-2.0-flash-lite": {InputCentsPerMTok: 8, OutputCentsPerMTok: 30},
				"gemini-1.5-flash":      {InputCentsPerMTok: 8, OutputCentsPerMTok: 30},
				"*":                     {InputCentsPerMTok: 10, OutputCentsPerMTok: 40},
			},
			"bedrock": {
				"anthropic.claude-3-5-sonnet-20240620-v1:0": {InputCentsPerMTok: 300, OutputCentsPerMTok: 1500},
				"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputCentsPerMTok: 300, OutputCentsPerMTok: 1500},
				"anthropic.claude-3-haiku-20240307-v1:0":    {InputCentsPerMTok: 25, OutputCentsPerMTok: 125},
				"*": {InputCentsPerMTok: 300, OutputCentsPerMTok: 1500},
			},
		},
	}
}

// Rates returns the metering rates for provider and model, falling back to
// the provider's "*" row. The second return is false when the provider is
// unknown.
func (p *PricingTable) Rates(provider, model string) (ModelRates, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	models, ok := p.rates[strings.ToLower(provider)]
	if !ok {
		return ModelRates{}, false
	}

	if r, ok := models[model]; ok {
		return r, true
	}
	if r, ok := models[strings.ToLower(model)]; ok {
		return r, true
	}
	r, ok := models["*"]
	return r, ok
}

// Cost meters a call in minor currency units with ceiling division, so a
// billable call never prices at zero. Unknown providers meter at zero.
func (p *PricingTable) Cost(provider, model string, tokensIn, tokensOut int) int64 {
	r, ok := p.Rates(provider, model)
	if !ok {
		return 0
	}
	return llm.TokenCost(tokensIn, r.InputCentsPerMTok) + llm.TokenCost(tokensOut, r.OutputCentsPerMTok)
}

// SetRates overrides the rates for one model.
func (p *PricingTable) SetRates(provider, model string, r ModelRates) {
	p.mu.Lock()
	defer p.mu.Unlock()

	provider = strings.ToLower(provider)
	if p.rates[provider] == nil {
		p.rates[provider] = make(map[string]ModelRates)
	}
	p.rates[provider][model] = r
}

// Merge applies overrides on top of the current table, keeping existing rows
// for anything the overrides do not mention.
func (p *PricingTable) Merge(overrides map[string]map[string]ModelRates) {
	for provider, models := range overrides {
		for model, r := range models {
			p.SetRates(provider, model, r)
		}
	}
}
