// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the ModVet analyzer service.
//
// The analyzer runs one moderation pass per content item:
// - Serves cached results per trust tier before spending anything
// - Coalesces concurrent passes for the same item across replicas
// - Enforces the daily spend cap before any provider call
// - Fails over across AI providers behind per-provider circuit breakers
// - Records an audit event for every pass
//
// Usage:
//
//	./analyzer
//
// Environment Variables:
//
//	MODVET_CONFIG - path to the YAML config file (default: modvet.yaml)
//	PORT - HTTP server port (default: 8084)
//	MODVET_REDIS_URL - Redis connection string
//	MODVET_ANTHROPIC_API_KEY - Anthropic API key (optional)
//	MODVET_OPENAI_API_KEY - OpenAI API key (optional)
//	MODVET_GEMINI_API_KEY - Gemini API key (optional)
//	MODVET_AUDIT_DATABASE_URL - PostgreSQL audit store (optional)
//	MODVET_API_SECRET - HMAC secret enabling bearer-token auth (optional)
package main

import (
	"modvet/engine/analysis"
)

func main() {
	analysis.Run()
}
