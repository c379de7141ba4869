// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

/*
Command analyzer runs the ModVet analyzer service.

The analyzer is the decision engine of the ModVet system: it runs one
AI moderation pass per content item with tiered result caching, duplicate
suppression across replicas, daily spend enforcement, and provider failover.

# Usage

	analyzer

# Environment Variables

Optional:
  - MODVET_CONFIG: path to the YAML config file (default: modvet.yaml)
  - PORT: HTTP server port (default: 8084)
  - MODVET_REDIS_URL: Redis connection string (default: redis://localhost:6379)
  - MODVET_AUDIT_DATABASE_URL: PostgreSQL audit store; log-only audit without it
  - MODVET_API_SECRET: HMAC secret; enables bearer-token auth when set

# Provider Configuration

Providers run in the order fixed by selector.order in the config file; the
first entry is primary and the rest are fallbacks. A provider joins the
rotation when it is enabled and its credential is present:

	# Anthropic
	export MODVET_ANTHROPIC_API_KEY="sk-ant-..."

	# OpenAI
	export MODVET_OPENAI_API_KEY="sk-..."

	# Gemini
	export MODVET_GEMINI_API_KEY="..."

	# AWS Bedrock (default credential chain, region from config)

The bare names (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY) are also
honored; the MODVET_-prefixed ones win when both are set.

# Example

	export MODVET_REDIS_URL="redis://localhost:6379"
	export MODVET_ANTHROPIC_API_KEY="sk-ant-..."
	export MODVET_OPENAI_API_KEY="sk-..."
	./analyzer
*/
package main
