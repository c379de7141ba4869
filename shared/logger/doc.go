// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for ModVet components.

# Overview

The logger outputs single-line JSON to stdout so logs are directly
consumable by CloudWatch, ELK, or any other aggregation pipeline.

Each entry carries:
  - Timestamp (RFC3339Nano)
  - Level (DEBUG, INFO, WARN, ERROR)
  - Component name (analyzer, cost, audit, ...)
  - Instance ID and container name
  - Subject ID (the content unit under analysis)
  - Correlation ID (ties one orchestration pass together)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("analyzer")

Log with subject and correlation context:

	log.Info("t3_abc123", "corr-456", "analysis complete", map[string]interface{}{
	    "provider":    "anthropic",
	    "disposition": "analyzed",
	})

Log errors with status codes:

	log.ErrorWithCode("t3_abc123", "corr-456", "provider call failed", 502, err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("t3_abc123", "corr-456", "request completed",
	    float64(time.Since(start).Milliseconds()), nil)

Never log raw submission text through this package; sanitize first.

# Environment Variables

  - MODVET_INSTANCE_ID: deployment instance identifier
  - HOSTNAME: container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
