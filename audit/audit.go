// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

// Package audit records one event per orchestration pass. Events answer the
// moderator's question "what did we decide, who decided it, and what did it
// cost" without ever storing the submission text itself.
package audit

import (
	"context"
	"time"

	"modvet/engine/shared/logger"
)

// Event is the audit record for one analysis. Provider is "none" when no
// provider was involved (cache hits, degraded outcomes before selection).
type Event struct {
	CorrelationID string    `json:"correlation_id"`
	SubjectID     string    `json:"subject_id"`
	Disposition   string    `json:"disposition"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model,omitempty"`
	CostMinor     int64     `json:"cost_minor_units"`
	CacheHit      bool      `json:"cache_hit"`
	Coalesced     bool      `json:"coalesced"`
	Attempts      int       `json:"attempts"`
	DurationMS    int64     `json:"duration_ms"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Sink receives audit events. Emit must never block the caller for long and
// must never fail the analysis that produced the event; sinks handle their
// own delivery problems.
type Sink interface {
	Emit(ctx context.Context, event Event)
	Close() error
}

// LogSink writes every event to the structured log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.New("audit")
	}
	return &LogSink{log: log}
}

// Emit logs the event at INFO.
func (s *LogSink) Emit(ctx context.Context, event Event) {
	s.log.Info(event.SubjectID, event.CorrelationID, "analysis audited", map[string]interface{}{
		"disposition":      event.Disposition,
		"provider":         event.Provider,
		"model":            event.Model,
		"cost_minor_units": event.CostMinor,
		"cache_hit":        event.CacheHit,
		"coalesced":        event.Coalesced,
		"attempts":         event.Attempts,
		"duration_ms":      event.DurationMS,
		"reason":           event.Reason,
	})
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

// MultiSink fans one event out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one. Events are delivered in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit delivers the event to every sink.
func (s *MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, event)
	}
}

// Close closes every sink and returns the first error.
func (s *MultiSink) Close() error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
