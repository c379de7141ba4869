// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"modvet/engine/shared/logger"
)

// Prometheus metrics for the audit pipeline
var (
	promAuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modvet_audit_queue_depth",
			Help: "Buffered audit events awaiting a batch write",
		},
	)
	promAuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modvet_audit_events_dropped_total",
			Help: "Audit events lost to queue overflow or failed batch writes",
		},
	)
)

func init() {
	prometheus.MustRegister(promAuditQueueDepth)
	prometheus.MustRegister(promAuditDropped)
}

const (
	defaultQueueDepth = 10000
	defaultBatchSize  = 100
	defaultFlushEvery = 5 * time.Second
)

const createAuditSchema = `
CREATE TABLE IF NOT EXISTS analysis_audit (
	id BIGSERIAL PRIMARY KEY,
	correlation_id VARCHAR(64) NOT NULL,
	subject_id VARCHAR(255) NOT NULL,
	disposition VARCHAR(32) NOT NULL,
	provider VARCHAR(32) NOT NULL,
	model VARCHAR(100),
	cost_minor_units BIGINT NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	coalesced BOOLEAN NOT NULL,
	attempts INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	reason TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_audit_subject ON analysis_audit(subject_id);
CREATE INDEX IF NOT EXISTS idx_analysis_audit_created ON analysis_audit(created_at);
CREATE INDEX IF NOT EXISTS idx_analysis_audit_disposition ON analysis_audit(disposition);
`

const insertAuditEvent = `
INSERT INTO analysis_audit (
	correlation_id, subject_id, disposition, provider, model,
	cost_minor_units, cache_hit, coalesced, attempts, duration_ms,
	reason, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// PostgresOptions tunes the sink's batching behavior. Zero values take the
// defaults.
type PostgresOptions struct {
	// BatchSize is the number of events written per transaction.
	BatchSize int
	// FlushEvery bounds how long a buffered event waits for a batch.
	FlushEvery time.Duration
	// QueueDepth is the Emit buffer size. A full buffer drops events
	// rather than stall the analysis path.
	QueueDepth int
}

func (o PostgresOptions) withDefaults() PostgresOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = defaultFlushEvery
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = defaultQueueDepth
	}
	return o
}

// PostgresSink persists audit events in Postgres. Emit enqueues onto a
// buffered channel; a background worker writes batches inside one
// transaction, on size or on a timer, whichever comes first.
type PostgresSink struct {
	db      *sql.DB
	opts    PostgresOptions
	queue   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	log     *logger.Logger
	dropped uint64
}

// NewPostgresSink opens databaseURL, bootstraps the audit schema, and starts
// the batch worker. A schema bootstrap failure is logged, not fatal: the
// database may simply not be up yet, and failed batches drop with a counter
// until it is.
func NewPostgresSink(databaseURL string, opts PostgresOptions, log *logger.Logger) (*PostgresSink, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	return NewPostgresSinkWithDB(db, opts, log), nil
}

// NewPostgresSinkWithDB builds the sink over an existing database handle.
func NewPostgresSinkWithDB(db *sql.DB, opts PostgresOptions, log *logger.Logger) *PostgresSink {
	if log == nil {
		log = logger.New("audit")
	}
	opts = opts.withDefaults()

	s := &PostgresSink{
		db:    db,
		opts:  opts,
		queue: make(chan Event, opts.QueueDepth),
		done:  make(chan struct{}),
		log:   log,
	}

	if _, err := db.Exec(createAuditSchema); err != nil {
		s.log.Warn("", "", "audit schema bootstrap failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.wg.Add(1)
	go s.run()
	return s
}

// Emit enqueues the event without blocking. On overflow the event is dropped
// and counted; audit never stalls moderation.
func (s *PostgresSink) Emit(ctx context.Context, event Event) {
	select {
	case s.queue <- event:
		promAuditQueueDepth.Set(float64(len(s.queue)))
	default:
		atomic.AddUint64(&s.dropped, 1)
		promAuditDropped.Inc()
	}
}

// Dropped returns how many events were lost to overflow or failed writes.
func (s *PostgresSink) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close drains the queue, flushes the final batch, and closes the database.
// Call it once, after the last Emit.
func (s *PostgresSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *PostgresSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.FlushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, s.opts.BatchSize)
	for {
		select {
		case event := <-s.queue:
			promAuditQueueDepth.Set(float64(len(s.queue)))
			batch = append(batch, event)
			if len(batch) >= s.opts.BatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			for {
				select {
				case event := <-s.queue:
					batch = append(batch, event)
					if len(batch) >= s.opts.BatchSize {
						s.flush(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					promAuditQueueDepth.Set(0)
					return
				}
			}
		}
	}
}

// flush writes one batch. A failed batch is logged and counted as dropped;
// the events are not retried.
func (s *PostgresSink) flush(batch []Event) {
	if err := s.write(batch); err != nil {
		atomic.AddUint64(&s.dropped, uint64(len(batch)))
		promAuditDropped.Add(float64(len(batch)))
		s.log.Error("", "", "audit batch write failed", map[string]interface{}{
			"events": len(batch),
			"error":  err.Error(),
		})
	}
}

func (s *PostgresSink) write(events []Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(insertAuditEvent)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		_, err := stmt.Exec(
			e.CorrelationID,
			e.SubjectID,
			e.Disposition,
			e.Provider,
			e.Model,
			e.CostMinor,
			e.CacheHit,
			e.Coalesced,
			e.Attempts,
			e.DurationMS,
			e.Reason,
			e.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
