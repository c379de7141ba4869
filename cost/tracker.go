// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"modvet/engine/kv"
	"modvet/engine/shared/logger"
)

// Alerter receives budget threshold notifications. Alerts are observability
// signals only; nothing downstream of an Alerter may block spending.
type Alerter interface {
	Alert(ctx context.Context, event AlertEvent) error
}

// AlertEvent describes one crossed budget threshold.
type AlertEvent struct {
	Threshold int       `json:"threshold"`
	Percent   float64   `json:"percent"`
	Spent     int64     `json:"spent"`
	Limit     int64     `json:"limit"`
	Day       string    `json:"day"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogAlerter delivers alerts to the structured log and nowhere else.
type LogAlerter struct {
	log *logger.Logger
}

// NewLogAlerter creates a log-only alerter.
func NewLogAlerter(log *logger.Logger) *LogAlerter {
	if log == nil {
		log = logger.New("cost-alerts")
	}
	return &LogAlerter{log: log}
}

// Alert logs the event at WARN.
func (a *LogAlerter) Alert(ctx context.Context, event AlertEvent) error {
	a.log.Warn("", "", event.Message, map[string]interface{}{
		"threshold": event.Threshold,
		"percent":   event.Percent,
		"spent":     event.Spent,
		"limit":     event.Limit,
		"day":       event.Day,
	})
	return nil
}

// Tracker is the spend ledger. The store is the system of record; every
// total the tracker reports is derived from store counters, never from
// process state, so restarts and replicas all see the same budget.
type Tracker struct {
	store   kv.Store
	budget  Budget
	alerter Alerter
	log     *logger.Logger
	nowFunc func() time.Time

	mu sync.RWMutex
	// alerted tracks which thresholds already fired, keyed by UTC day so
	// each level alerts once per day and resets at rollover.
	alerted map[string]map[int]bool
}

// NewTracker creates a tracker over store with the given budget.
func NewTracker(store kv.Store, budget Budget) *Tracker {
	return NewTrackerWithOptions(store, budget, nil, nil)
}

// NewTrackerWithOptions creates a tracker with a custom alerter and logger.
func NewTrackerWithOptions(store kv.Store, budget Budget, alerter Alerter, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.New("cost")
	}
	if alerter == nil {
		alerter = NewLogAlerter(log)
	}
	if len(budget.AlertThresholds) == 0 {
		budget.AlertThresholds = []int{50, 75, 90}
	}
	sort.Ints(budget.AlertThresholds)
	if budget.ReportTTL <= 0 {
		budget.ReportTTL = time.Minute
	}
	return &Tracker{
		store:   store,
		budget:  budget,
		alerter: alerter,
		log:     log,
		nowFunc: time.Now,
		alerted: make(map[string]map[int]bool),
	}
}

// Budget returns the configured budget.
func (t *Tracker) Budget() Budget {
	return t.budget
}

// CanAfford reports whether an estimated spend fits under the daily limit.
// A ledger read failure fails closed: without proof of headroom there is no
// spend.
func (t *Tracker) CanAfford(ctx context.Context, estimate int64) (bool, error) {
	if t.budget.DailyLimit <= 0 {
		return true, nil
	}

	spent, err := t.readBucket(ctx, DayKey(t.nowFunc()))
	if err != nil {
		return false, err
	}
	return spent+estimate <= t.budget.DailyLimit, nil
}

// Record appends an actual spend to the ledger: the day, day-per-provider,
// and month buckets are incremented atomically, each bucket's retention
// expiry is refreshed, and the cached budget report is invalidated. Crossed
// alert thresholds fire from the post-increment day total. The spend already
// happened by the time Record runs, so a partial write is logged and
// reported but never rolled back.
func (t *Tracker) Record(ctx context.Context, provider string, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}

	now := t.nowFunc()
	var firstErr error

	dayTotal, err := t.bump(ctx, DayKey(now), amount, DayRetention)
	if err != nil {
		firstErr = err
	}
	if provider != "" {
		if _, err := t.bump(ctx, DayProviderKey(now, provider), amount, DayRetention); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if _, err := t.bump(ctx, MonthKey(now), amount, MonthRetention); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := t.store.Delete(ctx, ReportCacheKey); err != nil {
		t.log.Warn("", "", "budget report invalidation failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if firstErr == nil {
		t.alertCrossed(ctx, now, dayTotal)
	}
	return firstErr
}

// BudgetStatus derives the current budget position from the ledger. A fresh
// derivation reports any newly crossed alert thresholds and is cached under
// ReportCacheKey until the next recorded spend or ReportTTL, whichever comes
// first. Report cache failures are logged, not returned; only the ledger
// itself can fail the call.
func (t *Tracker) BudgetStatus(ctx context.Context) (*BudgetStatus, error) {
	if raw, err := t.store.Get(ctx, ReportCacheKey); err == nil {
		var cached BudgetStatus
		if json.Unmarshal([]byte(raw), &cached) == nil {
			return &cached, nil
		}
	} else if !errors.Is(err, kv.ErrNotFound) {
		t.log.Warn("", "", "budget report cache read failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	now := t.nowFunc()
	daySpent, err := t.readBucket(ctx, DayKey(now))
	if err != nil {
		return nil, err
	}
	monthSpent, err := t.readBucket(ctx, MonthKey(now))
	if err != nil {
		return nil, err
	}

	status := &BudgetStatus{
		DailySpent:   daySpent,
		DailyLimit:   t.budget.DailyLimit,
		MonthlySpent: monthSpent,
		MonthlyLimit: t.budget.MonthlyLimit,
		GeneratedAt:  now.UTC(),
	}
	status.DailyRemaining, status.DailyPercent, status.DailyOver = derive(daySpent, t.budget.DailyLimit)
	status.MonthlyRemaining, status.MonthlyPercent, status.MonthlyOver = derive(monthSpent, t.budget.MonthlyLimit)

	t.alertCrossed(ctx, now, daySpent)

	if buf, err := json.Marshal(status); err == nil {
		if err := t.store.Set(ctx, ReportCacheKey, string(buf), t.budget.ReportTTL); err != nil {
			t.log.Warn("", "", "budget report cache write failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return status, nil
}

// bump atomically increments one ledger bucket and refreshes its retention
// expiry. Retention is hygiene: a failed expiry refresh is logged but never
// fails the write.
func (t *Tracker) bump(ctx context.Context, key string, amount int64, retention time.Duration) (int64, error) {
	total, err := t.store.IncrBy(ctx, key, amount)
	if err != nil {
		t.log.Error("", "", "ledger increment failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	if err := t.store.Expire(ctx, key, retention); err != nil {
		t.log.Warn("", "", "ledger expiry refresh failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return total, nil
}

func (t *Tracker) readBucket(ctx context.Context, key string) (int64, error) {
	raw, err := t.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrCorruptLedger, key, raw)
	}
	return n, nil
}

// alertCrossed reports every threshold the day total has reached but not yet
// alerted today. Delivery failures are logged and the threshold is still
// marked, so a level never fires twice in one day.
func (t *Tracker) alertCrossed(ctx context.Context, now time.Time, daySpent int64) {
	if t.budget.DailyLimit <= 0 {
		return
	}

	day := now.UTC().Format(dayLayout)
	percent := float64(daySpent) / float64(t.budget.DailyLimit) * 100

	for _, threshold := range t.budget.AlertThresholds {
		if percent < float64(threshold) || t.hasAlerted(day, threshold) {
			continue
		}
		event := AlertEvent{
			Threshold: threshold,
			Percent:   percent,
			Spent:     daySpent,
			Limit:     t.budget.DailyLimit,
			Day:       day,
			Message:   fmt.Sprintf("daily budget at %.1f%% (%d/%d minor units)", percent, daySpent, t.budget.DailyLimit),
			Timestamp: now.UTC(),
		}
		if err := t.alerter.Alert(ctx, event); err != nil {
			t.log.Error("", "", "budget alert delivery failed", map[string]interface{}{
				"threshold": threshold,
				"error":     err.Error(),
			})
		}
		t.markAlerted(day, threshold)
	}
}

func (t *Tracker) hasAlerted(day string, threshold int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alerted[day][threshold]
}

// markAlerted records a fired threshold. Entries for past days are dropped
// on the first mark of a new day, so the map never grows beyond one day.
func (t *Tracker) markAlerted(day string, threshold int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.alerted[day] == nil {
		for past := range t.alerted {
			delete(t.alerted, past)
		}
		t.alerted[day] = make(map[int]bool)
	}
	t.alerted[day][threshold] = true
}

func derive(spent, limit int64) (remaining int64, percent float64, over bool) {
	if limit <= 0 {
		return 0, 0, false
	}
	return limit - spent, float64(spent) / float64(limit) * 100, spent >= limit
}
