// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package cost

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"modvet/engine/kv"
	"modvet/engine/shared/logger"
)

var testNow = time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC)

type recordingAlerter struct {
	mu     sync.Mutex
	events []AlertEvent
}

func (a *recordingAlerter) Alert(_ context.Context, event AlertEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAlerter) thresholds() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, len(a.events))
	for i, e := range a.events {
		out[i] = e.Threshold
	}
	return out
}

type failingAlerter struct {
	calls int
}

func (a *failingAlerter) Alert(context.Context, AlertEvent) error {
	a.calls++
	return errors.New("pager is down")
}

func newTestTracker(t *testing.T, budget Budget) (*Tracker, *miniredis.Miniredis, *recordingAlerter) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	alerter := &recordingAlerter{}
	tr := NewTrackerWithOptions(store, budget, alerter, logger.New("cost-test"))
	tr.nowFunc = func() time.Time { return testNow }
	return tr, mr, alerter
}

func TestLedgerKeysUseUTCDay(t *testing.T) {
	east := time.FixedZone("east5", 5*3600)
	local := time.Date(2026, time.January, 1, 2, 0, 0, 0, east)

	if got := DayKey(local); got != "cost:day:2025-12-31" {
		t.Errorf("DayKey = %q, want cost:day:2025-12-31", got)
	}
	if got := DayProviderKey(local, "gemini"); got != "cost:day:2025-12-31:gemini" {
		t.Errorf("DayProviderKey = %q, want cost:day:2025-12-31:gemini", got)
	}
	if got := MonthKey(local); got != "cost:month:2025-12" {
		t.Errorf("MonthKey = %q, want cost:month:2025-12", got)
	}
}

func TestTrackerRecordWritesAllBuckets(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 100000})
	ctx := context.Background()

	if err := mr.Set(ReportCacheKey, "stale report"); err != nil {
		t.Fatalf("seed report: %v", err)
	}

	if err := tr.Record(ctx, "anthropic", 125); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	for key, want := range map[string]string{
		"cost:day:2026-03-14":           "125",
		"cost:day:2026-03-14:anthropic": "125",
		"cost:month:2026-03":            "125",
	} {
		got, err := mr.Get(key)
		if err != nil {
			t.Fatalf("bucket %s missing: %v", key, err)
		}
		if got != want {
			t.Errorf("bucket %s = %s, want %s", key, got, want)
		}
	}

	if ttl := mr.TTL("cost:day:2026-03-14"); ttl != DayRetention {
		t.Errorf("day bucket TTL = %v, want %v", ttl, DayRetention)
	}
	if ttl := mr.TTL("cost:day:2026-03-14:anthropic"); ttl != DayRetention {
		t.Errorf("provider bucket TTL = %v, want %v", ttl, DayRetention)
	}
	if ttl := mr.TTL("cost:month:2026-03"); ttl != MonthRetention {
		t.Errorf("month bucket TTL = %v, want %v", ttl, MonthRetention)
	}

	if mr.Exists(ReportCacheKey) {
		t.Error("recorded spend should invalidate the cached budget report")
	}
}

func TestTrackerRecordAccumulates(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 100000})
	ctx := context.Background()

	for _, rec := range []struct {
		provider string
		amount   int64
	}{
		{"anthropic", 100},
		{"openai", 50},
		{"anthropic", 25},
	} {
		if err := tr.Record(ctx, rec.provider, rec.amount); err != nil {
			t.Fatalf("Record(%s, %d) failed: %v", rec.provider, rec.amount, err)
		}
	}

	for key, want := range map[string]string{
		"cost:day:2026-03-14":           "175",
		"cost:day:2026-03-14:anthropic": "125",
		"cost:day:2026-03-14:openai":    "50",
		"cost:month:2026-03":            "175",
	} {
		if got, _ := mr.Get(key); got != want {
			t.Errorf("bucket %s = %s, want %s", key, got, want)
		}
	}
}

func TestTrackerRecordRejectsNegativeAmount(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 100000})

	if err := tr.Record(context.Background(), "anthropic", -1); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("Record(-1) error = %v, want ErrNegativeAmount", err)
	}
	if mr.Exists("cost:day:2026-03-14") {
		t.Error("rejected record should not touch the ledger")
	}
}

func TestTrackerRecordConcurrentSum(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 1000000})
	ctx := context.Background()

	const (
		writers   = 25
		perWriter = 8
		amount    = 7
	)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := tr.Record(ctx, "anthropic", amount); err != nil {
					t.Errorf("Record failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	want := fmt.Sprintf("%d", writers*perWriter*amount)
	if got, _ := mr.Get("cost:day:2026-03-14"); got != want {
		t.Errorf("day bucket = %s, want %s (lost increments under concurrency)", got, want)
	}
	if got, _ := mr.Get("cost:day:2026-03-14:anthropic"); got != want {
		t.Errorf("provider bucket = %s, want %s", got, want)
	}
}

func TestTrackerCanAfford(t *testing.T) {
	tests := []struct {
		name     string
		seed     string
		estimate int64
		want     bool
	}{
		{"empty ledger under limit", "", 4999, true},
		{"estimate exactly fills limit", "", 5000, true},
		{"estimate alone over limit", "", 5001, false},
		{"spent plus estimate at limit", "4900", 100, true},
		{"spent plus estimate over limit", "4900", 101, false},
		{"zero estimate at limit", "5000", 0, true},
		{"any estimate past limit", "5000", 1, false},
		{"zero estimate over limit", "5100", 0, false},
	}

	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 5000})
	ctx := context.Background()
	dayKey := DayKey(testNow)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr.Del(dayKey)
			if tt.seed != "" {
				if err := mr.Set(dayKey, tt.seed); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			got, err := tr.CanAfford(ctx, tt.estimate)
			if err != nil {
				t.Fatalf("CanAfford failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanAfford(spent=%q, estimate=%d) = %v, want %v", tt.seed, tt.estimate, got, tt.want)
			}
		})
	}
}

func TestTrackerCanAffordFailsClosed(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 5000})
	mr.Close()

	ok, err := tr.CanAfford(context.Background(), 1)
	if err == nil {
		t.Fatal("CanAfford should surface a ledger failure")
	}
	if ok {
		t.Error("CanAfford must fail closed when the ledger is unreachable")
	}
}

func TestTrackerCanAffordWithoutLimit(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 0})
	mr.Close()

	// No limit means no ledger read, so even a dead store cannot block.
	ok, err := tr.CanAfford(context.Background(), 1<<40)
	if err != nil {
		t.Fatalf("CanAfford failed: %v", err)
	}
	if !ok {
		t.Error("CanAfford = false with cap disabled, want true")
	}
}

func TestTrackerCanAffordCorruptLedger(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 5000})
	if err := mr.Set(DayKey(testNow), "not-a-number"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ok, err := tr.CanAfford(context.Background(), 1)
	if !errors.Is(err, ErrCorruptLedger) {
		t.Fatalf("CanAfford error = %v, want ErrCorruptLedger", err)
	}
	if ok {
		t.Error("CanAfford must fail closed on a corrupt ledger")
	}
}

func TestTrackerBudgetStatusDerivation(t *testing.T) {
	tr, mr, alerter := newTestTracker(t, Budget{DailyLimit: 10000, MonthlyLimit: 100000})
	ctx := context.Background()

	if err := mr.Set(DayKey(testNow), "7500"); err != nil {
		t.Fatalf("seed day: %v", err)
	}
	if err := mr.Set(MonthKey(testNow), "20000"); err != nil {
		t.Fatalf("seed month: %v", err)
	}

	status, err := tr.BudgetStatus(ctx)
	if err != nil {
		t.Fatalf("BudgetStatus failed: %v", err)
	}

	if status.DailySpent != 7500 || status.DailyLimit != 10000 {
		t.Errorf("daily spent/limit = %d/%d, want 7500/10000", status.DailySpent, status.DailyLimit)
	}
	if status.DailyRemaining != 2500 {
		t.Errorf("DailyRemaining = %d, want 2500", status.DailyRemaining)
	}
	if status.DailyPercent != 75.0 {
		t.Errorf("DailyPercent = %v, want 75", status.DailyPercent)
	}
	if status.DailyOver {
		t.Error("DailyOver = true below the limit")
	}
	if status.MonthlySpent != 20000 || status.MonthlyRemaining != 80000 {
		t.Errorf("monthly spent/remaining = %d/%d, want 20000/80000", status.MonthlySpent, status.MonthlyRemaining)
	}
	if status.MonthlyPercent != 20.0 || status.MonthlyOver {
		t.Errorf("monthly percent/over = %v/%v, want 20/false", status.MonthlyPercent, status.MonthlyOver)
	}
	if !status.GeneratedAt.Equal(testNow) {
		t.Errorf("GeneratedAt = %v, want %v", status.GeneratedAt, testNow)
	}

	// 75% of the daily limit has been reached, so 50 and 75 alert but 90
	// does not.
	if got := alerter.thresholds(); !reflect.DeepEqual(got, []int{50, 75}) {
		t.Errorf("alerted thresholds = %v, want [50 75]", got)
	}

	if !mr.Exists(ReportCacheKey) {
		t.Error("derived report should be cached")
	}
	if ttl := mr.TTL(ReportCacheKey); ttl != time.Minute {
		t.Errorf("report TTL = %v, want 1m", ttl)
	}
}

func TestTrackerBudgetStatusServedFromCacheUntilSpend(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 10000, MonthlyLimit: 100000})
	ctx := context.Background()
	dayKey := DayKey(testNow)

	if err := mr.Set(dayKey, "7500"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := tr.BudgetStatus(ctx); err != nil {
		t.Fatalf("BudgetStatus failed: %v", err)
	}

	// Mutate the ledger behind the report cache. The stale report is
	// served until a recorded spend invalidates it.
	if err := mr.Set(dayKey, "9999"); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	cached, err := tr.BudgetStatus(ctx)
	if err != nil {
		t.Fatalf("BudgetStatus failed: %v", err)
	}
	if cached.DailySpent != 7500 {
		t.Errorf("cached DailySpent = %d, want 7500", cached.DailySpent)
	}

	if err := tr.Record(ctx, "anthropic", 1); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	fresh, err := tr.BudgetStatus(ctx)
	if err != nil {
		t.Fatalf("BudgetStatus failed: %v", err)
	}
	if fresh.DailySpent != 10000 {
		t.Errorf("fresh DailySpent = %d, want 10000", fresh.DailySpent)
	}
}

func TestTrackerBudgetStatusLedgerError(t *testing.T) {
	tr, mr, _ := newTestTracker(t, Budget{DailyLimit: 10000})
	mr.Close()

	if _, err := tr.BudgetStatus(context.Background()); err == nil {
		t.Fatal("BudgetStatus should surface a ledger failure")
	}
}

func TestTrackerAlertsFireOncePerLevelPerDay(t *testing.T) {
	tr, _, alerter := newTestTracker(t, Budget{DailyLimit: 1000})
	ctx := context.Background()

	for _, amount := range []int64{400, 200, 200, 50, 100, 10} {
		if err := tr.Record(ctx, "anthropic", amount); err != nil {
			t.Fatalf("Record(%d) failed: %v", amount, err)
		}
	}

	if got := alerter.thresholds(); !reflect.DeepEqual(got, []int{50, 75, 90}) {
		t.Errorf("alerted thresholds = %v, want [50 75 90]", got)
	}

	// Next day the levels arm again.
	nextDay := testNow.Add(24 * time.Hour)
	tr.nowFunc = func() time.Time { return nextDay }

	if err := tr.Record(ctx, "anthropic", 600); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got := alerter.thresholds()
	if !reflect.DeepEqual(got, []int{50, 75, 90, 50}) {
		t.Fatalf("alerted thresholds = %v, want [50 75 90 50]", got)
	}
	alerter.mu.Lock()
	lastDay := alerter.events[len(alerter.events)-1].Day
	alerter.mu.Unlock()
	if lastDay != "2026-03-15" {
		t.Errorf("rollover alert day = %s, want 2026-03-15", lastDay)
	}
}

func TestTrackerAlertDeliveryFailureStillMarks(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	alerter := &failingAlerter{}
	tr := NewTrackerWithOptions(store, Budget{DailyLimit: 1000}, alerter, logger.New("cost-test"))
	tr.nowFunc = func() time.Time { return testNow }
	ctx := context.Background()

	if err := tr.Record(ctx, "anthropic", 600); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := tr.Record(ctx, "anthropic", 10); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// The 50% level fired once and failed delivery; it must not retry.
	if alerter.calls != 1 {
		t.Errorf("alerter calls = %d, want 1", alerter.calls)
	}
}

func TestTrackerRecordStoreDown(t *testing.T) {
	tr, mr, alerter := newTestTracker(t, Budget{DailyLimit: 1000})
	mr.Close()

	if err := tr.Record(context.Background(), "anthropic", 600); err == nil {
		t.Fatal("Record should surface a ledger failure")
	}
	if len(alerter.thresholds()) != 0 {
		t.Error("no alerts should fire from a failed record")
	}
}
