// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"modvet/engine/kv"
	"modvet/engine/shared/logger"
)

func newTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewResultCache(store, nil, logger.New("cache-test")), mr
}

func sampleResult(subjectID string) *Result {
	return &Result{
		SubjectID:     subjectID,
		Provider:      "anthropic",
		Model:         "claude-3-5-sonnet-20241022",
		CorrelationID: "corr-1",
		Verdict:       "approve",
		Confidence:    0.97,
		Findings:      goodFindings(),
		InputTokens:   420,
		OutputTokens:  64,
		TTLSeconds:    12 * 3600,
		CreatedAt:     time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC),
	}
}

func TestResultCacheRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	stored := sampleResult("t3_round")
	cache.Put(ctx, stored, TierLow)

	got := cache.Get(ctx, "t3_round")
	if got == nil {
		t.Fatal("Get returned nil after Put")
	}
	if !reflect.DeepEqual(got, stored) {
		t.Errorf("round trip changed the result:\ngot  %+v\nwant %+v", got, stored)
	}
	if ttl := mr.TTL(resultKey("t3_round")); ttl != 12*time.Hour {
		t.Errorf("stored TTL = %v, want 12h", ttl)
	}
}

func TestResultCacheTierLifetimes(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cases := []struct {
		tier TrustTier
		want time.Duration
	}{
		{TierHigh, 48 * time.Hour},
		{TierMedium, 24 * time.Hour},
		{TierLow, 12 * time.Hour},
		{TierKnownBad, 168 * time.Hour},
	}
	for _, tc := range cases {
		subject := "t3_" + string(tc.tier)
		cache.Put(ctx, sampleResult(subject), tc.tier)
		if ttl := mr.TTL(resultKey(subject)); ttl != tc.want {
			t.Errorf("tier %s: TTL = %v, want %v", tc.tier, ttl, tc.want)
		}
	}
}

func TestResultCacheIdenticalWithinLifetime(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Put(ctx, sampleResult("t3_same"), TierMedium)

	first := cache.Get(ctx, "t3_same")
	second := cache.Get(ctx, "t3_same")
	if first == nil || second == nil {
		t.Fatal("expected hits on both reads")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("two reads within the lifetime differ:\n%+v\n%+v", first, second)
	}
}

func TestResultCacheExpiredEntryIsMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Put(ctx, sampleResult("t3_exp"), TierLow)
	mr.FastForward(12*time.Hour + time.Second)

	if got := cache.Get(ctx, "t3_exp"); got != nil {
		t.Errorf("expired entry served: %+v", got)
	}
}

func TestResultCacheMissOnAbsent(t *testing.T) {
	cache, _ := newTestCache(t)
	if got := cache.Get(context.Background(), "t3_absent"); got != nil {
		t.Errorf("absent subject returned %+v", got)
	}
}

func TestResultCacheCorruptEntryIsMiss(t *testing.T) {
	cache, mr := newTestCache(t)

	mr.Set(resultKey("t3_bad"), "not json at all")
	if got := cache.Get(context.Background(), "t3_bad"); got != nil {
		t.Errorf("corrupt entry returned %+v", got)
	}
}

func TestResultCacheFailsOpenOnStoreError(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	mr.Close()

	if got := cache.Get(ctx, "t3_down"); got != nil {
		t.Errorf("dead store returned %+v", got)
	}
	// Writes are a logged no-op when the store is down.
	cache.Put(ctx, sampleResult("t3_down"), TierLow)
}

func TestResultCacheTTLForFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache := NewResultCache(store, TierTTLs{TierLow: time.Hour}, nil)
	if got := cache.TTLFor(TierLow); got != time.Hour {
		t.Errorf("configured tier = %v, want 1h", got)
	}
	if got := cache.TTLFor(TierHigh); got != 48*time.Hour {
		t.Errorf("missing tier = %v, want the 48h default", got)
	}
}
