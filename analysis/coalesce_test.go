// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"modvet/engine/kv"
	"modvet/engine/shared/logger"
)

func fastPollConfig() CoalescerConfig {
	return CoalescerConfig{
		LockTTL:    30 * time.Second,
		PollStart:  10 * time.Millisecond,
		PollFactor: 1.5,
		PollCap:    20 * time.Millisecond,
		MaxWait:    500 * time.Millisecond,
	}
}

func newTestCoalescer(t *testing.T, cfg CoalescerConfig) (*Coalescer, *ResultCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := logger.New("coalescer-test")
	cache := NewResultCache(store, nil, log)
	return NewCoalescer(store, cache, cfg, log), cache, mr
}

func TestCoalescerAcquireIsExclusive(t *testing.T) {
	c, _, mr := newTestCoalescer(t, fastPollConfig())
	ctx := context.Background()

	token, acquired := c.Acquire(ctx, "t3_excl", "corr-a")
	if !acquired || token == "" {
		t.Fatalf("first acquire = (%q, %v), want a held token", token, acquired)
	}
	if ttl := mr.TTL(lockKey("t3_excl")); ttl != 30*time.Second {
		t.Errorf("lock TTL = %v, want 30s", ttl)
	}

	second, acquired := c.Acquire(ctx, "t3_excl", "corr-b")
	if acquired || second != "" {
		t.Errorf("second acquire = (%q, %v), want contention", second, acquired)
	}
}

func TestCoalescerLockExpires(t *testing.T) {
	c, _, mr := newTestCoalescer(t, fastPollConfig())
	ctx := context.Background()

	if _, acquired := c.Acquire(ctx, "t3_ttl", "corr-a"); !acquired {
		t.Fatal("first acquire failed")
	}
	mr.FastForward(31 * time.Second)

	if _, acquired := c.Acquire(ctx, "t3_ttl", "corr-b"); !acquired {
		t.Error("lock survived past its expiry")
	}
}

func TestCoalescerReleaseRequiresToken(t *testing.T) {
	c, _, mr := newTestCoalescer(t, fastPollConfig())
	ctx := context.Background()

	token, _ := c.Acquire(ctx, "t3_rel", "corr-a")

	c.Release(ctx, "t3_rel", "some-other-token")
	if !mr.Exists(lockKey("t3_rel")) {
		t.Fatal("release with a foreign token deleted the lock")
	}

	c.Release(ctx, "t3_rel", token)
	if mr.Exists(lockKey("t3_rel")) {
		t.Error("release with the held token left the lock")
	}

	// Empty token means we never held anything.
	c.Release(ctx, "t3_rel", "")
}

func TestCoalescerAcquireFailsOpen(t *testing.T) {
	c, _, mr := newTestCoalescer(t, fastPollConfig())
	mr.Close()

	token, acquired := c.Acquire(context.Background(), "t3_down", "corr-a")
	if !acquired {
		t.Error("store outage blocked the call instead of failing open")
	}
	if token != "" {
		t.Errorf("token = %q, want empty on fail-open", token)
	}
}

func TestCoalescerAwaitResultSeesHolderWrite(t *testing.T) {
	c, cache, _ := newTestCoalescer(t, fastPollConfig())
	ctx := context.Background()

	go func() {
		time.Sleep(40 * time.Millisecond)
		cache.Put(ctx, sampleResult("t3_wait"), TierLow)
	}()

	got := c.AwaitResult(ctx, "t3_wait")
	if got == nil {
		t.Fatal("AwaitResult returned nil although the holder published")
	}
	if got.SubjectID != "t3_wait" {
		t.Errorf("SubjectID = %q, want t3_wait", got.SubjectID)
	}
}

func TestCoalescerAwaitResultGivesUp(t *testing.T) {
	cfg := fastPollConfig()
	cfg.MaxWait = 80 * time.Millisecond
	c, _, _ := newTestCoalescer(t, cfg)

	start := time.Now()
	if got := c.AwaitResult(context.Background(), "t3_nobody"); got != nil {
		t.Fatalf("AwaitResult = %+v, want nil after max wait", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("gave up after %v, want around the 80ms max wait", elapsed)
	}
}

func TestCoalescerAwaitResultHonorsContext(t *testing.T) {
	cfg := fastPollConfig()
	cfg.MaxWait = 10 * time.Second
	c, _, _ := newTestCoalescer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	if got := c.AwaitResult(ctx, "t3_ctx"); got != nil {
		t.Fatalf("AwaitResult = %+v, want nil on cancellation", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("returned after %v, want promptly after cancellation", elapsed)
	}
}
