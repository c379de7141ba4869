// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"modvet/engine/shared/logger"
)

const throttleKeyPrefix = "ratelimit:"

func throttleKey(clientID string) string {
	return throttleKeyPrefix + clientID
}

// Throttle is a Redis-backed sliding-window rate limiter keyed by client.
// Every analyzer replica shares the same window, so the limit holds across
// the fleet. A Redis failure admits the request; throttling protects spend
// and the providers, it is not a correctness gate.
type Throttle struct {
	client    *redis.Client
	perMinute int
	log       *logger.Logger
}

// NewThrottle builds a throttle allowing perMinute requests per client per
// sliding minute. A nil client or non-positive limit disables throttling.
func NewThrottle(client *redis.Client, perMinute int, log *logger.Logger) *Throttle {
	if log == nil {
		log = logger.New("throttle")
	}
	return &Throttle{client: client, perMinute: perMinute, log: log}
}

// Allow records one request for clientID and reports whether it fits the
// window. The count includes the request being recorded.
func (t *Throttle) Allow(ctx context.Context, clientID string) bool {
	if t.client == nil || t.perMinute <= 0 {
		return true
	}

	now := time.Now()
	key := throttleKey(clientID)

	pipe := t.client.Pipeline()

	// Drop timestamps that slid out of the one-minute window.
	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	zcard := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("", "", "rate limit check failed, admitting request", map[string]interface{}{
			"client": clientID,
			"error":  err.Error(),
		})
		return true
	}

	// ZCard ran before the ZAdd, so add the request being recorded.
	count := zcard.Val() + 1
	if count > int64(t.perMinute) {
		promThrottled.Inc()
		return false
	}
	return true
}

// Status reports the request count in the current window and when the
// window next resets, for Retry-After style response headers.
func (t *Throttle) Status(ctx context.Context, clientID string) (int, time.Time, error) {
	now := time.Now()
	resetAt := now.Truncate(time.Minute).Add(time.Minute)
	if t.client == nil {
		return 0, resetAt, nil
	}

	minScore := now.Add(-time.Minute).Unix()
	count, err := t.client.ZCount(ctx, throttleKey(clientID), fmt.Sprintf("%d", minScore), "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rate limit status: %w", err)
	}
	return int(count), resetAt, nil
}

// Reset clears the window for one client.
func (t *Throttle) Reset(ctx context.Context, clientID string) error {
	if t.client == nil {
		return nil
	}
	if err := t.client.Del(ctx, throttleKey(clientID)).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}
