// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

/*
Package kv defines the key-value store contract the analysis pipeline
coordinates through, plus the production Redis implementation.

The pipeline never shares mutable state across invocations directly; the
result cache, the coalescing locks, the cost ledger, and the inbound
throttle all ride on the five primitives below:

	Get(ctx, key)                    read, ErrNotFound on absent key
	Set(ctx, key, value, ttl)        write with expiry
	SetNX(ctx, key, value, ttl)      set-if-absent with expiry
	Delete(ctx, key)                 remove
	IncrBy(ctx, key, delta)          atomic increment, returns new value

Each primitive is individually consistent; no transactions span them. A
missing key is reported as ErrNotFound so callers can distinguish "absent"
from "store unreachable", which drives the fail-open/fail-closed split in
the cache and the cost tracker.

Tests run against miniredis; production uses go-redis v8 against a real
Redis.
*/
package kv
