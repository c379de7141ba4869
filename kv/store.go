// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist. Callers use
// errors.Is to separate an absent key from a transport failure.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal key-value contract the pipeline depends on. All
// cross-invocation coordination (cache, locks, ledger) goes through these
// primitives and nothing else.
type Store interface {
	// Get returns the value at key, or ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key with the given expiry. A zero ttl stores
	// the key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes value at key only if the key is absent, with the given
	// expiry. Returns true if the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrBy atomically adds delta to the integer at key, creating it at
	// zero if absent, and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Expire sets or refreshes the expiry on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
