// Package kv provides a thin adapter over the shared key-value store used
// for rate-limit counters and cached responses. The interface is the minimal
// command set the subsystem needs (GET, SET..EX, INCR+EXPIRE, DEL); any store
// exposing those semantics can sit behind it.
//
// The adapter performs no retries. Callers own their fallback policy when a
// store operation fails: the rate limiter fails open, the cache bypasses
// itself and calls its producer directly.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the capability interface over the shared key-value store.
type Store interface {
	// Get retrieves the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// IncrWithExpiry atomically increments the integer at key and refreshes
	// its TTL, returning the post-increment count. The increment and expiry
	// must be a single atomic operation from the caller's perspective.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
