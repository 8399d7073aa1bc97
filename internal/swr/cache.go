// Package swr implements the stale-while-revalidate cache that sits between
// request handlers and the upstream data producers. Reads are cache-aside:
// the caller asks for a key and supplies the producer that can rebuild it.
//
// A fresh entry is returned as-is. A stale entry is returned immediately and
// a background refresh is scheduled on the Runner, detached from the
// originating request. Only a full miss pays producer latency on the request
// path. If the store is unreachable the cache steps out of the way and calls
// the producer directly.
package swr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/castlemilk/shorted.com.au-sub003/internal/kv"
)

// Producer rebuilds the value for a cache key. Producers must honor the
// context deadline; a producer failure on the miss path surfaces to the
// caller, never fail-open.
type Producer func(ctx context.Context) ([]byte, error)

// Entry is the store-resident envelope around a cached value.
type Entry struct {
	Value      []byte    `json:"value"`
	FreshUntil time.Time `json:"fresh_until"`
	StaleUntil time.Time `json:"stale_until"`
}

const keyPrefix = "cache:"

// Cache is the stale-while-revalidate wrapper over the key-value store.
type Cache struct {
	store  kv.Store
	runner Runner
	logger zerolog.Logger

	// Now is the clock used for freshness checks; defaults to time.Now.
	Now func() time.Time
}

func New(store kv.Store, runner Runner, logger zerolog.Logger) *Cache {
	return &Cache{store: store, runner: runner, logger: logger, Now: time.Now}
}

// GetOrRefresh returns the cached value for key, refreshing it according to
// the stale-while-revalidate policy:
//
//   - miss or past staleUntil: call producer synchronously, store, return
//   - fresh: return the stored value
//   - stale: return the stored value and schedule a background refresh
//
// Store failures bypass the cache entirely and call the producer directly.
func (c *Cache) GetOrRefresh(ctx context.Context, key string, ttlFresh, ttlStale time.Duration, producer Producer) ([]byte, error) {
	raw, err := c.store.Get(ctx, keyPrefix+key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return c.produceAndStore(ctx, key, ttlFresh, ttlStale, producer)
	case err != nil:
		c.logger.Warn().Err(err).Str("key", key).Msg("cache store unreachable, calling producer directly")
		return producer(ctx)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Unreadable entry is a miss; the overwrite repairs it.
		return c.produceAndStore(ctx, key, ttlFresh, ttlStale, producer)
	}

	now := c.Now()
	if now.Before(entry.FreshUntil) {
		return entry.Value, nil
	}
	if now.Before(entry.StaleUntil) {
		c.scheduleRefresh(key, ttlFresh, ttlStale, producer)
		return entry.Value, nil
	}
	return c.produceAndStore(ctx, key, ttlFresh, ttlStale, producer)
}

// Put writes a value with fresh bounds computed from now, bypassing any
// freshness check. This is the warmer's entry point; last write wins.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttlFresh, ttlStale time.Duration) error {
	now := c.Now()
	entry := Entry{
		Value:      value,
		FreshUntil: now.Add(ttlFresh),
		StaleUntil: now.Add(ttlFresh + ttlStale),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", key, err)
	}
	if err := c.store.Set(ctx, keyPrefix+key, raw, ttlFresh+ttlStale); err != nil {
		return fmt.Errorf("store cache entry %s: %w", key, err)
	}
	return nil
}

// Invalidate drops a key. The next read takes the miss path.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, keyPrefix+key)
}

func (c *Cache) produceAndStore(ctx context.Context, key string, ttlFresh, ttlStale time.Duration, producer Producer) ([]byte, error) {
	value, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, key, value, ttlFresh, ttlStale); err != nil {
		// A failed write costs the next caller a recompute, nothing more.
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return value, nil
}

// scheduleRefresh hands the recompute to the Runner. The refresh runs on its
// own context: cancellation of the request that observed staleness must not
// propagate into it, and its outcome is observable only in logs.
func (c *Cache) scheduleRefresh(key string, ttlFresh, ttlStale time.Duration, producer Producer) {
	c.runner.Go("refresh:"+key, func(ctx context.Context) error {
		if _, err := c.produceAndStore(ctx, key, ttlFresh, ttlStale, producer); err != nil {
			return fmt.Errorf("refresh %s: %w", key, err)
		}
		return nil
	})
}
