package swr

import (
	"context"
	"sync"
)

// Memo deduplicates repeated lookups for the same key within the lifetime of
// a single inbound request. It is installed into the request context by
// middleware and consulted by handlers around their cache calls; it is a
// tier above the stale-while-revalidate cache, never shared across requests.
type Memo struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemo() *Memo {
	return &Memo{values: make(map[string][]byte)}
}

type memoCtxKey struct{}

// WithMemo returns a context carrying a fresh per-request memo.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoCtxKey{}, NewMemo())
}

// MemoFromContext returns the request memo, or nil when none is installed.
func MemoFromContext(ctx context.Context) *Memo {
	m, _ := ctx.Value(memoCtxKey{}).(*Memo)
	return m
}

// Do returns the memoized value for key, calling fn at most once per key for
// this memo's lifetime. Errors are not memoized.
func (m *Memo) Do(key string, fn func() ([]byte, error)) ([]byte, error) {
	m.mu.Lock()
	if v, ok := m.values[key]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	v, err := fn()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()
	return v, nil
}

// MemoDo runs fn through the context's memo when one is installed, and calls
// fn directly otherwise. Handlers use this so memoization stays optional.
func MemoDo(ctx context.Context, key string, fn func() ([]byte, error)) ([]byte, error) {
	if m := MemoFromContext(ctx); m != nil {
		return m.Do(key, fn)
	}
	return fn()
}
