package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store backed by a map. It enforces nothing across
// replicas, so it is only suitable for tests and single-instance development.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// Now is the clock used for expiry checks; defaults to time.Now.
	Now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		Now:     time.Now,
	}
}

// get returns the live entry for key, pruning it if expired. Caller holds mu.
func (m *Memory) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return nil, ErrNotFound
	}
	val := make([]byte, len(e.value))
	copy(val, e.value)
	return val, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) IncrWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	if e, ok := m.get(key); ok {
		count, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	count++

	e := memoryEntry{value: []byte(strconv.FormatInt(count, 10))}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	m.entries[key] = e
	return count, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len reports the number of live entries, for tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.entries {
		if _, ok := m.get(key); ok {
			n++
		}
	}
	return n
}
