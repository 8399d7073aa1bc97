package kv

import (
	"context"
	"time"
)

// Noop is the null-object Store wired when no shared store is configured.
// Every read misses and every write succeeds without effect, which leaves
// the rate limiter always allowing and the cache always producing.
type Noop struct{}

var _ Store = Noop{}

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) { return 1, nil }

func (Noop) Delete(context.Context, string) error { return nil }
