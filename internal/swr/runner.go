package swr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes background work detached from any request lifecycle.
type Runner interface {
	// Go schedules fn. The context passed to fn is never derived from a
	// request context. Errors are handled by the runner, not the scheduler.
	Go(name string, fn func(ctx context.Context) error)
}

// Background runs tasks on their own goroutines with a per-task timeout.
type Background struct {
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

var _ Runner = (*Background)(nil)

// NewBackground builds a runner whose tasks are bounded by timeout.
// A non-positive timeout defaults to 30s.
func NewBackground(logger zerolog.Logger, timeout time.Duration) *Background {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Background{logger: logger, timeout: timeout}
}

func (b *Background) Go(name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().Str("task", name).Interface("panic", r).Msg("background task panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			b.logger.Error().Err(err).Str("task", name).Dur("duration", time.Since(start)).Msg("background task failed")
			return
		}
		b.logger.Debug().Str("task", name).Dur("duration", time.Since(start)).Msg("background task done")
	}()
}

// Wait blocks until all scheduled tasks finish. Intended for shutdown paths
// and tests; new tasks scheduled while waiting are also waited on.
func (b *Background) Wait() {
	b.wg.Wait()
}

// Sync runs tasks inline on the calling goroutine. It exists so tests can
// observe refresh effects deterministically.
type Sync struct {
	// Errs collects task errors in scheduling order.
	Errs []error
}

var _ Runner = (*Sync)(nil)

func (s *Sync) Go(name string, fn func(ctx context.Context) error) {
	if err := fn(context.Background()); err != nil {
		s.Errs = append(s.Errs, fmt.Errorf("%s: %w", name, err))
	}
}
