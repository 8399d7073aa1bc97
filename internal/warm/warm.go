// Package warm proactively populates the well-known cache keys so the first
// visitor after a deploy or an expiry never pays producer latency. The task
// list is fixed at wiring time, never user-supplied.
package warm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/castlemilk/shorted.com.au-sub003/internal/dataset"
	"github.com/castlemilk/shorted.com.au-sub003/internal/swr"
)

// Task pairs a cache key with the producer that computes its value.
type Task struct {
	Key      string
	TTLFresh time.Duration
	TTLStale time.Duration
	Producer swr.Producer
}

// TaskResult is the per-key outcome in a warm report.
type TaskResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Report aggregates one warm run. Partial failure is a normal outcome: the
// run as a whole still succeeds.
type Report struct {
	Results   map[string]TaskResult `json:"results"`
	Succeeded int                   `json:"succeeded"`
	Total     int                   `json:"total"`
	Duration  time.Duration         `json:"duration"`
}

// Message renders the human-readable summary used in the trigger response.
func (r Report) Message() string {
	return fmt.Sprintf("Cache warmed: %d/%d successful", r.Succeeded, r.Total)
}

// Warmer writes producer output straight into the cache, bypassing the
// normal fresh/stale read path.
type Warmer struct {
	cache  *swr.Cache
	logger zerolog.Logger
}

func New(cache *swr.Cache, logger zerolog.Logger) *Warmer {
	return &Warmer{cache: cache, logger: logger}
}

// Warm runs every task, isolating failures per key: one failing producer
// never prevents the others from completing. Safe to run concurrently with
// itself and with background refreshes; last write to a key wins.
func (w *Warmer) Warm(ctx context.Context, tasks []Task) Report {
	start := time.Now()
	report := Report{
		Results: make(map[string]TaskResult, len(tasks)),
		Total:   len(tasks),
	}

	for _, task := range tasks {
		if err := w.runTask(ctx, task); err != nil {
			w.logger.Error().Err(err).Str("key", task.Key).Msg("warm task failed")
			report.Results[task.Key] = TaskResult{Success: false, Error: err.Error()}
			continue
		}
		report.Results[task.Key] = TaskResult{Success: true}
		report.Succeeded++
	}

	report.Duration = time.Since(start)
	w.logger.Info().
		Int("succeeded", report.Succeeded).
		Int("total", report.Total).
		Dur("duration", report.Duration).
		Msg("cache warm complete")
	return report
}

func (w *Warmer) runTask(ctx context.Context, task Task) error {
	value, err := task.Producer(ctx)
	if err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	if err := w.cache.Put(ctx, task.Key, value, task.TTLFresh, task.TTLStale); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// DefaultDetailCodes are the instrument pages worth pre-computing alongside
// the list and treemap views. Shared by the HTTP trigger and the scheduled
// worker so the two can't drift.
var DefaultDetailCodes = []string{"PLS", "SYR", "IEL"}

// DefaultTasks enumerates the "default parameter" keys worth pre-computing:
// the landing page's top-shorted list, the treemap aggregation, and a detail
// view per explicitly listed product code.
func DefaultTasks(producers dataset.Producers, ttlFresh, ttlStale time.Duration, detailCodes ...string) []Task {
	tasks := []Task{
		{
			Key:      "top-shorted:10",
			TTLFresh: ttlFresh,
			TTLStale: ttlStale,
			Producer: func(ctx context.Context) ([]byte, error) {
				top, err := producers.TopShorted(ctx, 10)
				if err != nil {
					return nil, err
				}
				return json.Marshal(top)
			},
		},
		{
			Key:      "industry-treemap",
			TTLFresh: ttlFresh,
			TTLStale: ttlStale,
			Producer: func(ctx context.Context) ([]byte, error) {
				slices, err := producers.IndustryTreemap(ctx)
				if err != nil {
					return nil, err
				}
				return json.Marshal(slices)
			},
		},
	}

	for _, code := range detailCodes {
		code := code // per-iteration copy: go directive is below 1.22
		tasks = append(tasks, Task{
			Key:      "detail:" + code,
			TTLFresh: ttlFresh,
			TTLStale: ttlStale,
			Producer: func(ctx context.Context) ([]byte, error) {
				detail, err := producers.Detail(ctx, code)
				if err != nil {
					return nil, err
				}
				return json.Marshal(detail)
			},
		})
	}
	return tasks
}
