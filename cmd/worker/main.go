package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/castlemilk/shorted.com.au-sub003/internal/config"
	"github.com/castlemilk/shorted.com.au-sub003/internal/dataset"
	"github.com/castlemilk/shorted.com.au-sub003/internal/jobs"
	"github.com/castlemilk/shorted.com.au-sub003/internal/kv"
	"github.com/castlemilk/shorted.com.au-sub003/internal/swr"
	"github.com/castlemilk/shorted.com.au-sub003/internal/warm"
)

// warmInterval is how often the scheduler re-enqueues the warm run. Keeping
// it under the fresh TTL means the default keys rarely go stale at all.
const warmInterval = "@every 4m"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if !cfg.HasRedis() {
		log.Fatal("worker requires REDIS_ADDR")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	store, err := kv.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	var producers dataset.Producers
	if cfg.HasDatabase() {
		pg, err := dataset.NewPostgres(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pg.Close()
		producers = pg
	} else {
		logger.Warn().Msg("DATABASE_URL not set; warming from the static sample dataset")
		producers = dataset.NewStaticSample()
	}

	cache := swr.New(store, swr.NewBackground(logger, 30*time.Second), logger)
	warmer := warm.New(cache, logger)
	ttlFresh := time.Duration(cfg.Cache.TTLFreshSeconds) * time.Second
	ttlStale := time.Duration(cfg.Cache.TTLStaleSeconds) * time.Second
	tasks := warm.DefaultTasks(producers, ttlFresh, ttlStale, warm.DefaultDetailCodes...)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"warm":    10, // higher priority
			"default": 5,  // default priority
		},
	})
	mux := asynq.NewServeMux()

	mux.HandleFunc(jobs.TaskCacheWarm, func(ctx context.Context, t *asynq.Task) error {
		var p jobs.CacheWarmPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Error().Err(err).Msg("bad warm payload, dropping job")
			return nil
		}

		report := warmer.Warm(ctx, tasks)
		logger.Info().
			Str("trigger", p.Trigger).
			Int("succeeded", report.Succeeded).
			Int("total", report.Total).
			Dur("duration", report.Duration).
			Msg("scheduled warm run complete")

		// Partial failure is a normal outcome; per-key detail is already
		// logged by the warmer. Never retry the whole batch.
		return nil
	})

	// Periodic warming: the scheduler enqueues, the server above consumes.
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	payload, err := json.Marshal(jobs.CacheWarmPayload{Trigger: "scheduled"})
	if err != nil {
		log.Fatalf("marshal warm payload: %v", err)
	}
	if _, err := scheduler.Register(warmInterval, asynq.NewTask(jobs.TaskCacheWarm, payload), asynq.Queue("warm")); err != nil {
		log.Fatalf("register warm schedule: %v", err)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			log.Fatalf("scheduler error: %v", err)
		}
	}()

	log.Println("Worker running...")
	log.Fatal(srv.Run(mux))
}
