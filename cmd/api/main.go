// cmd/api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/castlemilk/shorted.com.au-sub003/internal/config"
	"github.com/castlemilk/shorted.com.au-sub003/internal/dataset"
	"github.com/castlemilk/shorted.com.au-sub003/internal/http/routes"
	"github.com/castlemilk/shorted.com.au-sub003/internal/kv"
	"github.com/castlemilk/shorted.com.au-sub003/internal/ratelimit"
	"github.com/castlemilk/shorted.com.au-sub003/internal/swr"
	"github.com/castlemilk/shorted.com.au-sub003/internal/warm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Printf("starting api on :%s", cfg.Port)

	// Shared key-value store. Unconfigured gets the null objects: the
	// limiter always allows and the cache always misses.
	var store kv.Store = kv.Noop{}
	var limiter ratelimit.Limiter = ratelimit.Noop{}
	if cfg.HasRedis() {
		rdb, err := kv.NewRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		store = rdb
		limiter = ratelimit.NewSlidingWindow(rdb, logger)
	} else {
		logger.Warn().Msg("REDIS_ADDR not set; rate limiting and caching are disabled")
	}

	// Upstream data producers
	var producers dataset.Producers
	if cfg.HasDatabase() {
		pg, err := dataset.NewPostgres(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pg.Close()
		producers = pg
	} else {
		logger.Warn().Msg("DATABASE_URL not set; serving the static sample dataset")
		producers = dataset.NewStaticSample()
	}

	// Cache + warmer
	runner := swr.NewBackground(logger, 30*time.Second)
	cache := swr.New(store, runner, logger)
	warmer := warm.New(cache, logger)
	ttlFresh := time.Duration(cfg.Cache.TTLFreshSeconds) * time.Second
	ttlStale := time.Duration(cfg.Cache.TTLStaleSeconds) * time.Second
	warmTasks := warm.DefaultTasks(producers, ttlFresh, ttlStale, warm.DefaultDetailCodes...)

	// Sessions
	sess := scs.New()
	sess.Lifetime = 12 * time.Hour
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	// Router / server
	s, err := routes.New(routes.ServerOptions{
		Sess:      sess,
		Store:     store,
		Cache:     cache,
		Warmer:    warmer,
		WarmTasks: warmTasks,
		Producers: producers,
		Limiter:   limiter,
		Cfg:       cfg,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("routes error: %v", err)
	}
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: sess.LoadAndSave(h)}
	log.Fatal(srv.ListenAndServe())
}
