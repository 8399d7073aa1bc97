package routes

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/castlemilk/shorted.com.au-sub003/internal/config"
	"github.com/castlemilk/shorted.com.au-sub003/internal/dataset"
	appmw "github.com/castlemilk/shorted.com.au-sub003/internal/http/middleware"
	"github.com/castlemilk/shorted.com.au-sub003/internal/identity"
	"github.com/castlemilk/shorted.com.au-sub003/internal/kv"
	"github.com/castlemilk/shorted.com.au-sub003/internal/ratelimit"
	"github.com/castlemilk/shorted.com.au-sub003/internal/swr"
	"github.com/castlemilk/shorted.com.au-sub003/internal/warm"
)

// producerTimeout bounds the synchronous producer call on a cold miss.
// Exceeding it surfaces as a server error; the data path is not fail-open.
const producerTimeout = 10 * time.Second

// warmTimeout bounds a warm batch as a whole. The batch runs detached from
// the triggering request, so this is its only deadline.
const warmTimeout = time.Minute

type Server struct {
	Router    *chi.Mux
	Sess      *scs.SessionManager
	Cache     *swr.Cache
	Warmer    *warm.Warmer
	WarmTasks []warm.Task
	Producers dataset.Producers
	Limiter   ratelimit.Limiter
	Cfg       *config.Config
	Logger    zerolog.Logger

	ttlFresh time.Duration
	ttlStale time.Duration
}

type ServerOptions struct {
	Sess      *scs.SessionManager
	Store     kv.Store
	Cache     *swr.Cache
	Warmer    *warm.Warmer
	WarmTasks []warm.Task
	Producers dataset.Producers
	Limiter   ratelimit.Limiter
	Cfg       *config.Config
	Logger    zerolog.Logger
}

func New(opts ServerOptions) (*Server, error) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:    r,
		Sess:      opts.Sess,
		Cache:     opts.Cache,
		Warmer:    opts.Warmer,
		WarmTasks: opts.WarmTasks,
		Producers: opts.Producers,
		Limiter:   opts.Limiter,
		Cfg:       opts.Cfg,
		Logger:    opts.Logger,
		ttlFresh:  time.Duration(opts.Cfg.Cache.TTLFreshSeconds) * time.Second,
		ttlStale:  time.Duration(opts.Cfg.Cache.TTLStaleSeconds) * time.Second,
	}

	apiClass, err := ratelimit.NewRouteClass("api",
		opts.Cfg.RateLimit.AnonymousLimit,
		opts.Cfg.RateLimit.AuthenticatedLimit,
		time.Duration(opts.Cfg.RateLimit.WindowSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	// The warm trigger gets a tighter budget than the data endpoints: it is
	// operational, not user traffic.
	warmClass, err := ratelimit.NewRouteClass("warm", 5, 5,
		time.Duration(opts.Cfg.RateLimit.WindowSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	classifier := identity.Classifier{Sess: opts.Sess}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			s.Logger.Error().Err(err).Msg("write health check response")
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Group(func(data chi.Router) {
			data.Use(appmw.RateLimit(classifier, opts.Limiter, apiClass))
			data.Use(appmw.RequestMemo)
			data.Use(appmw.PageCache(opts.Store,
				time.Duration(opts.Cfg.Cache.PageTTLSeconds)*time.Second, opts.Logger))

			data.Get("/stocks/top-shorted", s.handleTopShorted)
			data.Get("/stocks/industry-treemap", s.handleIndustryTreemap)
			data.Get("/stocks/{code}", s.handleStockDetail)
		})

		api.Group(func(ops chi.Router) {
			ops.Use(appmw.RateLimit(classifier, opts.Limiter, warmClass))
			ops.Get("/cache/warm", s.handleCacheWarm)
		})
	})

	return s, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeRaw(w http.ResponseWriter, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(raw); err != nil {
		s.Logger.Error().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// cached runs produce through the request memo and the SWR cache, with the
// cold-miss producer call bounded by producerTimeout.
func (s *Server) cached(r *http.Request, key string, produce func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	ctx := r.Context()
	return swr.MemoDo(ctx, key, func() ([]byte, error) {
		return s.Cache.GetOrRefresh(ctx, key, s.ttlFresh, s.ttlStale, func(pctx context.Context) ([]byte, error) {
			pctx, cancel := context.WithTimeout(pctx, producerTimeout)
			defer cancel()
			return produce(pctx)
		})
	})
}

func (s *Server) handleTopShorted(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	key := fmt.Sprintf("top-shorted:%d", limit)
	raw, err := s.cached(r, key, func(ctx context.Context) ([]byte, error) {
		top, err := s.Producers.TopShorted(ctx, limit)
		if err != nil {
			return nil, err
		}
		return json.Marshal(top)
	})
	if err != nil {
		s.Logger.Error().Err(err).Str("key", key).Msg("top shorted lookup failed")
		s.writeError(w, http.StatusInternalServerError, "could not load top shorted stocks")
		return
	}
	s.writeRaw(w, raw)
}

func (s *Server) handleIndustryTreemap(w http.ResponseWriter, r *http.Request) {
	raw, err := s.cached(r, "industry-treemap", func(ctx context.Context) ([]byte, error) {
		slices, err := s.Producers.IndustryTreemap(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(slices)
	})
	if err != nil {
		s.Logger.Error().Err(err).Msg("industry treemap lookup failed")
		s.writeError(w, http.StatusInternalServerError, "could not load industry treemap")
		return
	}
	s.writeRaw(w, raw)
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "code")))
	if code == "" || len(code) > 6 {
		s.writeError(w, http.StatusBadRequest, "invalid product code")
		return
	}

	raw, err := s.cached(r, "detail:"+code, func(ctx context.Context) ([]byte, error) {
		detail, err := s.Producers.Detail(ctx, code)
		if err != nil {
			return nil, err
		}
		return json.Marshal(detail)
	})
	if errors.Is(err, dataset.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "unknown product code")
		return
	}
	if err != nil {
		s.Logger.Error().Err(err).Str("code", code).Msg("stock detail lookup failed")
		s.writeError(w, http.StatusInternalServerError, "could not load stock detail")
		return
	}
	s.writeRaw(w, raw)
}

// handleCacheWarm runs the fixed warm task list inline and reports per-key
// outcomes. Partial failure is still a 200: the report carries the detail.
func (s *Server) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	if s.Cfg.CacheWarmSecret != "" {
		secret := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.Cfg.CacheWarmSecret)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "invalid secret")
			return
		}
	}

	// The batch must survive the caller hanging up mid-run: a cancelled
	// trigger would otherwise abort the remaining producers and cache writes.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), warmTimeout)
	defer cancel()
	report := s.Warmer.Warm(ctx, s.WarmTasks)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   report.Message(),
		"results":   report.Results,
		"duration":  fmt.Sprintf("%dms", report.Duration.Milliseconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
