package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/castlemilk/shorted.com.au-sub003/internal/identity"
	"github.com/castlemilk/shorted.com.au-sub003/internal/kv"
	"github.com/castlemilk/shorted.com.au-sub003/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func newLimitedHandler(t *testing.T, limiter ratelimit.Limiter) http.Handler {
	t.Helper()
	class, err := ratelimit.NewRouteClass("api", 20, 100, time.Minute)
	require.NoError(t, err)
	return RateLimit(identity.Classifier{}, limiter, class)(okHandler())
}

func doRequest(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/stocks", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstScenario(t *testing.T) {
	store := kv.NewMemory()
	now := time.Unix(1_700_000_010, 0)
	store.Now = func() time.Time { return now }
	h := newLimitedHandler(t, ratelimit.NewSlidingWindow(store, zerolog.Nop()))

	// 25 rapid requests from one address: 1-20 succeed with a descending
	// remaining count, 21-25 are rejected with an actionable retry time.
	for i := 1; i <= 25; i++ {
		w := doRequest(h, "203.0.113.5:1000")

		require.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"), "request %d missing limit header", i)
		require.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"), "request %d missing reset header", i)

		if i <= 20 {
			require.Equal(t, http.StatusOK, w.Code, "request %d", i)
			require.Equal(t, strconv.Itoa(20-i), w.Header().Get("X-RateLimit-Remaining"), "request %d", i)
			continue
		}

		require.Equal(t, http.StatusTooManyRequests, w.Code, "request %d", i)
		require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"), "request %d", i)

		retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
		require.NoError(t, err, "request %d", i)
		require.Positive(t, retryAfter, "request %d", i)

		var body struct {
			Error         string `json:"error"`
			Message       string `json:"message"`
			RetryAfter    int    `json:"retryAfter"`
			Limit         int    `json:"limit"`
			Authenticated bool   `json:"authenticated"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, "Rate limit exceeded", body.Error)
		require.Equal(t, retryAfter, body.RetryAfter)
		require.Equal(t, 20, body.Limit)
		require.False(t, body.Authenticated)
		require.NotEmpty(t, body.Message)
	}
}

func TestRateLimit_ResetHeaderIsRFC3339(t *testing.T) {
	h := newLimitedHandler(t, ratelimit.NewSlidingWindow(kv.NewMemory(), zerolog.Nop()))
	w := doRequest(h, "203.0.113.5:1000")

	reset, err := time.Parse(time.RFC3339, w.Header().Get("X-RateLimit-Reset"))
	require.NoError(t, err)
	require.True(t, reset.After(time.Now().Add(-time.Minute)))
}

func TestRateLimit_SeparateIdentitiesSeparateBudgets(t *testing.T) {
	store := kv.NewMemory()
	now := time.Unix(1_700_000_010, 0)
	store.Now = func() time.Time { return now }
	h := newLimitedHandler(t, ratelimit.NewSlidingWindow(store, zerolog.Nop()))

	for i := 0; i < 20; i++ {
		doRequest(h, "203.0.113.5:1000")
	}
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, "203.0.113.5:1000").Code)

	// A different address still has a full budget.
	w := doRequest(h, "198.51.100.7:2000")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_ForwardedAddressScopesTheBudget(t *testing.T) {
	store := kv.NewMemory()
	now := time.Unix(1_700_000_010, 0)
	store.Now = func() time.Time { return now }
	h := newLimitedHandler(t, ratelimit.NewSlidingWindow(store, zerolog.Nop()))

	send := func(forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/stocks", nil)
		req.RemoteAddr = "10.0.0.1:80" // same proxy for everyone
		req.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 20; i++ {
		send("192.0.2.1")
	}
	require.Equal(t, http.StatusTooManyRequests, send("192.0.2.1").Code)
	require.Equal(t, http.StatusOK, send("192.0.2.2").Code)
}

type downStore struct{}

var errDown = errors.New("connection refused")

func (downStore) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (downStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (downStore) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errDown
}
func (downStore) Delete(context.Context, string) error { return errDown }

func TestRateLimit_FailsOpenWhenStoreDown(t *testing.T) {
	h := newLimitedHandler(t, ratelimit.NewSlidingWindow(downStore{}, zerolog.Nop()))

	for i := 0; i < 40; i++ {
		w := doRequest(h, "203.0.113.5:1000")
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass during outage", i+1)
		require.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_NoopLimiterAlwaysForwards(t *testing.T) {
	h := newLimitedHandler(t, ratelimit.Noop{})

	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusOK, doRequest(h, "203.0.113.5:1000").Code)
	}
}
