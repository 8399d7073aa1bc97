package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/castlemilk/shorted.com.au-sub003/internal/kv"
	"github.com/castlemilk/shorted.com.au-sub003/internal/swr"
)

func TestPageCache_ServesSecondRequestFromStore(t *testing.T) {
	var renders atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		renders.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"page":"rendered"}`))
	})

	h := PageCache(kv.NewMemory(), time.Minute, zerolog.Nop())(handler)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest("GET", "/api/stocks?limit=10", nil))
	require.Equal(t, "MISS", first.Header().Get("X-Page-Cache"))

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest("GET", "/api/stocks?limit=10", nil))
	require.Equal(t, "HIT", second.Header().Get("X-Page-Cache"))
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, "application/json", second.Header().Get("Content-Type"))

	require.Equal(t, int32(1), renders.Load(), "handler should render once")
}

func TestPageCache_QueryStringIsPartOfTheKey(t *testing.T) {
	var renders atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		renders.Add(1)
		_, _ = w.Write([]byte(r.URL.RawQuery))
	})
	h := PageCache(kv.NewMemory(), time.Minute, zerolog.Nop())(handler)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/stocks?limit=10", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/stocks?limit=25", nil))

	require.Equal(t, int32(2), renders.Load())
}

func TestPageCache_SkipsNon200AndNonGET(t *testing.T) {
	var renders atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		renders.Add(1)
		if r.URL.Path == "/missing" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	h := PageCache(kv.NewMemory(), time.Minute, zerolog.Nop())(handler)

	// 404s are never stored.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, int32(2), renders.Load())

	// POSTs bypass the cache both ways.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/submit", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/submit", nil))
	require.Equal(t, int32(4), renders.Load())
}

func TestPageCache_StoreOutageFallsThrough(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("rendered"))
	})
	h := PageCache(downStore{}, time.Minute, zerolog.Nop())(handler)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/stocks", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "rendered", w.Body.String())
}

func TestRequestMemo_InstallsMemoForHandlers(t *testing.T) {
	var sawMemo bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawMemo = swr.MemoFromContext(r.Context()) != nil
	})

	RequestMemo(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	require.True(t, sawMemo)
}
