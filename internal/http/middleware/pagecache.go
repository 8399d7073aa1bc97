package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/castlemilk/shorted.com.au-sub003/internal/kv"
)

// pageEntry is a fully rendered response held in the store.
type pageEntry struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// PageCache serves fully rendered GET responses from the store for a fixed
// duration. It sits outside the data cache: a page hit skips the handler
// entirely. Only 200 responses are stored; everything else passes through.
// Store failures degrade to rendering the page normally.
func PageCache(store kv.Store, ttl time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || ttl <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := "page:" + r.URL.RequestURI()

			if raw, err := store.Get(r.Context(), key); err == nil {
				var entry pageEntry
				if json.Unmarshal(raw, &entry) == nil {
					w.Header().Set("Content-Type", entry.ContentType)
					w.Header().Set("X-Page-Cache", "HIT")
					w.WriteHeader(entry.Status)
					_, _ = w.Write(entry.Body)
					return
				}
			} else if !errors.Is(err, kv.ErrNotFound) {
				logger.Warn().Err(err).Str("key", key).Msg("page cache unreachable")
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			rec.Header().Set("X-Page-Cache", "MISS")
			next.ServeHTTP(rec, r)

			if rec.status != http.StatusOK {
				return
			}
			raw, err := json.Marshal(pageEntry{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.buf.Bytes(),
			})
			if err != nil {
				return
			}
			if err := store.Set(r.Context(), key, raw, ttl); err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("page cache write failed")
			}
		})
	}
}

// recordingWriter tees the response body so it can be stored after serving.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}
