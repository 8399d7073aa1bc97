// Package middleware holds the request-pipeline pieces that sit in front of
// the API handlers: admission control, per-request memoization, and the
// page-level response cache.
package middleware

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/castlemilk/shorted.com.au-sub003/internal/identity"
	"github.com/castlemilk/shorted.com.au-sub003/internal/ratelimit"
)

// rateLimitExceededBody is the structured 429 response.
type rateLimitExceededBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	RetryAfter    int    `json:"retryAfter"`
	Limit         int    `json:"limit"`
	Authenticated bool   `json:"authenticated"`
}

// RateLimit is the gatekeeper: classify the caller, consult the limiter, and
// either reject with 429 or forward. The rate-limit headers are set on every
// response from the protected route, allowed or not.
func RateLimit(classifier identity.Classifier, limiter ratelimit.Limiter, class ratelimit.RouteClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := classifier.Classify(r)
			dec := limiter.Check(r.Context(), id, class, time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			w.Header().Set("X-RateLimit-Reset", dec.ResetAt.UTC().Format(time.RFC3339))

			if !dec.Allowed {
				retryAfter := int(math.Ceil(dec.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}

				hlog.FromRequest(r).Info().
					Str("route_class", class.Name).
					Str("identity", id.String()).
					Msg("rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rateLimitExceededBody{
					Error:         "Rate limit exceeded",
					Message:       fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
					RetryAfter:    retryAfter,
					Limit:         dec.Limit,
					Authenticated: id.IsAuthenticated(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
