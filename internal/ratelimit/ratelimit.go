// Package ratelimit implements per-identity request admission using a
// two-bucket sliding-window estimate over the shared key-value store.
//
// Counts live in fixed windows keyed by bucket index. The rolling rate is
// estimated as the current bucket's count plus the previous bucket's count
// weighted by the unelapsed fraction of the current window. The estimate can
// overshoot a true sliding log by at most one request at a bucket boundary,
// which is the storage/accuracy tradeoff this design accepts.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/castlemilk/shorted.com.au-sub003/internal/identity"
	"github.com/castlemilk/shorted.com.au-sub003/internal/kv"
)

// RouteClass describes the admission policy for one group of endpoints.
// Instances are built at startup and never mutated afterwards.
type RouteClass struct {
	Name               string
	AnonymousLimit     int
	AuthenticatedLimit int
	Window             time.Duration
}

// NewRouteClass validates the policy values up front so a misconfigured
// class cannot reach the limiter.
func NewRouteClass(name string, anonLimit, authLimit int, window time.Duration) (RouteClass, error) {
	if name == "" {
		return RouteClass{}, fmt.Errorf("route class name is required")
	}
	if anonLimit <= 0 || authLimit <= 0 {
		return RouteClass{}, fmt.Errorf("route class %s: limits must be positive, got anon=%d auth=%d", name, anonLimit, authLimit)
	}
	if window < time.Second {
		return RouteClass{}, fmt.Errorf("route class %s: window must be at least 1s, got %v", name, window)
	}
	return RouteClass{Name: name, AnonymousLimit: anonLimit, AuthenticatedLimit: authLimit, Window: window}, nil
}

// LimitFor returns the request budget that applies to the given identity.
func (rc RouteClass) LimitFor(id identity.Identity) int {
	if id.IsAuthenticated() {
		return rc.AuthenticatedLimit
	}
	return rc.AnonymousLimit
}

// Decision is the outcome of an admission check, shaped for direct use in
// rate-limit response headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter decides whether a request is admitted.
type Limiter interface {
	Check(ctx context.Context, id identity.Identity, class RouteClass, now time.Time) Decision
}

// SlidingWindow is the store-backed Limiter. Safe for concurrent use; all
// mutable state lives in the store.
type SlidingWindow struct {
	store  kv.Store
	logger zerolog.Logger
}

var _ Limiter = (*SlidingWindow)(nil)

func NewSlidingWindow(store kv.Store, logger zerolog.Logger) *SlidingWindow {
	return &SlidingWindow{store: store, logger: logger}
}

// Check runs the two-bucket estimate and, when the request is admitted,
// bumps the current bucket's counter in a single atomic store operation.
//
// If the store is unreachable the limiter fails open: availability is
// preferred over strict enforcement, and the condition is logged at warn.
func (l *SlidingWindow) Check(ctx context.Context, id identity.Identity, class RouteClass, now time.Time) Decision {
	limit := class.LimitFor(id)
	windowSec := int64(class.Window / time.Second)

	curBucket := now.Unix() / windowSec
	prevBucket := curBucket - 1
	resetAt := time.Unix((curBucket+1)*windowSec, 0)

	cCur, err := l.readCount(ctx, CounterKey(class, id, curBucket))
	if err != nil {
		return l.failOpen(id, class, limit, resetAt, err)
	}
	cPrev, err := l.readCount(ctx, CounterKey(class, id, prevBucket))
	if err != nil {
		return l.failOpen(id, class, limit, resetAt, err)
	}

	elapsedFrac := float64(now.UnixNano()%class.Window.Nanoseconds()) / float64(class.Window.Nanoseconds())
	estimate := float64(cCur) + float64(cPrev)*(1-elapsedFrac)

	if estimate >= float64(limit) {
		retryAfter := resetAt.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}
	}

	// TTL of two windows keeps the previous bucket readable for the whole of
	// the next window's sliding estimate.
	if _, err := l.store.IncrWithExpiry(ctx, CounterKey(class, id, curBucket), 2*class.Window); err != nil {
		return l.failOpen(id, class, limit, resetAt, err)
	}

	remaining := limit - int(math.Ceil(estimate)) - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func (l *SlidingWindow) readCount(ctx context.Context, key string) (int64, error) {
	val, err := l.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil || count < 0 {
		// A mangled counter is treated as absent rather than poisoning the
		// window until its TTL lapses.
		return 0, nil
	}
	return count, nil
}

func (l *SlidingWindow) failOpen(id identity.Identity, class RouteClass, limit int, resetAt time.Time, err error) Decision {
	l.logger.Warn().
		Err(err).
		Str("route_class", class.Name).
		Str("identity", id.String()).
		Msg("rate limit store unreachable, failing open")
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - 1,
		ResetAt:   resetAt,
	}
}

// CounterKey builds the store key for one (class, identity, bucket) counter.
func CounterKey(class RouteClass, id identity.Identity, bucket int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", class.Name, id.String(), bucket)
}

// Noop is the null-object Limiter used when no store is configured. Every
// request is admitted with a full window remaining.
type Noop struct{}

var _ Limiter = Noop{}

func (Noop) Check(_ context.Context, id identity.Identity, class RouteClass, now time.Time) Decision {
	limit := class.LimitFor(id)
	windowSec := int64(class.Window / time.Second)
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - 1,
		ResetAt:   time.Unix((now.Unix()/windowSec+1)*windowSec, 0),
	}
}
