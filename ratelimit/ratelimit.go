// Package ratelimit turns throttle decisions into HTTP responses for Chi and
// standard http.Handler.
//
// A Limiter meters one named action. Key dimensions (IP, header, route, etc.)
// are added via options and become the segments of the brakepedal.ThrottleKey,
// after the action name. Denied requests get 429 (Too Many Requests) with a
// Retry-After header; a failing Counter Store gets 503 unless WithFailOpen is set.
//
//	st := store.NewMemory()
//	defer st.Close()
//	ev := brakepedal.NewEvaluator(brakepedal.NewRepository(st))
//
//	perMinute := brakepedal.MustNewLimiter(100, time.Minute)
//	r.Use(ratelimit.New(ev, "api", []brakepedal.Limiter{perMinute}, ratelimit.WithIP()).Handler)
//
// Rate limiting is skipped when any key dimension is empty for a request.
// When a canonlog logger is in the request context, throttle_action,
// throttle_result and throttle_limiter are added to the canonical log line.
// Behind wrapper.New, headers and errors go through the wrapper state;
// otherwise they are written directly.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"

	"github.com/nhalm/brakepedal"
	"github.com/nhalm/brakepedal/wrapper"
)

// HeaderMode controls when rate limit headers are included in responses.
type HeaderMode int

const (
	// HeadersAlways includes rate limit headers on all responses (default).
	// Headers: RateLimit-Limit, RateLimit-Remaining
	// On 429: Also includes Retry-After
	HeadersAlways HeaderMode = iota

	// HeadersOnLimitExceeded includes rate limit headers only on 429 responses.
	HeadersOnLimitExceeded

	// HeadersNever never includes rate limit headers in any response.
	HeadersNever
)

// KeyFunc extracts one key dimension from an HTTP request.
// Returning an empty string skips rate limiting for that request.
type KeyFunc func(*http.Request) string

// Limiter implements rate limiting middleware.
type Limiter struct {
	evaluator  *brakepedal.Evaluator
	action     string
	limiters   []brakepedal.Limiter
	keyFns     []KeyFunc
	headerMode HeaderMode
	failOpen   bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithIP adds the client IP from RemoteAddr, without the port.
func WithIP() Option {
	return WithCustomKey(func(r *http.Request) string {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return ip
	})
}

// WithHeader adds the value of header. Requests without it are not limited.
func WithHeader(header string) Option {
	return WithCustomKey(func(r *http.Request) string {
		return r.Header.Get(header)
	})
}

// WithQueryParam adds the value of a query parameter. Requests without it are not limited.
func WithQueryParam(param string) Option {
	return WithCustomKey(func(r *http.Request) string {
		return r.URL.Query().Get(param)
	})
}

// WithEndpoint adds "<method> <path>" using the raw URL path.
func WithEndpoint() Option {
	return WithCustomKey(func(r *http.Request) string {
		return r.Method + " " + r.URL.Path
	})
}

// WithRoute adds "<method> <chi route pattern>", so /users/1 and /users/2 share
// a counter under /users/{id}. The pattern is only known once chi has routed
// the request: mount the middleware with r.With or inside r.Route. Falls back to
// the URL path when no pattern is available.
func WithRoute() Option {
	return WithCustomKey(func(r *http.Request) string {
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		return r.Method + " " + route
	})
}

// WithCustomKey adds a custom key dimension.
func WithCustomKey(fn KeyFunc) Option {
	return func(l *Limiter) {
		l.keyFns = append(l.keyFns, fn)
	}
}

// WithHeaderMode configures when rate limit headers are included in responses.
func WithHeaderMode(mode HeaderMode) Option {
	return func(l *Limiter) {
		l.headerMode = mode
	}
}

// WithFailOpen lets requests through when the Counter Store fails.
// By default such requests get 503 (Service Unavailable).
func WithFailOpen() Option {
	return func(l *Limiter) {
		l.failOpen = true
	}
}

// New creates rate limiting middleware for action, evaluated against limiters in order.
func New(ev *brakepedal.Evaluator, action string, limiters []brakepedal.Limiter, opts ...Option) *Limiter {
	l := &Limiter{
		evaluator:  ev,
		action:     action,
		limiters:   limiters,
		headerMode: HeadersAlways,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) key(r *http.Request) (brakepedal.ThrottleKey, bool) {
	segments := make([]string, 0, len(l.keyFns)+1)
	segments = append(segments, l.action)
	for _, fn := range l.keyFns {
		part := fn(r)
		if part == "" {
			return brakepedal.ThrottleKey{}, false
		}
		segments = append(segments, part)
	}
	return brakepedal.NewKey(segments...), true
}

// Handler returns the rate limiting middleware.
// Sets the following headers based on header mode:
//   - RateLimit-Limit: The limit of the tightest limiter
//   - RateLimit-Remaining: Requests remaining in that limiter's window
//   - Retry-After: (only when limited) Seconds after which a retry is certain
//     to be counted in a fresh window or past the lock. This is the full lock
//     duration for limiters with a lock, else the full window length, so it is
//     an upper bound: the current window may end sooner.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := l.key(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		useWrapper := wrapper.HasState(ctx)

		d, err := l.evaluator.Check(ctx, key, l.limiters...)
		if err != nil {
			logFields(r, map[string]any{
				"throttle_action": l.action,
				"throttle_result": "error",
			})
			if _, ok := canonlog.TryGetLogger(ctx); ok {
				canonlog.ErrorAdd(ctx, err)
			}
			if l.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			if useWrapper {
				wrapper.SetError(r, wrapper.ErrServiceUnavailable)
			} else {
				wrapper.WriteError(w, wrapper.ErrServiceUnavailable)
			}
			return
		}

		result := "allowed"
		if !d.Allowed {
			result = d.Reason.String()
		}
		fields := map[string]any{
			"throttle_action": l.action,
			"throttle_result": result,
		}
		if d.Limiter.Limit() > 0 {
			fields["throttle_limiter"] = d.Limiter.ID()
		}
		logFields(r, fields)

		headers := make(map[string]string, 3)
		setHeaders := l.headerMode == HeadersAlways || (l.headerMode == HeadersOnLimitExceeded && !d.Allowed)
		if setHeaders && d.Limiter.Limit() > 0 {
			headers["RateLimit-Limit"] = strconv.FormatInt(d.Limiter.Limit(), 10)
			headers["RateLimit-Remaining"] = strconv.FormatInt(d.Remaining(), 10)
		}
		if setHeaders && !d.Allowed {
			headers["Retry-After"] = strconv.Itoa(retryAfterSeconds(d))
		}
		for k, v := range headers {
			if useWrapper {
				wrapper.SetHeader(r, k, v)
			} else {
				w.Header().Set(k, v)
			}
		}

		if !d.Allowed {
			if useWrapper {
				wrapper.SetError(r, deniedError(d))
			} else {
				wrapper.WriteError(w, deniedError(d))
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

func deniedError(d brakepedal.Decision) *wrapper.Error {
	if d.Reason == brakepedal.ReasonLocked {
		return wrapper.ErrLocked
	}
	return wrapper.ErrRateLimited
}

func retryAfterSeconds(d brakepedal.Decision) int {
	wait := d.Limiter.Period()
	if lock, ok := d.Limiter.LockDuration(); ok {
		wait = lock
	}
	return int(wait / time.Second)
}

func logFields(r *http.Request, fields map[string]any) {
	ctx := r.Context()
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.InfoAddMany(ctx, fields)
	}
}
