package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhalm/brakepedal"
	"github.com/nhalm/brakepedal/ratelimit"
	"github.com/nhalm/brakepedal/wrapper"
)

// httpPolicy, when configured, throttles the /v1 API itself per client IP. It
// is reserved: the API does not serve it as a policy, so callers can neither
// spend nor reset another client's API budget.
const httpPolicy = "http"

type server struct {
	evaluator *brakepedal.Evaluator
	policies  map[string][]brakepedal.Limiter
	failOpen  bool
}

func newRouter(s *server, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(wrapper.New(wrapper.WithCanonlog()))
	r.NotFound(func(_ http.ResponseWriter, r *http.Request) {
		wrapper.SetError(r, wrapper.ErrNotFound)
	})
	r.MethodNotAllowed(func(_ http.ResponseWriter, r *http.Request) {
		wrapper.SetError(r, wrapper.ErrMethodNotAllowed)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/throttles/{policy}/{subject}", func(r chi.Router) {
		if limiters, ok := s.policies[httpPolicy]; ok {
			opts := []ratelimit.Option{ratelimit.WithIP()}
			if s.failOpen {
				opts = append(opts, ratelimit.WithFailOpen())
			}
			r.Use(ratelimit.New(s.evaluator, httpPolicy, limiters, opts...).Handler)
		}
		r.Post("/", s.check)
		r.Get("/", s.status)
		r.Delete("/", s.reset)
	})
	return r
}

type decisionResponse struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Limiter   string `json:"limiter"`
	Limit     int64  `json:"limit"`
	Count     int64  `json:"count"`
	Remaining int64  `json:"remaining"`
}

// limiterStatus omits Count when no counter exists for the current window.
type limiterStatus struct {
	Limiter string `json:"limiter"`
	Limit   int64  `json:"limit"`
	Count   *int64 `json:"count,omitempty"`
	Locked  bool   `json:"locked"`
}

type statusResponse struct {
	Policy   string          `json:"policy"`
	Subject  string          `json:"subject"`
	Limiters []limiterStatus `json:"limiters"`
}

func (s *server) target(r *http.Request) (brakepedal.ThrottleKey, []brakepedal.Limiter, bool) {
	policy := chi.URLParam(r, "policy")
	limiters, ok := s.policies[policy]
	if !ok || policy == httpPolicy {
		wrapper.SetError(r, wrapper.ErrNotFound.With("Unknown throttle policy"))
		return brakepedal.ThrottleKey{}, nil, false
	}
	canonlog.InfoAdd(r.Context(), "policy", policy)
	return brakepedal.NewKey(policy, chi.URLParam(r, "subject")), limiters, true
}

func (s *server) check(_ http.ResponseWriter, r *http.Request) {
	key, limiters, ok := s.target(r)
	if !ok {
		return
	}

	d, err := s.evaluator.Check(r.Context(), key, limiters...)
	if err != nil {
		s.storeFailure(r, err)
		return
	}

	resp := decisionResponse{
		Allowed:   d.Allowed,
		Limiter:   d.Limiter.ID(),
		Limit:     d.Limiter.Limit(),
		Count:     d.Count,
		Remaining: d.Remaining(),
	}
	status, result := http.StatusOK, "allowed"
	if !d.Allowed {
		resp.Reason = d.Reason.String()
		status, result = http.StatusTooManyRequests, resp.Reason
	}
	canonlog.InfoAdd(r.Context(), "throttle_result", result)
	wrapper.SetResponse(r, status, resp)
}

func (s *server) status(_ http.ResponseWriter, r *http.Request) {
	key, limiters, ok := s.target(r)
	if !ok {
		return
	}

	ctx := r.Context()
	repo := s.evaluator.Repository()
	resp := statusResponse{
		Policy:   chi.URLParam(r, "policy"),
		Subject:  chi.URLParam(r, "subject"),
		Limiters: make([]limiterStatus, 0, len(limiters)),
	}
	for _, l := range limiters {
		count, found, err := repo.GetThrottleCount(ctx, key, l)
		if err != nil {
			s.storeFailure(r, err)
			return
		}
		st := limiterStatus{Limiter: l.ID(), Limit: l.Limit()}
		if found {
			st.Count = &count
		}
		if _, hasLock := l.LockDuration(); hasLock {
			if st.Locked, err = repo.LockExists(ctx, key, l); err != nil {
				s.storeFailure(r, err)
				return
			}
		}
		resp.Limiters = append(resp.Limiters, st)
	}
	wrapper.SetResponse(r, http.StatusOK, resp)
}

func (s *server) reset(_ http.ResponseWriter, r *http.Request) {
	key, limiters, ok := s.target(r)
	if !ok {
		return
	}

	ctx := r.Context()
	repo := s.evaluator.Repository()
	for _, l := range limiters {
		err := repo.RemoveThrottle(ctx, key, l)
		if _, hasLock := l.LockDuration(); err == nil && hasLock {
			err = repo.RemoveLock(ctx, key, l)
		}
		if err != nil {
			s.storeFailure(r, err)
			return
		}
	}
	wrapper.SetResponse(r, http.StatusNoContent, nil)
}

func (s *server) storeFailure(r *http.Request, err error) {
	canonlog.ErrorAdd(r.Context(), err)
	if errors.Is(err, brakepedal.ErrNoLockDuration) || errors.Is(err, brakepedal.ErrInvalidLimiter) {
		wrapper.SetError(r, wrapper.ErrInvalidPolicy)
		return
	}
	wrapper.SetError(r, wrapper.ErrServiceUnavailable)
}
