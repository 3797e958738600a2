// Package metrics exports throttle decisions as Prometheus metrics.
//
//	rec := metrics.NewRecorder(prometheus.DefaultRegisterer)
//	ev := brakepedal.NewEvaluator(repo, brakepedal.WithObserver(rec))
//
// Series are labeled by limiter ID only. ThrottleKey segments usually carry
// user or IP identifiers and are never used as labels.
package metrics

import (
	"context"
	"errors"

	"github.com/nhalm/brakepedal"
	"github.com/nhalm/brakepedal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements brakepedal.Observer.
type Recorder struct {
	checks *prometheus.CounterVec
	errors *prometheus.CounterVec
	counts *prometheus.HistogramVec
}

var _ brakepedal.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder and registers its collectors with reg.
// Panics if the collectors are already registered, like prometheus.MustRegister.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brakepedal_checks_total",
				Help: "Throttle checks by deciding limiter and result",
			},
			[]string{"limiter", "result"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brakepedal_errors_total",
				Help: "Throttle checks aborted by an error",
			},
			[]string{"limiter", "kind"},
		),
		counts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brakepedal_window_usage_ratio",
				Help:    "Post-increment counter value divided by the limit",
				Buckets: []float64{0.25, 0.5, 0.75, 0.9, 1, 1.5, 2, 5},
			},
			[]string{"limiter"},
		),
	}
	reg.MustRegister(r.checks, r.errors, r.counts)
	return r
}

// ObserveDecision records the result of a check.
func (r *Recorder) ObserveDecision(_ context.Context, _ brakepedal.ThrottleKey, d brakepedal.Decision) {
	id := limiterLabel(d.Limiter)

	result := "allowed"
	if !d.Allowed {
		result = d.Reason.String()
	}
	r.checks.WithLabelValues(id, result).Inc()

	if d.Reason != brakepedal.ReasonLocked && d.Limiter.Limit() > 0 {
		r.counts.WithLabelValues(id).Observe(float64(d.Count) / float64(d.Limiter.Limit()))
	}
}

// ObserveError records a failed check.
func (r *Recorder) ObserveError(_ context.Context, _ brakepedal.ThrottleKey, l brakepedal.Limiter, err error) {
	r.errors.WithLabelValues(limiterLabel(l), errorKind(err)).Inc()
}

// limiterLabel is "none" for the zero Limiter.
func limiterLabel(l brakepedal.Limiter) string {
	if l.Limit() == 0 {
		return "none"
	}
	return l.ID()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, store.ErrNotInteger):
		return "not_integer"
	case errors.Is(err, brakepedal.ErrInvalidLimiter), errors.Is(err, brakepedal.ErrNoLockDuration):
		return "config"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
