package brakepedal

import (
	"fmt"
	"strconv"
	"time"
)

// Limiter is a throttling policy: at most Limit uses per fixed Period, and
// optionally a lock of LockDuration once the limit is breached.
//
// Limiters are immutable values built with NewLimiter. The zero Limiter is
// invalid and rejected by the Repository.
type Limiter struct {
	limit   int64
	period  time.Duration
	lock    time.Duration
	hasLock bool
	name    string
}

// LimiterOption configures optional Limiter attributes.
type LimiterOption func(*Limiter)

// LockFor locks the action for d once the limit is breached. d must be at
// least one second and a whole number of seconds. It may be shorter or longer
// than the counting period.
func LockFor(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		l.lock = d
		l.hasLock = true
	}
}

// Named gives the limiter an explicit identifier. The identifier replaces the
// derived form in store keys and metrics, so renaming a limiter starts fresh
// counters. Two limiters with the same name share their counter and lock.
func Named(name string) LimiterOption {
	return func(l *Limiter) {
		l.name = name
	}
}

// NewLimiter returns a Limiter allowing limit uses per period.
// Returns ErrInvalidLimiter if limit < 1, or if period (or the lock duration)
// is shorter than one second or not a whole number of seconds.
func NewLimiter(limit int64, period time.Duration, opts ...LimiterOption) (Limiter, error) {
	l := Limiter{limit: limit, period: period}
	for _, opt := range opts {
		opt(&l)
	}
	if err := l.validate(); err != nil {
		return Limiter{}, err
	}
	return l, nil
}

// MustNewLimiter is like NewLimiter but panics on invalid input.
// Intended for package-level policy declarations.
func MustNewLimiter(limit int64, period time.Duration, opts ...LimiterOption) Limiter {
	l, err := NewLimiter(limit, period, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Limiter) validate() error {
	if l.limit < 1 {
		return fmt.Errorf("%w: limit must be at least 1, got %d", ErrInvalidLimiter, l.limit)
	}
	if !wholeSeconds(l.period) {
		return fmt.Errorf("%w: period must be a positive whole number of seconds, got %v", ErrInvalidLimiter, l.period)
	}
	if l.hasLock && !wholeSeconds(l.lock) {
		return fmt.Errorf("%w: lock duration must be a positive whole number of seconds, got %v", ErrInvalidLimiter, l.lock)
	}
	return nil
}

func wholeSeconds(d time.Duration) bool {
	return d >= time.Second && d%time.Second == 0
}

// Limit returns the maximum number of uses per period.
func (l Limiter) Limit() int64 { return l.limit }

// Period returns the length of the counting window.
func (l Limiter) Period() time.Duration { return l.period }

// LockDuration returns the lock duration and whether one is configured.
func (l Limiter) LockDuration() (time.Duration, bool) { return l.lock, l.hasLock }

// Name returns the explicit identifier, or "" if none was given.
func (l Limiter) Name() string { return l.name }

// ID identifies the limiter in store keys and metrics. Without a name it is
// "<limit>per<seconds>s", followed by "_lock<seconds>s" when a lock is set, so
// limiters that differ in any setting never share a counter or lock.
func (l Limiter) ID() string {
	if l.name != "" {
		return l.name
	}
	id := strconv.FormatInt(l.limit, 10) + "per" + strconv.FormatInt(int64(l.period/time.Second), 10) + "s"
	if l.hasLock {
		id += "_lock" + strconv.FormatInt(int64(l.lock/time.Second), 10) + "s"
	}
	return id
}
