package brakepedal

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nhalm/brakepedal/store"
)

// Repository maps throttle operations onto a Counter Store. Each method is a
// single store round trip; store errors are returned unmodified and never
// retried.
type Repository struct {
	store store.Store
	keys  KeyBuilder
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithNamespace sets the prefix of every key the Repository writes (default: "throttle").
func WithNamespace(ns string) RepositoryOption {
	return func(r *Repository) {
		r.keys.Namespace = ns
	}
}

// NewRepository creates a Repository backed by st.
func NewRepository(st store.Store, opts ...RepositoryOption) *Repository {
	r := &Repository{store: st}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateCounterKey returns the store key of the counter for key and l.
func (r *Repository) CreateCounterKey(key ThrottleKey, l Limiter) string {
	return r.keys.CounterKey(key, l)
}

// CreateLockKey returns the store key of the lock for key and l.
func (r *Repository) CreateLockKey(key ThrottleKey, l Limiter) string {
	return r.keys.LockKey(key, l)
}

// AddOrIncrementWithExpiration records one use and returns the post-increment
// count. A missing counter is created at 1 with a TTL of l.Period() in the same
// store operation; an existing counter keeps the TTL it was created with.
func (r *Repository) AddOrIncrementWithExpiration(ctx context.Context, key ThrottleKey, l Limiter) (int64, error) {
	if err := l.validate(); err != nil {
		return 0, err
	}
	return r.store.Increment(ctx, r.CreateCounterKey(key, l), 1, 1, l.Period())
}

// GetThrottleCount returns the current count. ok is false when the counter does
// not exist or holds something other than an integer.
func (r *Repository) GetThrottleCount(ctx context.Context, key ThrottleKey, l Limiter) (count int64, ok bool, err error) {
	if err := l.validate(); err != nil {
		return 0, false, err
	}
	raw, found, err := r.store.Get(ctx, r.CreateCounterKey(key, l))
	if err != nil || !found {
		return 0, false, err
	}
	return parseCount(raw)
}

func parseCount(raw string) (int64, bool, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// LockExists reports whether the lock for key and l is present.
// Returns ErrNoLockDuration if l has no lock duration.
func (r *Repository) LockExists(ctx context.Context, key ThrottleKey, l Limiter) (bool, error) {
	if _, err := lockDuration(l); err != nil {
		return false, err
	}
	return r.store.Exists(ctx, r.CreateLockKey(key, l))
}

// SetLock creates the lock with a TTL of the limiter's lock duration. If the
// lock already exists its expiration is left as is.
// Returns ErrNoLockDuration if l has no lock duration.
func (r *Repository) SetLock(ctx context.Context, key ThrottleKey, l Limiter) error {
	d, err := lockDuration(l)
	if err != nil {
		return err
	}
	_, err = r.store.Increment(ctx, r.CreateLockKey(key, l), 1, 1, d)
	return err
}

// ExtendLock sets the lock and restarts its TTL at the full lock duration.
// Returns ErrNoLockDuration if l has no lock duration.
func (r *Repository) ExtendLock(ctx context.Context, key ThrottleKey, l Limiter) error {
	d, err := lockDuration(l)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, r.CreateLockKey(key, l), "1", d)
}

// RemoveThrottle deletes the counter. Removing a missing counter is not an error.
func (r *Repository) RemoveThrottle(ctx context.Context, key ThrottleKey, l Limiter) error {
	if err := l.validate(); err != nil {
		return err
	}
	return r.store.Remove(ctx, r.CreateCounterKey(key, l))
}

// RemoveLock deletes the lock, lifting it before it expires.
// Returns ErrNoLockDuration if l has no lock duration.
func (r *Repository) RemoveLock(ctx context.Context, key ThrottleKey, l Limiter) error {
	if _, err := lockDuration(l); err != nil {
		return err
	}
	return r.store.Remove(ctx, r.CreateLockKey(key, l))
}

func lockDuration(l Limiter) (time.Duration, error) {
	if err := l.validate(); err != nil {
		return 0, err
	}
	d, ok := l.LockDuration()
	if !ok {
		return 0, ErrNoLockDuration
	}
	return d, nil
}
