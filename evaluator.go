package brakepedal

import "context"

// LockMode controls what happens to an existing lock when a locked request arrives.
type LockMode int

const (
	// LockExtend restarts the lock's TTL on every request denied by the lock,
	// so sustained traffic keeps the action locked until callers back off for a
	// full lock duration (default).
	LockExtend LockMode = iota

	// LockFixed leaves an existing lock alone; it expires lockDuration after
	// the breach that created it regardless of further traffic.
	LockFixed
)

// Reason explains a Decision.
type Reason int

const (
	// ReasonNone is the reason of an allowed decision.
	ReasonNone Reason = iota
	// ReasonLimitExceeded means the request pushed a counter past its limit.
	ReasonLimitExceeded
	// ReasonLocked means a lock from an earlier breach is in place.
	ReasonLocked
)

func (r Reason) String() string {
	switch r {
	case ReasonLimitExceeded:
		return "limit_exceeded"
	case ReasonLocked:
		return "locked"
	default:
		return "none"
	}
}

// Decision is the outcome of a throttle check.
//
// For a denied request Limiter is the limiter that denied it. For an allowed
// request Limiter is the one with the fewest remaining uses, and is the zero
// Limiter when no limiters were given. Count is that limiter's post-increment
// counter value, and 0 when Reason is ReasonLocked.
type Decision struct {
	Allowed bool
	Reason  Reason
	Limiter Limiter
	Count   int64
}

// Remaining returns how many more uses the decision's limiter allows in the current window.
func (d Decision) Remaining() int64 {
	if d.Reason == ReasonLocked {
		return 0
	}
	return max(0, d.Limiter.Limit()-d.Count)
}

// Observer receives the outcome of every check. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveDecision(ctx context.Context, key ThrottleKey, d Decision)
	ObserveError(ctx context.Context, key ThrottleKey, l Limiter, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(context.Context, ThrottleKey, Decision) {}
func (nopObserver) ObserveError(context.Context, ThrottleKey, Limiter, error) {}

// Evaluator decides whether a request is allowed under a set of limiters.
type Evaluator struct {
	repo     *Repository
	lockMode LockMode
	observer Observer
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLockMode sets how locks react to requests that arrive while locked.
func WithLockMode(mode LockMode) EvaluatorOption {
	return func(e *Evaluator) {
		e.lockMode = mode
	}
}

// WithObserver registers an Observer, e.g. metrics.Recorder.
func WithObserver(o Observer) EvaluatorOption {
	return func(e *Evaluator) {
		e.observer = o
	}
}

// NewEvaluator creates an Evaluator over repo.
func NewEvaluator(repo *Repository, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		repo:     repo,
		lockMode: LockExtend,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Repository returns the Repository the evaluator uses, for administrative
// operations such as RemoveThrottle.
func (e *Evaluator) Repository() *Repository {
	return e.repo
}

// Check records one use of key against each limiter in order and decides
// whether it is allowed.
//
// For each limiter: an existing lock denies immediately without counting; else
// the counter is incremented and a count above the limit denies the request and
// sets the limiter's lock, if any. The first denying limiter ends the check, so
// later limiters are not charged for a denied request.
//
// A store error aborts the check and is returned with a zero Decision. It is
// never reported as allowed or denied.
func (e *Evaluator) Check(ctx context.Context, key ThrottleKey, limiters ...Limiter) (Decision, error) {
	result := Decision{Allowed: true}
	first := true

	for _, l := range limiters {
		d, err := e.checkOne(ctx, key, l)
		if err != nil {
			e.observer.ObserveError(ctx, key, l, err)
			return Decision{}, err
		}
		if !d.Allowed {
			e.observer.ObserveDecision(ctx, key, d)
			return d, nil
		}
		if first || d.Remaining() < result.Remaining() {
			result = d
			first = false
		}
	}

	e.observer.ObserveDecision(ctx, key, result)
	return result, nil
}

func (e *Evaluator) checkOne(ctx context.Context, key ThrottleKey, l Limiter) (Decision, error) {
	_, hasLock := l.LockDuration()

	if hasLock {
		locked, err := e.repo.LockExists(ctx, key, l)
		if err != nil {
			return Decision{}, err
		}
		if locked {
			if e.lockMode == LockExtend {
				if err := e.repo.ExtendLock(ctx, key, l); err != nil {
					return Decision{}, err
				}
			}
			return Decision{Reason: ReasonLocked, Limiter: l}, nil
		}
	}

	count, err := e.repo.AddOrIncrementWithExpiration(ctx, key, l)
	if err != nil {
		return Decision{}, err
	}

	if count > l.Limit() {
		if hasLock {
			if err := e.repo.SetLock(ctx, key, l); err != nil {
				return Decision{}, err
			}
		}
		return Decision{Reason: ReasonLimitExceeded, Limiter: l, Count: count}, nil
	}

	return Decision{Allowed: true, Limiter: l, Count: count}, nil
}
