package brakepedal

import "errors"

var (
	// ErrInvalidLimiter is returned for a Limiter with a non-positive limit or a
	// period or lock duration shorter than one second. The zero Limiter is invalid.
	ErrInvalidLimiter = errors.New("brakepedal: invalid limiter")

	// ErrNoLockDuration is returned by lock operations on a Limiter without a lock duration.
	ErrNoLockDuration = errors.New("brakepedal: limiter has no lock duration")
)
