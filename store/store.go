// Package store provides Counter Store backends for throttling.
//
// A Counter Store is a shared key-value store with atomic increment and
// TTL-based expiration. The throttle core never reads-modifies-writes a value
// itself; every mutation goes through Increment or Set so that the store's
// own atomicity is the only synchronization between callers.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks failures to reach the backing store (connection
	// refused, timeouts, cancelled contexts). Backends wrap client errors with it.
	ErrUnavailable = errors.New("counter store unavailable")

	// ErrNotInteger is returned by Increment when the existing value is not an integer.
	ErrNotInteger = errors.New("counter store value is not an integer")
)

// Store defines the Counter Store contract.
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment atomically adjusts the integer stored at key. If the key is absent
	// it is created with value initial and expiration ttl, and initial is returned.
	// If present, delta is added, the TTL is left unchanged, and the new value is
	// returned. Creation and TTL assignment happen in a single atomic step.
	Increment(ctx context.Context, key string, initial, delta int64, ttl time.Duration) (int64, error)

	// Get returns the raw value stored at key. ok is false if the key is absent or expired.
	Get(ctx context.Context, key string) (raw string, ok bool, err error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Set stores value at key, replacing any existing value and restarting its TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
