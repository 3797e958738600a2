package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value      string
	expiration time.Time // zero means no expiration
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && !now.Before(e.expiration)
}

// Memory is an in-memory implementation of Store using a map with mutex protection.
//
// WARNING: This implementation is NOT suitable for distributed deployments.
// Each process keeps its own counters, so limits are not shared across instances.
//
// Use Memory only for:
//   - Local development and testing
//   - Single-instance deployments where horizontal scaling is not needed
//
// For production distributed systems, use the Redis store instead.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemory creates a new in-memory store with automatic cleanup of expired entries.
// A background goroutine runs every minute to remove expired entries and prevent
// unbounded memory growth.
//
// Important: You must call Close() when done to stop the cleanup goroutine.
func NewMemory() *Memory {
	m := newMemory(time.Now)
	go m.cleanup()
	return m
}

func newMemory(now func() time.Time) *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		now:     now,
		stopCh:  make(chan struct{}),
	}
}

// live returns the unexpired entry for key. Must be called with mu held.
func (m *Memory) live(key string, now time.Time) (*memoryEntry, bool) {
	entry, exists := m.entries[key]
	if !exists {
		return nil, false
	}
	if entry.expired(now) {
		delete(m.entries, key)
		return nil, false
	}
	return entry, true
}

func (m *Memory) expiration(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Increment creates key with initial and ttl, or adds delta to the existing value
// without touching its expiration. The write lock makes the whole step atomic.
//
// The context parameter is accepted for interface compatibility but is not used.
func (m *Memory) Increment(_ context.Context, key string, initial, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, exists := m.live(key, now)
	if !exists {
		m.entries[key] = &memoryEntry{
			value:      strconv.FormatInt(initial, 10),
			expiration: m.expiration(now, ttl),
		}
		return initial, nil
	}

	current, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	current += delta
	entry.value = strconv.FormatInt(current, 10)
	return current, nil
}

// Get returns the raw value for key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.live(key, m.now())
	if !exists {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Exists reports whether key is present and unexpired.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.live(key, m.now())
	return exists, nil
}

// Set replaces the value for key and restarts its TTL.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.entries[key] = &memoryEntry{
		value:      value,
		expiration: m.expiration(now, ttl),
	}
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Close stops the background cleanup goroutine and releases resources.
// Calling Close more than once is safe.
func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stopCh)
		m.mu.Lock()
		m.entries = make(map[string]*memoryEntry)
		m.mu.Unlock()
	})
	return nil
}

// runCleanup executes a single cleanup cycle, removing all expired entries.
func (m *Memory) runCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
		}
	}
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.stopCh:
			return
		}
	}
}
