package brakepedal_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nhalm/brakepedal/store"
)

type fakeEntry struct {
	value   string
	expires time.Time
}

// fakeStore is an in-memory store.Store with a manual clock and a call log.
type fakeStore struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]fakeEntry
	calls   []string
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		entries: make(map[string]fakeEntry),
	}
}

func (f *fakeStore) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeStore) put(key, value string, ttl time.Duration) {
	f.mu.Lock()
	f.entries[key] = fakeEntry{value: value, expires: f.now.Add(ttl)}
	f.mu.Unlock()
}

func (f *fakeStore) ttl(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.live(key)
	if !ok {
		return 0
	}
	return e.expires.Sub(f.now)
}

func (f *fakeStore) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeStore) live(key string) (fakeEntry, bool) {
	e, ok := f.entries[key]
	if !ok || !f.now.Before(e.expires) {
		delete(f.entries, key)
		return fakeEntry{}, false
	}
	return e, true
}

func (f *fakeStore) Increment(_ context.Context, key string, initial, delta int64, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Increment %s %d %d %v", key, initial, delta, ttl); err != nil {
		return 0, err
	}
	e, ok := f.live(key)
	if !ok {
		f.entries[key] = fakeEntry{value: strconv.FormatInt(initial, 10), expires: f.now.Add(ttl)}
		return initial, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, store.ErrNotInteger
	}
	n += delta
	e.value = strconv.FormatInt(n, 10)
	f.entries[key] = e
	return n, nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Get %s", key); err != nil {
		return "", false, err
	}
	e, ok := f.live(key)
	return e.value, ok, nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Exists %s", key); err != nil {
		return false, err
	}
	_, ok := f.live(key)
	return ok, nil
}

func (f *fakeStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Set %s %s %v", key, value, ttl); err != nil {
		return err
	}
	f.entries[key] = fakeEntry{value: value, expires: f.now.Add(ttl)}
	return nil
}

func (f *fakeStore) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Remove %s", key); err != nil {
		return err
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeStore) Close() error { return nil }

var _ store.Store = (*fakeStore)(nil)
