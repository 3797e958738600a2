package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_Increment(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Memory, time.Time)
		key     string
		initial int64
		delta   int64
		want    int64
		wantErr error
	}{
		{
			name:    "first increment creates entry with initial value",
			key:     "test:key",
			initial: 1,
			delta:   1,
			want:    1,
		},
		{
			name:    "initial value is returned as-is on creation",
			key:     "test:key",
			initial: 0,
			delta:   5,
			want:    0,
		},
		{
			name: "increment existing key adds delta",
			setup: func(m *Memory, now time.Time) {
				m.entries["test:key"] = &memoryEntry{value: "5", expiration: now.Add(time.Minute)}
			},
			key:     "test:key",
			initial: 1,
			delta:   1,
			want:    6,
		},
		{
			name: "expired key is recreated",
			setup: func(m *Memory, now time.Time) {
				m.entries["test:key"] = &memoryEntry{value: "10", expiration: now.Add(-time.Second)}
			},
			key:     "test:key",
			initial: 1,
			delta:   1,
			want:    1,
		},
		{
			name: "non-integer value is rejected",
			setup: func(m *Memory, now time.Time) {
				m.entries["test:key"] = &memoryEntry{value: "xx", expiration: now.Add(time.Minute)}
			},
			key:     "test:key",
			initial: 1,
			delta:   1,
			wantErr: ErrNotInteger,
		},
		{
			name:    "empty key",
			key:     "",
			initial: 1,
			delta:   1,
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			m := newMemory(clock.Now)
			defer m.Close()

			if tt.setup != nil {
				tt.setup(m, clock.Now())
			}

			got, err := m.Increment(context.Background(), tt.key, tt.initial, tt.delta, time.Minute)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Increment() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Increment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemory_Increment_Sequential(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()
	key := "test:sequential"

	for i := int64(1); i <= 10; i++ {
		got, err := m.Increment(ctx, key, 1, 1, time.Minute)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if got != i {
			t.Errorf("Increment() = %v, want %v", got, i)
		}
	}
}

func TestMemory_Increment_DoesNotExtendTTL(t *testing.T) {
	clock := newFakeClock()
	m := newMemory(clock.Now)
	defer m.Close()

	ctx := context.Background()
	key := "test:window"

	if _, err := m.Increment(ctx, key, 1, 1, 10*time.Second); err != nil {
		t.Fatalf("Increment() error = %v", err)
	}

	clock.Advance(9 * time.Second)
	got, err := m.Increment(ctx, key, 1, 1, 10*time.Second)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if got != 2 {
		t.Fatalf("Increment() before expiration = %v, want 2", got)
	}

	clock.Advance(time.Second)
	if _, ok, _ := m.Get(ctx, key); ok {
		t.Fatal("Get() found key after the original window elapsed")
	}

	got, err = m.Increment(ctx, key, 1, 1, 10*time.Second)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if got != 1 {
		t.Errorf("Increment() after expiration = %v, want 1 (reset)", got)
	}
}

func TestMemory_Increment_Concurrent(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()
	key := "test:concurrent"
	goroutines := 10
	incrementsPerGoroutine := 10
	expectedTotal := goroutines * incrementsPerGoroutine

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < incrementsPerGoroutine; j++ {
				if _, err := m.Increment(ctx, key, 1, 1, time.Minute); err != nil {
					t.Errorf("Increment() error = %v", err)
				}
			}
		}()
	}

	wg.Wait()

	got, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() = %q, %v, %v", got, ok, err)
	}
	if got != strconv.Itoa(expectedTotal) {
		t.Errorf("Get() = %v, want %v", got, expectedTotal)
	}
}

func TestMemory_Get(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*Memory, time.Time)
		key    string
		want   string
		wantOK bool
	}{
		{
			name: "non-existent key is absent",
			key:  "test:nonexistent",
		},
		{
			name: "existing key returns raw value",
			setup: func(m *Memory, now time.Time) {
				m.entries["test:key"] = &memoryEntry{value: "42", expiration: now.Add(time.Minute)}
			},
			key:    "test:key",
			want:   "42",
			wantOK: true,
		},
		{
			name: "non-numeric value is returned untouched",
			setup: func(m *Memory, now time.Time) {
				m.entries["test:key"] = &memoryEntry{value: "xx", expiration: now.Add(time.Minute)}
			},
			key:    "test:key",
			want:   "xx",
			wantOK: true,
		},
		{
			name: "expired key is absent",
			setup: func(m *Memory, now time.Time) {
				m.entries["test:key"] = &memoryEntry{value: "100", expiration: now.Add(-time.Second)}
			},
			key: "test:key",
		},
		{
			name: "key without expiration never expires",
			setup: func(m *Memory, _ time.Time) {
				m.entries["test:key"] = &memoryEntry{value: "7"}
			},
			key:    "test:key",
			want:   "7",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			m := newMemory(clock.Now)
			defer m.Close()

			if tt.setup != nil {
				tt.setup(m, clock.Now())
			}

			got, ok, err := m.Get(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Get() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMemory_ExistsAndSet(t *testing.T) {
	clock := newFakeClock()
	m := newMemory(clock.Now)
	defer m.Close()

	ctx := context.Background()
	key := "test:lock"

	if ok, _ := m.Exists(ctx, key); ok {
		t.Fatal("Exists() = true before Set()")
	}

	if err := m.Set(ctx, key, "1", 5*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if ok, _ := m.Exists(ctx, key); !ok {
		t.Fatal("Exists() = false after Set()")
	}

	clock.Advance(4 * time.Second)
	if err := m.Set(ctx, key, "1", 5*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock.Advance(4 * time.Second)
	if ok, _ := m.Exists(ctx, key); !ok {
		t.Error("Exists() = false, want Set() to have restarted the TTL")
	}

	clock.Advance(time.Second)
	if ok, _ := m.Exists(ctx, key); ok {
		t.Error("Exists() = true after TTL elapsed")
	}
}

func TestMemory_Remove(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Memory)
		key   string
	}{
		{
			name: "remove non-existent key succeeds",
			key:  "test:nonexistent",
		},
		{
			name: "remove existing key deletes entry",
			setup: func(m *Memory) {
				m.entries["test:key"] = &memoryEntry{value: "50"}
			},
			key: "test:key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMemory(time.Now)
			defer m.Close()

			if tt.setup != nil {
				tt.setup(m)
			}

			if err := m.Remove(context.Background(), tt.key); err != nil {
				t.Errorf("Remove() error = %v", err)
			}
			if _, exists := m.entries[tt.key]; exists {
				t.Errorf("Remove() failed to remove key %s", tt.key)
			}
		})
	}
}

func TestMemory_RunCleanup(t *testing.T) {
	clock := newFakeClock()
	m := newMemory(clock.Now)
	defer m.Close()

	now := clock.Now()
	m.entries["expired"] = &memoryEntry{value: "1", expiration: now.Add(-time.Second)}
	m.entries["live"] = &memoryEntry{value: "1", expiration: now.Add(time.Minute)}
	m.entries["forever"] = &memoryEntry{value: "1"}

	m.runCleanup()

	if _, ok := m.entries["expired"]; ok {
		t.Error("runCleanup() kept expired entry")
	}
	if _, ok := m.entries["live"]; !ok {
		t.Error("runCleanup() removed live entry")
	}
	if _, ok := m.entries["forever"]; !ok {
		t.Error("runCleanup() removed entry without expiration")
	}
}

func TestMemory_Close(t *testing.T) {
	m := NewMemory()

	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	select {
	case <-m.stopCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("Close() did not close stopCh")
	}
}

func BenchmarkMemory_Increment(b *testing.B) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Increment(ctx, "bench:key", 1, 1, time.Minute)
	}
}

func BenchmarkMemory_Increment_Parallel(b *testing.B) {
	m := NewMemory()
	defer m.Close()

	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = m.Increment(ctx, "bench:key", 1, 1, time.Minute)
		}
	})
}
