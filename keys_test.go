package brakepedal_test

import (
	"testing"
	"time"

	"github.com/nhalm/brakepedal"
)

func TestKeyBuilder(t *testing.T) {
	perTen := brakepedal.MustNewLimiter(1, 10*time.Second)
	named := brakepedal.MustNewLimiter(1, 10*time.Second, brakepedal.Named("login"))

	tests := []struct {
		name        string
		builder     brakepedal.KeyBuilder
		key         brakepedal.ThrottleKey
		limiter     brakepedal.Limiter
		wantCounter string
		wantLock    string
	}{
		{
			name:        "default namespace",
			key:         brakepedal.NewKey("test", "key"),
			limiter:     perTen,
			wantCounter: "throttle:test:key:1per10s:count",
			wantLock:    "throttle:test:key:1per10s:lock",
		},
		{
			name:        "custom namespace",
			builder:     brakepedal.KeyBuilder{Namespace: "app"},
			key:         brakepedal.NewKey("test", "key"),
			limiter:     perTen,
			wantCounter: "app:test:key:1per10s:count",
			wantLock:    "app:test:key:1per10s:lock",
		},
		{
			name:        "explicit limiter name",
			key:         brakepedal.NewKey("user-1"),
			limiter:     named,
			wantCounter: "throttle:user-1:login:count",
			wantLock:    "throttle:user-1:login:lock",
		},
		{
			name:        "delimiters in segments are escaped",
			key:         brakepedal.NewKey(`a:b`, `c\d`),
			limiter:     perTen,
			wantCounter: `throttle:a\:b:c\\d:1per10s:count`,
			wantLock:    `throttle:a\:b:c\\d:1per10s:lock`,
		},
		{
			name:        "no segments",
			key:         brakepedal.NewKey(),
			limiter:     perTen,
			wantCounter: "throttle:1per10s:count",
			wantLock:    "throttle:1per10s:lock",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.builder.CounterKey(tt.key, tt.limiter); got != tt.wantCounter {
				t.Errorf("CounterKey() = %q, want %q", got, tt.wantCounter)
			}
			if got := tt.builder.LockKey(tt.key, tt.limiter); got != tt.wantLock {
				t.Errorf("LockKey() = %q, want %q", got, tt.wantLock)
			}
		})
	}
}

func TestKeyBuilder_Deterministic(t *testing.T) {
	var b brakepedal.KeyBuilder
	l := brakepedal.MustNewLimiter(5, time.Minute, brakepedal.LockFor(time.Hour))

	first := b.CounterKey(brakepedal.NewKey("u", "a"), l)
	for i := 0; i < 10; i++ {
		if got := b.CounterKey(brakepedal.NewKey("u", "a"), l); got != first {
			t.Fatalf("CounterKey() = %q, then %q", first, got)
		}
	}
}

func TestKeyBuilder_Distinct(t *testing.T) {
	var b brakepedal.KeyBuilder
	key := brakepedal.NewKey("test", "key")

	limiters := []brakepedal.Limiter{
		brakepedal.MustNewLimiter(1, 10*time.Second),
		brakepedal.MustNewLimiter(1, 20*time.Second),
		brakepedal.MustNewLimiter(2, 10*time.Second),
		brakepedal.MustNewLimiter(1, 10*time.Second, brakepedal.Named("x")),
	}

	seen := make(map[string]bool)
	for _, l := range limiters {
		for _, k := range []string{b.CounterKey(key, l), b.LockKey(key, l)} {
			if seen[k] {
				t.Errorf("key %q produced twice", k)
			}
			seen[k] = true
		}
	}

	// Segment boundaries must survive: ("a:b") and ("a", "b") are different keys.
	l := limiters[0]
	if b.CounterKey(brakepedal.NewKey("a:b"), l) == b.CounterKey(brakepedal.NewKey("a", "b"), l) {
		t.Error("CounterKey() collides across segment boundaries")
	}
}

func TestThrottleKey(t *testing.T) {
	segs := []string{"test", "key"}
	k := brakepedal.NewKey(segs...)
	segs[0] = "mutated"

	if got := k.Segments(); got[0] != "test" {
		t.Errorf("NewKey() did not copy its input, Segments() = %v", got)
	}

	out := k.Segments()
	out[1] = "mutated"
	if got := k.Segments(); got[1] != "key" {
		t.Errorf("Segments() exposes internal state, got %v", got)
	}

	if !k.Equal(brakepedal.NewKey("test", "key")) {
		t.Error("Equal() = false for identical segments")
	}
	if k.Equal(brakepedal.NewKey("key", "test")) {
		t.Error("Equal() = true for reordered segments")
	}
	if k.Equal(brakepedal.NewKey("test")) {
		t.Error("Equal() = true for a prefix")
	}
	if got := k.String(); got != "test/key" {
		t.Errorf("String() = %q, want test/key", got)
	}
}
