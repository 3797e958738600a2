package brakepedal

import "strings"

// DefaultNamespace prefixes every store key built by a zero KeyBuilder.
const DefaultNamespace = "throttle"

const (
	counterKind = "count"
	lockKind    = "lock"
)

var keyEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// KeyBuilder derives store keys from a ThrottleKey and a Limiter.
//
// Keys have the form
//
//	<namespace>:<segment>...:<limiter id>:<count|lock>
//
// with "\" and ":" escaped in every component, so distinct inputs never map
// to the same key and the counter and lock of one throttle never collide.
type KeyBuilder struct {
	Namespace string
}

// CounterKey returns the key of the fixed-window counter.
func (b KeyBuilder) CounterKey(key ThrottleKey, l Limiter) string {
	return b.build(key, l, counterKind)
}

// LockKey returns the key of the lock marker.
func (b KeyBuilder) LockKey(key ThrottleKey, l Limiter) string {
	return b.build(key, l, lockKind)
}

func (b KeyBuilder) build(key ThrottleKey, l Limiter, kind string) string {
	ns := b.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	var sb strings.Builder
	sb.Grow(len(ns) + len(kind) + 16 + len(key.segments)*16)

	keyEscaper.WriteString(&sb, ns)
	for _, seg := range key.segments {
		sb.WriteByte(':')
		keyEscaper.WriteString(&sb, seg)
	}
	sb.WriteByte(':')
	keyEscaper.WriteString(&sb, l.ID())
	sb.WriteByte(':')
	sb.WriteString(kind)
	return sb.String()
}
