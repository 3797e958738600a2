package brakepedal

import (
	"slices"
	"strings"
)

// ThrottleKey identifies what is being throttled, typically a subject and an
// action such as NewKey("user-42", "login"). Keys are immutable.
type ThrottleKey struct {
	segments []string
}

// NewKey returns a key over a copy of segments.
func NewKey(segments ...string) ThrottleKey {
	return ThrottleKey{segments: slices.Clone(segments)}
}

// Segments returns a copy of the key's segments.
func (k ThrottleKey) Segments() []string {
	return slices.Clone(k.segments)
}

// Equal reports whether k and other have the same segments in the same order.
func (k ThrottleKey) Equal(other ThrottleKey) bool {
	return slices.Equal(k.segments, other.segments)
}

// String joins the segments with "/". It is meant for logs, not store keys.
func (k ThrottleKey) String() string {
	return strings.Join(k.segments, "/")
}
