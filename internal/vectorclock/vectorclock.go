// Package vectorclock implements the DeviceId -> counter CRDT clock used to
// order concurrent revisions of the same file path across two peers.
package vectorclock

// Clock maps a device identifier to a monotonically increasing counter.
type Clock map[string]uint64

// Relation describes how two clocks compare under the standard CRDT rule.
type Relation int

const (
	// Identical means both clocks hold exactly the same counters.
	Identical Relation = iota
	// Dominates means the receiver dominates the argument.
	Dominates
	// Dominated means the argument dominates the receiver.
	Dominated
	// Concurrent means neither dominates (divergent history).
	Concurrent
)

// Clone returns a deep copy of c.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}

	return out
}

// Increment returns a copy of c with deviceID's counter incremented by one.
func (c Clock) Increment(deviceID string) Clock {
	out := c.Clone()
	out[deviceID] = out[deviceID] + 1

	return out
}

// Compare implements the dominance rule from spec.md §3: A dominates B iff
// for every key, A[k] >= B[k] and at least one is strictly greater; equal on
// every key is Identical; otherwise Concurrent.
func (c Clock) Compare(other Clock) Relation {
	cGreater, cLess := false, false

	keys := make(map[string]struct{}, len(c)+len(other))
	for k := range c {
		keys[k] = struct{}{}
	}

	for k := range other {
		keys[k] = struct{}{}
	}

	for k := range keys {
		a, b := c[k], other[k]

		switch {
		case a > b:
			cGreater = true
		case a < b:
			cLess = true
		}
	}

	switch {
	case !cGreater && !cLess:
		return Identical
	case cGreater && !cLess:
		return Dominates
	case cLess && !cGreater:
		return Dominated
	default:
		return Concurrent
	}
}

// Merge returns the component-wise maximum of a and b — the standard
// CRDT join used when accepting a dominant or concurrent remote clock.
func Merge(a, b Clock) Clock {
	out := a.Clone()

	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}

	return out
}
