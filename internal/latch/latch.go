// Package latch provides a one-bit mailbox between asynchronous producers
// (GPIO edge handlers, signal handlers, bus callbacks) and the control loop.
package latch

import "sync/atomic"

// Latch records that something happened at least once since it was last
// consumed. Record and ConsumeAndClear never block each other.
//
// Multiple Record calls between two consumptions are observed as a single
// true value.
type Latch struct {
	pending atomic.Bool
}

// Record sets the pending flag. Safe to call from any goroutine.
func (l *Latch) Record() {
	l.pending.Store(true)
}

// ConsumeAndClear reports whether Record was called since the previous
// consumption and resets the flag.
func (l *Latch) ConsumeAndClear() bool {
	return l.pending.Swap(false)
}
