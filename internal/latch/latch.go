// Package latch provides a one-shot broadcast signal: once set, every
// current and future waiter observes it immediately.
package latch

import "sync"

// Latch is a one-shot event. Set is idempotent; Wait and Done never block
// once Set has been called, no matter how many goroutines call them or in
// what order relative to Set.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// New returns a ready-to-use Latch.
func New() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set latches the signal. Safe to call multiple times or concurrently;
// only the first call has any effect.
func (l *Latch) Set() {
	l.once.Do(func() { close(l.ch) })
}

// IsSet reports whether Set has been called, without blocking.
func (l *Latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once Set has been called.
// Safe to select on alongside other channels or a context.Done().
func (l *Latch) Done() <-chan struct{} {
	return l.ch
}

// Wait blocks until Set has been called.
func (l *Latch) Wait() {
	<-l.ch
}
