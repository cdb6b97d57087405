// Package lifecycle implements the grace-period state machine that decides
// when a match's canonical stream is done accepting writers. Grounded
// bit-exact on original_source/replayserver/replaymerger.py's
// ReplayStreamLifetime: a writer-count gate plus a cancellable timer.
package lifecycle

import (
	"sync"
	"time"

	"github.com/odin-relay/replay-relay/internal/latch"
)

// DefaultGracePeriod is the window a canonical stream stays alive with zero
// attached writers, absorbing transient reconnects before ending for good.
const DefaultGracePeriod = 30 * time.Second

// Lifetime tracks how many writer streams are attached to a match and fires
// its Ended signal once they have all gone for a full grace period — or
// immediately, once DisableGracePeriod has collapsed that window to zero.
type Lifetime struct {
	mu           sync.Mutex
	streamCount  int
	graceEnabled bool
	gracePeriod  time.Duration
	timer        *time.Timer
	ended        *latch.Latch
}

// New builds a Lifetime with zero attached streams. Grace only starts
// counting down once a writer has attached and then detached (the
// streamCount 1→0 transition) — matching ReplayStreamLifetime.__init__,
// which arms no timer either; a match that never sees a writer relies on
// the per-match timeout elsewhere (Replay) to end, not on this grace
// window.
func New(gracePeriod time.Duration) *Lifetime {
	return &Lifetime{
		gracePeriod:  gracePeriod,
		graceEnabled: true,
		ended:        latch.New(),
	}
}

// StreamAdded registers a newly attached writer, cancelling any pending
// grace-period timeout.
func (l *Lifetime) StreamAdded() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.streamCount++
	l.cancelGracePeriodLocked()
}

// StreamRemoved unregisters a writer. If it was the last one, the grace
// period starts counting down again.
func (l *Lifetime) StreamRemoved() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.streamCount--
	if l.streamCount == 0 {
		l.startGracePeriodLocked()
	}
}

// DisableGracePeriod collapses any pending grace window to zero so Ended
// fires at the next scheduling opportunity, and is a no-op while writers
// are still attached (streamCount > 0): the timer isn't pending in that
// state, and StreamRemoved will honor the disabled grace period once the
// last one detaches. The one case that isn't a plain cancel-and-restart is
// a Lifetime with zero streams that has never seen a 1->0 transition (so
// no timer was ever armed) — without special-casing it here, disabling
// grace would have nothing to collapse and Ended would never fire.
// Idempotent either way.
func (l *Lifetime) DisableGracePeriod() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.graceEnabled = false
	if l.timer != nil {
		l.cancelGracePeriodLocked()
		l.startGracePeriodLocked()
	} else if l.streamCount == 0 {
		l.startGracePeriodLocked()
	}
}

func (l *Lifetime) cancelGracePeriodLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Lifetime) startGracePeriodLocked() {
	if l.timer != nil {
		return
	}

	delay := l.gracePeriod
	if !l.graceEnabled {
		delay = 0
	}
	l.timer = time.AfterFunc(delay, l.ended.Set)
}

// Ended returns a channel closed once the grace period has elapsed with no
// writers attached.
func (l *Lifetime) Ended() <-chan struct{} {
	return l.ended.Done()
}

// IsEnded reports whether Ended has already fired, without blocking.
func (l *Lifetime) IsEnded() bool {
	return l.ended.IsSet()
}

// Wait blocks until Ended fires.
func (l *Lifetime) Wait() {
	l.ended.Wait()
}
