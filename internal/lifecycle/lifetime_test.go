package lifecycle

import (
	"testing"
	"time"
)

func TestNeverEndsOnItsOwnWithNoStreamEverAttached(t *testing.T) {
	l := New(10 * time.Millisecond)

	// Grace only starts counting down on a streamCount 1->0 transition; a
	// Lifetime that never saw a stream attach has nothing to start it, and
	// must stay alive until something external (DisableGracePeriod) forces
	// the issue.
	select {
	case <-l.Ended():
		t.Fatal("expected lifetime to stay alive: no stream was ever attached to start grace")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestStreamAddedCancelsPendingGracePeriod(t *testing.T) {
	l := New(15 * time.Millisecond)
	l.StreamAdded()
	l.StreamRemoved() // grace period now pending
	l.StreamAdded()   // must cancel it

	select {
	case <-l.Ended():
		t.Fatal("expected lifetime to stay alive while a stream is attached")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestStreamRemovedRestartsGracePeriod(t *testing.T) {
	l := New(20 * time.Millisecond)
	l.StreamAdded()
	l.StreamRemoved()

	select {
	case <-l.Ended():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected lifetime to end after grace period once last stream removed")
	}
}

func TestDisableGracePeriodEndsImmediatelyDuringGrace(t *testing.T) {
	l := New(time.Hour) // would never fire on its own within the test window
	l.StreamAdded()
	l.StreamRemoved() // one-hour grace period now pending
	l.DisableGracePeriod()

	select {
	case <-l.Ended():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected DisableGracePeriod to collapse the grace window to zero")
	}
}

func TestDisableGracePeriodIsNoopWithActiveStreams(t *testing.T) {
	l := New(20 * time.Millisecond)
	l.StreamAdded() // New armed no timer, so none is pending now

	l.DisableGracePeriod() // should have no effect: no pending timer to collapse

	select {
	case <-l.Ended():
		t.Fatal("expected lifetime to stay alive: a stream is still attached")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestMultipleStreamsKeepLifetimeAliveUntilLastLeaves(t *testing.T) {
	l := New(15 * time.Millisecond)
	l.StreamAdded()
	l.StreamAdded()
	l.StreamRemoved() // one remains

	select {
	case <-l.Ended():
		t.Fatal("expected lifetime to stay alive with one stream remaining")
	case <-time.After(60 * time.Millisecond):
	}

	l.StreamRemoved() // none remain now

	select {
	case <-l.Ended():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected lifetime to end after the last stream was removed")
	}
}

func TestDisableGracePeriodIsIdempotent(t *testing.T) {
	l := New(20 * time.Millisecond)
	l.DisableGracePeriod()
	l.DisableGracePeriod() // must not panic or double-fire

	select {
	case <-l.Ended():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected lifetime to end")
	}
	if !l.IsEnded() {
		t.Fatal("expected IsEnded to report true after Ended fires")
	}
}
