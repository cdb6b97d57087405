// Package bookkeeper defines the Bookkeeper contract (spec §6): what a
// Replay calls once its canonical stream has ended to hand the finished
// replay off for persistence. Actual DB/file storage stays external per
// Non-goals; this package ships a no-op reference implementation and a
// NATS-backed notifier for the one piece of bookkeeping plumbing that
// belongs to the core itself: announcing that a save completed.
package bookkeeper

import (
	"context"

	"github.com/odin-relay/replay-relay/internal/stream"
)

// Bookkeeper persists (or otherwise disposes of) a finished canonical
// replay stream. Implementations must not block the caller past what
// actually saving the replay requires; a slow or failing Bookkeeper never
// prevents the Sender from draining the same stream, since the two are
// independent per spec §4.6.
type Bookkeeper interface {
	SaveReplay(ctx context.Context, matchID string, canonical *stream.ReplayStream) error
}

// Noop discards every replay. Useful as a default when no persistence
// backend is configured, or in tests that only care about shutdown
// ordering.
type Noop struct{}

// NewNoop builds a Bookkeeper that always succeeds without doing anything.
func NewNoop() Noop { return Noop{} }

func (Noop) SaveReplay(ctx context.Context, matchID string, canonical *stream.ReplayStream) error {
	return nil
}
