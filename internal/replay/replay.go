// Package replay composes one match's Merger, Sender, and Bookkeeper into
// the single object a dispatcher hands connections to. Grounded on
// original_source/tests/unit_tests/server/test_replay.py, the only
// surviving trace of replayserver/server/replay.py: it pins the
// close-on-timeout, close-is-idempotent, connection-type dispatch, and
// (most load-bearing) the bookkeeping-runs-strictly-between-merger-ended-
// and-sender-ended event order.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/odin-relay/replay-relay/internal/bookkeeper"
	"github.com/odin-relay/replay-relay/internal/latch"
	"github.com/odin-relay/replay-relay/internal/metricsink"
	"github.com/odin-relay/replay-relay/internal/replayerr"
	"github.com/odin-relay/replay-relay/internal/stream"
	"github.com/odin-relay/replay-relay/internal/transport"
)

// Merger is the subset of *merger.Merger a Replay depends on.
type Merger interface {
	AddWriter(ctx context.Context, conn transport.Connection) error
	Close()
	Ended() <-chan struct{}
}

// Sender is the subset of *sender.Sender a Replay depends on.
type Sender interface {
	HandleConnection(ctx context.Context, conn transport.Connection) error
	Close()
	Ended() <-chan struct{}
}

// Replay is one match's lifetime: it dispatches incoming connections to
// its Merger or Sender by type, enforces a per-match timeout, and runs
// bookkeeping exactly once the canonical stream has stopped growing.
type Replay struct {
	merger     Merger
	sender     Sender
	bookkeeper bookkeeper.Bookkeeper
	canonical  *stream.ReplayStream
	matchID    string
	sink       metricsink.Sink
	logger     zerolog.Logger

	closeOnce sync.Once
	timer     *time.Timer
	ended     *latch.Latch
}

// New builds a Replay and starts its shutdown-sequence and timeout
// goroutines. timeout <= 0 disables the per-match timeout.
func New(merger Merger, sender Sender, bk bookkeeper.Bookkeeper, canonical *stream.ReplayStream, timeout time.Duration, matchID string, sink metricsink.Sink, logger zerolog.Logger) *Replay {
	r := &Replay{
		merger:     merger,
		sender:     sender,
		bookkeeper: bk,
		canonical:  canonical,
		matchID:    matchID,
		sink:       sink,
		logger:     logger.With().Str("match_id", matchID).Logger(),
		ended:      latch.New(),
	}

	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, r.Close)
	}

	go r.runShutdownSequence()

	return r
}

// HandleConnection dispatches conn to the Merger or Sender by its
// handshake type. A connection of any other type is rejected without
// reaching either component.
func (r *Replay) HandleConnection(ctx context.Context, conn transport.Connection) error {
	switch conn.Header().Type {
	case transport.ConnTypeWriter:
		return r.merger.AddWriter(ctx, conn)
	case transport.ConnTypeReader:
		return r.sender.HandleConnection(ctx, conn)
	default:
		return replayerr.MalformedData
	}
}

// runShutdownSequence enforces the exact ordering the source pins: merger
// ended, then bookkeeping runs, then (only once bookkeeping has returned)
// the sender is allowed to finish draining. Bookkeeping never waits on the
// sender, and the sender is never closed as a precondition of it.
func (r *Replay) runShutdownSequence() {
	done := metricsink.Track(r.sink.RunningReplays())
	defer done()

	<-r.merger.Ended()

	if err := r.bookkeeper.SaveReplay(context.Background(), r.matchID, r.canonical); err != nil {
		r.logger.Warn().Err(err).Msg("bookkeeping failed")
		r.sink.ReplaySaveFailed()
	} else {
		r.sink.ReplaySaved()
	}

	<-r.sender.Ended()

	r.sink.ReplayFinished()
	r.ended.Set()
}

// Close cancels the per-match timeout (if any) and closes the Merger and
// Sender. Safe to call more than once or concurrently with the timeout
// firing; only the first call has any effect.
func (r *Replay) Close() {
	r.closeOnce.Do(func() {
		if r.timer != nil {
			r.timer.Stop()
		}
		r.merger.Close()
		r.sender.Close()
	})
}

// Ended returns a channel closed once the merger has ended, bookkeeping
// has run, and the sender has ended, in that order.
func (r *Replay) Ended() <-chan struct{} {
	return r.ended.Done()
}

// IsEnded reports whether Ended has already fired, without blocking.
func (r *Replay) IsEnded() bool {
	return r.ended.IsSet()
}
