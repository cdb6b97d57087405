// Package sender implements the reader-facing half of a match: accepting
// reader connections, writing the header, then streaming delayed bytes
// until the delayed stream ends. Grounded on
// original_source/replayserver/send/sender.py's Sender (conn_count
// bookkeeping via a connection-count scope, the background
// wait_for_ended/_check_ended pairing, and close()'s fire-a-flag shape).
package sender

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/odin-relay/replay-relay/internal/latch"
	"github.com/odin-relay/replay-relay/internal/metricsink"
	"github.com/odin-relay/replay-relay/internal/replayerr"
	"github.com/odin-relay/replay-relay/internal/stream"
	"github.com/odin-relay/replay-relay/internal/transport"
)

// Sender accepts reader connections for one match and streams the delayed
// canonical bytes to each until the delayed stream ends.
type Sender struct {
	delayed    *stream.DelayedStream
	maxReaders int
	sink       metricsink.Sink
	logger     zerolog.Logger

	mu        sync.Mutex
	connCount int
	closed    *latch.Latch
	ended     *latch.Latch

	stopStreamEndCheck context.CancelFunc
}

// New builds a Sender draining delayed. maxReaders caps how many readers may
// be attached at once; zero means unlimited. It immediately starts a
// background watch that ends the Sender once the delayed stream ends with
// zero attached readers, mirroring the source's _stream_end_check task.
func New(delayed *stream.DelayedStream, maxReaders int, sink metricsink.Sink, logger zerolog.Logger) *Sender {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sender{
		delayed:            delayed,
		maxReaders:         maxReaders,
		sink:               sink,
		logger:             logger,
		closed:             latch.New(),
		ended:              latch.New(),
		stopStreamEndCheck: cancel,
	}

	go func() {
		select {
		case <-delayed.Ended():
			s.checkEnded()
		case <-ctx.Done():
		}
	}()

	return s
}

// AcceptsConnections reports whether a new reader may currently attach.
func (s *Sender) AcceptsConnections() bool {
	return !s.delayed.IsEnded() && !s.closed.IsSet()
}

// HandleConnection drains the delayed stream to conn: writes the header,
// then loops writing delayed data until the stream ends, the connection
// errors, or Close is called. Per-connection failures are returned but
// never affect other readers or the Sender itself.
//
// Close is observed at the next suspension point rather than aborting the
// connection synchronously: a derived context is cancelled as soon as
// Close fires, which unblocks whichever delayed-stream wait is currently
// in flight.
func (s *Sender) HandleConnection(ctx context.Context, conn transport.Connection) error {
	done := metricsink.Track(s.sink.ActiveConnections(metricsink.CategoryReader))
	defer done()

	if !s.tryAcquireSlot() {
		s.sink.ConnectionServed(metricsink.ResultCannotAccept)
		return replayerr.CannotAcceptConnection
	}
	defer s.decConnCount()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed.Done():
			cancel()
		case <-connCtx.Done():
		}
	}()

	if err := s.writeHeader(connCtx, conn); err != nil {
		if s.closed.IsSet() {
			s.sink.ConnectionServed(metricsink.ResultOK)
			return nil
		}
		s.sink.ConnectionServed(metricsink.ResultMalformedData)
		return err
	}

	if err := s.writeReplay(connCtx, conn); err != nil {
		if s.closed.IsSet() {
			s.sink.ConnectionServed(metricsink.ResultOK)
			return nil
		}
		s.sink.ConnectionServed(metricsink.ResultConnectionErr)
		return err
	}

	s.sink.ConnectionServed(metricsink.ResultOK)
	return nil
}

func (s *Sender) writeHeader(ctx context.Context, conn transport.Connection) error {
	h, ok := s.delayed.WaitForHeader(ctx)
	if !ok || h == nil {
		return replayerr.MalformedData
	}
	return conn.Write(ctx, h.Raw)
}

func (s *Sender) writeReplay(ctx context.Context, conn transport.Connection) error {
	position := 0
	for {
		data, err := s.delayed.WaitForData(ctx, position)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		if err := conn.Write(ctx, data); err != nil {
			return err
		}
		position += len(data)
	}
}

// tryAcquireSlot reserves a reader slot if the Sender is open and under
// maxReaders, returning false (without reserving anything) otherwise.
func (s *Sender) tryAcquireSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.delayed.IsEnded() || s.closed.IsSet() {
		return false
	}
	if s.maxReaders > 0 && s.connCount >= s.maxReaders {
		return false
	}
	s.connCount++
	return true
}

func (s *Sender) decConnCount() {
	s.mu.Lock()
	s.connCount--
	s.mu.Unlock()
	s.checkEnded()
}

// checkEnded signals Ended exactly once conn_count has dropped to zero and
// the delayed stream has ended, cancelling the background watch so it
// cannot fire again.
func (s *Sender) checkEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended.IsSet() {
		return
	}
	if s.connCount == 0 && s.delayed.IsEnded() {
		s.stopStreamEndCheck()
		s.ended.Set()
	}
}

// Close marks the Sender closed: AcceptsConnections starts returning false
// and every in-flight write loop exits at its next delayed-stream
// suspension point rather than continuing to drain. It does not
// synchronously abort a write already in progress.
func (s *Sender) Close() {
	s.closed.Set()
}

// Ended returns a channel closed once conn_count == 0 and the delayed
// stream has ended.
func (s *Sender) Ended() <-chan struct{} {
	return s.ended.Done()
}

// IsEnded reports whether Ended has already fired, without blocking.
func (s *Sender) IsEnded() bool {
	return s.ended.IsSet()
}

// ConnCount returns the current number of attached readers (for tests and
// diagnostics).
func (s *Sender) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connCount
}
