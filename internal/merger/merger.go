// Package merger implements the multi-writer reconciliation engine: each
// writer connection gets its own read goroutine accumulating into a
// writerView, and the canonical stream always adopts the longest prefix any
// writer has produced so far. Grounded on
// original_source/replayserver/replaymerger.py's ReplayMerger (stream_added/
// stream_removed bookkeeping, the on_new_data reconciliation policy, and
// close()'s disable-grace-then-close-all-then-wait shape).
package merger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/odin-relay/replay-relay/internal/header"
	"github.com/odin-relay/replay-relay/internal/lifecycle"
	"github.com/odin-relay/replay-relay/internal/metricsink"
	"github.com/odin-relay/replay-relay/internal/replayerr"
	"github.com/odin-relay/replay-relay/internal/stream"
	"github.com/odin-relay/replay-relay/internal/transport"
)

// Config controls header parsing limits and writer capacity.
type Config struct {
	ReadChunkSize  int
	HeaderMaxBytes int
	MaxWriters     int // zero means unlimited
}

// Merger accepts writer connections for one match, reconciling their
// independent byte streams into a single canonical ReplayStream.
type Merger struct {
	canonical *stream.ReplayStream
	lifetime  *lifecycle.Lifetime
	cfg       Config
	sink      metricsink.Sink
	logger    zerolog.Logger

	mu    sync.Mutex
	conns map[*writerView]transport.Connection

	// reconcileMu serializes the read-compare-append across concurrent
	// writer goroutines: Len/Slice/Append on *stream.ReplayStream are each
	// individually locked, but the "longest prefix wins" policy needs all
	// three held together as one operation, or two writers racing to
	// extend the same stale canonical length both append and double the
	// canonical stream's bytes.
	reconcileMu sync.Mutex
}

// New builds a Merger over canonical, driven by lifetime. Grace only starts
// counting down once a writer has attached and detached; a match that never
// sees a writer relies on an external close (e.g. Replay's per-match
// timeout) to end it.
func New(canonical *stream.ReplayStream, lifetime *lifecycle.Lifetime, cfg Config, sink metricsink.Sink, logger zerolog.Logger) *Merger {
	m := &Merger{
		canonical: canonical,
		lifetime:  lifetime,
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		conns:     make(map[*writerView]transport.Connection),
	}

	go func() {
		<-lifetime.Ended()
		canonical.End()
	}()

	return m
}

// AddWriter registers conn as a writer for this match. Registration with the
// lifetime happens synchronously here, before any goroutine is spawned,
// matching add_writer's synchronous stream_added() call in the source: a
// writer whose header takes a while to arrive must still hold the canonical
// stream open in the meantime, not race it sealing underneath. Header
// parsing and the read loop run in a background goroutine.
func (m *Merger) AddWriter(ctx context.Context, conn transport.Connection) error {
	if m.canonical.IsEnded() {
		return replayerr.StreamEnded
	}

	wv := newWriterView()

	m.mu.Lock()
	if m.cfg.MaxWriters > 0 && len(m.conns) >= m.cfg.MaxWriters {
		m.mu.Unlock()
		return replayerr.CannotAcceptConnection
	}
	m.conns[wv] = conn
	m.mu.Unlock()

	m.lifetime.StreamAdded()

	go m.runWriter(ctx, wv, conn)
	return nil
}

func (m *Merger) runWriter(ctx context.Context, wv *writerView, conn transport.Connection) {
	done := metricsink.Track(m.sink.ActiveConnections(metricsink.CategoryWriter))
	defer done()
	defer func() {
		m.unregister(wv)
		m.lifetime.StreamRemoved()
		_ = conn.Close()
	}()

	h, leftover, err := header.Parse(ctx, conn, m.cfg.ReadChunkSize, m.cfg.HeaderMaxBytes)
	if err != nil {
		m.logger.Warn().Err(err).Msg("writer header parse failed")
		m.sink.ConnectionServed(metricsink.ResultMalformedData)
		return
	}

	// First successfully-parsed header wins; later writers still had to
	// parse theirs (to land on the correct body offset) but their header
	// bytes are discarded here.
	m.canonical.SetHeader(h)

	wv.Append(leftover)
	m.reconcile(wv)

	for {
		data, err := conn.Read(ctx, m.cfg.ReadChunkSize)
		if err != nil {
			m.logger.Debug().Err(err).Msg("writer connection error")
			m.sink.ConnectionServed(metricsink.ResultConnectionErr)
			return
		}
		if data == nil {
			m.sink.ConnectionServed(metricsink.ResultOK)
			return
		}
		wv.Append(data)
		m.reconcile(wv)
	}
}

// reconcile applies the "longest prefix wins" policy: if this writer is
// ahead of the canonical stream, the canonical stream adopts its new bytes.
// reconcileMu holds the read-compare-append together as one operation;
// without it, two writer goroutines can both read the same stale canonical
// length and both append, duplicating bytes into the canonical stream.
func (m *Merger) reconcile(wv *writerView) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	canonicalLen := m.canonical.Len()
	writerPos := wv.Position()
	if writerPos <= canonicalLen {
		return
	}
	m.canonical.Append(wv.Slice(canonicalLen, writerPos))
}

func (m *Merger) unregister(wv *writerView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, wv)
}

// Close forces the merger toward Ended: it disables the grace period (so a
// currently-pending grace window collapses to zero) and closes every
// attached writer connection, whose read loops will then see EOF or an
// error and unregister themselves. It blocks until Ended fires.
func (m *Merger) Close() {
	m.lifetime.DisableGracePeriod()

	m.mu.Lock()
	conns := make([]transport.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	<-m.canonical.Ended()
}

// Ended returns a channel closed once the canonical stream has sealed.
func (m *Merger) Ended() <-chan struct{} {
	return m.canonical.Ended()
}

// String aids debugging/logging.
func (m *Merger) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("Merger{writers=%d}", len(m.conns))
}
