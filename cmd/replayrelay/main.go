// Command replayrelay is the thin TCP dispatcher: it accepts connections,
// parses the replay handshake, looks up or creates the Replay for that
// match, and hands the connection off. All of the actual engineering lives
// in internal/; this file's shape mirrors the teacher's cmd/single/main.go
// (automaxprocs, env-driven config, a background accept loop, signal-driven
// graceful shutdown).
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/odin-relay/replay-relay/internal/bookkeeper"
	"github.com/odin-relay/replay-relay/internal/config"
	"github.com/odin-relay/replay-relay/internal/lifecycle"
	"github.com/odin-relay/replay-relay/internal/limits"
	"github.com/odin-relay/replay-relay/internal/logging"
	"github.com/odin-relay/replay-relay/internal/merger"
	"github.com/odin-relay/replay-relay/internal/metricsink"
	"github.com/odin-relay/replay-relay/internal/replay"
	"github.com/odin-relay/replay-relay/internal/sender"
	"github.com/odin-relay/replay-relay/internal/stream"
	"github.com/odin-relay/replay-relay/internal/transport"
)

func main() {
	logger := logging.New(logging.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogFields(logger)

	sink := metricsink.NewPrometheus()
	guard := limits.New(limits.Config{
		MaxWriterConnectsPerSec: cfg.MaxWriterConnectsPerSec,
		MaxReaderConnectsPerSec: cfg.MaxReaderConnectsPerSec,
		CPURejectThreshold:      cfg.CPURejectThreshold,
		MemoryLimitBytes:        cfg.MemoryLimitBytes,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	guard.StartMonitoring(ctx, 5*time.Second)

	var bk bookkeeper.Bookkeeper = bookkeeper.NewNoop()
	if cfg.BookkeeperOn && cfg.NATSUrl != "" {
		notifier, err := bookkeeper.NewNATSNotifier(cfg.NATSUrl, cfg.NATSSubject, bookkeeper.NewNoop(), logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect bookkeeper to nats, falling back to no-op")
		} else {
			bk = notifier
			defer notifier.Close()
		}
	}

	registry := newReplayRegistry(cfg, sink, bk, logger)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: sink.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Addr).Msg("failed to listen")
	}
	logger.Info().Str("addr", cfg.Addr).Msg("replay-relay listening")

	go acceptLoop(listener, registry, guard, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	_ = listener.Close()
	_ = metricsServer.Close()
	registry.closeAll()
}

func acceptLoop(listener net.Listener, registry *replayRegistry, guard *limits.Guard, logger zerolog.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Info().Err(err).Msg("accept loop stopped")
			return
		}
		go handleSocket(conn, registry, guard, logger)
	}
}

func handleSocket(conn net.Conn, registry *replayRegistry, guard *limits.Guard, logger zerolog.Logger) {
	header, reader, err := transport.ParseHandshake(conn)
	if err != nil {
		logger.Debug().Err(err).Msg("handshake failed")
		_ = conn.Close()
		return
	}

	if header.Type == transport.ConnTypeWriter && !guard.AllowWriterConnect() {
		_ = conn.Close()
		return
	}
	if header.Type == transport.ConnTypeReader && !guard.AllowReaderConnect() {
		_ = conn.Close()
		return
	}
	if accept, reason := guard.ShouldAcceptConnection(); !accept {
		logger.Warn().Str("reason", reason).Msg("rejecting connection under load")
		_ = conn.Close()
		return
	}

	tc := transport.NewTCPConnectionWithReader(conn, header, reader)
	r := registry.get(header.MatchID)

	if err := r.HandleConnection(context.Background(), tc); err != nil {
		logger.Debug().Err(err).Str("match_id", header.MatchID).Str("type", header.Type.String()).Msg("connection ended with error")
	}
}

// replayRegistry looks up or lazily creates the Replay for a match id.
type replayRegistry struct {
	cfg    *config.Config
	sink   metricsink.Sink
	bk     bookkeeper.Bookkeeper
	logger zerolog.Logger

	mu      sync.Mutex
	replays map[string]*replay.Replay
}

func newReplayRegistry(cfg *config.Config, sink metricsink.Sink, bk bookkeeper.Bookkeeper, logger zerolog.Logger) *replayRegistry {
	return &replayRegistry{
		cfg:     cfg,
		sink:    sink,
		bk:      bk,
		logger:  logger,
		replays: make(map[string]*replay.Replay),
	}
}

func (r *replayRegistry) get(matchID string) *replay.Replay {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.replays[matchID]; ok && !existing.IsEnded() {
		return existing
	}

	canonical := stream.New()
	lifetime := lifecycle.New(r.cfg.GracePeriod)

	m := merger.New(canonical, lifetime, merger.Config{
		ReadChunkSize:  4096,
		HeaderMaxBytes: r.cfg.HeaderMaxBytes,
		MaxWriters:     r.cfg.MaxWritersPerMatch,
	}, r.sink, r.logger)

	delayed := stream.NewDelayed(canonical, time.Duration(r.cfg.DelaySeconds)*time.Second, r.cfg.DelayTickSize, nil)
	delayCtx, cancel := context.WithCancel(context.Background())
	go delayed.Run(delayCtx)

	s := sender.New(delayed, r.cfg.MaxReadersPerMatch, r.sink, r.logger)

	rp := replay.New(m, s, r.bk, canonical, r.cfg.MatchTimeout, matchID, r.sink, r.logger)

	go func() {
		<-rp.Ended()
		cancel()
		r.mu.Lock()
		if r.replays[matchID] == rp {
			delete(r.replays, matchID)
		}
		r.mu.Unlock()
	}()

	r.replays[matchID] = rp
	return rp
}

func (r *replayRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rp := range r.replays {
		rp.Close()
	}
}
