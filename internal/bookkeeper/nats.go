package bookkeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/odin-relay/replay-relay/internal/stream"
)

// NATSNotifier wraps another Bookkeeper and publishes a "replay saved"
// event to subject "<prefix>.<matchID>" once the wrapped save succeeds.
// Grounded on go-server-2/server.go's nats.Connect(MaxReconnects,
// ReconnectWait) dial pattern, adapted from that file's Subscribe use to
// Publish here.
type NATSNotifier struct {
	inner  Bookkeeper
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSNotifier dials url and wraps inner. Publish failures are logged
// and otherwise ignored: a missed notification never turns a successful
// save into a reported failure.
func NewNATSNotifier(url, subjectPrefix string, inner Bookkeeper, logger zerolog.Logger) (*NATSNotifier, error) {
	nc, err := nats.Connect(url, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSNotifier{inner: inner, nc: nc, prefix: subjectPrefix, logger: logger}, nil
}

func (n *NATSNotifier) SaveReplay(ctx context.Context, matchID string, canonical *stream.ReplayStream) error {
	if err := n.inner.SaveReplay(ctx, matchID, canonical); err != nil {
		return err
	}

	subject := fmt.Sprintf("%s.%s", n.prefix, matchID)
	if err := n.nc.Publish(subject, []byte(matchID)); err != nil {
		n.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish replay saved notification")
	}
	return nil
}

// Close closes the underlying NATS connection.
func (n *NATSNotifier) Close() {
	n.nc.Close()
}
