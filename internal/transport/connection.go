// Package transport defines the Connection contract the core consumes and a
// net.Conn-backed adapter for it. TCP accept and the connection-type/UID
// handshake that produces a ConnectionHeader live outside the core (spec
// §1's "deliberately out of scope" list); this package only carries the
// shape of that boundary plus a concrete reference implementation, mirroring
// how the teacher's internal/shared.Client wraps a raw net.Conn.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ConnType distinguishes a writer (the authoritative game client streaming a
// match) from a reader (a spectator or delayed viewer).
type ConnType int

const (
	ConnTypeUnknown ConnType = iota
	ConnTypeWriter
	ConnTypeReader
)

func (t ConnType) String() string {
	switch t {
	case ConnTypeWriter:
		return "writer"
	case ConnTypeReader:
		return "reader"
	default:
		return "unknown"
	}
}

// ConnectionHeader is the result of the handshake performed before a
// Connection is handed to the core: which match it belongs to, whether it is
// a writer or reader, and the identity of the connecting peer.
type ConnectionHeader struct {
	MatchID string
	Type    ConnType
	UID     uint64
}

// Connection is every I/O operation the core needs from a client socket.
// Read(ctx, n) returns up to n bytes, fewer at EOF, and (nil, nil) exactly at
// EOF with no error — callers distinguish "stream ended cleanly" from a
// transport failure this way, matching the pull-style contract
// genstream.Source reads from.
type Connection interface {
	Read(ctx context.Context, n int) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
	Header() ConnectionHeader
}

// TCPConnection adapts a net.Conn plus its already-parsed ConnectionHeader
// to the Connection interface. Deadlines are derived from the passed
// context rather than a fixed read/write timeout, so callers control
// backpressure explicitly.
type TCPConnection struct {
	conn   net.Conn
	reader *bufio.Reader
	header ConnectionHeader
}

// NewTCPConnection wraps an already-accepted, already-handshaken socket.
func NewTCPConnection(conn net.Conn, header ConnectionHeader) *TCPConnection {
	return &TCPConnection{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
		header: header,
	}
}

func (c *TCPConnection) Header() ConnectionHeader { return c.header }

func (c *TCPConnection) Read(ctx context.Context, n int) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, n)
	read, err := c.reader.Read(buf)
	if read > 0 {
		return buf[:read], nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read from %s connection: %w", c.header.Type, err)
	}
	return nil, nil
}

func (c *TCPConnection) Write(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}

	for written := 0; written < len(data); {
		n, err := c.conn.Write(data[written:])
		written += n
		if err != nil {
			return fmt.Errorf("write to %s connection: %w", c.header.Type, err)
		}
	}
	return nil
}

func (c *TCPConnection) Close() error {
	return c.conn.Close()
}
