// Package genstream implements the chunked pull-style byte source the
// header parser decodes from. It is the Go expression of
// GeneratorData/read_exactly/read_until from the original Python
// implementation's coroutine-based parser: instead of a generator that
// yields a byte count and resumes when fed more data, Source pulls fixed-size
// chunks from a transport.Connection on demand and keeps every byte it has
// read (consumed bytes stay available through Consumed), enforcing an
// overall size cap as it goes.
package genstream

import (
	"context"
	"fmt"
)

// reader is the minimal pull contract Source needs from a connection: read
// up to n bytes, or return (nil, nil) at a clean EOF.
type reader interface {
	Read(ctx context.Context, n int) ([]byte, error)
}

// ErrTooLarge is returned once the cumulative bytes read would exceed the
// Source's configured max length.
type ErrTooLarge struct {
	MaxLen int
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("exceeded maximum length of %d bytes", e.MaxLen)
}

// ErrPrematureEOF is returned when the underlying connection reaches EOF
// before a decode step's byte requirement is satisfied.
var ErrPrematureEOF = fmt.Errorf("stream ended prematurely")

// Source pulls bytes from a reader on demand and buffers everything read so
// far, both the bytes already consumed by decode steps and those not yet
// consumed, up to maxLen total bytes ever read from the underlying
// connection.
type Source struct {
	src        reader
	chunkSize  int
	maxLen     int
	buf        []byte
	totalRead  int
	consumedAt int
}

// New builds a Source that pulls chunkSize bytes at a time from src, never
// reading more than maxLen bytes in total.
func New(src reader, chunkSize, maxLen int) *Source {
	return &Source{src: src, chunkSize: chunkSize, maxLen: maxLen}
}

// fill pulls chunks until at least n unconsumed bytes are buffered, or
// returns an error if EOF or the size cap is hit first.
func (s *Source) fill(ctx context.Context, n int) error {
	for len(s.buf)-s.consumedAt < n {
		if s.totalRead >= s.maxLen {
			return &ErrTooLarge{MaxLen: s.maxLen}
		}

		want := s.chunkSize
		if remaining := s.maxLen - s.totalRead; remaining < want {
			want = remaining
		}

		chunk, err := s.src.Read(ctx, want)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return ErrPrematureEOF
		}

		s.totalRead += len(chunk)
		s.buf = append(s.buf, chunk...)
	}
	return nil
}

// ReadExactly returns exactly n bytes, pulling more chunks as needed.
func (s *Source) ReadExactly(ctx context.Context, n int) ([]byte, error) {
	if err := s.fill(ctx, n); err != nil {
		return nil, err
	}
	out := s.buf[s.consumedAt : s.consumedAt+n]
	s.consumedAt += n
	return out, nil
}

// ReadUntil returns all bytes up to and including the first occurrence of
// delim, pulling more chunks as needed. The returned slice includes delim.
func (s *Source) ReadUntil(ctx context.Context, delim byte) ([]byte, error) {
	scanFrom := s.consumedAt
	for {
		if idx := indexByte(s.buf[scanFrom:], delim); idx >= 0 {
			end := scanFrom + idx + 1
			out := s.buf[s.consumedAt:end]
			s.consumedAt = end
			return out, nil
		}
		scanFrom = len(s.buf)

		if s.totalRead >= s.maxLen {
			return nil, &ErrTooLarge{MaxLen: s.maxLen}
		}

		want := s.chunkSize
		if remaining := s.maxLen - s.totalRead; remaining < want {
			want = remaining
		}
		chunk, err := s.src.Read(ctx, want)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, ErrPrematureEOF
		}
		s.totalRead += len(chunk)
		s.buf = append(s.buf, chunk...)
	}
}

// Leftover returns bytes that were buffered but not yet consumed by a decode
// step — the start of whatever comes after the header.
func (s *Source) Leftover() []byte {
	return s.buf[s.consumedAt:]
}

// Consumed returns every byte handed out by ReadExactly/ReadUntil so far, in
// order — the exact bytes of whatever structure was just decoded.
func (s *Source) Consumed() []byte {
	return s.buf[:s.consumedAt]
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
