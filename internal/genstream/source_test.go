package genstream

import (
	"context"
	"errors"
	"testing"
)

// chunkReader feeds a fixed sequence of chunks to Source.Read, one per call,
// then behaves as EOF. A chunk longer than n is handed out n bytes at a
// time, its remainder kept for the next call.
type chunkReader struct {
	chunks [][]byte
	idx    int
}

func (r *chunkReader) Read(ctx context.Context, n int) ([]byte, error) {
	if r.idx >= len(r.chunks) {
		return nil, nil
	}
	c := r.chunks[r.idx]
	if len(c) > n {
		r.chunks[r.idx] = c[n:]
		return c[:n], nil
	}
	r.idx++
	return c, nil
}

func TestReadExactlyAcrossChunkBoundary(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")}}
	s := New(r, 2, 1024)
	ctx := context.Background()

	got, err := s.ReadExactly(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "abcde" {
		t.Fatalf("expected %q, got %q", "abcde", got)
	}

	rest, err := s.ReadExactly(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(rest) != "f" {
		t.Fatalf("expected %q, got %q", "f", rest)
	}
}

func TestReadUntilFindsDelimiterAcrossChunks(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{[]byte("hel"), []byte("lo\x00wor"), []byte("ld")}}
	s := New(r, 3, 1024)
	ctx := context.Background()

	got, err := s.ReadUntil(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello\x00" {
		t.Fatalf("expected %q, got %q", "hello\x00", got)
	}

	leftover, err := s.ReadExactly(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(leftover) != "world" {
		t.Fatalf("expected %q, got %q", "world", leftover)
	}
}

func TestReadExactlyPrematureEOF(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{[]byte("ab")}}
	s := New(r, 2, 1024)

	_, err := s.ReadExactly(context.Background(), 10)
	if !errors.Is(err, ErrPrematureEOF) {
		t.Fatalf("expected ErrPrematureEOF, got %v", err)
	}
}

func TestReadExactlyEnforcesMaxLen(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{[]byte("abcdefgh")}}
	s := New(r, 8, 4)

	_, err := s.ReadExactly(context.Background(), 8)
	var tooLarge *ErrTooLarge
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestLeftoverReturnsUnconsumedBytes(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{[]byte("abcdef")}}
	s := New(r, 6, 1024)
	ctx := context.Background()

	if _, err := s.ReadExactly(ctx, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(s.Leftover()); got != "def" {
		t.Fatalf("expected leftover %q, got %q", "def", got)
	}
}
