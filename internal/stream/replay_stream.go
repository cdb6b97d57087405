// Package stream implements the canonical per-match byte stream and the
// time-shifted view readers actually drain from. Grounded on spec §3/§4.4;
// the original Python implementation left ReplayStream largely implicit
// inside ReplayMerger, so this package's shape follows the teacher's
// preference for a small, explicitly-synchronized state struct (its
// internal/shared.Client pattern) generalized to this domain.
package stream

import (
	"sync"

	"github.com/odin-relay/replay-relay/internal/header"
	"github.com/odin-relay/replay-relay/internal/latch"
)

// ReplayStream is the single merged byte sequence for one match: a header
// installed at most once, an append-only data buffer, and a one-shot ended
// signal. Once ended, neither header nor data change again.
type ReplayStream struct {
	mu     sync.RWMutex
	header *header.ReplayHeader
	data   []byte

	headerSet *latch.Latch
	ended     *latch.Latch
}

// New returns an empty ReplayStream ready to receive a header and data.
func New() *ReplayStream {
	return &ReplayStream{
		headerSet: latch.New(),
		ended:     latch.New(),
	}
}

// SetHeader installs the header if none is set yet and the stream has not
// ended. Returns false if the header was already set (callers should
// discard the header bytes of subsequent writers, per the merger's "first
// writer wins the header" rule) or the stream already ended.
func (s *ReplayStream) SetHeader(h *header.ReplayHeader) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.header != nil || s.headerSet.IsSet() || s.ended.IsSet() {
		return false
	}
	s.header = h
	s.headerSet.Set()
	return true
}

// Header returns the installed header, if any.
func (s *ReplayStream) Header() (*header.ReplayHeader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header, s.header != nil
}

// HeaderSet returns a channel closed once SetHeader has succeeded.
func (s *ReplayStream) HeaderSet() <-chan struct{} {
	return s.headerSet.Done()
}

// Append grows the canonical data buffer. A no-op once the stream has
// ended.
func (s *ReplayStream) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended.IsSet() {
		return
	}
	s.data = append(s.data, b...)
}

// Len returns the current canonical data length.
func (s *ReplayStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Slice returns a copy of data[start:end]. end is clamped to the current
// length.
func (s *ReplayStream) Slice(start, end int) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if end > len(s.data) {
		end = len(s.data)
	}
	if start >= end {
		return nil
	}
	out := make([]byte, end-start)
	copy(out, s.data[start:end])
	return out
}

// End seals the stream: header and data become immutable from this point
// on. Idempotent.
func (s *ReplayStream) End() {
	s.ended.Set()
}

// Ended returns a channel closed once the stream has ended.
func (s *ReplayStream) Ended() <-chan struct{} {
	return s.ended.Done()
}

// IsEnded reports whether End has been called, without blocking.
func (s *ReplayStream) IsEnded() bool {
	return s.ended.IsSet()
}
