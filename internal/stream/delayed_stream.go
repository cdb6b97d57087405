package stream

import (
	"context"
	"sync"
	"time"

	"github.com/odin-relay/replay-relay/internal/header"
	"github.com/odin-relay/replay-relay/internal/latch"
)

// DefaultTick is the sampling granularity for stable_position, at the
// "≤ 1 s" bound spec §4.4 requires.
const DefaultTick = 1 * time.Second

type sample struct {
	at     time.Time
	length int
}

// DelayedStream exposes a canonical ReplayStream shifted D seconds into the
// past: readers only ever see bytes that were appended at least delay ago.
// It samples the canonical length on a tick and serves reads from the
// newest sample older than delay, per spec §4.4's sampling strategy.
type DelayedStream struct {
	underlying *ReplayStream
	delay      time.Duration
	tick       time.Duration
	now        func() time.Time

	mu         sync.Mutex
	samples    []sample
	stablePos  int
	notifyCh   chan struct{}
	ended      *latch.Latch
}

// NewDelayed builds a DelayedStream over underlying. now defaults to
// time.Now if nil; tests inject a fake clock to exercise delay behavior
// without sleeping in real time.
func NewDelayed(underlying *ReplayStream, delay, tick time.Duration, now func() time.Time) *DelayedStream {
	if now == nil {
		now = time.Now
	}
	return &DelayedStream{
		underlying: underlying,
		delay:      delay,
		tick:       tick,
		now:        now,
		notifyCh:   make(chan struct{}),
		ended:      latch.New(),
	}
}

// Run samples the canonical stream on every tick until the delay window has
// elapsed past the canonical stream's end, then signals Ended. Intended to
// run in its own goroutine for the lifetime of the match.
func (d *DelayedStream) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	var canonicalEndedAt time.Time
	canonicalEnded := false

	for {
		select {
		case <-ticker.C:
			d.sampleAndAdvance()

			if !canonicalEnded && d.underlying.IsEnded() {
				canonicalEnded = true
				canonicalEndedAt = d.now()
			}
			if canonicalEnded && d.now().Sub(canonicalEndedAt) >= d.delay {
				d.finish()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *DelayedStream) sampleAndAdvance() {
	now := d.now()
	length := d.underlying.Len()

	d.mu.Lock()
	d.samples = append(d.samples, sample{at: now, length: length})

	cutoff := now.Add(-d.delay)
	newStable := d.stablePos
	kept := d.samples[:0]
	for _, s := range d.samples {
		if !s.at.After(cutoff) {
			newStable = s.length
			continue // superseded by a newer-but-still-stale sample
		}
		kept = append(kept, s)
	}
	d.samples = kept
	if newStable > d.stablePos {
		d.stablePos = newStable
	}
	d.notifyLocked()
	d.mu.Unlock()
}

func (d *DelayedStream) finish() {
	d.mu.Lock()
	d.stablePos = d.underlying.Len()
	d.notifyLocked()
	d.mu.Unlock()
	d.ended.Set()
}

func (d *DelayedStream) notifyLocked() {
	close(d.notifyCh)
	d.notifyCh = make(chan struct{})
}

func (d *DelayedStream) currentNotify() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notifyCh
}

// StablePosition returns the current stable length.
func (d *DelayedStream) StablePosition() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stablePos
}

// WaitForHeader suspends until the canonical header is set or the canonical
// stream ends, returning (header, true) or (nil, false) respectively.
func (d *DelayedStream) WaitForHeader(ctx context.Context) (*header.ReplayHeader, bool) {
	select {
	case <-d.underlying.HeaderSet():
		h, ok := d.underlying.Header()
		return h, ok
	case <-d.underlying.Ended():
		h, ok := d.underlying.Header()
		return h, ok
	case <-ctx.Done():
		return nil, false
	}
}

// WaitForData suspends until stable_position > from or the delayed stream
// has ended, then returns data[from:stable_position) — possibly empty if
// the stream ended with nothing new.
func (d *DelayedStream) WaitForData(ctx context.Context, from int) ([]byte, error) {
	for {
		d.mu.Lock()
		pos := d.stablePos
		d.mu.Unlock()

		if pos > from {
			return d.underlying.Slice(from, pos), nil
		}
		if d.ended.IsSet() {
			return nil, nil
		}

		select {
		case <-d.currentNotify():
		case <-d.ended.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ended returns a channel closed once the delay window has elapsed past the
// canonical stream's end.
func (d *DelayedStream) Ended() <-chan struct{} {
	return d.ended.Done()
}

// IsEnded reports whether Ended has already fired, without blocking.
func (d *DelayedStream) IsEnded() bool {
	return d.ended.IsSet()
}
