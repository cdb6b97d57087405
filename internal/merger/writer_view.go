package merger

import "sync"

// writerView is one writer connection's private accumulator: bytes read
// from that connection so far, in order. position always equals len(data).
// Grounded on original_source/replayserver/replaymerger.py's implicit
// per-writer stream state (the ReplayStreamReader it wraps is not in the
// retrieval pack; its shape here is reconstructed directly from spec §3's
// WriterView definition).
type writerView struct {
	mu   sync.Mutex
	data []byte
}

func newWriterView() *writerView {
	return &writerView{}
}

func (w *writerView) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data = append(w.data, b...)
}

func (w *writerView) Position() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.data)
}

// Slice returns a copy of data[start:end].
func (w *writerView) Slice(start, end int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if end > len(w.data) {
		end = len(w.data)
	}
	if start >= end {
		return nil
	}
	out := make([]byte, end-start)
	copy(out, w.data[start:end])
	return out
}
