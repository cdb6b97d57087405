package metricsink

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackIncrementsThenDecrements(t *testing.T) {
	p := NewPrometheus()
	gauge := p.ActiveConnections(CategoryWriter)

	if got := testutil.ToFloat64(gauge); got != 0 {
		t.Fatalf("expected 0 before track, got %v", got)
	}

	done := Track(gauge)
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Fatalf("expected 1 during track, got %v", got)
	}

	done()
	if got := testutil.ToFloat64(gauge); got != 0 {
		t.Fatalf("expected 0 after track, got %v", got)
	}
}

func TestConnectionServedTagsByResult(t *testing.T) {
	p := NewPrometheus()

	p.ConnectionServed(ResultOK)
	p.ConnectionServed(ResultOK)
	p.ConnectionServed(ResultMalformedData)

	if got := testutil.ToFloat64(p.servedConnections.WithLabelValues(string(ResultOK))); got != 2 {
		t.Fatalf("expected 2 ok results, got %v", got)
	}
	if got := testutil.ToFloat64(p.servedConnections.WithLabelValues(string(ResultMalformedData))); got != 1 {
		t.Fatalf("expected 1 malformed_data result, got %v", got)
	}
}

func TestReplayCounters(t *testing.T) {
	p := NewPrometheus()

	p.ReplayFinished()
	p.ReplaySaved()
	p.ReplaySaveFailed()
	p.ReplaySaveFailed()

	if got := testutil.ToFloat64(p.finishedReplays); got != 1 {
		t.Fatalf("expected 1 finished replay, got %v", got)
	}
	if got := testutil.ToFloat64(p.savedReplays); got != 1 {
		t.Fatalf("expected 1 saved replay, got %v", got)
	}
	if got := testutil.ToFloat64(p.saveFailures); got != 2 {
		t.Fatalf("expected 2 save failures, got %v", got)
	}
}
