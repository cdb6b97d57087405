// Package metricsink implements the core's write-only Metrics contract
// (spec §6) against Prometheus: counters for connections served tagged by
// result, gauges for active connections tagged by category, gauges for
// running replays, and counters for finished/saved replays. Grounded on
// original_source/replayserver/metrics.py, which defines exactly this
// metric set against prometheus_client, and on the teacher's metrics.go
// for the client_golang idiom (NewCounterVec/NewGaugeVec + promhttp.Handler).
package metricsink

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConnCategory tags a connection gauge by role.
type ConnCategory string

const (
	CategoryWriter ConnCategory = "writer"
	CategoryReader ConnCategory = "reader"
)

// ConnResult tags a served-connection counter by how it ended.
type ConnResult string

const (
	ResultOK             ConnResult = "ok"
	ResultMalformedData  ConnResult = "malformed_data"
	ResultStreamEnded    ConnResult = "stream_ended"
	ResultCannotAccept   ConnResult = "cannot_accept"
	ResultConnectionErr  ConnResult = "connection_error"
	ResultBookkeepingErr ConnResult = "bookkeeping_error"
)

// Sink is the core's metrics contract: a write-only interface so the
// merger, sender, and replay never need to know Prometheus exists.
type Sink interface {
	ActiveConnections(category ConnCategory) prometheus.Gauge
	ConnectionServed(result ConnResult)
	RunningReplays() prometheus.Gauge
	ReplayFinished()
	ReplaySaved()
	ReplaySaveFailed()
}

// Prometheus is the concrete Sink backed by client_golang. It registers its
// own collectors on construction so multiple Prometheus instances never
// collide (tests construct a fresh one with a private registry).
type Prometheus struct {
	registry *prometheus.Registry

	activeConnections *prometheus.GaugeVec
	servedConnections *prometheus.CounterVec
	runningReplays    prometheus.Gauge
	finishedReplays   prometheus.Counter
	savedReplays      prometheus.Counter
	saveFailures      prometheus.Counter
}

// NewPrometheus builds a Sink with its own registry, ready to be mounted
// behind an HTTP handler via Handler().
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()

	p := &Prometheus{
		registry: reg,
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replayrelay_active_connections",
			Help: "Count of currently active connections by category (reader/writer).",
		}, []string{"category"}),
		servedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replayrelay_served_connections_total",
			Help: "Connections served to completion, tagged by result.",
		}, []string{"result"}),
		runningReplays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replayrelay_running_replays",
			Help: "Count of currently running replays.",
		}),
		finishedReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayrelay_finished_replays_total",
			Help: "Replays that reached their ended signal.",
		}),
		savedReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayrelay_saved_replays_total",
			Help: "Replays successfully handed to the bookkeeper.",
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayrelay_save_failures_total",
			Help: "Bookkeeper save_replay failures.",
		}),
	}

	reg.MustRegister(
		p.activeConnections,
		p.servedConnections,
		p.runningReplays,
		p.finishedReplays,
		p.savedReplays,
		p.saveFailures,
	)

	return p
}

func (p *Prometheus) ActiveConnections(category ConnCategory) prometheus.Gauge {
	return p.activeConnections.WithLabelValues(string(category))
}

func (p *Prometheus) ConnectionServed(result ConnResult) {
	p.servedConnections.WithLabelValues(string(result)).Inc()
}

func (p *Prometheus) RunningReplays() prometheus.Gauge { return p.runningReplays }

func (p *Prometheus) ReplayFinished() { p.finishedReplays.Inc() }

func (p *Prometheus) ReplaySaved() { p.savedReplays.Inc() }

func (p *Prometheus) ReplaySaveFailed() { p.saveFailures.Inc() }

// Handler returns the /metrics HTTP handler for this sink's registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Track increments gauge on entry and decrements it on exit, mirroring the
// @contextmanager track() helper in original_source/replayserver/metrics.py.
// Use with defer:
//
//	defer metricsink.Track(sink.ActiveConnections(metricsink.CategoryWriter))()
func Track(gauge prometheus.Gauge) func() {
	gauge.Inc()
	return gauge.Dec
}
