package tcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional, nil-safe set of prometheus collectors a Conn
// reports into, mirroring the nil-safe *logger pattern (debug.go). Wire a
// *Metrics into ConnConfig to export per-process TCP counters; leave it
// nil to pay nothing. Grounded on runZeroInc-sockstats, whose purpose is
// exporting TCP connection stats via client_golang -- applied here to our
// own connections instead of reading /proc socket tables.
type Metrics struct {
	SegmentsSent        prometheus.Counter
	SegmentsReceived     prometheus.Counter
	// SegmentsDropped is exported for registration, but no code path in
	// this package increments it, so it stays at zero.
	SegmentsDropped      prometheus.Counter
	Retransmits          prometheus.Counter
	ConnectionsLive      prometheus.Gauge
	StateDuration        *prometheus.HistogramVec
}

// NewMetrics constructs a Metrics whose metric names carry the "usertcp_"
// prefix. Pass the result to reg.MustRegister(m.Collectors()...) or
// register individually; NewMetrics does not register anything itself so
// callers keep control of their registry.
func NewMetrics() *Metrics {
	return &Metrics{
		SegmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usertcp_segments_sent_total",
			Help: "TCP segments transmitted.",
		}),
		SegmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usertcp_segments_received_total",
			Help: "TCP segments received and accepted for processing.",
		}),
		SegmentsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usertcp_segments_dropped_total",
			Help: "TCP segments dropped (unacceptable, stray, or duplicate).",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usertcp_retransmits_total",
			Help: "Retransmit timer firings that resent a segment.",
		}),
		ConnectionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usertcp_connections_live",
			Help: "Connections opened and not yet freed (freed once every reference, including the user's, is dropped).",
		}),
		StateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usertcp_state_duration_seconds",
			Help:    "Time spent in each connection state before transitioning out.",
			Buckets: prometheus.DefBuckets,
		}, []string{"state"}),
	}
}

// Collectors returns every collector in m for bulk registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SegmentsSent, m.SegmentsReceived, m.SegmentsDropped,
		m.Retransmits, m.ConnectionsLive, m.StateDuration,
	}
}

func (m *Metrics) incSent() {
	if m != nil {
		m.SegmentsSent.Inc()
	}
}

func (m *Metrics) incReceived() {
	if m != nil {
		m.SegmentsReceived.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.SegmentsDropped.Inc()
	}
}

func (m *Metrics) incRetransmit() {
	if m != nil {
		m.Retransmits.Inc()
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.ConnectionsLive.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.ConnectionsLive.Dec()
	}
}

func (m *Metrics) observeState(state State, dur time.Duration) {
	if m != nil {
		m.StateDuration.WithLabelValues(state.String()).Observe(dur.Seconds())
	}
}
