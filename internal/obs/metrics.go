package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects pipeline counters and latency histograms on a
// dedicated prometheus registry. All methods are nil-safe so callers
// can run without observability wired.
type Metrics struct {
	registry *prometheus.Registry

	busPublished *prometheus.CounterVec
	busDrops     *prometheus.CounterVec

	ingestDropped    prometheus.Counter
	ingestFiltered   prometheus.Counter
	ingestOutOfOrder prometheus.Counter
	ingestReconnects prometheus.Counter

	ordersSubmitted prometheus.Counter
	ordersTerminal  *prometheus.CounterVec

	stageLatency *prometheus.HistogramVec

	venueTimeouts prometheus.Counter
	auditFailures *prometheus.CounterVec
}

// NewMetrics allocates and registers all pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execpipe_bus_published_total",
			Help: "Events published to the distribution bus by topic",
		}, []string{"topic"}),
		busDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execpipe_bus_dropped_total",
			Help: "Events dropped from full subscriber queues by topic",
		}, []string{"topic"}),
		ingestDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execpipe_ingest_dropped_total",
			Help: "Unparseable feed messages dropped during normalization",
		}),
		ingestFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execpipe_ingest_filtered_total",
			Help: "Ticks excluded by the instrument allow-list",
		}),
		ingestOutOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execpipe_ingest_out_of_order_total",
			Help: "Ticks dropped for non-monotonic timestamps per instrument and source",
		}),
		ingestReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execpipe_ingest_reconnects_total",
			Help: "Feed source reconnect attempts",
		}),
		ordersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execpipe_orders_submitted_total",
			Help: "Orders accepted by intake",
		}),
		ordersTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execpipe_orders_terminal_total",
			Help: "Orders reaching a terminal status by status and reason",
		}, []string{"status", "reason"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "execpipe_stage_latency_seconds",
			Help:    "Latency of individual pipeline stages",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		venueTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execpipe_venue_timeouts_total",
			Help: "Execution attempts finalized after an unanswered venue ack",
		}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execpipe_audit_failures_total",
			Help: "Audit sink record failures by sink",
		}, []string{"sink"}),
	}
	m.registry.MustRegister(
		m.busPublished, m.busDrops,
		m.ingestDropped, m.ingestFiltered, m.ingestOutOfOrder, m.ingestReconnects,
		m.ordersSubmitted, m.ordersTerminal,
		m.stageLatency,
		m.venueTimeouts, m.auditFailures,
	)
	return m
}

// Registry exposes the underlying registry for the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncBusPublished records a bus publish.
func (m *Metrics) IncBusPublished(topic string) {
	if m == nil {
		return
	}
	m.busPublished.WithLabelValues(topic).Inc()
}

// IncBusDrop records a subscriber-queue overflow drop.
func (m *Metrics) IncBusDrop(topic string) {
	if m == nil {
		return
	}
	m.busDrops.WithLabelValues(topic).Inc()
}

// IncIngestDropped records an unparseable feed message.
func (m *Metrics) IncIngestDropped() {
	if m == nil {
		return
	}
	m.ingestDropped.Inc()
}

// IncIngestFiltered records an allow-list exclusion.
func (m *Metrics) IncIngestFiltered() {
	if m == nil {
		return
	}
	m.ingestFiltered.Inc()
}

// IncIngestOutOfOrder records a non-monotonic tick drop.
func (m *Metrics) IncIngestOutOfOrder() {
	if m == nil {
		return
	}
	m.ingestOutOfOrder.Inc()
}

// IncIngestReconnect records a feed reconnect attempt.
func (m *Metrics) IncIngestReconnect() {
	if m == nil {
		return
	}
	m.ingestReconnects.Inc()
}

// IncOrderSubmitted records an accepted submission.
func (m *Metrics) IncOrderSubmitted() {
	if m == nil {
		return
	}
	m.ordersSubmitted.Inc()
}

// IncOrderTerminal records a terminal order outcome.
func (m *Metrics) IncOrderTerminal(status, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.ordersTerminal.WithLabelValues(status, reason).Inc()
}

// ObserveStage records a stage latency sample.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// IncVenueTimeout records an execution finalized as venue-timeout.
func (m *Metrics) IncVenueTimeout() {
	if m == nil {
		return
	}
	m.venueTimeouts.Inc()
}

// IncAuditFailure records a failed audit sink write.
func (m *Metrics) IncAuditFailure(sink string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(sink).Inc()
}
