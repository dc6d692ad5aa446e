// Package metrics holds the prometheus collectors of the protocol engine.
// Collectors live on a private registry so tests can create as many as they need.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ro2"

// Dispatch results.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultUnhandled = "unhandled"
)

// Metrics bundles every collector.
type Metrics struct {
	registry *prometheus.Registry

	DispatchTotal     *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ClosesTotal       *prometheus.CounterVec
	HandshakeLatency  prometheus.Histogram
	FramesTotal       *prometheus.CounterVec
	SendQueueOverflow prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Application messages dispatched, by opcode and result.",
		}, []string{"opcode", "result"}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Currently open connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Accepted connections.",
		}),
		ClosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "closes_total",
			Help:      "Closed connections, by close reason.",
		}, []string{"reason"}),
		HandshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "duration_seconds",
			Help:      "Time from accept to connection success.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_total",
			Help:      "Wire frames, by direction.",
		}, []string{"direction"}),
		SendQueueOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "send_queue_watermark_exceeded_total",
			Help:      "Outbound messages queued above the send queue watermark.",
		}),
	}

	m.registry.MustRegister(
		m.DispatchTotal,
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.ClosesTotal,
		m.HandshakeLatency,
		m.FramesTotal,
		m.SendQueueOverflow,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// DispatchResult counts one dispatched application message.
func (m *Metrics) DispatchResult(opcode uint16, result string) {
	m.DispatchTotal.WithLabelValues(fmt.Sprintf("0x%04x", opcode), result).Inc()
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed records a terminal close.
func (m *Metrics) ConnectionClosed(reason string) {
	m.ConnectionsActive.Dec()
	m.ClosesTotal.WithLabelValues(reason).Inc()
}

// HandshakeCompleted observes the accept-to-ready latency.
func (m *Metrics) HandshakeCompleted(d time.Duration) {
	m.HandshakeLatency.Observe(d.Seconds())
}

// FrameIn counts a decoded inbound frame.
func (m *Metrics) FrameIn() {
	m.FramesTotal.WithLabelValues("in").Inc()
}

// FrameOut counts a written outbound frame.
func (m *Metrics) FrameOut() {
	m.FramesTotal.WithLabelValues("out").Inc()
}

// QueueOverflow counts a message queued beyond the watermark.
func (m *Metrics) QueueOverflow() {
	m.SendQueueOverflow.Inc()
}
