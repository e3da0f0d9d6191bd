package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wsdemo"

// Metrics holds every collector the application records to.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	HandshakeFailures prometheus.Counter
	FramesReceived    *prometheus.CounterVec
	MessagesBroadcast prometheus.Counter
	ViewEvents        *prometheus.CounterVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "WebSocket sessions currently open.",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "WebSocket sessions that completed the handshake.",
		}),
		HandshakeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "handshake_failures_total",
			Help:      "Connections rejected during the opening handshake.",
		}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_received_total",
			Help:      "Frames received, by opcode.",
		}, []string{"opcode"}),
		MessagesBroadcast: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "messages_broadcast_total",
			Help:      "Messages relayed to connected peers.",
		}),
		ViewEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "events_total",
			Help:      "Connection lifecycle events observed by the view, by kind.",
		}, []string{"kind"}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SessionOpened records a completed handshake.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// SessionClosed records the end of a session that had opened.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// HandshakeFailed records a rejected handshake.
func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.HandshakeFailures.Inc()
}

// FrameReceived records one inbound frame.
func (m *Metrics) FrameReceived(opcode string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(opcode).Inc()
}

// Broadcast records one relayed message.
func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.MessagesBroadcast.Inc()
}

// ViewEvent records a lifecycle event seen by the view.
func (m *Metrics) ViewEvent(kind string) {
	if m == nil {
		return
	}
	m.ViewEvents.WithLabelValues(kind).Inc()
}
