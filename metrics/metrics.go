package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ws"

// Metrics groups the session counters exported on the metrics endpoint.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsOpened prometheus.Counter
	ConnectionsClosed *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	MessagesReceived  prometheus.Counter
	MessagesHandled   prometheus.Counter
	MalformedRequests prometheus.Counter
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "WebSocket sessions accepted.",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "WebSocket sessions closed, by close code.",
		}, []string{"code"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "WebSocket sessions currently open.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Text frames received from clients.",
		}),
		MessagesHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Text frames handled without error.",
		}),
		MalformedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_requests_total",
			Help:      "Text frames that could not be decoded.",
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.ConnectionsOpened,
		m.ConnectionsClosed,
		m.ActiveConnections,
		m.MessagesReceived,
		m.MessagesHandled,
		m.MalformedRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Opened records a new session.
func (m *Metrics) Opened() {
	m.ConnectionsOpened.Inc()
	m.ActiveConnections.Inc()
}

// Closed records a finished session with its close code.
func (m *Metrics) Closed(code int) {
	m.ConnectionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()
	m.ActiveConnections.Dec()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
