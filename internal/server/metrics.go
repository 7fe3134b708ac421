// Package server registers the relay's Prometheus collectors.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes recorded by the router.
const (
	outcomeHandled         = "handled"
	outcomeMalformed       = "malformed"
	outcomeUnknown         = "unknown"
	outcomeUnauthenticated = "unauthenticated"
	outcomeRateLimited     = "rate_limited"
	outcomeStoreError      = "store_error"
)

// Metrics holds the relay's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	events      *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	evictions   prometheus.Counter
	httpLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers the relay collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wicara",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wicara",
			Name:      "events_total",
			Help:      "Inbound WebSocket events by type and outcome.",
		}, []string{"type", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wicara",
			Name:      "deliveries_total",
			Help:      "Outbound frame deliveries by result.",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wicara",
			Name:      "slow_consumer_evictions_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wicara",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
	m.registry.MustRegister(
		m.connections,
		m.events,
		m.deliveries,
		m.evictions,
		m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry so callers can add collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// trackOnline exposes the number of bound users as a gauge read from hub.
func (m *Metrics) trackOnline(hub *Hub) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "wicara",
		Name:      "online_users",
		Help:      "Users with a live authenticated connection.",
	}, func() float64 { return float64(hub.OnlineCount()) }))
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) event(t EventType, outcome string) {
	if m == nil {
		return
	}
	if t == "" {
		t = "none"
	}
	m.events.WithLabelValues(string(t), outcome).Inc()
}

func (m *Metrics) delivery(delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "unreachable"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) eviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) observeHTTP(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
