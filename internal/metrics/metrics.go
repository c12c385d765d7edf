// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for round-trip latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsTotal  *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
	HandshakeDuration prometheus.Histogram

	RequestsTotal   *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tlsgate_connections_total",
			Help: "Total client connections by terminal close reason.",
		}, []string{"close_reason"}),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tlsgate_connections_active",
			Help: "Number of client connections currently being served.",
		}),

		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tlsgate_tls_handshake_duration_seconds",
			Help:    "TLS server handshake latency in seconds.",
			Buckets: defaultBuckets,
		}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tlsgate_requests_total",
			Help: "Total forwarded requests by method and response status class.",
		}, []string{"method", "status_class"}),

		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tlsgate_gateway_round_trip_duration_seconds",
			Help:    "Gateway forward-to-response-head latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.ConnectionsTotal,
		m.ConnectionsActive,
		m.HandshakeDuration,
		m.RequestsTotal,
		m.GatewayDuration,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// StatusClass returns the bounded status-class label ("2xx", "5xx", ...)
// for a response status code.
func StatusClass(status int) string {
	switch {
	case status >= 100 && status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	case status < 600:
		return "5xx"
	default:
		return "other"
	}
}
