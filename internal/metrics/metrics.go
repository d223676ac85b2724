// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	// Data path.
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveConnections prometheus.Gauge

	// Upstream pool.
	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	// Control API.
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_requests_total",
			Help: "Total requests handled on the proxy data path.",
		}, []string{"method", "status_code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_request_duration_seconds",
			Help:    "Data path exchange latency in seconds, decode to final write.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code"}),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_proxy_active_connections",
			Help: "Number of requests currently being forwarded upstream.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_api_requests_total",
			Help: "Total control API requests.",
		}, []string{"method", "status_code", "path"}),

		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_api_request_duration_seconds",
			Help:    "Control API request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveConnections,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.APIRequestsTotal,
		m.APIRequestDuration,
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

// knownPaths lists the allowed control API path label values (bounded cardinality).
var knownPaths = []string{"/health", "/stats", "/config", "/reset-stats", "/metrics"}

// NormalizePath returns a bounded control API path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPaths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
