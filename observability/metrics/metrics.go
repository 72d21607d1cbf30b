package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RPC instruments the JSON-RPC surface: one counter per method and result,
// plus a latency histogram per method.
type RPC struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	registry *prometheus.Registry
}

// NewRPC builds the metric set on a fresh registry.
func NewRPC() *RPC {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beansd",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "JSON-RPC requests by method and result.",
	}, []string{"method", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beansd",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "JSON-RPC request handling latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	registry.MustRegister(requests, duration)
	return &RPC{requests: requests, duration: duration, registry: registry}
}

// Observe records one handled request.
func (m *RPC) Observe(method, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, result).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler exposes the registry for scraping.
func (m *RPC) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
