// Package telemetry provides observability primitives for the Warden cache layer.
package telemetry

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	warden "github.com/eugener/warden/internal"
)

// Metrics holds all Prometheus collectors for the cache layer.
// It implements warden.Sink so the metrics collector can forward events.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	QueryDuration   *prometheus.HistogramVec
	QueryFailures   *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "requests_total",
			Help:      "Total number of operator HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "request_duration_seconds",
			Help:                            "Operator HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "active_requests",
			Help:      "Number of currently active operator requests.",
		}),

		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "query_duration_seconds",
			Help:                            "Underlying fetch duration on cache miss, in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"class"}),

		QueryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "query_failures_total",
			Help:      "Total failed underlying fetches.",
		}, []string{"class"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "cache_hits_total",
			Help:      "Total cache hits.",
		}, []string{"class"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "cache_misses_total",
			Help:      "Total cache misses.",
		}, []string{"class"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.QueryDuration,
		m.QueryFailures,
		m.CacheHits,
		m.CacheMisses,
	)

	return m
}

// ObserveQuery implements warden.Sink.
func (m *Metrics) ObserveQuery(s warden.QuerySample) {
	class := KeyClass(s.Key)
	m.QueryDuration.WithLabelValues(class).Observe(s.Duration.Seconds())
	if s.Failed {
		m.QueryFailures.WithLabelValues(class).Inc()
	}
}

// ObserveOutcome implements warden.Sink.
func (m *Metrics) ObserveOutcome(key string, hit bool) {
	if hit {
		m.CacheHits.WithLabelValues(KeyClass(key)).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(KeyClass(key)).Inc()
}

// KeyClass returns the label used for key: the segment before the first ':'.
// Full keys carry tenant and record IDs and would explode label cardinality.
func KeyClass(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "default"
}
