// Package telemetry provides Prometheus metrics for the outbound Resource API
// traffic of npamcp.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsNamespace = "npamcp"
	clientSubsystem  = "apiclient"
)

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics holds the collectors updated by the request client.
//
// All methods are safe for concurrent use and are no-ops on a nil receiver,
// so components can be built without metrics in tests.
type Metrics struct {
	// RequestsTotal counts completed HTTP attempts.
	// Labels: method, status (2xx, 4xx, 5xx, timeout, error)
	RequestsTotal *prometheus.CounterVec

	// RequestDuration measures a single HTTP attempt.
	// Labels: method
	RequestDuration *prometheus.HistogramVec

	// RetriesTotal counts retry attempts after a failed first attempt.
	// Labels: method
	RetriesTotal *prometheus.CounterVec

	// CacheLookups counts GET cache lookups.
	// Labels: result (hit, miss)
	CacheLookups *prometheus.CounterVec

	// CacheEvictions counts entries dropped for capacity or TTL.
	// Labels: reason (capacity, expired)
	CacheEvictions *prometheus.CounterVec

	// CacheEntries is the current number of cached GET responses.
	CacheEntries prometheus.Gauge

	// CascadeActions counts policy rule changes made by cascading deletes.
	// Labels: action (updated, deleted, requires_manual_review, failed)
	CascadeActions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "requests_total",
			Help:      "Resource API HTTP attempts by method and status class.",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of a single Resource API HTTP attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "retries_total",
			Help:      "Retry attempts issued after a retryable failure.",
		}, []string{"method"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "cache_lookups_total",
			Help:      "GET response cache lookups by result.",
		}, []string{"result"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "cache_evictions_total",
			Help:      "GET response cache evictions by reason.",
		}, []string{"reason"}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: clientSubsystem,
			Name:      "cache_entries",
			Help:      "Number of cached GET responses.",
		}),
		CascadeActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "policy",
			Name:      "cascade_actions_total",
			Help:      "Policy rule changes made while deleting private apps.",
		}, []string{"action"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RetriesTotal,
			m.CacheLookups,
			m.CacheEvictions,
			m.CacheEntries,
			m.CascadeActions,
		)
	}
	return m
}

// ObserveRequest records one HTTP attempt. statusCode is zero when no
// response was received; timedOut distinguishes deadline failures.
func (m *Metrics) ObserveRequest(method string, statusCode int, timedOut bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, StatusClass(statusCode, timedOut)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// IncRetry records a retry attempt.
func (m *Metrics) IncRetry(method string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(method).Inc()
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// CacheEvicted records an eviction.
func (m *Metrics) CacheEvicted(reason string) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(reason).Inc()
}

// SetCacheSize updates the cache size gauge.
func (m *Metrics) SetCacheSize(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// CascadeAction records a policy rule change made by a cascading delete.
func (m *Metrics) CascadeAction(action string) {
	if m == nil {
		return
	}
	m.CascadeActions.WithLabelValues(action).Inc()
}

// StatusClass maps an HTTP status to a low-cardinality label.
func StatusClass(statusCode int, timedOut bool) string {
	switch {
	case timedOut:
		return "timeout"
	case statusCode == 0:
		return "error"
	case statusCode >= 100 && statusCode < 600:
		return strconv.Itoa(statusCode/100) + "xx"
	default:
		return "other"
	}
}

// Handler returns the /metrics handler for the given gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
