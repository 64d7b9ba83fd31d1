package resilio

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus metrics for the pipeline's request
// lifecycle, retries, credential refreshes and cache behavior. Safe for
// concurrent use.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal     *prometheus.CounterVec
	authRetriesTotal *prometheus.CounterVec
	refreshTotal     *prometheus.CounterVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheSize      prometheus.Gauge
	cacheEvictions prometheus.Gauge

	dedupHits *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetrics creates a collector on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a collector using the supplied
// registerer, for tests and multi-client processes.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilio_requests_total",
				Help: "Total number of logical calls completed",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resilio_request_duration_seconds",
				Help:    "Duration of logical calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "resilio_requests_in_flight",
				Help: "Number of logical calls currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilio_retries_total",
				Help: "Total number of backoff retry attempts",
			},
			[]string{"method", "endpoint"},
		),
		authRetriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilio_auth_retries_total",
				Help: "Total number of forced refresh-and-retry cycles after a 401/403",
			},
			[]string{"endpoint"},
		),
		refreshTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilio_credential_refresh_total",
				Help: "Total number of credential refresh calls by outcome",
			},
			[]string{"outcome"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilio_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"strategy"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilio_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"strategy"},
		),
		cacheSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "resilio_cache_size",
				Help: "Current number of entries in the response cache",
			},
		),
		cacheEvictions: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "resilio_cache_evictions",
				Help: "Entries evicted from the response cache since the last clear",
			},
		),
		dedupHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilio_deduplication_hits_total",
				Help: "Total number of calls coalesced onto an identical in-flight call",
			},
			[]string{"endpoint"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilio_errors_total",
				Help: "Total number of surfaced failures by type",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
}

// RecordRequestStart marks a call in flight.
func (m *Metrics) RecordRequestStart(method, endpoint string) {
	m.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd removes a call from the in-flight gauge.
func (m *Metrics) RecordRequestEnd(method, endpoint string) {
	m.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRequest observes a completed call.
func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.requestDuration.WithLabelValues(method, status, endpoint).Observe(duration.Seconds())
}

// RecordRetry counts one backoff retry.
func (m *Metrics) RecordRetry(method, endpoint string) {
	m.retriesTotal.WithLabelValues(method, endpoint).Inc()
}

// RecordAuthRetry counts one forced refresh-and-retry after a 401/403.
func (m *Metrics) RecordAuthRetry(endpoint string) {
	m.authRetriesTotal.WithLabelValues(endpoint).Inc()
}

// RecordRefresh counts one credential refresh outcome ("success" or
// "failure").
func (m *Metrics) RecordRefresh(outcome string) {
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit counts a cache hit under the given strategy.
func (m *Metrics) RecordCacheHit(strategy CacheStrategy) {
	m.cacheHits.WithLabelValues(strategy.String()).Inc()
}

// RecordCacheMiss counts a cache miss under the given strategy.
func (m *Metrics) RecordCacheMiss(strategy CacheStrategy) {
	m.cacheMisses.WithLabelValues(strategy.String()).Inc()
}

// RecordCacheStats publishes the cache's size and eviction counters.
func (m *Metrics) RecordCacheStats(stats CacheStats) {
	m.cacheSize.Set(float64(stats.Size))
	m.cacheEvictions.Set(float64(stats.Evictions))
}

// RecordDedupHit counts a call served by an identical in-flight call.
func (m *Metrics) RecordDedupHit(endpoint string) {
	m.dedupHits.WithLabelValues(endpoint).Inc()
}

// RecordError counts a surfaced failure.
func (m *Metrics) RecordError(errorType, method, endpoint string) {
	m.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}
