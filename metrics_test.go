package resilio

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordRequest("GET", "api.test/users", 200, 50*time.Millisecond)
	m.RecordRequest("GET", "api.test/users", 200, 30*time.Millisecond)
	m.RecordRequest("GET", "api.test/users", 500, 10*time.Millisecond)

	ok := m.requestsTotal.WithLabelValues("GET", "200", "api.test/users")
	if got := testutil.ToFloat64(ok); got != 2 {
		t.Errorf("requests_total{200} = %v, want 2", got)
	}
	failed := m.requestsTotal.WithLabelValues("GET", "500", "api.test/users")
	if got := testutil.ToFloat64(failed); got != 1 {
		t.Errorf("requests_total{500} = %v, want 1", got)
	}
}

func TestMetricsInFlightGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordRequestStart("GET", "api.test/")
	m.RecordRequestStart("GET", "api.test/")
	m.RecordRequestEnd("GET", "api.test/")

	gauge := m.requestsInFlight.WithLabelValues("GET", "api.test/")
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("requests_in_flight = %v, want 1", got)
	}
}

func TestMetricsCacheCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordCacheHit(CacheFirst)
	m.RecordCacheHit(CacheFirst)
	m.RecordCacheMiss(CacheFirst)
	m.RecordCacheStats(CacheStats{Size: 4, Evictions: 2})

	if got := testutil.ToFloat64(m.cacheHits.WithLabelValues("cache-first")); got != 2 {
		t.Errorf("cache_hits_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses.WithLabelValues("cache-first")); got != 1 {
		t.Errorf("cache_misses_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheSize); got != 4 {
		t.Errorf("cache_size = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.cacheEvictions); got != 2 {
		t.Errorf("cache_evictions = %v, want 2", got)
	}
}

func TestMetricsPipelineIntegration(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	fake := &fakeExecutor{responses: []fakeResult{
		respondWith(500, "boom"),
		respondWith(200, "ok"),
	}}
	client := newTestClient(t, fake, WithMetricsCollector(m))

	if _, err := client.Get(context.Background(), "https://api.test/users"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got := testutil.ToFloat64(m.retriesTotal.WithLabelValues("GET", "api.test/users")); got != 1 {
		t.Errorf("retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "200", "api.test/users")); got != 1 {
		t.Errorf("requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.requestsInFlight.WithLabelValues("GET", "api.test/users")); got != 0 {
		t.Errorf("requests_in_flight = %v after completion, want 0", got)
	}
}

func TestMetricsRefreshOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	store := seededStore(t, time.Now().Add(time.Hour))
	refresher := NewTokenRefresher(store, func(ctx context.Context, refreshToken string) (string, string, error) {
		return makeToken(t, time.Now().Add(time.Hour)), "refresh-2", nil
	}, WithRefresherMetrics(m))
	defer refresher.Close()

	if _, err := refresher.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := testutil.ToFloat64(m.refreshTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("refresh_total{success} = %v, want 1", got)
	}
}
