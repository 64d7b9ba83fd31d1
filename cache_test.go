package resilio

import (
	"fmt"
	"testing"
	"time"

	"github.com/Tubishat98/resilio/internal/clock"
)

func cachedResponse(body string) *Response {
	return &Response{StatusCode: 200, Body: []byte(body)}
}

func TestCacheSetAndGet(t *testing.T) {
	cache := NewResponseCache()

	if !cache.Set("GET https://api.test/users", cachedResponse("users"), time.Minute) {
		t.Fatal("Set returned false on an enabled cache")
	}

	resp, ok := cache.Get("GET https://api.test/users")
	if !ok {
		t.Fatal("expected a hit for a freshly written key")
	}
	if string(resp.Body) != "users" {
		t.Errorf("body = %q, want %q", resp.Body, "users")
	}

	if _, ok := cache.Get("GET https://api.test/other"); ok {
		t.Error("expected a miss for an unwritten key")
	}
}

func TestCacheTTLBoundary(t *testing.T) {
	mock := clock.NewMock(time.Now())
	cache := NewResponseCache(WithCacheClock(mock))

	cache.Set("key", cachedResponse("v"), time.Second)

	// One millisecond before the deadline the entry is live.
	mock.Advance(999 * time.Millisecond)
	if _, ok := cache.Get("key"); !ok {
		t.Fatal("entry expired before its deadline")
	}

	// At exactly CreatedAt+TTL the entry is expired.
	mock.Advance(time.Millisecond)
	if _, ok := cache.Get("key"); ok {
		t.Fatal("entry still live at exactly CreatedAt+TTL")
	}

	// The expired entry was removed on that read.
	if stats := cache.Stats(); stats.Size != 0 {
		t.Errorf("size = %d after lazy removal, want 0", stats.Size)
	}
}

func TestCacheDefaultTTL(t *testing.T) {
	mock := clock.NewMock(time.Now())
	cache := NewResponseCache(WithCacheClock(mock), WithCacheTTL(time.Minute))

	cache.Set("key", cachedResponse("v"), 0)

	mock.Advance(59 * time.Second)
	if !cache.Has("key") {
		t.Fatal("entry expired before the default TTL")
	}
	mock.Advance(time.Second)
	if cache.Has("key") {
		t.Fatal("entry outlived the default TTL")
	}
}

func TestCacheTTLNever(t *testing.T) {
	mock := clock.NewMock(time.Now())
	cache := NewResponseCache(WithCacheClock(mock))

	cache.Set("key", cachedResponse("v"), TTLNever)

	mock.Advance(24 * time.Hour)
	if _, ok := cache.Get("key"); !ok {
		t.Fatal("TTLNever entry expired")
	}
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	for _, policy := range []EvictionPolicy{EvictLRU, EvictFIFO} {
		t.Run(string(policy), func(t *testing.T) {
			cache := NewResponseCache(WithCacheMaxSize(2), WithCachePolicy(policy))

			cache.Set("a", cachedResponse("1"), time.Minute)
			cache.Set("b", cachedResponse("2"), time.Minute)
			cache.Set("c", cachedResponse("3"), time.Minute)

			if cache.Has("a") {
				t.Error("oldest entry survived eviction")
			}
			if !cache.Has("b") || !cache.Has("c") {
				t.Error("newer entries were evicted")
			}
			if stats := cache.Stats(); stats.Evictions != 1 || stats.Size != 2 {
				t.Errorf("stats = %+v, want 1 eviction and size 2", stats)
			}
		})
	}
}

func TestCacheRewriteDoesNotEvict(t *testing.T) {
	cache := NewResponseCache(WithCacheMaxSize(2))

	cache.Set("a", cachedResponse("1"), time.Minute)
	cache.Set("b", cachedResponse("2"), time.Minute)

	// Replacing an existing key at capacity evicts nothing.
	cache.Set("a", cachedResponse("1b"), time.Minute)

	if stats := cache.Stats(); stats.Evictions != 0 {
		t.Errorf("evictions = %d on rewrite, want 0", stats.Evictions)
	}
	resp, ok := cache.Get("a")
	if !ok || string(resp.Body) != "1b" {
		t.Errorf("rewrite not visible, got %v %v", resp, ok)
	}

	// The rewrite refreshed a's insertion slot, so b is now oldest.
	cache.Set("c", cachedResponse("3"), time.Minute)
	if cache.Has("b") {
		t.Error("expected b to be evicted after a's rewrite")
	}
	if !cache.Has("a") {
		t.Error("rewritten entry evicted")
	}
}

func TestCacheStatsAndHitRate(t *testing.T) {
	cache := NewResponseCache()

	if rate := cache.Stats().HitRate(); rate != 0 {
		t.Errorf("hit rate with no traffic = %v, want 0", rate)
	}

	cache.Set("key", cachedResponse("v"), time.Minute)
	cache.Get("key")
	cache.Get("key")
	cache.Get("missing")

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", stats.Hits, stats.Misses)
	}
	if got, want := stats.HitRate(), 2.0/3.0; got != want {
		t.Errorf("hit rate = %v, want %v", got, want)
	}
}

func TestCacheHasIsStatNeutral(t *testing.T) {
	cache := NewResponseCache()
	cache.Set("key", cachedResponse("v"), time.Minute)

	cache.Has("key")
	cache.Has("missing")

	stats := cache.Stats()
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("Has moved the counters: %+v", stats)
	}
}

func TestCacheClearResetsStats(t *testing.T) {
	cache := NewResponseCache()
	cache.Set("key", cachedResponse("v"), time.Minute)
	cache.Get("key")
	cache.Get("missing")

	cache.Clear()

	stats := cache.Stats()
	if stats.Size != 0 || stats.Hits != 0 || stats.Misses != 0 || stats.Evictions != 0 {
		t.Errorf("stats after Clear = %+v, want all zero", stats)
	}
	if _, ok := cache.Get("key"); ok {
		t.Error("entry survived Clear")
	}
}

func TestCacheDisabled(t *testing.T) {
	cache := NewResponseCache(WithCachingDisabled())

	if cache.Set("key", cachedResponse("v"), time.Minute) {
		t.Fatal("Set returned true on a disabled cache")
	}
	if _, ok := cache.Get("key"); ok {
		t.Fatal("disabled cache served a hit")
	}
}

func TestCacheDelete(t *testing.T) {
	cache := NewResponseCache()
	cache.Set("key", cachedResponse("v"), time.Minute)

	cache.Delete("key")
	if cache.Has("key") {
		t.Error("entry survived Delete")
	}

	// Deleting an absent key is a no-op.
	cache.Delete("missing")
}

func TestCacheInvalidateMatching(t *testing.T) {
	cache := NewResponseCache()
	cache.Set("GET https://api.test/users/1", cachedResponse("u1"), time.Minute)
	cache.Set("GET https://api.test/users/2", cachedResponse("u2"), time.Minute)
	cache.Set("GET https://api.test/orders/1", cachedResponse("o1"), time.Minute)

	removed, err := cache.InvalidateMatching(`/users/`)
	if err != nil {
		t.Fatalf("InvalidateMatching: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if cache.Has("GET https://api.test/users/1") || cache.Has("GET https://api.test/users/2") {
		t.Error("matching entries survived invalidation")
	}
	if !cache.Has("GET https://api.test/orders/1") {
		t.Error("non-matching entry removed")
	}

	if _, err := cache.InvalidateMatching(`[`); err == nil {
		t.Error("expected an error for an invalid pattern")
	}
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	mock := clock.NewMock(time.Now())
	cache := NewResponseCache(WithCacheClock(mock), WithSweepInterval(time.Minute))

	for i := 0; i < 5; i++ {
		cache.Set(fmt.Sprintf("short-%d", i), cachedResponse("v"), 30*time.Second)
	}
	cache.Set("long", cachedResponse("v"), time.Hour)

	cache.Start()
	defer cache.Stop()

	mock.Advance(time.Minute)

	stats := cache.Stats()
	if stats.Size != 1 {
		t.Errorf("size after sweep = %d, want 1", stats.Size)
	}
	if !cache.Has("long") {
		t.Error("unexpired entry swept")
	}

	// The sweep rescheduled itself.
	cache.Set("short-again", cachedResponse("v"), 30*time.Second)
	mock.Advance(time.Minute)
	if cache.Has("short-again") {
		t.Error("second sweep did not run")
	}
}

func TestCacheStartStopIdempotent(t *testing.T) {
	mock := clock.NewMock(time.Now())
	cache := NewResponseCache(WithCacheClock(mock), WithSweepInterval(time.Minute))

	cache.Start()
	cache.Start()
	cache.Stop()
	cache.Stop()

	cache.Set("key", cachedResponse("v"), time.Second)
	mock.Advance(time.Hour)

	// Stopped sweep leaves the expired entry resident until read.
	if stats := cache.Stats(); stats.Size != 1 {
		t.Errorf("size = %d with sweep stopped, want 1", stats.Size)
	}
	if _, ok := cache.Get("key"); ok {
		t.Error("expired entry served after Stop")
	}
}
