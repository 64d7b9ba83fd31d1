package resilio

import (
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tubishat98/resilio/internal/clock"
)

// Cache defaults.
const (
	DefaultCacheMaxSize  = 256
	DefaultCacheTTL      = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// TTLNever stores an entry without time-based expiry; it leaves the cache
// only through explicit delete or capacity eviction.
const TTLNever time.Duration = -1

// EvictionPolicy selects which entry leaves the cache at capacity.
type EvictionPolicy string

const (
	// EvictLRU evicts the entry with the oldest CreatedAt. Reads do not
	// bump recency, so eviction order matches insertion order and the
	// policy currently coincides with EvictFIFO; tracking last-access time
	// is the extension point for true LRU.
	EvictLRU EvictionPolicy = "lru"

	// EvictFIFO evicts the first-inserted entry.
	EvictFIFO EvictionPolicy = "fifo"
)

// CacheEntry is one cached response. Entries are immutable: a re-write
// replaces the entry wholesale.
type CacheEntry struct {
	Key       string
	Response  *Response
	CreatedAt time.Time
	TTL       time.Duration

	// ExpiresAt is exactly CreatedAt + TTL; zero when the entry never
	// expires by time.
	ExpiresAt time.Time
}

// CacheStats are the cache's monotonic counters, reset only by Clear.
type CacheStats struct {
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate is hits/(hits+misses), defined as 0 when there has been no
// traffic.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ResponseCache is a bounded in-memory TTL cache keyed by request
// fingerprint. One coarse mutex guards the map, the insertion order and
// the stats; the periodic sweep takes the same lock, so mutation is never
// concurrent with a read of the same key.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	// order holds keys oldest-insertion first; both policies evict from
	// the front.
	order []string

	maxSize    int
	defaultTTL time.Duration
	policy     EvictionPolicy
	enabled    bool

	hits      uint64
	misses    uint64
	evictions uint64

	clock      clock.Clock
	sweepEvery time.Duration
	sweepTimer clock.Timer
	running    bool

	logger zerolog.Logger
}

// CacheOption configures a ResponseCache.
type CacheOption func(*ResponseCache)

// WithCacheMaxSize bounds the number of entries.
func WithCacheMaxSize(n int) CacheOption {
	return func(c *ResponseCache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithCacheTTL sets the TTL applied when a write does not carry one.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *ResponseCache) { c.defaultTTL = ttl }
}

// WithCachePolicy selects the eviction policy.
func WithCachePolicy(p EvictionPolicy) CacheOption {
	return func(c *ResponseCache) { c.policy = p }
}

// WithSweepInterval sets the period of the background expiry sweep.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *ResponseCache) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// WithCacheClock sets the clock used for TTL decisions and the sweep.
func WithCacheClock(cl clock.Clock) CacheOption {
	return func(c *ResponseCache) { c.clock = cl }
}

// WithCacheLogger sets the logger for sweep reporting.
func WithCacheLogger(l zerolog.Logger) CacheOption {
	return func(c *ResponseCache) { c.logger = l }
}

// WithCachingDisabled turns all writes into no-ops; reads behave as
// misses on an empty cache.
func WithCachingDisabled() CacheOption {
	return func(c *ResponseCache) { c.enabled = false }
}

// NewResponseCache returns a cache with the given options applied over
// the defaults.
func NewResponseCache(opts ...CacheOption) *ResponseCache {
	c := &ResponseCache{
		entries:    make(map[string]*CacheEntry),
		maxSize:    DefaultCacheMaxSize,
		defaultTTL: DefaultCacheTTL,
		policy:     EvictLRU,
		enabled:    true,
		clock:      clock.System(),
		sweepEvery: DefaultSweepInterval,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached response for key. An absent or expired entry
// counts a miss; an expired entry is lazily removed on this read.
func (c *ResponseCache) Get(key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(entry) {
		c.remove(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.Response, true
}

// Set stores a response under key. A TTL of zero takes the cache default;
// TTLNever disables time-based expiry for the entry. At capacity one entry
// is evicted per policy before inserting. Returns false when caching is
// disabled.
func (c *ResponseCache) Set(key string, resp *Response, ttl time.Duration) bool {
	if resp == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return false
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl < 0 {
		ttl = 0 // no time-based expiry
	}

	if _, exists := c.entries[key]; exists {
		c.remove(key)
	} else if len(c.entries) >= c.maxSize {
		c.evictOne()
	}

	now := c.clock.Now()
	entry := &CacheEntry{
		Key:       key,
		Response:  resp,
		CreatedAt: now,
		TTL:       ttl,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
	return true
}

// Delete removes the entry for key, if present.
func (c *ResponseCache) Delete(key string) {
	c.mu.Lock()
	c.remove(key)
	c.mu.Unlock()
}

// Has reports whether a live entry exists for key without touching the
// hit/miss stats.
func (c *ResponseCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && !c.expired(entry)
}

// Clear empties the cache and resets all stats.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.order = nil
	c.hits, c.misses, c.evictions = 0, 0, 0
	c.mu.Unlock()
}

// InvalidateMatching removes every entry whose key matches the regular
// expression and returns how many were removed.
func (c *ResponseCache) InvalidateMatching(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if re.MatchString(key) {
			c.remove(key)
			removed++
		}
	}
	return removed, nil
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Policy returns the configured eviction policy.
func (c *ResponseCache) Policy() EvictionPolicy { return c.policy }

// Start arms the periodic expiry sweep. Idempotent.
func (c *ResponseCache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.sweepTimer = c.clock.AfterFunc(c.sweepEvery, c.sweepAndReschedule)
}

// Stop cancels the sweep timer. Idempotent; entries stay resident until
// read, replaced or evicted.
func (c *ResponseCache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if c.sweepTimer != nil {
		c.sweepTimer.Stop()
		c.sweepTimer = nil
	}
}

func (c *ResponseCache) sweepAndReschedule() {
	removed := c.sweep()
	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("cache sweep")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.sweepTimer = c.clock.AfterFunc(c.sweepEvery, c.sweepAndReschedule)
	}
}

// sweep removes all time-expired entries, bounding growth from entries
// written once and never re-read.
func (c *ResponseCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.entries {
		if c.expired(entry) {
			c.remove(key)
			removed++
		}
	}
	return removed
}

// expired reports whether the entry's deadline has passed. Callers hold
// c.mu.
func (c *ResponseCache) expired(entry *CacheEntry) bool {
	if entry.ExpiresAt.IsZero() {
		return false
	}
	return !c.clock.Now().Before(entry.ExpiresAt)
}

// remove deletes an entry and its order slot. Callers hold c.mu.
func (c *ResponseCache) remove(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// evictOne removes the entry chosen by the policy. Both policies evict the
// oldest CreatedAt, which is the front of the insertion order. Callers
// hold c.mu.
func (c *ResponseCache) evictOne() {
	for len(c.order) > 0 {
		key := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			c.evictions++
			return
		}
	}
}
