package resilio

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the environment-driven pipeline configuration.
type Config struct {
	HTTP  HTTPConfig
	Retry RetryConfig
	Cache CacheConfig
	Auth  AuthConfig
}

// HTTPConfig specifies the underlying HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `env:"PIPELINE_HTTP_TIMEOUT_SECS, default=30"`
}

// RetryConfig specifies the backoff policy.
type RetryConfig struct {
	MaxAttempts int     `env:"PIPELINE_RETRY_MAX_ATTEMPTS, default=3"`
	BaseDelayMs int     `env:"PIPELINE_RETRY_BASE_DELAY_MS, default=100"`
	MaxDelayMs  int     `env:"PIPELINE_RETRY_MAX_DELAY_MS, default=10000"`
	Exponential bool    `env:"PIPELINE_RETRY_EXPONENTIAL, default=true"`
	Jitter      float64 `env:"PIPELINE_RETRY_JITTER, default=0"`

	// RetryableStatuses lists 4xx codes retried in addition to the
	// defaults, e.g. "429,425".
	RetryableStatuses []int `env:"PIPELINE_RETRY_STATUS_ALLOWLIST"`
}

// CacheConfig specifies the response cache.
type CacheConfig struct {
	Enabled          bool   `env:"PIPELINE_CACHE_ENABLED, default=true"`
	MaxSize          int    `env:"PIPELINE_CACHE_MAX_SIZE, default=256"`
	TTLSeconds       int    `env:"PIPELINE_CACHE_TTL_SECS, default=300"`
	SweepIntervalSec int    `env:"PIPELINE_CACHE_SWEEP_SECS, default=60"`
	Policy           string `env:"PIPELINE_CACHE_POLICY, default=lru"`
	Strategy         string `env:"PIPELINE_CACHE_STRATEGY, default=network-first"`
}

// AuthConfig specifies credential handling.
type AuthConfig struct {
	// ExpirySkewMs is the buffer ahead of the access token expiry within
	// which the token is treated as already expired.
	ExpirySkewMs int `env:"PIPELINE_AUTH_EXPIRY_SKEW_MS, default=60000"`

	// PreemptBufferMs is how far ahead of expiry the proactive refresh
	// timer fires.
	PreemptBufferMs int `env:"PIPELINE_AUTH_PREEMPT_BUFFER_MS, default=30000"`
}

// LoadConfig reads configuration from the OS environment.
func LoadConfig(ctx context.Context) (Config, error) {
	return loadConfig(ctx, nil)
}

func loadConfig(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to the OS environment
	})
	if err != nil {
		return cfg, err
	}
	if err := cfg.Cache.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the cache configuration names known policies and
// strategies.
func (c *CacheConfig) Validate() error {
	switch EvictionPolicy(c.Policy) {
	case EvictLRU, EvictFIFO:
	default:
		return fmt.Errorf("unknown cache policy %q", c.Policy)
	}
	if _, err := ParseCacheStrategy(c.Strategy); err != nil {
		return err
	}
	return nil
}

// ParseCacheStrategy resolves a strategy name.
func ParseCacheStrategy(s string) (CacheStrategy, error) {
	switch s {
	case "network-first":
		return NetworkFirst, nil
	case "cache-first":
		return CacheFirst, nil
	case "network-only":
		return NetworkOnly, nil
	case "cache-only":
		return CacheOnly, nil
	default:
		return NetworkFirst, fmt.Errorf("unknown cache strategy %q", s)
	}
}

// NewFromConfig builds a Client from configuration, applying any extra
// options on top. The caller still wires storage and the refresh
// operation through the options.
func NewFromConfig(cfg Config, opts ...Option) (*Client, error) {
	strategy, err := ParseCacheStrategy(cfg.Cache.Strategy)
	if err != nil {
		return nil, err
	}

	cacheOpts := []CacheOption{
		WithCacheMaxSize(cfg.Cache.MaxSize),
		WithCacheTTL(time.Duration(cfg.Cache.TTLSeconds) * time.Second),
		WithSweepInterval(time.Duration(cfg.Cache.SweepIntervalSec) * time.Second),
		WithCachePolicy(EvictionPolicy(cfg.Cache.Policy)),
	}
	if !cfg.Cache.Enabled {
		cacheOpts = append(cacheOpts, WithCachingDisabled())
	}

	options := []Option{
		WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		}),
		WithBackoffPolicy(BackoffPolicy{
			BaseDelay:         time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:          time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
			Exponential:       cfg.Retry.Exponential,
			Jitter:            cfg.Retry.Jitter,
			MaxAttempts:       cfg.Retry.MaxAttempts,
			RetryableStatuses: cfg.Retry.RetryableStatuses,
		}),
		WithCache(NewResponseCache(cacheOpts...)),
		WithDefaultCacheStrategy(strategy),
	}
	options = append(options, opts...)

	client := New(options...)
	if err := client.ValidationError(); err != nil {
		return nil, err
	}
	return client, nil
}

// NewCredentialStoreFromConfig builds a store over the given storage with
// the configured expiry skew.
func NewCredentialStoreFromConfig(cfg AuthConfig, storage Storage, opts ...CredentialStoreOption) *CredentialStore {
	options := []CredentialStoreOption{
		WithExpirySkew(time.Duration(cfg.ExpirySkewMs) * time.Millisecond),
	}
	options = append(options, opts...)
	return NewCredentialStore(storage, options...)
}

// NewTokenRefresherFromConfig builds a refresher with the configured
// preemptive-refresh buffer.
func NewTokenRefresherFromConfig(cfg AuthConfig, store *CredentialStore, fn RefreshFunc, opts ...RefresherOption) *TokenRefresher {
	options := []RefresherOption{
		WithPreemptBuffer(time.Duration(cfg.PreemptBufferMs) * time.Millisecond),
	}
	options = append(options, opts...)
	return NewTokenRefresher(store, fn, options...)
}
