package resilio

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Tubishat98/resilio/internal/clock"
)

// WithExecutor sets the network-call primitive the pipeline drives.
func WithExecutor(e Executor) Option {
	return func(c *Client) { c.executor = e }
}

// WithHTTPClient sets the *http.Client behind the default executor.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithCredentials wires the credential store and the refresh network
// operation; the client builds its own TokenRefresher over them.
func WithCredentials(store *CredentialStore, refresh RefreshFunc) Option {
	return func(c *Client) {
		c.store = store
		c.refreshFn = refresh
	}
}

// WithTokenRefresher sets a pre-built refresher; its store is used for
// credential attachment.
func WithTokenRefresher(r *TokenRefresher) Option {
	return func(c *Client) {
		c.refresher = r
		if r != nil {
			c.store = r.store
		}
	}
}

// WithCache enables response caching for GET calls.
func WithCache(cache *ResponseCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithDefaultCacheStrategy sets the strategy used when a call carries no
// override.
func WithDefaultCacheStrategy(s CacheStrategy) Option {
	return func(c *Client) { c.strategy = s }
}

// WithBackoffPolicy sets the retry schedule and retryability rules.
func WithBackoffPolicy(p BackoffPolicy) Option {
	return func(c *Client) { c.backoff = p }
}

// WithCircuitBreaker guards execution with a circuit breaker.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) { c.breaker = NewCircuitBreaker(config) }
}

// WithRateLimiter guards execution with a token-bucket limiter.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) { c.limiter = NewRateLimiter(maxTokens, refillRate) }
}

// WithDeduplication coalesces concurrent identical in-flight GETs onto a
// single execution.
func WithDeduplication() Option {
	return func(c *Client) { c.dedup = &singleflight.Group{} }
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) { c.metrics = NewMetrics() }
}

// WithMetricsCollector sets a pre-built metrics collector.
func WithMetricsCollector(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the structured logger; the default is a no-op.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock sets the clock used for retry waits and observation.
func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

// validate collects configuration problems the way a caller would want to
// read them: all at once.
func (c *Client) validate() error {
	var problems []string

	problems = append(problems, c.validateBackoff()...)
	problems = append(problems, c.validateAuth()...)
	problems = append(problems, c.validateGuards()...)

	if len(problems) > 0 {
		return &PipelineError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}

func (c *Client) validateBackoff() []string {
	var problems []string
	if c.backoff.MaxAttempts < 1 {
		problems = append(problems, "backoff MaxAttempts must be at least 1")
	}
	if c.backoff.BaseDelay < 0 {
		problems = append(problems, "backoff BaseDelay must be non-negative")
	}
	if c.backoff.MaxDelay > 0 && c.backoff.MaxDelay < c.backoff.BaseDelay {
		problems = append(problems, "backoff MaxDelay must be at least BaseDelay")
	}
	if c.backoff.Jitter < 0 || c.backoff.Jitter > 1 {
		problems = append(problems, "backoff Jitter must be between 0 and 1")
	}
	for _, code := range c.backoff.RetryableStatuses {
		if code < 400 || code > 499 {
			problems = append(problems, fmt.Sprintf("retryable status allow-set accepts 4xx only, got %d", code))
		}
	}
	return problems
}

func (c *Client) validateAuth() []string {
	var problems []string
	if c.refreshFn != nil && c.store == nil {
		problems = append(problems, "a refresh function requires a credential store")
	}
	return problems
}

func (c *Client) validateGuards() []string {
	var problems []string
	if c.limiter != nil {
		if c.limiter.maxTokens <= 0 {
			problems = append(problems, "rate limiter maxTokens must be positive")
		}
		if c.limiter.refillRate <= 0 {
			problems = append(problems, "rate limiter refillRate must be positive")
		}
	}
	if c.executor == nil {
		problems = append(problems, "executor cannot be nil")
	}
	return problems
}
