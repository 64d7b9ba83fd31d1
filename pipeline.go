package resilio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Tubishat98/resilio/internal/clock"
	"github.com/Tubishat98/resilio/internal/fingerprint"
)

// Client is the request resilience pipeline. It layers credential
// attachment and refresh, bounded retries, response caching, optional
// circuit breaking, rate limiting and de-duplication around a network
// executor. Safe for concurrent use.
type Client struct {
	executor   Executor
	httpClient *http.Client

	store     *CredentialStore
	refreshFn RefreshFunc
	refresher *TokenRefresher

	cache    *ResponseCache
	strategy CacheStrategy

	backoff BackoffPolicy
	breaker *CircuitBreaker
	limiter *RateLimiter
	dedup   *singleflight.Group

	metrics *Metrics
	logger  zerolog.Logger
	clock   clock.Clock

	stages          []stage
	validationError error
}

// stage is one step of the pipeline; stages run in a fixed order over a
// shared call context and short-circuit by marking the call done.
type stage func(ctx context.Context, call *callContext) error

// callContext threads one logical call through the stage list. It is
// ephemeral: it lives only for the duration of one pipeline invocation.
type callContext struct {
	spec      *CallSpec
	strategy  CacheStrategy
	cacheable bool
	key       string

	// header is the working copy carrying the Authorization header;
	// spec.Header is never mutated.
	header        http.Header
	authenticated bool
	authRetried   bool

	resp       *Response
	attempts   int
	lastStatus int
	start      time.Time
	done       bool
}

// New constructs a Client from the provided functional options.
// Configuration problems are reported by the first Call; see also
// ValidationError.
func New(options ...Option) *Client {
	c := &Client{
		backoff:  DefaultBackoffPolicy(),
		strategy: NetworkFirst,
		clock:    clock.System(),
		logger:   zerolog.Nop(),
	}

	for _, option := range options {
		option(c)
	}

	if c.executor == nil {
		httpClient := c.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 30 * time.Second}
		}
		c.executor = NewHTTPExecutor(httpClient)
	}

	if c.refresher == nil && c.store != nil && c.refreshFn != nil {
		c.refresher = NewTokenRefresher(c.store, c.refreshFn,
			WithRefresherClock(c.clock),
			WithRefresherLogger(c.logger),
			WithRefresherMetrics(c.metrics),
		)
	}

	c.stages = []stage{
		c.cacheReadStage,
		c.attachStage,
		c.executeStage,
		c.cacheWriteStage,
	}

	if err := c.validate(); err != nil {
		c.validationError = err
	}
	return c
}

// Call runs one logical request through the pipeline and returns the
// result or a typed *PipelineError.
func (c *Client) Call(ctx context.Context, spec CallSpec) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}
	spec.Method = strings.ToUpper(spec.Method)

	call := &callContext{spec: &spec, start: c.clock.Now()}
	c.resolve(call)

	endpoint := endpointFromURL(spec.URL)
	if c.metrics != nil {
		c.metrics.RecordRequestStart(spec.Method, endpoint)
	}

	var resp *Response
	var err error
	if c.dedup != nil && spec.Method == http.MethodGet {
		resp, err = c.dedupedRun(ctx, call, endpoint)
	} else {
		resp, err = c.run(ctx, call)
	}

	duration := c.clock.Now().Sub(call.start)
	c.observe(call, resp, err, endpoint, duration)

	if err != nil {
		return nil, err
	}
	out := *resp
	out.Duration = duration
	return &out, nil
}

// Get performs a GET through the pipeline.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Call(ctx, CallSpec{Method: http.MethodGet, URL: url})
}

// Post performs a POST with the given content type. POST bypasses the
// cache entirely.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	return c.Call(ctx, CallSpec{Method: http.MethodPost, URL: url, Header: header, Body: body})
}

// Logout clears the stored credential and cancels any scheduled
// proactive refresh.
func (c *Client) Logout() error {
	if c.refresher != nil {
		c.refresher.CancelScheduled()
	}
	if c.store != nil {
		return c.store.Clear()
	}
	return nil
}

// Close tears down the pipeline's timers (cache sweep, proactive
// refresh). The client must not be used afterwards.
func (c *Client) Close() {
	if c.refresher != nil {
		c.refresher.Close()
	}
	if c.cache != nil {
		c.cache.Stop()
	}
}

// IsValid reports whether configuration validation passed at
// construction.
func (c *Client) IsValid() bool { return c.validationError == nil }

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error { return c.validationError }

// resolve fixes the call's cache strategy, cacheability and fingerprint
// before any stage runs.
func (c *Client) resolve(call *callContext) {
	spec := call.spec
	call.strategy = c.strategy
	if spec.Strategy != nil {
		call.strategy = *spec.Strategy
	}
	call.cacheable = c.cache != nil && !spec.SkipCache && spec.Method == http.MethodGet
	call.key = fingerprint.Key(spec.Method, spec.URL)
	call.header = spec.Header
}

// run drives the fixed stage list over the call context.
func (c *Client) run(ctx context.Context, call *callContext) (*Response, error) {
	for _, s := range c.stages {
		if err := s(ctx, call); err != nil {
			return nil, err
		}
		if call.done {
			break
		}
	}
	return call.resp, nil
}

// dedupedRun coalesces concurrent identical GETs onto one execution. A
// waiter's context cancellation detaches that waiter without canceling
// the owning execution.
func (c *Client) dedupedRun(ctx context.Context, call *callContext, endpoint string) (*Response, error) {
	ch := c.dedup.DoChan(call.key, func() (interface{}, error) {
		return c.run(ctx, call)
	})
	select {
	case res := <-ch:
		if res.Shared && c.metrics != nil {
			c.metrics.RecordDedupHit(endpoint)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		resp, _ := res.Val.(*Response)
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cacheReadStage serves cache-first and cache-only reads. Non-GET methods
// bypass caching entirely.
func (c *Client) cacheReadStage(ctx context.Context, call *callContext) error {
	if call.spec.Method != http.MethodGet {
		return nil
	}

	switch call.strategy {
	case CacheFirst:
		if !call.cacheable {
			return nil
		}
		if resp, ok := c.cache.Get(call.key); ok {
			c.recordCacheHit(call)
			call.resp = cachedCopy(resp)
			call.done = true
			return nil
		}
		c.recordCacheMiss(call)

	case CacheOnly:
		if call.cacheable {
			if resp, ok := c.cache.Get(call.key); ok {
				c.recordCacheHit(call)
				call.resp = cachedCopy(resp)
				call.done = true
				return nil
			}
			c.recordCacheMiss(call)
		}
		return c.pipelineError(call, ErrorTypeCacheMiss, "cache-only call with no usable entry", ErrCacheMiss, 0)
	}

	return nil
}

// attachStage attaches the bearer credential, refreshing it first when it
// is expired or about to expire. Refresh failures surface to the caller.
func (c *Client) attachStage(ctx context.Context, call *callContext) error {
	if call.spec.SkipAuth || c.store == nil {
		return nil
	}

	if c.store.IsAccessExpired() && c.refresher != nil {
		if _, err := c.refresher.Refresh(ctx); err != nil {
			return err
		}
	}

	access, ok := c.store.Access()
	if !ok {
		// No credential and no way to get one; the call proceeds
		// unauthenticated and the server decides.
		return nil
	}
	call.header = cloneHeader(call.spec.Header)
	call.header.Set("Authorization", "Bearer "+access)
	call.authenticated = true
	return nil
}

// executeStage issues the network call inside the retry loop. A 401/403
// received with an attached credential triggers exactly one forced
// refresh-and-retry outside the backoff attempt budget; a second
// consecutive rejection is terminal.
func (c *Client) executeStage(ctx context.Context, call *callContext) error {
	spec := call.spec
	endpoint := endpointFromURL(spec.URL)

	maxAttempts := c.backoff.MaxAttempts
	if maxAttempts < 1 || spec.SkipRetry {
		maxAttempts = 1
	}

	attempt := 0
	for {
		if c.limiter != nil && !c.limiter.Allow() {
			return c.pipelineError(call, ErrorTypeRateLimit, "rate limit exceeded", ErrRateLimited, 0)
		}
		if c.breaker != nil && !c.breaker.Allow() {
			return c.pipelineError(call, ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen, 0)
		}

		attempt++
		call.attempts++

		resp, err := c.executor.Execute(ctx, spec.Method, spec.URL, call.header, spec.Body)

		if c.breaker != nil {
			if err != nil || resp.StatusCode >= 500 {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		}

		if err != nil {
			call.lastStatus = 0
			if attempt >= maxAttempts || !c.backoff.IsRetryable(0) {
				return c.pipelineError(call, ErrorTypeNetwork, "network request failed", err, 0)
			}
			if werr := c.waitRetry(ctx, call, attempt, nil); werr != nil {
				return werr
			}
			continue
		}

		call.lastStatus = resp.StatusCode

		if call.authenticated &&
			(resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			if call.authRetried {
				return c.pipelineError(call, ErrorTypeAuthentication,
					"credential rejected again after refresh", nil, resp.StatusCode)
			}
			if c.refresher == nil {
				return c.pipelineError(call, ErrorTypeAuthentication,
					"credential rejected and no refresher configured", nil, resp.StatusCode)
			}

			call.authRetried = true
			if c.metrics != nil {
				c.metrics.RecordAuthRetry(endpoint)
			}
			if _, err := c.refresher.Refresh(ctx); err != nil {
				return err
			}
			if access, ok := c.store.Access(); ok {
				call.header = cloneHeader(spec.Header)
				call.header.Set("Authorization", "Bearer "+access)
			}
			// The forced retry does not consume a backoff attempt.
			attempt--
			continue
		}

		if resp.StatusCode < 400 {
			resp.Attempts = call.attempts
			call.resp = resp
			return nil
		}

		if attempt >= maxAttempts || !c.backoff.IsRetryable(resp.StatusCode) {
			return c.pipelineError(call, ErrorTypeHTTP, "server returned a non-success status", nil, resp.StatusCode)
		}
		if werr := c.waitRetry(ctx, call, attempt, resp); werr != nil {
			return werr
		}
	}
}

// cacheWriteStage writes a fresh successful GET response through the
// cache.
func (c *Client) cacheWriteStage(ctx context.Context, call *callContext) error {
	if call.resp == nil || call.resp.FromCache {
		return nil
	}
	if !call.cacheable || call.strategy == CacheOnly {
		return nil
	}

	stored := *call.resp
	stored.FromCache = false
	stored.Attempts = 0
	stored.Duration = 0
	c.cache.Set(call.key, &stored, call.spec.TTL)
	return nil
}

// waitRetry suspends only this call's execution path for the backoff
// delay, honoring a Retry-After header when present. Context cancellation
// aborts the wait.
func (c *Client) waitRetry(ctx context.Context, call *callContext, attempt int, resp *Response) error {
	delay := retryAfterDelay(resp)
	if delay == 0 {
		delay = c.backoff.Delay(attempt)
	}

	if c.metrics != nil {
		c.metrics.RecordRetry(call.spec.Method, endpointFromURL(call.spec.URL))
	}
	c.logger.Debug().
		Str("method", call.spec.Method).
		Str("url", call.spec.URL).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("scheduling retry")

	if err := c.sleep(ctx, delay); err != nil {
		return c.pipelineError(call, ErrorTypeNetwork, "call canceled while waiting to retry", err, 0)
	}
	return nil
}

// sleep waits for d on the client's clock, returning early on context
// cancellation.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	fired := make(chan struct{})
	t := c.clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

func (c *Client) observe(call *callContext, resp *Response, err error, endpoint string, duration time.Duration) {
	status := call.lastStatus
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		var pe *PipelineError
		if errors.As(err, &pe) {
			if pe.StatusCode != 0 {
				status = pe.StatusCode
			}
			if c.metrics != nil {
				c.metrics.RecordError(pe.Type, call.spec.Method, endpoint)
			}
		}
	}

	if c.metrics != nil {
		c.metrics.RecordRequestEnd(call.spec.Method, endpoint)
		c.metrics.RecordRequest(call.spec.Method, endpoint, status, duration)
		if c.cache != nil {
			c.metrics.RecordCacheStats(c.cache.Stats())
		}
	}

	evt := c.logger.Debug()
	if err != nil {
		evt = c.logger.Warn().Err(err)
	}
	evt.Str("method", call.spec.Method).
		Str("endpoint", endpoint).
		Str("strategy", call.strategy.String()).
		Int("status", status).
		Int("attempts", call.attempts).
		Dur("duration", duration).
		Bool("from_cache", resp != nil && resp.FromCache).
		Msg("call completed")
}

func (c *Client) recordCacheHit(call *callContext) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(call.strategy)
	}
}

func (c *Client) recordCacheMiss(call *callContext) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(call.strategy)
	}
}

func (c *Client) pipelineError(call *callContext, errorType, message string, cause error, statusCode int) *PipelineError {
	e := &PipelineError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Method:      call.spec.Method,
		URL:         call.spec.URL,
		StatusCode:  statusCode,
		Attempt:     call.attempts,
		MaxAttempts: c.backoff.MaxAttempts,
		Timestamp:   c.clock.Now(),
	}
	if call.cacheable {
		e.CacheKey = call.key
	}
	return e
}

// maxResponseSize bounds how much of a response body is buffered.
const maxResponseSize = 10 * 1024 * 1024

// HTTPExecutor adapts *http.Client to the Executor boundary, buffering
// response bodies so results are replayable and cacheable.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor wraps the given client; nil takes a 30s-timeout
// default.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if header != nil {
		req.Header = header.Clone()
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	buffered, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       buffered,
	}, nil
}

// DecodeJSON unmarshals a response body into v.
func DecodeJSON(resp *Response, v any) error {
	return json.Unmarshal(resp.Body, v)
}

// cachedCopy returns a per-caller view of a cached response so the stored
// entry is never mutated.
func cachedCopy(r *Response) *Response {
	cp := *r
	cp.FromCache = true
	return &cp
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func endpointFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	var b strings.Builder
	b.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		b.WriteString(u.Path)
	} else {
		b.WriteByte('/')
	}
	return b.String()
}
