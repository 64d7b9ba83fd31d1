package resilio

import (
	"context"
	"net/http"
	"time"
)

// CacheStrategy selects how a call interacts with the response cache.
// Caching applies to GET calls only; every other method bypasses the cache
// regardless of strategy.
type CacheStrategy int

const (
	// NetworkFirst always executes the call and writes a successful result
	// through the cache, overwriting any stale entry. Network failures are
	// surfaced, never masked by a stale cache read.
	NetworkFirst CacheStrategy = iota

	// CacheFirst returns a cache hit immediately without executing; on a
	// miss it executes and writes through.
	CacheFirst

	// NetworkOnly executes and writes through but never reads the cache.
	NetworkOnly

	// CacheOnly never touches the network; a miss is a terminal
	// ErrorTypeCacheMiss failure.
	CacheOnly
)

func (s CacheStrategy) String() string {
	switch s {
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	case NetworkOnly:
		return "network-only"
	case CacheOnly:
		return "cache-only"
	default:
		return "unknown"
	}
}

// CallSpec describes one logical request to the pipeline.
type CallSpec struct {
	Method string
	URL    string
	Header http.Header

	// Body is buffered so the call can be replayed across retries.
	Body []byte

	// Strategy overrides the client's default cache strategy when non-nil.
	Strategy *CacheStrategy

	// TTL overrides the cache's default TTL for this call when non-zero.
	// TTLNever stores the entry without time-based expiry.
	TTL time.Duration

	SkipAuth  bool
	SkipCache bool
	SkipRetry bool
}

// Response is the pipeline's view of a completed call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// FromCache marks a response served from the cache without a network
	// call.
	FromCache bool

	// Attempts is the number of network executions this call performed,
	// including any forced auth retry. Zero for pure cache hits.
	Attempts int

	Duration time.Duration
}

// Executor is the network-call primitive the pipeline drives. Transport
// concerns (DNS, TLS, pooling) live behind this boundary.
type Executor interface {
	Execute(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error)
}

// RefreshFunc exchanges a refresh token for a new access/refresh pair. It
// is the single network operation TokenRefresher coordinates; failures are
// terminal for the session and are not retried.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// Credential is an access/refresh token pair together with the access
// token's decoded expiry. The expiry is always derived from the token's
// own claims, never guessed.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExpiry time.Time `json:"access_expiry"`
}

// Option configures a Client.
type Option func(*Client)
