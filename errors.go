package resilio

import (
	"errors"
	"fmt"
	"time"
)

// Error type constants for PipelineError.Type.
const (
	ErrorTypeNetwork          = "Network"
	ErrorTypeHTTP             = "HTTPStatus"
	ErrorTypeAuthentication   = "Authentication"
	ErrorTypeRefresh          = "Refresh"
	ErrorTypeCacheMiss        = "CacheMiss"
	ErrorTypeCredentialFormat = "InvalidCredentialFormat"
	ErrorTypeCircuitOpen      = "CircuitOpen"
	ErrorTypeRateLimit        = "RateLimit"
	ErrorTypeValidation       = "Validation"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrInvalidCredentialFormat is returned when an access token does not
	// parse into three non-empty segments with a decodable expiry claim.
	ErrInvalidCredentialFormat = errors.New("resilio: invalid credential format")

	// ErrNoCredential is returned when an operation requires a stored
	// credential and none is present.
	ErrNoCredential = errors.New("resilio: no credential available")

	// ErrCacheMiss is returned by cache-only calls with no usable entry.
	ErrCacheMiss = errors.New("resilio: cache miss")

	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilio: circuit open")

	// ErrRateLimited is returned when a call is denied by the rate limiter.
	ErrRateLimited = errors.New("resilio: rate limited")
)

// PipelineError is the typed failure surfaced by the pipeline. It carries
// enough context (attempt count, last status, cache key) for the caller to
// log or display without the pipeline performing user-facing messaging.
type PipelineError struct {
	Type        string
	Message     string
	Cause       error
	Method      string
	URL         string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	CacheKey    string
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [status %d]", msg, e.StatusCode)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *PipelineError by type, so
// errors.Is(err, &PipelineError{Type: ErrorTypeAuthentication}) works.
func (e *PipelineError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*PipelineError); ok {
		return e.Type == t.Type
	}
	return false
}

// IsAuthenticationError reports whether err is a terminal authentication
// failure (refresh exhausted or a second consecutive 401).
func IsAuthenticationError(err error) bool {
	return isErrorType(err, ErrorTypeAuthentication)
}

// IsCacheMiss reports whether err is a cache-only miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss) || isErrorType(err, ErrorTypeCacheMiss)
}

// IsRefreshError reports whether err came from a failed refresh call.
func IsRefreshError(err error) bool {
	return isErrorType(err, ErrorTypeRefresh)
}

func isErrorType(err error, errorType string) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Type == errorType
}
