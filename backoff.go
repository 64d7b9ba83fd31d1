package resilio

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Tubishat98/resilio/internal/backoff"
)

// BackoffPolicy is a pure, stateless description of the retry schedule
// and of which failures are worth retrying.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool

	// Jitter in (0, 1] adds up to that fraction of the computed delay.
	Jitter float64

	// MaxAttempts bounds total tries including the first. Once exceeded
	// the last failure is surfaced unchanged.
	MaxAttempts int

	// RetryableStatuses lists 4xx codes retried in addition to the
	// network-failure and 5xx defaults.
	RetryableStatuses []int
}

// DefaultBackoffPolicy returns the stock exponential schedule:
// 100ms base doubling per attempt, 10s cap, 3 attempts.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Exponential: true,
		MaxAttempts: 3,
	}
}

// Delay returns the wait after the given 1-based attempt:
// BaseDelay * 2^(attempt-1) in exponential mode, constant BaseDelay
// otherwise.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return backoff.Delay(attempt, base, p.MaxDelay, p.Exponential, p.Jitter)
}

// IsRetryable reports whether a failure with the given status code is
// transient. A zero status means no response was received
// (network-unreachable), which is retryable; server errors (5xx) are
// retryable by default; 4xx only when listed in RetryableStatuses.
func (p BackoffPolicy) IsRetryable(statusCode int) bool {
	if statusCode == 0 {
		return true
	}
	if statusCode >= 500 {
		return true
	}
	for _, code := range p.RetryableStatuses {
		if code == statusCode {
			return true
		}
	}
	return false
}

// retryAfterDelay parses a Retry-After header on 429/503 responses,
// supporting both delay-seconds and HTTP-date, capped at one hour. Zero
// means no usable value.
func retryAfterDelay(resp *Response) time.Duration {
	if resp == nil {
		return 0
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		delay := time.Duration(seconds) * time.Second
		if delay > time.Hour {
			delay = time.Hour
		}
		return delay
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
