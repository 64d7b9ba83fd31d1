package resilio

import (
	"sync/atomic"
	"time"
)

// RateLimiter is a token-bucket limiter: the bucket holds up to maxTokens
// and gains one token per refillRate elapsed. Lock-free; safe for
// concurrent use.
type RateLimiter struct {
	maxTokens  int64
	refillRate time.Duration
	tokens     atomic.Int64
	lastRefill atomic.Int64 // unix nanos
}

// NewRateLimiter returns a full bucket.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxTokens:  int64(maxTokens),
		refillRate: refillRate,
	}
	rl.tokens.Store(int64(maxTokens))
	rl.lastRefill.Store(time.Now().UnixNano())
	return rl
}

// Allow consumes one token if available.
func (rl *RateLimiter) Allow() bool {
	rl.refill()
	for {
		current := rl.tokens.Load()
		if current <= 0 {
			return false
		}
		if rl.tokens.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// Tokens returns the current token count.
func (rl *RateLimiter) Tokens() int {
	rl.refill()
	return int(rl.tokens.Load())
}

func (rl *RateLimiter) refill() {
	if rl.refillRate <= 0 {
		return
	}
	now := time.Now().UnixNano()
	for {
		last := rl.lastRefill.Load()
		toAdd := (now - last) / int64(rl.refillRate)
		if toAdd == 0 {
			return
		}
		// Advance lastRefill by whole refill periods so fractional time
		// is not lost between calls.
		if !rl.lastRefill.CompareAndSwap(last, last+toAdd*int64(rl.refillRate)) {
			continue
		}
		for {
			current := rl.tokens.Load()
			next := current + toAdd
			if next > rl.maxTokens {
				next = rl.maxTokens
			}
			if rl.tokens.CompareAndSwap(current, next) {
				return
			}
		}
	}
}
