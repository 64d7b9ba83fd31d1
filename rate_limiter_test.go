package resilio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiterStartsFull(t *testing.T) {
	rl := NewRateLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Allow() = false on token %d of a full bucket", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Allow() = true on an empty bucket")
	}
	if got := rl.Tokens(); got != 0 {
		t.Errorf("Tokens() = %d, want 0", got)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(2, 20*time.Millisecond)

	rl.Allow()
	rl.Allow()
	if rl.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(25 * time.Millisecond)
	if !rl.Allow() {
		t.Error("one refill period elapsed but no token available")
	}
}

func TestRateLimiterCapsAtMax(t *testing.T) {
	rl := NewRateLimiter(2, 5*time.Millisecond)

	// Idle well past several refill periods; the bucket must not exceed
	// its capacity.
	time.Sleep(30 * time.Millisecond)
	if got := rl.Tokens(); got != 2 {
		t.Errorf("Tokens() = %d, want the cap of 2", got)
	}
}

func TestRateLimiterConcurrentConsumption(t *testing.T) {
	const tokens = 50
	rl := NewRateLimiter(tokens, time.Hour)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < tokens*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != tokens {
		t.Errorf("allowed = %d concurrent acquisitions, want exactly %d", got, tokens)
	}
}
