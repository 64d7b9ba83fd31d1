package resilio

import (
	"sync/atomic"
	"time"
)

// CircuitState is the current mode of the circuit breaker.
type CircuitState int64

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker thresholds. Zero values take
// the defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitBreaker fails calls fast while the upstream is known to be
// unhealthy: consecutive failures open the circuit, a recovery timeout
// admits probes half-open, and consecutive probe successes close it
// again. Lock-free; safe for concurrent use.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       atomic.Int64
	failures    atomic.Int64
	successes   atomic.Int64
	lastFailure atomic.Int64 // unix nanos
}

// NewCircuitBreaker returns a closed breaker with defaults applied.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	return &CircuitBreaker{config: config}
}

// Allow reports whether a call may proceed, transitioning open to
// half-open once the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(cb.state.Load()) {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		elapsed := time.Now().UnixNano() - cb.lastFailure.Load()
		if elapsed >= int64(cb.config.RecoveryTimeout) {
			if cb.state.CompareAndSwap(int64(CircuitOpen), int64(CircuitHalfOpen)) {
				cb.successes.Store(0)
				return true
			}
		}
		return false
	default:
		return false
	}
}

// RecordFailure counts a failed call; crossing the failure threshold, or
// any failure while half-open, opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.lastFailure.Store(time.Now().UnixNano())

	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		if cb.failures.Add(1) >= int64(cb.config.FailureThreshold) {
			cb.state.Store(int64(CircuitOpen))
		}
	case CircuitHalfOpen:
		cb.state.Store(int64(CircuitOpen))
		cb.successes.Store(0)
	}
}

// RecordSuccess counts a successful call; enough successes while
// half-open close the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	if CircuitState(cb.state.Load()) != CircuitHalfOpen {
		return
	}
	if cb.successes.Add(1) >= int64(cb.config.SuccessThreshold) {
		cb.state.Store(int64(CircuitClosed))
		cb.failures.Store(0)
		cb.successes.Store(0)
	}
}

// State returns the breaker's current mode.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}
