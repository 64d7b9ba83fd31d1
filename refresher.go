package resilio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tubishat98/resilio/internal/clock"
)

// DefaultPreemptBuffer is how far ahead of the access token expiry the
// proactive refresh timer fires.
const DefaultPreemptBuffer = 30 * time.Second

// TokenRefresher coordinates credential refresh so that many concurrent
// callers observing an expired credential issue exactly one network
// refresh and all observe its single outcome. Refresh failures are
// terminal for the session: the store is cleared, forcing
// re-authentication, and the failure is never retried internally.
type TokenRefresher struct {
	mu       sync.Mutex
	store    *CredentialStore
	refresh  RefreshFunc
	clock    clock.Clock
	preempt  time.Duration
	logger   zerolog.Logger
	metrics  *Metrics
	inflight *refreshCall
	timer    clock.Timer
}

// refreshCall is the shared outcome of one in-flight refresh. The first
// caller to create it owns the network call; everyone else waits on done.
type refreshCall struct {
	done chan struct{}
	cred Credential
	err  error
}

func (c *refreshCall) wait(ctx context.Context) (Credential, error) {
	select {
	case <-c.done:
		return c.cred, c.err
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

// RefresherOption configures a TokenRefresher.
type RefresherOption func(*TokenRefresher)

// WithPreemptBuffer sets how far before expiry the proactive refresh
// fires.
func WithPreemptBuffer(d time.Duration) RefresherOption {
	return func(r *TokenRefresher) {
		if d >= 0 {
			r.preempt = d
		}
	}
}

// WithRefresherClock sets the clock used for scheduling.
func WithRefresherClock(c clock.Clock) RefresherOption {
	return func(r *TokenRefresher) { r.clock = c }
}

// WithRefresherLogger sets the logger for refresh outcomes.
func WithRefresherLogger(l zerolog.Logger) RefresherOption {
	return func(r *TokenRefresher) { r.logger = l }
}

// WithRefresherMetrics records refresh outcomes on the given collector.
func WithRefresherMetrics(m *Metrics) RefresherOption {
	return func(r *TokenRefresher) { r.metrics = m }
}

// NewTokenRefresher returns a refresher bound to the store and the refresh
// network operation.
func NewTokenRefresher(store *CredentialStore, fn RefreshFunc, opts ...RefresherOption) *TokenRefresher {
	r := &TokenRefresher{
		store:   store,
		refresh: fn,
		clock:   clock.System(),
		preempt: DefaultPreemptBuffer,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh returns the outcome of the current in-flight refresh, starting
// one if none is running. Concurrent callers attach to the same outcome
// rather than issuing duplicate network calls; a waiter's context
// cancellation detaches that waiter only.
func (r *TokenRefresher) Refresh(ctx context.Context) (Credential, error) {
	r.mu.Lock()
	if c := r.inflight; c != nil {
		r.mu.Unlock()
		return c.wait(ctx)
	}
	c := &refreshCall{done: make(chan struct{})}
	r.inflight = c
	r.mu.Unlock()

	c.cred, c.err = r.doRefresh(ctx)
	close(c.done)

	r.mu.Lock()
	r.inflight = nil
	r.mu.Unlock()

	return c.cred, c.err
}

func (r *TokenRefresher) doRefresh(ctx context.Context) (Credential, error) {
	refreshToken, ok := r.store.Refresh()
	if !ok {
		return Credential{}, &PipelineError{
			Type:    ErrorTypeRefresh,
			Message: "no refresh token present",
			Cause:   ErrNoCredential,
		}
	}

	access, refresh, err := r.refresh(ctx, refreshToken)
	if err != nil {
		r.fail()
		r.logger.Warn().Err(err).Msg("refresh call failed, session de-authenticated")
		return Credential{}, &PipelineError{
			Type:    ErrorTypeRefresh,
			Message: "refresh call failed",
			Cause:   err,
		}
	}

	if err := r.store.Set(access, refresh); err != nil {
		r.fail()
		r.logger.Warn().Err(err).Msg("refreshed credential rejected, session de-authenticated")
		return Credential{}, &PipelineError{
			Type:    ErrorTypeRefresh,
			Message: "refreshed credential could not be installed",
			Cause:   err,
		}
	}

	r.ScheduleProactiveRefresh()
	if r.metrics != nil {
		r.metrics.RecordRefresh("success")
	}

	expiry, _ := r.store.Expiry()
	r.logger.Debug().Time("expiry", expiry).Msg("credential refreshed")
	return Credential{AccessToken: access, RefreshToken: refresh, AccessExpiry: expiry}, nil
}

// fail clears the store and any scheduled refresh; the caller surfaces the
// error.
func (r *TokenRefresher) fail() {
	_ = r.store.Clear()
	r.CancelScheduled()
	if r.metrics != nil {
		r.metrics.RecordRefresh("failure")
	}
}

// ScheduleProactiveRefresh arms a one-shot timer to refresh the credential
// preemptBuffer ahead of its expiry. Re-arming cancels any previously
// armed timer; no timer is armed without a credential. An already-due
// deadline refreshes immediately.
func (r *TokenRefresher) ScheduleProactiveRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	expiry, ok := r.store.Expiry()
	if !ok {
		return
	}

	delay := expiry.Sub(r.clock.Now()) - r.preempt
	if delay <= 0 {
		go r.refreshInBackground()
		return
	}
	r.timer = r.clock.AfterFunc(delay, r.refreshInBackground)
}

func (r *TokenRefresher) refreshInBackground() {
	if _, err := r.Refresh(context.Background()); err != nil {
		r.logger.Warn().Err(err).Msg("proactive refresh failed")
	}
}

// CancelScheduled cancels any armed proactive refresh timer. Called on
// logout so no timer fires against a torn-down store.
func (r *TokenRefresher) CancelScheduled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Close tears down the refresher's timers.
func (r *TokenRefresher) Close() {
	r.CancelScheduled()
}
