package resilio

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/Tubishat98/resilio/internal/clock"
)

// DefaultExpirySkew is the buffer subtracted from the access token expiry
// so consumers treat "about to expire" as "expired".
const DefaultExpirySkew = 60 * time.Second

const credentialStorageKey = "resilio.credential"

// CredentialStore is the durable holder of the session's access/refresh
// credential pair and the access token's decoded expiry. It performs no
// network I/O; persistence goes through the Storage collaborator. Safe for
// concurrent use.
type CredentialStore struct {
	mu      sync.RWMutex
	storage Storage
	clock   clock.Clock
	skew    time.Duration
	logger  zerolog.Logger
	cred    *Credential
}

// CredentialStoreOption configures a CredentialStore.
type CredentialStoreOption func(*CredentialStore)

// WithExpirySkew sets the buffer used by IsAccessExpired.
func WithExpirySkew(d time.Duration) CredentialStoreOption {
	return func(s *CredentialStore) {
		if d >= 0 {
			s.skew = d
		}
	}
}

// WithCredentialClock sets the clock used for expiry checks.
func WithCredentialClock(c clock.Clock) CredentialStoreOption {
	return func(s *CredentialStore) { s.clock = c }
}

// WithCredentialLogger sets the logger for persistence warnings.
func WithCredentialLogger(l zerolog.Logger) CredentialStoreOption {
	return func(s *CredentialStore) { s.logger = l }
}

// NewCredentialStore returns a store backed by the given Storage. Any
// previously persisted credential is loaded; malformed persisted data
// fails closed and is treated as absent.
func NewCredentialStore(storage Storage, opts ...CredentialStoreOption) *CredentialStore {
	s := &CredentialStore{
		storage: storage,
		clock:   clock.System(),
		skew:    DefaultExpirySkew,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *CredentialStore) load() {
	if s.storage == nil {
		return
	}
	raw, ok, err := s.storage.Read(credentialStorageKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential read failed, treating as unauthenticated")
		return
	}
	if !ok {
		return
	}

	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		s.logger.Warn().Err(err).Msg("discarding malformed stored credential")
		_ = s.storage.Delete(credentialStorageKey)
		return
	}
	if _, err := accessTokenExpiry(cred.AccessToken); err != nil {
		s.logger.Warn().Err(err).Msg("discarding stored credential with invalid access token")
		_ = s.storage.Delete(credentialStorageKey)
		return
	}
	s.cred = &cred
}

// Set validates the access token, derives its expiry from the token's own
// claims and atomically replaces the stored pair, persisting through the
// Storage collaborator.
func (s *CredentialStore) Set(access, refresh string) error {
	expiry, err := accessTokenExpiry(access)
	if err != nil {
		return err
	}

	cred := &Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExpiry: expiry,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	if s.storage != nil {
		raw, err := json.Marshal(cred)
		if err != nil {
			return err
		}
		if err := s.storage.Write(credentialStorageKey, raw); err != nil {
			return err
		}
	}
	return nil
}

// Access returns the current access token, if any.
func (s *CredentialStore) Access() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return "", false
	}
	return s.cred.AccessToken, true
}

// Refresh returns the current refresh token, if any.
func (s *CredentialStore) Refresh() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return "", false
	}
	return s.cred.RefreshToken, true
}

// Expiry returns the decoded access token expiry, if a credential is
// present.
func (s *CredentialStore) Expiry() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return time.Time{}, false
	}
	return s.cred.AccessExpiry, true
}

// IsAccessExpired reports whether the access token is absent, expired, or
// within the configured skew of expiring.
func (s *CredentialStore) IsAccessExpired() bool {
	return s.ExpiresWithin(s.skew)
}

// ExpiresWithin reports whether the access token is absent or reaches its
// expiry within the given buffer.
func (s *CredentialStore) ExpiresWithin(buffer time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return true
	}
	return !s.clock.Now().Before(s.cred.AccessExpiry.Add(-buffer))
}

// Clear removes the credential pair and its persisted form. It is
// idempotent.
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	if s.storage != nil {
		return s.storage.Delete(credentialStorageKey)
	}
	return nil
}

// accessTokenExpiry validates the structural well-formedness of an access
// token (three non-empty dot-separated segments) and decodes the expiry
// from its claims. The signature is not verified here; the remote API is
// the authority on validity.
func accessTokenExpiry(access string) (time.Time, error) {
	segments := strings.Split(access, ".")
	if len(segments) != 3 {
		return time.Time{}, &PipelineError{
			Type:    ErrorTypeCredentialFormat,
			Message: "access token must have three segments",
			Cause:   ErrInvalidCredentialFormat,
		}
	}
	for _, segment := range segments {
		if segment == "" {
			return time.Time{}, &PipelineError{
				Type:    ErrorTypeCredentialFormat,
				Message: "access token has an empty segment",
				Cause:   ErrInvalidCredentialFormat,
			}
		}
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil {
		return time.Time{}, &PipelineError{
			Type:    ErrorTypeCredentialFormat,
			Message: "access token claims are not decodable",
			Cause:   err,
		}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, &PipelineError{
			Type:    ErrorTypeCredentialFormat,
			Message: "access token has no exp claim",
			Cause:   ErrInvalidCredentialFormat,
		}
	}
	return claims.ExpiresAt.Time, nil
}
