package resilio

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// makeToken builds a signed JWT expiring at exp. The pipeline never
// verifies signatures, but the token must be structurally valid.
func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

// fakeExecutor scripts responses for the pipeline without a network.
type fakeExecutor struct {
	mu        sync.Mutex
	calls     int
	responses []fakeResult
	// lastHeader records the header of the most recent execution.
	lastHeader http.Header
}

type fakeResult struct {
	resp *Response
	err  error
}

func respondWith(status int, body string) fakeResult {
	return fakeResult{resp: &Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       []byte(body),
	}}
}

func failWith(err error) fakeResult {
	return fakeResult{err: err}
}

func (f *fakeExecutor) Execute(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHeader = header
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		// Repeat the last scripted result.
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	// Copy so pipeline mutation of Attempts doesn't leak across calls.
	cp := *r.resp
	return &cp, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExecutor) authHeader() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastHeader == nil {
		return ""
	}
	return f.lastHeader.Get("Authorization")
}
