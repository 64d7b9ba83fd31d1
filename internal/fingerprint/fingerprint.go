// Package fingerprint builds canonical cache keys for logical requests.
package fingerprint

import (
	"net/url"
	"strings"
)

// Key returns the canonical fingerprint for a request: the method plus the
// normalized URL with query parameters in stable sorted order. Two requests
// that differ only in query parameter ordering, host casing or a trailing
// default path produce the same key.
func Key(method, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Unparseable URLs still get a stable key.
		return method + " " + rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""

	// url.Values.Encode emits parameters sorted by key.
	u.RawQuery = u.Query().Encode()

	return method + " " + u.String()
}
