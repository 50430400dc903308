package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RequestKey identifies a cached request.
type RequestKey struct {
	// Method is the request method (GET when empty)
	Method string

	// URL is the absolute request URL
	URL string

	// Discriminator separates several captured writes to the same URL
	// (e.g. their idempotency keys). Empty for cached reads.
	Discriminator string
}

// KeyForRequest builds the key of an HTTP request.
func KeyForRequest(r *http.Request) RequestKey {
	return RequestKey{
		Method: r.Method,
		URL:    r.URL.String(),
	}
}

// String generates a deterministic key string.
// Format: METHOD canonical-url[#discriminator]
//
// Example:
//
//	GET https://app.example/api/boats?page=1&type=sail
func (k RequestKey) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = http.MethodGet
	}

	key := method + " " + canonicalURL(k.URL)
	if k.Discriminator != "" {
		key += "#" + k.Discriminator
	}
	return key
}

// ParseRequestKey is the inverse of RequestKey.String. The URL part holds
// no raw '#' since String drops the fragment, so the discriminator is
// everything after the first one.
func ParseRequestKey(s string) (RequestKey, error) {
	method, rest, ok := strings.Cut(s, " ")
	if !ok || method == "" || rest == "" {
		return RequestKey{}, fmt.Errorf("malformed request key %q", s)
	}

	key := RequestKey{Method: method, URL: rest}
	if u, disc, ok := strings.Cut(rest, "#"); ok {
		key.URL = u
		key.Discriminator = disc
	}
	return key, nil
}

// Path returns the URL path of the key, or "" when the URL does not parse.
func (k RequestKey) Path() string {
	u, err := url.Parse(k.URL)
	if err != nil {
		return ""
	}
	return u.Path
}

// canonicalURL drops the fragment and sorts query parameters.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}
