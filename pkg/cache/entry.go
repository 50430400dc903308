package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Entry is a cached request/response pair as stored in a BlobStore.
type Entry struct {
	// Method is the request method
	Method string `json:"method"`

	// URL is the canonical request URL
	URL string `json:"url"`

	// RequestHeaders are kept for captured writes that must be replayed
	RequestHeaders http.Header `json:"request_headers,omitempty"`

	// RequestBody is kept for captured writes that must be replayed
	RequestBody []byte `json:"request_body,omitempty"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// IsWrite reports whether the entry holds a non-GET request.
func (e *Entry) IsWrite() bool {
	switch e.Method {
	case "", http.MethodGet, http.MethodHead:
		return false
	default:
		return true
	}
}

// Marshal serializes the entry into a blob.
func (e *Entry) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

// UnmarshalEntry decodes a blob produced by Entry.Marshal.
func UnmarshalEntry(blob []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(blob, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if entry.StatusCode == 0 && !entry.IsWrite() {
		return nil, fmt.Errorf("%w: missing status code", ErrInvalidEntry)
	}
	return &entry, nil
}
