package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ResponseToEntry converts an HTTP response to an Entry.
// It reads the response body and restores it, so the caller can still
// return the live response after caching a clone of it.
func ResponseToEntry(req *http.Request, resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body.Close()
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &Entry{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Data:       body,
		CachedAt:   time.Now(),
	}, nil
}

// RequestToEntry captures a write request (method, URL, headers, body) so
// it can be replayed later. The request body is restored.
func RequestToEntry(req *http.Request) (*Entry, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	body, err := ReadRequestBody(req)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Method:         req.Method,
		URL:            req.URL.String(),
		RequestHeaders: req.Header.Clone(),
		RequestBody:    body,
		CachedAt:       time.Now(),
	}, nil
}

// ReadRequestBody buffers the request body and replaces it with a
// re-readable copy. GetBody is set so the request can be sent again.
func ReadRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	req.Body.Close()

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	return body, nil
}

// EntryToResponse converts a cached entry back to an HTTP response for req.
func EntryToResponse(entry *Entry, req *http.Request) *http.Response {
	header := entry.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("X-Cache-Status", "HIT")

	return &http.Response{
		Status:        strconv.Itoa(entry.StatusCode) + " " + http.StatusText(entry.StatusCode),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}

// EntryToRequest rebuilds a captured write request.
func EntryToRequest(ctx context.Context, entry *Entry) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, entry.Method, entry.URL, bytes.NewReader(entry.RequestBody))
	if err != nil {
		return nil, fmt.Errorf("rebuild request: %w", err)
	}
	for key, values := range entry.RequestHeaders {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return req, nil
}
