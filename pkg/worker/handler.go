package worker

import (
	"io"
	"net/http"
	"net/url"
)

// Hop-by-hop headers are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServeHTTP makes the manager usable as a front for its origin: the
// incoming request is rewritten to the origin and answered through Handle.
func (m *CacheManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out, err := m.OriginRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := m.Handle(out)
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Set("X-Offline-Strategy", string(m.router.Classify(out.URL)))

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		m.logger.Debug().Err(err).Str("url", out.URL.String()).Msg("Client went away while copying response")
	}
}

// OriginRequest rewrites an incoming server request into a request
// against the origin, keeping method, path, query, headers and body.
func (m *CacheManager) OriginRequest(r *http.Request) (*http.Request, error) {
	target := m.origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = r.ContentLength
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return out, nil
}
