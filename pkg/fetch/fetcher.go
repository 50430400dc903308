// Package fetch is the network collaborator of the offline layer: it
// issues requests against the origin and reports every transport failure
// as an error matching ErrNetwork.
package fetch

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_fetch_duration_seconds",
		Help:    "Origin fetch duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_fetch_errors_total",
		Help: "Total origin fetch failures by error class",
	}, []string{"class"})
)

// Fetcher issues one request against the network.
//
// A non-nil error means no response was obtained and always matches
// ErrNetwork. A response with an error status is returned with a nil error.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(req *http.Request) (*http.Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Config holds the HTTP fetcher configuration.
type Config struct {
	// Timeout bounds a whole request. Zero means no timeout, leaving
	// deadlines to the request context.
	Timeout time.Duration

	// UserAgent is set on requests that carry none.
	UserAgent string
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "costaverde-offline/1.0",
	}
}

// HTTPFetcher is a Fetcher backed by net/http.
type HTTPFetcher struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates an HTTPFetcher.
func New(cfg Config) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects are responses the caller decides about
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
		logger: log.With().Str("component", "fetch").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *HTTPFetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(req *http.Request) (*http.Response, error) {
	startTime := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(req.Method).Observe(time.Since(startTime).Seconds())
	}()

	if f.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		netErr := Wrap(req.URL.String(), err)
		class := Classify(netErr)
		fetchErrorsTotal.WithLabelValues(string(class)).Inc()
		f.logger.Debug().
			Err(err).
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Str("error_class", string(class)).
			Msg("Fetch failed")
		return nil, netErr
	}

	f.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Msg("Fetch completed")
	return resp, nil
}
