package worker

import (
	"net/url"
	"path"
	"strings"
)

// Strategy is the handling strategy chosen for a request.
type Strategy string

const (
	StrategyStatic   Strategy = "static"
	StrategyAPI      Strategy = "api"
	StrategyImage    Strategy = "image"
	StrategyFallback Strategy = "fallback"
)

// Router classifies request URLs into strategies.
type Router struct {
	static      map[string]struct{}
	apiPrefixes []string
	imageExts   map[string]struct{}
}

// NewRouter builds a Router from the configured paths and extensions.
func NewRouter(cfg Config) *Router {
	r := &Router{
		static:      make(map[string]struct{}, len(cfg.StaticAssets)),
		apiPrefixes: append([]string(nil), cfg.APIPrefixes...),
		imageExts:   make(map[string]struct{}, len(cfg.ImageExtensions)),
	}
	for _, p := range cfg.StaticAssets {
		r.static[p] = struct{}{}
	}
	for _, ext := range cfg.ImageExtensions {
		r.imageExts[strings.ToLower(ext)] = struct{}{}
	}
	return r
}

// Classify returns the strategy of u, in priority order static, api,
// image, fallback.
func (r *Router) Classify(u *url.URL) Strategy {
	p := u.Path
	if p == "" {
		p = "/"
	}

	if _, ok := r.static[p]; ok {
		return StrategyStatic
	}
	if r.IsAPI(p) {
		return StrategyAPI
	}
	if _, ok := r.imageExts[strings.ToLower(path.Ext(p))]; ok {
		return StrategyImage
	}
	return StrategyFallback
}

// IsAPI reports whether p lies under one of the API prefixes.
func (r *Router) IsAPI(p string) bool {
	for _, prefix := range r.apiPrefixes {
		if HasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// HasPathPrefix reports whether p equals prefix or continues it with a
// new path segment: "/api/bookings" matches "/api/bookings" and
// "/api/bookings/42" but not "/api/bookingsummary".
func HasPathPrefix(p, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return strings.HasPrefix(p, "/")
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}
