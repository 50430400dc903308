package worker

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Category names one of the four cache stores.
type Category string

const (
	CategoryStatic  Category = "static"
	CategoryDynamic Category = "dynamic"
	CategoryAPI     Category = "api"
	CategoryImage   Category = "image"
)

// Categories lists the store categories in lookup order.
var Categories = []Category{CategoryStatic, CategoryDynamic, CategoryAPI, CategoryImage}

// Config holds the CacheManager configuration.
type Config struct {
	// Origin is the absolute base URL of the application (e.g. "https://app.example")
	Origin string

	// Version is appended to every store name. Changing it orphans the
	// stores of the previous version, which Activate then drops.
	Version string

	// StaticAssets are the app-shell paths pre-cached at install
	StaticAssets []string

	// APIPrefixes are routed through the network-first api strategy
	APIPrefixes []string

	// ImageExtensions are routed through the cache-first image strategy (with leading dot)
	ImageExtensions []string

	// Limits is the maximum item count per store; zero or missing means unbounded
	Limits map[Category]int

	// OfflinePage is served for navigations that fail without a cached copy
	OfflinePage string

	// CapturePrefixes are the API paths whose failed writes are captured
	// for replay. Writes to other API paths fail with the offline response.
	CapturePrefixes []string

	// OutboxStore holds writes captured while offline. It is not versioned
	// and not bounded so neither eviction nor activation can drop them.
	OutboxStore string

	// PreservedStores are kept on activation next to the current stores
	// and the outbox, e.g. an offline queue sharing the same storage.
	PreservedStores []string
}

// DefaultConfig returns the configuration of the boat-rental app for origin.
func DefaultConfig(origin string) Config {
	return Config{
		Origin:  origin,
		Version: "v1",
		StaticAssets: []string{
			"/",
			"/offline",
			"/manifest.json",
			"/icon-192x192.png",
			"/icon-384x384.png",
			"/icon-512x512.png",
		},
		APIPrefixes:     []string{"/api/boats", "/api/bookings", "/api/favorites"},
		ImageExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
		Limits: map[Category]int{
			CategoryDynamic: 75,
			CategoryAPI:     50,
			CategoryImage:   100,
		},
		OfflinePage:     "/offline",
		CapturePrefixes: []string{"/api/bookings", "/api/favorites"},
		OutboxStore:     "outbox",
	}
}

// StoreName returns the versioned store name of a category, e.g. "api-v1".
func (c Config) StoreName(cat Category) string {
	return fmt.Sprintf("%s-%s", cat, c.Version)
}

// StoreNames returns the four current store names.
func (c Config) StoreNames() []string {
	names := make([]string, 0, len(Categories))
	for _, cat := range Categories {
		names = append(names, c.StoreName(cat))
	}
	return names
}

// Limit returns the maximum item count of a category (0 = unbounded).
func (c Config) Limit(cat Category) int {
	return c.Limits[cat]
}

// Validate checks the configuration.
func (c Config) Validate() error {
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("origin must be an absolute URL (got %q)", c.Origin)
	}
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if strings.ContainsAny(c.Version, " #") {
		return fmt.Errorf("version must not contain spaces or '#' (got %q)", c.Version)
	}
	if c.OutboxStore == "" {
		return fmt.Errorf("outbox store name is required")
	}
	if slices.Contains(c.StoreNames(), c.OutboxStore) {
		return fmt.Errorf("outbox store %q collides with a versioned store", c.OutboxStore)
	}
	for _, name := range c.PreservedStores {
		if name == "" || slices.Contains(c.StoreNames(), name) {
			return fmt.Errorf("preserved store %q collides with a versioned store", name)
		}
	}
	paths := slices.Concat(c.StaticAssets, c.APIPrefixes, c.CapturePrefixes)
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("path %q must start with '/'", p)
		}
	}
	if c.OfflinePage != "" && !slices.Contains(c.StaticAssets, c.OfflinePage) {
		return fmt.Errorf("offline page %q must be one of the static assets", c.OfflinePage)
	}
	for cat, limit := range c.Limits {
		if limit < 0 {
			return fmt.Errorf("limit of %s must be >= 0 (got %d)", cat, limit)
		}
	}
	return nil
}

// originURL returns the parsed origin. Validate guarantees it parses.
func (c Config) originURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}
