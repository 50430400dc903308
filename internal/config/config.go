// Package config loads process configuration for the binaries from the
// environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Cache backends of the offline proxy.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Storage backends of the booking API.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Proxy configures cmd/offline-proxy.
type Proxy struct {
	Port      string `env:"PORT"       envDefault:"8080"`
	OriginURL string `env:"ORIGIN_URL" envDefault:"http://localhost:8081"`
	UserAgent string `env:"USER_AGENT" envDefault:"costaverde-offline/1.0"`

	CacheBackend string `env:"CACHE_BACKEND" envDefault:"memory"`
	CacheVersion string `env:"CACHE_VERSION" envDefault:"v1"`
	RedisURL     string `env:"REDIS_URL"     envDefault:"localhost:6379"`
	RedisPrefix  string `env:"REDIS_PREFIX"  envDefault:"offline"`
	SQLitePath   string `env:"SQLITE_PATH"   envDefault:"offline-cache.db"`

	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT"        envDefault:"30s"`
	ProbeInterval      time.Duration `env:"PROBE_INTERVAL"       envDefault:"15s"`
	FailureThreshold   int           `env:"FAILURE_THRESHOLD"    envDefault:"2"`
	ReplayConcurrency  int           `env:"REPLAY_CONCURRENCY"   envDefault:"4"`
	NotificationsLimit int           `env:"NOTIFICATIONS_LIMIT"  envDefault:"50"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT"     envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Validate checks values the env tags cannot express.
func (c Proxy) Validate() error {
	u, err := url.Parse(c.OriginURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("ORIGIN_URL must be an absolute URL (got %q)", c.OriginURL)
	}
	switch c.CacheBackend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of memory, redis, sqlite (got %q)", c.CacheBackend)
	}
	if c.ReplayConcurrency < 1 {
		return fmt.Errorf("REPLAY_CONCURRENCY must be >= 1 (got %d)", c.ReplayConcurrency)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("FAILURE_THRESHOLD must be >= 1 (got %d)", c.FailureThreshold)
	}
	return nil
}

// BookingAPI configures cmd/booking-api.
type BookingAPI struct {
	Port            string        `env:"PORT"             envDefault:"8081"`
	StorageBackend  string        `env:"STORAGE_BACKEND"  envDefault:"memory"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Validate checks values the env tags cannot express.
func (c BookingAPI) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be memory or postgres (got %q)", c.StorageBackend)
	}
	return nil
}

// LoadProxy reads and validates the proxy configuration.
func LoadProxy() (Proxy, error) {
	var cfg Proxy
	if err := env.Parse(&cfg); err != nil {
		return Proxy{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadBookingAPI reads and validates the booking API configuration.
func LoadBookingAPI() (BookingAPI, error) {
	var cfg BookingAPI
	if err := env.Parse(&cfg); err != nil {
		return BookingAPI{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}
