package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/Sternrassler/costaverde-offline/pkg/cache"
	"github.com/Sternrassler/costaverde-offline/pkg/fetch"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// IdempotencyKeyHeader carries the client-generated key of a write.
const IdempotencyKeyHeader = "Idempotency-Key"

// CacheManager intercepts requests for one origin and serves them from
// the network or the cache stores according to their strategy.
type CacheManager struct {
	config    Config
	origin    *url.URL
	router    *Router
	storage   cache.Storage
	fetcher   fetch.Fetcher
	lifecycle Lifecycle
	logger    zerolog.Logger

	mu     sync.RWMutex
	stores map[Category]cache.BlobStore
	outbox cache.BlobStore
}

// NewCacheManager creates a CacheManager. It opens no store until Install.
func NewCacheManager(cfg Config, storage cache.Storage, fetcher fetch.Fetcher) (*CacheManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if storage == nil {
		return nil, fmt.Errorf("cache storage is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}

	return &CacheManager{
		config:  cfg,
		origin:  cfg.originURL(),
		router:  NewRouter(cfg),
		storage: storage,
		fetcher: fetcher,
		logger: log.With().
			Str("component", "cache-manager").
			Str("version", cfg.Version).
			Logger(),
	}, nil
}

// Config returns the manager configuration.
func (m *CacheManager) Config() Config {
	return m.config
}

// Router returns the request classifier.
func (m *CacheManager) Router() *Router {
	return m.router
}

// State returns the lifecycle state.
func (m *CacheManager) State() State {
	return m.lifecycle.State()
}

// Start installs and immediately activates the manager, without waiting
// for a previous version to release its clients.
func (m *CacheManager) Start(ctx context.Context) error {
	if err := m.Install(ctx); err != nil {
		return err
	}
	return m.Activate(ctx)
}

// Install opens the four stores and the outbox and pre-populates the
// static store with the app-shell assets. Pre-caching is all-or-nothing:
// if any asset cannot be fetched nothing is written and the manager
// returns to StateNew.
func (m *CacheManager) Install(ctx context.Context) error {
	if err := m.lifecycle.Transition(StateInstalling); err != nil {
		return err
	}
	m.logger.Info().Msg("Installing cache stores")

	if err := m.install(ctx); err != nil {
		_ = m.lifecycle.Transition(StateNew)
		m.logger.Error().Err(err).Msg("Install failed")
		return fmt.Errorf("install: %w", err)
	}

	if err := m.lifecycle.Transition(StateInstalled); err != nil {
		return err
	}
	m.logger.Info().
		Int("static_assets", len(m.config.StaticAssets)).
		Msg("Cache stores installed")
	return nil
}

func (m *CacheManager) install(ctx context.Context) error {
	stores := make(map[Category]cache.BlobStore, len(Categories))
	for _, cat := range Categories {
		store, err := m.storage.Open(ctx, m.config.StoreName(cat))
		if err != nil {
			return fmt.Errorf("open %s store: %w", cat, err)
		}
		stores[cat] = store
	}
	outbox, err := m.storage.Open(ctx, m.config.OutboxStore)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	type precached struct {
		key   string
		entry *cache.Entry
	}
	assets := make([]precached, 0, len(m.config.StaticAssets))
	for _, p := range m.config.StaticAssets {
		entry, err := m.precache(ctx, p)
		if err != nil {
			return err
		}
		assets = append(assets, precached{key: cache.RequestKey{URL: entry.URL}.String(), entry: entry})
	}
	for _, a := range assets {
		if err := cache.PutEntry(ctx, stores[CategoryStatic], a.key, a.entry); err != nil {
			return fmt.Errorf("store %s: %w", a.entry.URL, err)
		}
	}

	m.mu.Lock()
	m.stores = stores
	m.outbox = outbox
	m.mu.Unlock()
	return nil
}

func (m *CacheManager) precache(ctx context.Context, p string) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.resolve(p), nil)
	if err != nil {
		return nil, fmt.Errorf("pre-cache %s: %w", p, err)
	}
	resp, err := m.fetcher.Fetch(req)
	if err != nil {
		return nil, fmt.Errorf("pre-cache %s: %w", p, err)
	}
	defer resp.Body.Close()

	if !isOK(resp) {
		return nil, fmt.Errorf("pre-cache %s: unexpected status %d", p, resp.StatusCode)
	}
	entry, err := cache.ResponseToEntry(req, resp)
	if err != nil {
		return nil, fmt.Errorf("pre-cache %s: %w", p, err)
	}
	return entry, nil
}

// Activate drops every store that is not one of the current versioned
// stores or the outbox, then starts serving requests from the caches.
func (m *CacheManager) Activate(ctx context.Context) error {
	if err := m.lifecycle.Transition(StateActivating); err != nil {
		return err
	}

	if err := m.purge(ctx); err != nil {
		_ = m.lifecycle.Transition(StateInstalled)
		m.logger.Error().Err(err).Msg("Activation failed")
		return fmt.Errorf("activate: %w", err)
	}

	if err := m.lifecycle.Transition(StateActive); err != nil {
		return err
	}
	m.logger.Info().Msg("Cache manager active, claiming clients")
	return nil
}

func (m *CacheManager) purge(ctx context.Context) error {
	keep := make(map[string]struct{}, len(Categories)+1+len(m.config.PreservedStores))
	for _, name := range m.config.StoreNames() {
		keep[name] = struct{}{}
	}
	keep[m.config.OutboxStore] = struct{}{}
	for _, name := range m.config.PreservedStores {
		keep[name] = struct{}{}
	}

	names, err := m.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := m.storage.Drop(ctx, name); err != nil {
			return fmt.Errorf("drop store %q: %w", name, err)
		}
		storesPurgedTotal.Inc()
		m.logger.Info().Str("store", name).Msg("Dropped store of previous version")
	}
	return nil
}

// Supersede retires the manager. It passes requests to the network from then on.
func (m *CacheManager) Supersede() error {
	if err := m.lifecycle.Transition(StateSuperseded); err != nil {
		return err
	}
	m.logger.Info().Msg("Cache manager superseded")
	return nil
}

// Handle serves req according to its strategy. It never returns nil and
// never fails: network failures resolve to a cached copy or a synthesized
// offline response. Cache writes complete before Handle returns and are
// not cancelled with the request context.
func (m *CacheManager) Handle(req *http.Request) *http.Response {
	if m.lifecycle.State() != StateActive {
		return m.passthrough(req)
	}

	switch strategy := m.router.Classify(req.URL); strategy {
	case StrategyStatic:
		return m.handleStatic(req)
	case StrategyAPI:
		return m.handleAPI(req)
	case StrategyImage:
		return m.handleImage(req)
	default:
		return m.handleFallback(req)
	}
}

func (m *CacheManager) passthrough(req *http.Request) *http.Response {
	resp, err := m.fetcher.Fetch(req)
	if err != nil {
		requestsTotal.WithLabelValues("none", outcomeOffline).Inc()
		return ResourceUnavailableResponse(req)
	}
	requestsTotal.WithLabelValues("none", outcomePassthrough).Inc()
	return resp
}

// handleStatic is cache-first. Network responses are not re-cached.
func (m *CacheManager) handleStatic(req *http.Request) *http.Response {
	if req.Method == http.MethodGet {
		if resp := m.lookup(req, CategoryStatic); resp != nil {
			requestsTotal.WithLabelValues(string(StrategyStatic), outcomeCache).Inc()
			return resp
		}
	}

	resp, err := m.fetcher.Fetch(req)
	if err != nil {
		m.logger.Debug().Err(err).Str("strategy", string(StrategyStatic)).Str("url", req.URL.String()).Msg("Network failed")
		return m.offlineFallback(StrategyStatic, req)
	}
	requestsTotal.WithLabelValues(string(StrategyStatic), outcomeNetwork).Inc()
	return resp
}

// handleAPI is network-first. Every read the network answers, whatever
// its status, is written through to the api store; writes that cannot
// reach the network are captured.
func (m *CacheManager) handleAPI(req *http.Request) *http.Response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return m.handleAPIWrite(req)
	}

	resp, err := m.fetcher.Fetch(req)
	if err == nil && req.Method == http.MethodGet {
		err = m.storeResponse(req, resp, CategoryAPI)
	}
	if err == nil {
		requestsTotal.WithLabelValues(string(StrategyAPI), outcomeNetwork).Inc()
		return resp
	}
	m.logger.Debug().Err(err).Str("strategy", string(StrategyAPI)).Str("url", req.URL.String()).Msg("Network failed")

	if req.Method == http.MethodGet {
		if cached := m.lookup(req, CategoryAPI); cached != nil {
			requestsTotal.WithLabelValues(string(StrategyAPI), outcomeCache).Inc()
			return cached
		}
	}
	requestsTotal.WithLabelValues(string(StrategyAPI), outcomeOffline).Inc()
	return OfflineAPIResponse(req)
}

func (m *CacheManager) handleAPIWrite(req *http.Request) *http.Response {
	idemKey := req.Header.Get(IdempotencyKeyHeader)
	if idemKey == "" {
		idemKey = uuid.NewString()
		req.Header.Set(IdempotencyKeyHeader, idemKey)
	}

	entry, err := cache.RequestToEntry(req)
	if err != nil {
		m.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Failed to buffer write request")
		requestsTotal.WithLabelValues(string(StrategyAPI), outcomeOffline).Inc()
		return OfflineAPIResponse(req)
	}

	resp, err := m.fetcher.Fetch(req)
	if err == nil {
		requestsTotal.WithLabelValues(string(StrategyAPI), outcomeNetwork).Inc()
		return resp
	}

	if m.capturable(req.URL.Path) && m.capture(req.Context(), entry, idemKey) == nil {
		requestsTotal.WithLabelValues(string(StrategyAPI), outcomeCaptured).Inc()
	} else {
		requestsTotal.WithLabelValues(string(StrategyAPI), outcomeOffline).Inc()
	}
	return OfflineAPIResponse(req)
}

// handleImage is cache-first. Misses are written through to the image
// store whatever their status.
func (m *CacheManager) handleImage(req *http.Request) *http.Response {
	if req.Method == http.MethodGet {
		if resp := m.lookup(req, CategoryImage); resp != nil {
			requestsTotal.WithLabelValues(string(StrategyImage), outcomeCache).Inc()
			return resp
		}
	}

	resp, err := m.fetcher.Fetch(req)
	if err == nil && req.Method == http.MethodGet {
		err = m.storeResponse(req, resp, CategoryImage)
	}
	if err != nil {
		m.logger.Debug().Err(err).Str("strategy", string(StrategyImage)).Str("url", req.URL.String()).Msg("Network failed")
		requestsTotal.WithLabelValues(string(StrategyImage), outcomeOffline).Inc()
		return ImageUnavailableResponse(req)
	}
	requestsTotal.WithLabelValues(string(StrategyImage), outcomeNetwork).Inc()
	return resp
}

// handleFallback is network-first. Same-origin 200 responses are written
// through to the dynamic store.
func (m *CacheManager) handleFallback(req *http.Request) *http.Response {
	resp, err := m.fetcher.Fetch(req)
	if err == nil && req.Method == http.MethodGet && resp.StatusCode == http.StatusOK && m.sameOrigin(req.URL) {
		err = m.storeResponse(req, resp, CategoryDynamic)
	}
	if err == nil {
		requestsTotal.WithLabelValues(string(StrategyFallback), outcomeNetwork).Inc()
		return resp
	}
	m.logger.Debug().Err(err).Str("strategy", string(StrategyFallback)).Str("url", req.URL.String()).Msg("Network failed")

	if req.Method == http.MethodGet {
		if cached := m.lookup(req, CategoryDynamic); cached != nil {
			requestsTotal.WithLabelValues(string(StrategyFallback), outcomeCache).Inc()
			return cached
		}
	}
	return m.offlineFallback(StrategyFallback, req)
}

// offlineFallback serves the cached offline page to navigations and a
// 503 to everything else.
func (m *CacheManager) offlineFallback(strategy Strategy, req *http.Request) *http.Response {
	if m.config.OfflinePage != "" && IsNavigation(req) {
		key := cache.RequestKey{URL: m.resolve(m.config.OfflinePage)}.String()
		if resp := m.lookupKey(req, CategoryStatic, key); resp != nil {
			requestsTotal.WithLabelValues(string(strategy), outcomeOfflinePage).Inc()
			return resp
		}
	}
	requestsTotal.WithLabelValues(string(strategy), outcomeOffline).Inc()
	return ResourceUnavailableResponse(req)
}

func (m *CacheManager) lookup(req *http.Request, cat Category) *http.Response {
	return m.lookupKey(req, cat, cache.KeyForRequest(req).String())
}

func (m *CacheManager) lookupKey(req *http.Request, cat Category, key string) *http.Response {
	store := m.store(cat)
	if store == nil {
		return nil
	}

	entry, err := cache.GetEntry(req.Context(), store, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.Warn().Err(err).Str("store", store.Name()).Str("key", key).Msg("Cache read failed")
		}
		return nil
	}
	m.logger.Debug().Str("store", store.Name()).Str("key", key).Msg("Cache hit")
	return cache.EntryToResponse(entry, req)
}

// storeResponse writes a clone of resp to the store of cat and enforces
// the store limit. Only a failure to read the response body is returned;
// store failures are logged and swallowed.
func (m *CacheManager) storeResponse(req *http.Request, resp *http.Response, cat Category) error {
	entry, err := cache.ResponseToEntry(req, resp)
	if err != nil {
		resp.Body.Close()
		return fetch.Wrap(req.URL.String(), err)
	}

	store := m.store(cat)
	if store == nil {
		return nil
	}

	ctx := context.WithoutCancel(req.Context())
	key := cache.KeyForRequest(req).String()
	if err := cache.PutEntry(ctx, store, key, entry); err != nil {
		m.logger.Warn().Err(err).Str("store", store.Name()).Str("key", key).Msg("Cache write failed")
		return nil
	}

	evicted, err := cache.Trim(ctx, store, m.config.Limit(cat))
	if err != nil {
		m.logger.Warn().Err(err).Str("store", store.Name()).Msg("Eviction failed")
		return nil
	}
	if evicted > 0 {
		m.logger.Debug().Str("store", store.Name()).Int("evicted", evicted).Msg("Evicted oldest entries")
	}
	return nil
}

func (m *CacheManager) store(cat Category) cache.BlobStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stores[cat]
}

func (m *CacheManager) resolve(p string) string {
	return m.origin.ResolveReference(&url.URL{Path: p}).String()
}

func (m *CacheManager) sameOrigin(u *url.URL) bool {
	return u.Scheme == m.origin.Scheme && u.Host == m.origin.Host
}

func isOK(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
