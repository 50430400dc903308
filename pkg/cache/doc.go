// Package cache provides the persistent request/response stores used by the
// offline cache layer.
//
// A Storage holds named, versioned stores ("static-v1", "api-v1", ...).
// Each store is a BlobStore: an ordered key-value collection of serialized
// responses keyed by request. Keys are listed in insertion order, which is
// the order the eviction policy removes them in.
//
// Features:
//
// - Memory, Redis and SQLite backends behind the same BlobStore contract
// - Deterministic request keys (method, canonical URL, optional discriminator)
// - HTTP response <-> Entry conversion that restores the response body
// - FIFO eviction bounded by a per-store item count (Trim)
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create storage (Redis shared across worker instances)
//	storage := cache.NewRedisStorage(redisClient, "offline")
//
//	// Open a named store
//	store, err := storage.Open(ctx, "api-v1")
//
//	// Store a response
//	entry, err := cache.ResponseToEntry(req, resp)
//	blob, err := entry.Marshal()
//	err = store.Put(ctx, cache.KeyForRequest(req).String(), blob)
//
//	// Keep the store within bounds
//	evicted, err := cache.Trim(ctx, store, 50)
//
// # Eviction
//
// Trim deletes the oldest inserted key while the store holds more than the
// limit. Reads never refresh an entry's position, so eviction order equals
// insertion order. Two concurrent Trim calls on the same store may each
// remove one entry for the same overflow; stores can end up slightly below
// the limit but never above it once both calls return.
//
// # Metrics
//
//   - offline_cache_hits_total{store} - Cache hits
//   - offline_cache_misses_total{store} - Cache misses
//   - offline_cache_evictions_total{store} - Evicted entries
//   - offline_cache_errors_total{operation} - Cache operation errors
package cache
