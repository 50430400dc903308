package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by named store
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_hits_total",
			Help: "Total number of cache hits by store",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses by named store
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_misses_total",
			Help: "Total number of cache misses by store",
		},
		[]string{"store"},
	)

	// CacheEvictions tracks entries removed by the eviction policy
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_evictions_total",
			Help: "Total number of entries evicted by store",
		},
		[]string{"store"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "open", "get", "put", "delete", "trim", "drop"
	)
)
