package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by lookup operation
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_cache_hits_total",
			Help: "Total number of lookup cache hits",
		},
		[]string{"op"}, // "search", "profile"
	)

	// CacheMisses tracks cache misses by lookup operation
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_cache_misses_total",
			Help: "Total number of lookup cache misses",
		},
		[]string{"op"},
	)

	// CacheStoredBytes tracks bytes written to the cache
	CacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enricher_cache_stored_bytes_total",
			Help: "Total number of bytes written to the lookup cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enricher_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
