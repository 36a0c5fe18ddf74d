package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by artifact kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmdata_cache_hits_total",
			Help: "Total number of cache hits by artifact kind",
		},
		[]string{"artifact"}, // "page", "progress", "consolidated"
	)

	// CacheMisses tracks cache misses by artifact kind
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmdata_cache_misses_total",
			Help: "Total number of cache misses by artifact kind",
		},
		[]string{"artifact"},
	)

	// CacheCorrupt tracks artifacts that failed validation and were treated as misses
	CacheCorrupt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmdata_cache_corrupt_total",
			Help: "Total number of unreadable or malformed cache artifacts",
		},
		[]string{"artifact"},
	)

	// CacheBytesWritten tracks bytes committed to disk by artifact kind
	CacheBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmdata_cache_bytes_written_total",
			Help: "Total bytes committed to the cache by artifact kind",
		},
		[]string{"artifact"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pmdata_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "write", "delete"
	)
)
