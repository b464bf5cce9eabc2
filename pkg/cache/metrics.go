package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmgw_cache_hits_total",
			Help: "Total number of list cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmgw_cache_misses_total",
			Help: "Total number of list cache misses",
		},
	)

	cacheWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmgw_cache_writes_total",
			Help: "Total number of list cache writes",
		},
	)

	cacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmgw_cache_invalidations_total",
			Help: "Total number of cache version bumps",
		},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmgw_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "version", "invalidate", "encode", "decode"
	)
)
