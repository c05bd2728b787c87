package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by partition.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_hits_total",
			Help: "Total number of cache hits by partition",
		},
		[]string{"partition"},
	)

	// CacheMisses tracks cache misses by partition.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_misses_total",
			Help: "Total number of cache misses by partition",
		},
		[]string{"partition"},
	)

	// CacheWriteBytes tracks bytes written to the cache by partition.
	CacheWriteBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_cache_write_bytes_total",
			Help: "Total bytes written to the cache by partition",
		},
		[]string{"partition"},
	)

	// PartitionsDropped counts partitions removed during activation.
	PartitionsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_proxy_partitions_dropped_total",
			Help: "Total number of cache partitions dropped",
		},
	)

	// StoreErrors tracks store operation errors.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_proxy_store_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "open", "get", "put", "list", "drop", "keys"
	)
)
