package redisstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreHits tracks loads that found a value
	StoreHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_redis_store_hits_total",
			Help: "Total number of scope loads served from Redis",
		},
	)

	// StoreMisses tracks loads for absent or expired scopes
	StoreMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_redis_store_misses_total",
			Help: "Total number of scope loads with nothing stored",
		},
	)

	// StoreBytes tracks bytes written per upsert
	StoreBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallery_redis_store_value_bytes",
			Help:    "Size of scope values written to Redis",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_redis_store_errors_total",
			Help: "Total number of Redis store operation errors",
		},
		[]string{"operation"}, // "load", "upsert", "delete"
	)
)
