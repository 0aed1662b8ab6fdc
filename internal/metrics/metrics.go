// Package metrics provides Prometheus metrics for the semantic cache:
// hit/miss counts, embedding calls, evictions, and cleanup sweeps.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "semcache"

// SweepDurationBuckets defines histogram buckets for cleanup sweep durations
// (in seconds).
var SweepDurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
}

var (
	// LookupHits counts cache hits labeled by kind ("exact" or "semantic").
	LookupHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"kind"},
	)

	// LookupMisses counts cache misses.
	LookupMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	// EmbeddingCalls counts embedding computations labeled by source
	// ("provider" or "fallback").
	EmbeddingCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_calls_total",
			Help:      "Total number of embedding computations",
		},
		[]string{"source"},
	)

	// EmbeddingFailures counts provider embedding failures labeled by error
	// kind.
	EmbeddingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Total number of embedding provider failures",
		},
		[]string{"kind"},
	)

	// Evictions counts entries evicted to enforce the size bound.
	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total number of entries evicted at the size bound",
		},
	)

	// CleanupDeleted counts entries removed by cleanup sweeps.
	CleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Total number of expired entries removed by cleanup sweeps",
		},
	)

	// SweepDuration tracks cleanup sweep duration.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_sweep_duration_seconds",
			Help:      "Cleanup sweep duration in seconds",
			Buckets:   SweepDurationBuckets,
		},
	)

	// StoreDegraded reports whether the cache is running on the in-memory
	// fallback (1) or the persistent backend (0).
	StoreDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_degraded",
			Help:      "Whether the cache is operating in degraded in-memory mode",
		},
	)
)
