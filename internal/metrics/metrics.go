// Package metrics provides Prometheus metrics for the Sequoia engine,
// grouped by subsystem the way the teacher's internal/metrics/metrics.go
// groups HTTP/Storage/Cache/GC metrics. HTTP and auth metrics are dropped
// since the engine exposes a Go API, not an HTTP surface (spec §1).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains every Prometheus collector the engine registers.
type Metrics struct {
	// Store metrics (spec §4.1).
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreBytesTotal        *prometheus.CounterVec
	SequencesTotal         prometheus.Gauge
	PacksOpenTotal         prometheus.Gauge
	PackCacheHitsTotal     prometheus.Counter
	PackCacheMissesTotal   prometheus.Counter
	BloomNegativesTotal    prometheus.Counter

	// Chunker metrics (spec §4.2).
	ChunksEmittedTotal  prometheus.Counter
	ChunkBytesHistogram prometheus.Histogram

	// Delta engine metrics (spec §4.3).
	DeltaEncodedTotal   prometheus.Counter
	DeltaRejectedTotal  prometheus.Counter
	DeltaSavingsRatio   prometheus.Histogram
	DeltaComputeSeconds prometheus.Histogram

	// Merkle / manifest metrics (spec §4.4).
	ManifestsPublishedTotal prometheus.Counter
	ProofsGeneratedTotal    prometheus.Counter
	ProofsVerifiedTotal     *prometheus.CounterVec

	// Garbage collection metrics (spec §3 Lifecycles: "GC is an explicit
	// operation"), generalizing the teacher's GCRunsTotal/GCBlobsDeleted/
	// GCOrphanBlobs shape from ref-counted blobs to orphan packs.
	GCRunsTotal      prometheus.Counter
	GCPacksRemoved   prometheus.Counter
	GCBytesFreed     prometheus.Counter
	GCDuration       prometheus.Histogram
	GCOrphanedPacks  prometheus.Gauge
	GCLastRunSeconds prometheus.Gauge
}

const namespace = "sequoia"

// New creates and registers every collector against the default registry.
// Pass a non-default prometheus.Registerer via NewFor in tests that need
// isolation.
func New() *Metrics {
	return NewFor(prometheus.DefaultRegisterer)
}

// NewFor registers collectors against the given registerer, used by tests
// to avoid the "duplicate metrics collector registration" panic that
// sharing the global registry across test cases would trigger.
func NewFor(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StoreOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "store", Name: "operations_total",
				Help: "Total number of packed-store operations by kind and outcome.",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: "store", Name: "operation_duration_seconds",
				Help:    "Packed-store operation duration in seconds.",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"operation"},
		),
		StoreBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "store", Name: "bytes_total",
				Help: "Total bytes written or read by the packed store.",
			},
			[]string{"operation"},
		),
		SequencesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "sequences_total",
			Help: "Current number of distinct sequences (by content hash) in the store.",
		}),
		PacksOpenTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "packs_open",
			Help: "Current number of pack file descriptors held open by the LRU cache.",
		}),
		PackCacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "pack_cache_hits_total",
			Help: "Total pack-handle LRU cache hits.",
		}),
		PackCacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "pack_cache_misses_total",
			Help: "Total pack-handle LRU cache misses.",
		}),
		BloomNegativesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "bloom_negatives_total",
			Help: "Total contains() calls short-circuited by the bloom filter.",
		}),

		ChunksEmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chunk", Name: "emitted_total",
			Help: "Total chunks emitted by the chunker.",
		}),
		ChunkBytesHistogram: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chunk", Name: "bytes",
			Help:    "Uncompressed chunk byte size distribution.",
			Buckets: prometheus.ExponentialBuckets(1<<16, 2, 10),
		}),

		DeltaEncodedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delta", Name: "encoded_total",
			Help: "Total sequences encoded as a delta against a reference.",
		}),
		DeltaRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delta", Name: "rejected_total",
			Help: "Total candidate deltas rejected for insufficient savings or failed round-trip.",
		}),
		DeltaSavingsRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "delta", Name: "savings_ratio",
			Help:    "Fraction of target bytes saved by delta-encoding.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DeltaComputeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "delta", Name: "compute_seconds",
			Help:    "Time spent computing a single delta.",
			Buckets: prometheus.DefBuckets,
		}),

		ManifestsPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "manifest", Name: "published_total",
			Help: "Total manifests published.",
		}),
		ProofsGeneratedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "merkle", Name: "proofs_generated_total",
			Help: "Total Merkle inclusion proofs generated.",
		}),
		ProofsVerifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: "merkle", Name: "proofs_verified_total",
				Help: "Total Merkle inclusion proofs verified, by outcome.",
			},
			[]string{"result"},
		),

		GCRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gc", Name: "runs_total",
			Help: "Total garbage collection runs.",
		}),
		GCPacksRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gc", Name: "packs_removed_total",
			Help: "Total pack files removed by garbage collection.",
		}),
		GCBytesFreed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gc", Name: "bytes_freed_total",
			Help: "Total bytes freed by garbage collection.",
		}),
		GCDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gc", Name: "duration_seconds",
			Help:    "Garbage collection run duration in seconds.",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		}),
		GCOrphanedPacks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gc", Name: "orphaned_packs",
			Help: "Current number of packs with zero index entries pointing into them.",
		}),
		GCLastRunSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gc", Name: "last_run_timestamp_seconds",
			Help: "Unix timestamp of the last garbage collection run.",
		}),
	}
}

// RecordStoreOp records a packed-store operation outcome, mirroring the
// teacher's Metrics.RecordStorageOperation.
func (m *Metrics) RecordStoreOp(operation, status string, seconds float64, bytes int64) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(seconds)
	if bytes > 0 {
		m.StoreBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordGCRun records a garbage collection pass, mirroring the teacher's
// Metrics.RecordGCRun.
func (m *Metrics) RecordGCRun(seconds float64, packsRemoved int, bytesFreed int64) {
	m.GCRunsTotal.Inc()
	m.GCDuration.Observe(seconds)
	m.GCPacksRemoved.Add(float64(packsRemoved))
	m.GCBytesFreed.Add(float64(bytesFreed))
}
