// Package metrics declares the Prometheus collectors exported by chunkrag.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chunkrag"

// Indexing metrics.
var (
	FilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_files_total",
			Help:      "Files seen by the indexing pipeline by outcome",
		},
		[]string{"outcome"}, // processed, skipped, failed
	)

	ChunksCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_chunks_committed_total",
			Help:      "Chunks committed to the collection store",
		},
		[]string{"language"},
	)

	BatchCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_batch_commit_duration_seconds",
			Help:      "Duration of a single batch commit including embedding",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Retrieval metrics.
var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency by mode",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"},
	)

	RetrievalModeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_mode_failures_total",
			Help:      "Retrieval modes that failed and were dropped from fusion",
		},
		[]string{"mode"},
	)

	LexicalRebuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lexical_rebuilds_total",
			Help:      "Wholesale rebuilds of the in-memory lexical index",
		},
	)
)

// Embedding metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "status"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // hit, miss
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FilesTotal,
			ChunksCommittedTotal,
			BatchCommitDuration,
			SearchDuration,
			RetrievalModeFailuresTotal,
			LexicalRebuildsTotal,
			EmbeddingRequestsTotal,
			EmbeddingCacheTotal,
		)
	})
}
