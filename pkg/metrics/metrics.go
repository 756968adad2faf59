// Package metrics exposes Flux's Prometheus metrics: package-level
// collectors registered once and updated by the subsystems they describe.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Commit engine (C5/C6).
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_commits_total",
			Help: "Total number of commit attempts by outcome (ok, occ, schema_error, persistence_error).",
		},
		[]string{"outcome"},
	)

	CommitLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flux_commit_latency_seconds",
			Help:    "Latency of successful commits from submission to acknowledgement.",
			Buckets: prometheus.DefBuckets,
		},
	)

	LastCommittedTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flux_last_committed_timestamp",
			Help: "The most recently assigned commit timestamp.",
		},
	)

	RetentionFloorTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flux_retention_floor_timestamp",
			Help: "The oldest timestamp at which historical reads remain valid.",
		},
	)

	CommitLeaseHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flux_commit_lease_held",
			Help: "Whether this process currently holds the single-writer commit lease (1) or not (0).",
		},
	)

	// Registry (C3).
	RegistryEntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flux_registry_entries_total",
			Help: "Number of live entries held in the in-memory index registry, by tablet.",
		},
		[]string{"tablet"},
	)

	// Subscriptions (C7).
	SubscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flux_subscriptions_total",
			Help: "Number of outstanding subscriptions by state (valid, invalid).",
		},
		[]string{"state"},
	)

	SubscriptionInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flux_subscription_invalidations_total",
			Help: "Total number of subscriptions transitioned from valid to invalid.",
		},
	)

	// Text search (C8/C9/C10).
	SearchScannedDocuments = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flux_search_scanned_documents",
			Help:    "Number of candidate documents scanned per text search query.",
			Buckets: prometheus.ExponentialBuckets(8, 2, 14),
		},
	)

	SearchOverScanTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flux_search_overscan_total",
			Help: "Total number of text search queries rejected for exceeding MAX_CANDIDATE_REVISIONS.",
		},
	)

	ArchiveCacheBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flux_archive_cache_bytes",
			Help: "Bytes currently resident in the archive segment cache, by search index.",
		},
		[]string{"index"},
	)

	ArchiveCacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flux_archive_cache_evictions_total",
			Help: "Total number of segments evicted from the archive cache.",
		},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_text_index_flushes_total",
			Help: "Total number of text index flushes by kind (flush, fast_forward).",
		},
		[]string{"kind"},
	)

	CompactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flux_text_index_compactions_total",
			Help: "Total number of text index segment compactions.",
		},
	)

	// Bounded thread pools.
	ThreadPoolQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flux_thread_pool_queue_depth",
			Help: "Current queue depth of a bounded thread pool, by name.",
		},
		[]string{"pool"},
	)

	ThreadPoolQueueExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flux_thread_pool_queue_expired_total",
			Help: "Total number of tasks that expired in queue before being scheduled, by pool.",
		},
		[]string{"pool"},
	)
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		CommitLatencySeconds,
		LastCommittedTimestamp,
		RetentionFloorTimestamp,
		CommitLeaseHeld,
		RegistryEntriesTotal,
		SubscriptionsTotal,
		SubscriptionInvalidationsTotal,
		SearchScannedDocuments,
		SearchOverScanTotal,
		ArchiveCacheBytes,
		ArchiveCacheEvictionsTotal,
		FlushesTotal,
		CompactionsTotal,
		ThreadPoolQueueDepth,
		ThreadPoolQueueExpiredTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
