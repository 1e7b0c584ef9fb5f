package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	matchesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_enqueued_total",
		Help: "Total number of match ids added to the aggregation queue",
	})

	matchesRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_recovered_total",
		Help: "Total number of not processed matches re-queued at startup",
	})

	matchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_processed_total",
		Help: "Total number of matches applied to the aggregates",
	})

	matchesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_skipped_total",
		Help: "Total number of dequeued matches that were already processed",
	})

	matchesRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_retried_total",
		Help: "Total number of matches re-queued after a transient storage failure",
	})

	matchesMissing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_missing_total",
		Help: "Total number of queued match ids with no stored match",
	})

	matchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_failed_total",
		Help: "Total number of matches dropped after a permanent failure",
	})

	matchesDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_matches_dead_lettered_total",
		Help: "Total number of matches parked after exhausting their retries",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stats_queue_depth",
		Help: "Current depth of the aggregation queue",
	})

	matchProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stats_match_processing_duration_seconds",
		Help:    "Duration of loading, aggregating and committing one match",
		Buckets: prometheus.DefBuckets,
	})

	scoresExported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_scores_exported_total",
		Help: "Total number of scoreboard rows exported to ClickHouse",
	})

	scoresExportFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_scores_export_failed_total",
		Help: "Total number of scoreboard rows that failed to export",
	})

	scoresLoadShed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stats_scores_load_shed_total",
		Help: "Total number of scoreboard rows dropped because the export queue was full",
	})

	exportBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stats_export_batch_duration_seconds",
		Help:    "Duration of batch inserts to ClickHouse",
		Buckets: prometheus.DefBuckets,
	})
)
