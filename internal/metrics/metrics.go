package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pacs_index_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacs_index_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Store metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_db_queries_total",
			Help: "Total number of index store queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pacs_index_db_query_duration_seconds",
			Help:    "Index store query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pacs_index_db_transaction_duration_seconds",
			Help:    "Batch transaction duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"result"}, // "commit", "rollback"
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pacs_index_db_connections_open",
			Help: "Number of open index store connections",
		},
	)
)

// Indexer metrics
var (
	IndexRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_runs_total",
			Help: "Total number of indexing runs",
		},
		[]string{"device", "mode", "status"},
	)

	IndexRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pacs_index_run_active",
			Help: "Whether an indexing run is active for a device (1 = running)",
		},
		[]string{"device"},
	)

	IndexLastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pacs_index_last_run_timestamp",
			Help: "Unix timestamp of the last completed indexing run",
		},
		[]string{"device"},
	)

	IndexLastRunDuration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pacs_index_last_run_duration_seconds",
			Help: "Duration of the last indexing run in seconds",
		},
		[]string{"device"},
	)

	IndexUnitsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_units_processed_total",
			Help: "Files or records extracted and written to the index",
		},
		[]string{"device"},
	)

	IndexUnitsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_units_skipped_total",
			Help: "Files or records skipped by change detection",
		},
		[]string{"device"},
	)

	ExtractFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_extract_failures_total",
			Help: "Units that could not be extracted and were skipped",
		},
		[]string{"device"},
	)

	MonitorSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pacs_index_monitor_sweeps_total",
			Help: "Total number of periodic incremental sweeps",
		},
	)
)

// Filesystem retry metrics
var (
	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_fs_stale_errors_total",
			Help: "NFS stale file handle errors encountered",
		},
		[]string{"operation", "device"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_fs_retry_success_total",
			Help: "Filesystem operations that succeeded after retry",
		},
		[]string{"operation", "device"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pacs_index_fs_retry_failures_total",
			Help: "Filesystem operations that failed after all retries",
		},
		[]string{"operation", "device"},
	)
)
