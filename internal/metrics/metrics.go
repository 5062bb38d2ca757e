package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus metrics collectors.
type Store struct {
	Registry *prometheus.Registry

	Up                      prometheus.Gauge
	SyncRunning             prometheus.Gauge
	SyncDuration            prometheus.Histogram
	TableSyncDuration       *prometheus.HistogramVec
	TableSyncTotal          *prometheus.CounterVec
	RowsSyncedTotal         *prometheus.CounterVec
	BatchesProcessedTotal   *prometheus.CounterVec
	BatchProcessingDuration *prometheus.HistogramVec
	BatchErrorsTotal        *prometheus.CounterVec
	SyncErrorsTotal         *prometheus.CounterVec
	SkippedTriggersTotal    *prometheus.CounterVec
	DBConnections           *prometheus.GaugeVec

	ChunksTotal       *prometheus.CounterVec
	EmbeddingDuration *prometheus.HistogramVec
	SearchDuration    prometheus.Histogram
	PDFFilesTotal     *prometheus.CounterVec
}

// NewMetricsStore creates and registers Prometheus metrics on a private registry.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Store{
		Registry: registry,
		Up: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replisearch_up",
			Help: "Set to 1 while the process is serving.",
		}),
		SyncRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replisearch_sync_running",
			Help: "1 while a sync run is in progress, 0 when the scheduler is idle.",
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "replisearch_sync_run_duration_seconds",
			Help:    "Duration of a complete sync run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}),
		TableSyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replisearch_table_sync_duration_seconds",
			Help:    "Duration histogram for synchronizing individual tables.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}, []string{"table"}),
		TableSyncTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replisearch_table_sync_total",
			Help: "Table sync attempts by final status (completed, failed).",
		}, []string{"table", "status"}),
		RowsSyncedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replisearch_rows_synced_total",
			Help: "Total number of rows written to the target, labeled by table.",
		}, []string{"table"}),
		BatchesProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replisearch_batches_processed_total",
			Help: "Total number of batches processed, labeled by table.",
		}, []string{"table"}),
		BatchProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replisearch_batch_processing_duration_seconds",
			Help:    "Duration histogram for writing individual batches.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"table", "status"}),
		BatchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replisearch_batch_errors_total",
			Help: "Total number of batch write errors after retries.",
		}, []string{"table"}),
		SyncErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replisearch_errors_total",
			Help: "Errors labeled by type and table.",
		}, []string{"type", "table"}), // Types: connection, schema_not_found, ddl, data_sync, upsert_conflict, status_record, cancelled
		SkippedTriggersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replisearch_sync_triggers_skipped_total",
			Help: "Ticks or manual triggers dropped because a run was already in progress.",
		}, []string{"source"}),
		DBConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replisearch_db_connections_open",
			Help: "Open connections per database pool.",
		}, []string{"db_alias"}),
		ChunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replisearch_chunks_total",
			Help: "Chunks processed by the embedding indexer, labeled by status (indexed, failed).",
		}, []string{"status"}),
		EmbeddingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replisearch_embedding_request_duration_seconds",
			Help:    "Latency of embedding provider calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"provider", "status"}),
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "replisearch_search_duration_seconds",
			Help:    "Latency of nearest-neighbor searches including query embedding.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		PDFFilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replisearch_pdf_files_total",
			Help: "PDF files processed by folder ingestion, labeled by status.",
		}, []string{"status"}),
	}
}
