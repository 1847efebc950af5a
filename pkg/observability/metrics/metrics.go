package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitrewind_ingest_jobs_enqueued_total",
		Help: "Ingestion jobs accepted and queued.",
	})

	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitrewind_ingest_jobs_completed_total",
		Help: "Ingestion jobs that reached completed.",
	})

	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitrewind_ingest_jobs_failed_total",
		Help: "Ingestion jobs that reached failed.",
	})

	JobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitrewind_ingest_jobs_retried_total",
		Help: "Retry attempts scheduled for ingestion jobs.",
	})

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitrewind_ingest_sweep_runs_total",
		Help: "Retry sweep executions.",
	})

	FilesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitrewind_ingest_files_ingested_total",
		Help: "File rows written during ingestion.",
	})

	FilesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitrewind_ingest_files_failed_total",
		Help: "File bodies that could not be fetched or stored.",
	})

	BytesOffloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gitrewind_content_bytes_offloaded_total",
		Help: "Bytes routed to the object store instead of inline rows.",
	})
)
