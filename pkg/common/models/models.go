package models

import "time"

// IngestRequest is the inbound body for starting a repository ingestion.
type IngestRequest struct {
	URL string `json:"url"`
}

// IngestResponse acknowledges an accepted ingestion. The job keeps
// running after this is returned; progress is observable only through
// the status endpoint.
type IngestResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// JobStatusResponse is the poller's view of one ingest job.
type JobStatusResponse struct {
	JobID            string                 `json:"job_id"`
	URL              string                 `json:"url"`
	Status           string                 `json:"status"`
	Progress         int                    `json:"progress"`
	RepoID           *uint                  `json:"repo_id,omitempty"`
	TotalCommits     int                    `json:"total_commits"`
	ProcessedCommits int                    `json:"processed_commits"`
	Error            string                 `json:"error,omitempty"`
	RetryCount       int                    `json:"retry_count"`
	FileCounts       map[string]interface{} `json:"file_counts,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Event is the envelope published to the event topic on job
// lifecycle transitions. Events are notifications only; they are
// never read back to drive the pipeline.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // job_queued, job_completed, job_failed, job_retry_scheduled
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
