package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/observability/metrics"
	"github.com/gitrewind/platform/pkg/replay"
)

// backoffTable is a fixed lookup by attempt number, not a computed
// exponential, so the schedule is exact and testable. Attempts past
// the end reuse the last delay.
var backoffTable = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

// BackoffFor returns the delay before retry attempt n (1-based).
func BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoffTable) {
		attempt = len(backoffTable)
	}
	return backoffTable[attempt-1]
}

// DefaultSweepBatchSize caps how many due jobs one sweep redrives.
const DefaultSweepBatchSize = 10

// RetryStats is the observability view over the job ledger.
type RetryStats struct {
	ByStatus           map[string]int64 `json:"by_status"`
	NeedsRetry         int64            `json:"needs_retry"`
	MaxRetriesExceeded int64            `json:"max_retries_exceeded"`
}

// Retrier re-arms failed attempts or marks jobs permanently failed,
// and sweeps the ledger for jobs whose retry time has passed.
type Retrier struct {
	ledger         Ledger
	orchestrator   *Orchestrator
	events         EventPublisher
	deadLetters    EventPublisher
	sweepBatchSize int
	now            func() time.Time
}

func NewRetrier(ledger Ledger, orchestrator *Orchestrator, events EventPublisher, sweepBatchSize int) *Retrier {
	if sweepBatchSize <= 0 {
		sweepBatchSize = DefaultSweepBatchSize
	}
	return &Retrier{
		ledger:         ledger,
		orchestrator:   orchestrator,
		events:         events,
		sweepBatchSize: sweepBatchSize,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetDeadLetterPublisher routes a record of every permanently failed
// job to a dead-letter topic for offline inspection. Optional, like
// the lifecycle publisher.
func (r *Retrier) SetDeadLetterPublisher(pub EventPublisher) {
	r.deadLetters = pub
}

// ScheduleJobRetry performs the processing -> pending|failed
// transition after an attempt failed. Validation errors fail
// immediately: malformed input never becomes valid on retry.
func (r *Retrier) ScheduleJobRetry(ctx context.Context, jobID string, cause error) error {
	job, err := r.ledger.JobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s for retry: %w", jobID, err)
	}
	if job.Terminal() {
		return nil
	}

	errText := cause.Error()

	if IsValidationError(cause) {
		logger.Log.WithFields(map[string]interface{}{
			"job_id": jobID, "error": errText,
		}).Warn("job failed on invalid input, not retrying")
		return r.fail(ctx, job, errText)
	}

	nextCount := job.RetryCount + 1
	if nextCount > job.MaxRetries {
		logger.Log.WithFields(map[string]interface{}{
			"job_id": jobID, "retry_count": job.RetryCount, "error": errText,
		}).Error("job exhausted retries")
		return r.fail(ctx, job, errText)
	}

	now := r.now()
	backoff := BackoffFor(nextCount)
	nextRetryAt := now.Add(backoff)

	logger.Log.WithFields(map[string]interface{}{
		"job_id":        jobID,
		"retry_count":   nextCount,
		"backoff":       backoff.String(),
		"next_retry_at": nextRetryAt.Format(time.RFC3339),
		"error":         errText,
	}).Warn("job re-armed for retry")
	metrics.JobsRetried.Inc()
	r.publish(ctx, "job_retry_scheduled", job, errText)

	return r.ledger.RearmJob(ctx, jobID, errText, nextCount, now, nextRetryAt)
}

// RetryFailedJobs sweeps for due retries and redrives the
// orchestrator synchronously for each. It returns the number of jobs
// actually reprocessed.
func (r *Retrier) RetryFailedJobs(ctx context.Context) (int, error) {
	metrics.SweepRuns.Inc()

	jobs, err := r.ledger.DueRetries(ctx, r.now(), r.sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("selecting due retries: %w", err)
	}

	processed := 0
	for _, job := range jobs {
		// Defensive re-check; rearm should never have let this through.
		if job.RetryCount > job.MaxRetries {
			errText := "max retries exceeded"
			if job.LastError != nil {
				errText = *job.LastError
			}
			if err := r.ledger.FailJob(ctx, job.JobID, errText); err != nil {
				logger.Log.WithError(err).WithField("job_id", job.JobID).Error("failed to fail exhausted job")
			}
			continue
		}

		logger.Log.WithFields(map[string]interface{}{
			"job_id": job.JobID, "url": job.URL, "retry_count": job.RetryCount,
		}).Info("redriving job")

		if err := r.orchestrator.Run(ctx, job.JobID, job.URL); err != nil {
			if errors.Is(err, replay.ErrStaleAttempt) {
				logger.Log.WithField("job_id", job.JobID).Info("job picked up elsewhere, skipping")
				continue
			}
			if schedErr := r.ScheduleJobRetry(ctx, job.JobID, err); schedErr != nil {
				logger.Log.WithError(schedErr).WithField("job_id", job.JobID).Error("failed to schedule retry")
			}
		} else {
			metrics.JobsCompleted.Inc()
		}
		processed++
	}

	return processed, nil
}

// Stats aggregates ledger counts; pure read.
func (r *Retrier) Stats(ctx context.Context) (*RetryStats, error) {
	byStatus, err := r.ledger.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	needsRetry, err := r.ledger.CountDueRetries(ctx, r.now())
	if err != nil {
		return nil, err
	}
	exhausted, err := r.ledger.CountRetryExhausted(ctx)
	if err != nil {
		return nil, err
	}
	return &RetryStats{
		ByStatus:           byStatus,
		NeedsRetry:         needsRetry,
		MaxRetriesExceeded: exhausted,
	}, nil
}

// fail marks the job permanently failed and records it on the
// dead-letter topic when one is configured.
func (r *Retrier) fail(ctx context.Context, job *replay.IngestJob, errText string) error {
	metrics.JobsFailed.Inc()
	r.publish(ctx, "job_failed", job, errText)

	if r.deadLetters != nil {
		if err := r.deadLetters.PublishEvent(ctx, "job_dead_lettered", "ingest", map[string]interface{}{
			"job_id":      job.JobID,
			"url":         job.URL,
			"retry_count": job.RetryCount,
			"error":       errText,
		}); err != nil {
			logger.Log.WithError(err).WithField("job_id", job.JobID).Warn("dead-letter publish failed")
		}
	}

	return r.ledger.FailJob(ctx, job.JobID, errText)
}

func (r *Retrier) publish(ctx context.Context, eventType string, job *replay.IngestJob, errText string) {
	if r.events == nil {
		return
	}
	data := map[string]interface{}{
		"job_id":      job.JobID,
		"url":         job.URL,
		"retry_count": job.RetryCount,
	}
	if errText != "" {
		data["error"] = errText
	}
	if err := r.events.PublishEvent(ctx, eventType, "ingest", data); err != nil {
		logger.Log.WithError(err).WithField("job_id", job.JobID).Warn("lifecycle event publish failed")
	}
}
