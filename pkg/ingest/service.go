package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/observability/metrics"
	"github.com/gitrewind/platform/pkg/replay"
)

// Service is the surface the route layer consumes. Ingestion runs
// detached from the request: Enqueue returns as soon as the ledger
// row exists, and the run's outcome is observable only through that
// row.
type Service struct {
	ledger       Ledger
	orchestrator *Orchestrator
	retrier      *Retrier
	events       EventPublisher
	maxRetries   int

	wg sync.WaitGroup
}

func NewService(ledger Ledger, orchestrator *Orchestrator, retrier *Retrier, events EventPublisher, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		ledger:       ledger,
		orchestrator: orchestrator,
		retrier:      retrier,
		events:       events,
		maxRetries:   maxRetries,
	}
}

// Enqueue validates the URL, finds or creates the ledger row, and
// fires the detached run. A second request for a URL with a live job
// gets that job back instead of a new one.
func (s *Service) Enqueue(ctx context.Context, rawURL string) (*replay.IngestJob, error) {
	_, _, canonical, err := ParseRepoURL(rawURL)
	if err != nil {
		return nil, err
	}

	if existing, err := s.ledger.ActiveJobForURL(ctx, canonical); err == nil {
		logger.Log.WithFields(map[string]interface{}{
			"job_id": existing.JobID, "url": canonical,
		}).Info("ingestion already in flight, returning existing job")
		return existing, nil
	} else if !errors.Is(err, replay.ErrNotFound) {
		return nil, err
	}

	job, err := s.ledger.CreateJob(ctx, canonical, s.maxRetries)
	if err != nil {
		return nil, err
	}
	metrics.JobsEnqueued.Inc()

	if s.events != nil {
		if err := s.events.PublishEvent(ctx, "job_queued", "ingest", map[string]interface{}{
			"job_id": job.JobID, "url": canonical,
		}); err != nil {
			logger.Log.WithError(err).WithField("job_id", job.JobID).Warn("lifecycle event publish failed")
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The request context dies with the response; the detached run
		// gets its own.
		s.ProcessRepoIngestion(context.Background(), job.JobID, canonical)
	}()

	return job, nil
}

// ProcessRepoIngestion runs one ingestion attempt and never returns
// an error: all failure is funneled into the job ledger, and a
// failure of the retry path itself is only logged so nothing escapes
// the detached task.
func (s *Service) ProcessRepoIngestion(ctx context.Context, jobID, url string) {
	err := s.orchestrator.Run(ctx, jobID, url)
	if err == nil {
		metrics.JobsCompleted.Inc()
		s.publishCompleted(ctx, jobID)
		return
	}

	if errors.Is(err, replay.ErrStaleAttempt) {
		logger.Log.WithField("job_id", jobID).Info("attempt superseded, dropping")
		return
	}

	if schedErr := s.retrier.ScheduleJobRetry(ctx, jobID, err); schedErr != nil {
		// Last line of defense; the ledger row may be gone.
		logger.Log.WithError(schedErr).WithFields(map[string]interface{}{
			"job_id": jobID, "run_error": err.Error(),
		}).Error("retry scheduling failed, job left in processing")
	}
}

// Wait blocks until all detached ingestion runs have finished. Called
// on shutdown so the process is not torn down under a live run.
func (s *Service) Wait() {
	s.wg.Wait()
}

// RetryFailedJobs exposes the sweep to the route layer and tickers.
func (s *Service) RetryFailedJobs(ctx context.Context) (int, error) {
	return s.retrier.RetryFailedJobs(ctx)
}

// RetryStats exposes ledger aggregates for observability.
func (s *Service) RetryStats(ctx context.Context) (*RetryStats, error) {
	return s.retrier.Stats(ctx)
}

// JobStatus reads the poller's view of one job.
func (s *Service) JobStatus(ctx context.Context, jobID string) (*replay.IngestJob, error) {
	return s.ledger.JobByID(ctx, jobID)
}

func (s *Service) publishCompleted(ctx context.Context, jobID string) {
	if s.events == nil {
		return
	}
	job, err := s.ledger.JobByID(ctx, jobID)
	if err != nil {
		return
	}
	if job.Status != replay.JobCompleted {
		return
	}
	if err := s.events.PublishEvent(ctx, "job_completed", "ingest", map[string]interface{}{
		"job_id":            job.JobID,
		"url":               job.URL,
		"processed_commits": job.ProcessedCommits,
	}); err != nil {
		logger.Log.WithError(err).WithField("job_id", jobID).Warn("lifecycle event publish failed")
	}
}
