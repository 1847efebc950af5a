package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/replay"
)

const (
	// DefaultMaxCommits caps how much history one ingestion pulls.
	DefaultMaxCommits = 100

	// commitBatchSize bounds rows per insert statement.
	commitBatchSize = 10
)

// Progress checkpoints. The file loop advances linearly from
// progressFilesStart to 100.
const (
	progressRepoCreated   = 20
	progressRepoExisting  = 40
	progressCommitsListed = 60
	progressFilesStart    = 80
)

// Orchestrator drives the full ingestion sequence for one job:
// resolve-or-create repository, persist commit history in batches,
// run the file stage per commit, advance the ledger. Every stage
// starts by checking what already exists, so a retried run resumes
// instead of duplicating.
type Orchestrator struct {
	ledger     Ledger
	catalog    Catalog
	fetcher    Fetcher
	files      *FileStage
	maxCommits int
}

func NewOrchestrator(ledger Ledger, catalog Catalog, fetcher Fetcher, files *FileStage, maxCommits int) *Orchestrator {
	if maxCommits <= 0 {
		maxCommits = DefaultMaxCommits
	}
	return &Orchestrator{
		ledger:     ledger,
		catalog:    catalog,
		fetcher:    fetcher,
		files:      files,
		maxCommits: maxCommits,
	}
}

// Run executes the pipeline to completion or returns the stage error.
// Callers own the failure policy: the service wrapper funnels errors
// into the retry subsystem, the sweep passes them back through it.
func (o *Orchestrator) Run(ctx context.Context, jobID, url string) error {
	token, err := o.ledger.MarkProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	log := logger.Log.WithFields(map[string]interface{}{"job_id": jobID, "url": url})

	owner, repo, canonical, err := ParseRepoURL(url)
	if err != nil {
		return err
	}

	repoID, done, err := o.resolveRepository(ctx, jobID, token, owner, repo, canonical)
	if err != nil || done {
		return err
	}
	log = log.WithField("repo_id", repoID)

	total, err := o.ingestCommits(ctx, jobID, token, repoID, owner, repo)
	if err != nil {
		return err
	}
	log.WithField("total_commits", total).Info("commit history persisted")

	commits, err := o.catalog.CommitsByRepo(ctx, repoID)
	if err != nil {
		return fmt.Errorf("loading commit timeline: %w", err)
	}

	counts := FileStageResult{}
	for i, commit := range commits {
		stage, err := o.files.IngestCommitFiles(ctx, commit.ID, owner, repo, commit.SHA)
		counts.add(stage)
		if err != nil {
			// Files are best-effort; commits and metadata are required.
			log.WithError(err).WithField("sha", commit.SHA).Warn("file stage failed for commit, continuing")
		}

		progress := progressFilesStart + (i+1)*(100-progressFilesStart)/len(commits)
		if err := o.ledger.UpdateJobProgress(ctx, jobID, token, progress); err != nil {
			return err
		}
	}

	if err := o.catalog.TouchRepositoryFetched(ctx, repoID); err != nil {
		return fmt.Errorf("stamping repository fetch time: %w", err)
	}

	if err := o.ledger.CompleteJob(ctx, jobID, token, len(commits), counts.asMap()); err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"processed_commits": len(commits),
		"files_ingested":    counts.Ingested,
		"files_failed":      counts.Failed,
	}).Info("ingestion completed")
	return nil
}

// resolveRepository implements the idempotent short-circuit: an
// already-populated repository completes the job immediately, an
// empty row resumes at the commit stage, a missing one is created
// from fresh metadata.
func (o *Orchestrator) resolveRepository(ctx context.Context, jobID, token, owner, repo, canonical string) (repoID uint, done bool, err error) {
	existing, err := o.catalog.RepositoryByURL(ctx, canonical)
	if err != nil && !errors.Is(err, replay.ErrNotFound) {
		return 0, false, fmt.Errorf("looking up repository: %w", err)
	}

	if existing != nil {
		if err := o.ledger.SetJobRepo(ctx, jobID, token, existing.ID); err != nil {
			return 0, false, err
		}

		n, err := o.catalog.CommitCount(ctx, existing.ID)
		if err != nil {
			return 0, false, fmt.Errorf("counting commits: %w", err)
		}
		if n > 0 {
			// Another job already ingested this URL.
			if err := o.ledger.CompleteJob(ctx, jobID, token, int(n), nil); err != nil {
				return 0, false, err
			}
			logger.Log.WithFields(map[string]interface{}{
				"job_id": jobID, "repo_id": existing.ID, "commits": n,
			}).Info("repository already ingested, job short-circuited")
			return existing.ID, true, nil
		}

		if err := o.ledger.UpdateJobProgress(ctx, jobID, token, progressRepoExisting); err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}

	meta, err := o.fetcher.GetRepository(ctx, owner, repo)
	if err != nil {
		return 0, false, err
	}
	readme := o.fetcher.GetReadme(ctx, owner, repo)

	row := &replay.Repository{
		URL:           canonical,
		Owner:         meta.Owner,
		Name:          meta.Name,
		Description:   meta.Description,
		Stars:         meta.Stars,
		DefaultBranch: meta.DefaultBranch,
	}
	if readme != "" {
		row.Readme = &readme
	}
	if err := o.catalog.CreateRepository(ctx, row); err != nil {
		return 0, false, fmt.Errorf("creating repository row: %w", err)
	}

	if err := o.ledger.SetJobRepo(ctx, jobID, token, row.ID); err != nil {
		return 0, false, err
	}
	if err := o.ledger.UpdateJobProgress(ctx, jobID, token, progressRepoCreated); err != nil {
		return 0, false, err
	}
	return row.ID, false, nil
}

// ingestCommits fetches the history oldest-first and inserts it in
// bounded batches. Any batch failure aborts the run; the conflict
// guard on (repo_id, sha) makes the insert safe to replay.
func (o *Orchestrator) ingestCommits(ctx context.Context, jobID, token string, repoID uint, owner, repo string) (int, error) {
	history, err := o.fetcher.GetCommitHistory(ctx, owner, repo, o.maxCommits)
	if err != nil {
		return 0, err
	}

	if err := o.ledger.SetJobCommitTotal(ctx, jobID, token, len(history)); err != nil {
		return 0, err
	}
	if err := o.ledger.UpdateJobProgress(ctx, jobID, token, progressCommitsListed); err != nil {
		return 0, err
	}

	for start := 0; start < len(history); start += commitBatchSize {
		end := start + commitBatchSize
		if end > len(history) {
			end = len(history)
		}

		batch := make([]replay.Commit, 0, end-start)
		for i := start; i < end; i++ {
			info := history[i]
			commit := replay.Commit{
				RepoID:     repoID,
				SHA:        info.SHA,
				Message:    info.Message,
				CommitDate: info.CommitDate,
				Position:   i + 1, // dense 1..N, 1 = oldest
			}
			if info.AuthorName != "" {
				name := info.AuthorName
				commit.AuthorName = &name
			}
			if info.AuthorEmail != "" {
				email := info.AuthorEmail
				commit.AuthorEmail = &email
			}
			batch = append(batch, commit)
		}

		if err := o.catalog.CreateCommits(ctx, batch); err != nil {
			return 0, fmt.Errorf("inserting commit batch at %d: %w", start, err)
		}
	}

	if err := o.ledger.UpdateJobProgress(ctx, jobID, token, progressFilesStart); err != nil {
		return 0, err
	}
	return len(history), nil
}

func (r FileStageResult) asMap() map[string]interface{} {
	return map[string]interface{}{
		"total":            r.Total,
		"ingested":         r.Ingested,
		"skipped":          r.Skipped,
		"failed":           r.Failed,
		"stored_inline":    r.StoredInline,
		"stored_offloaded": r.StoredOffloaded,
	}
}
