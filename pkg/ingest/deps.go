package ingest

import (
	"context"
	"time"

	"github.com/gitrewind/platform/pkg/content"
	"github.com/gitrewind/platform/pkg/github"
	"github.com/gitrewind/platform/pkg/replay"
)

// Ledger is the job-state surface of the replay store the ingestion
// engine mutates. Status transitions are owned exclusively by the
// orchestrator and the retry subsystem.
type Ledger interface {
	CreateJob(ctx context.Context, url string, maxRetries int) (*replay.IngestJob, error)
	JobByID(ctx context.Context, jobID string) (*replay.IngestJob, error)
	ActiveJobForURL(ctx context.Context, url string) (*replay.IngestJob, error)
	MarkProcessing(ctx context.Context, jobID string) (string, error)
	UpdateJobProgress(ctx context.Context, jobID, token string, progress int) error
	SetJobRepo(ctx context.Context, jobID, token string, repoID uint) error
	SetJobCommitTotal(ctx context.Context, jobID, token string, total int) error
	CompleteJob(ctx context.Context, jobID, token string, processed int, fileCounts map[string]interface{}) error
	FailJob(ctx context.Context, jobID, errText string) error
	RearmJob(ctx context.Context, jobID, errText string, retryCount int, lastRetryAt, nextRetryAt time.Time) error
	DueRetries(ctx context.Context, now time.Time, limit int) ([]replay.IngestJob, error)
	CountJobsByStatus(ctx context.Context) (map[string]int64, error)
	CountDueRetries(ctx context.Context, now time.Time) (int64, error)
	CountRetryExhausted(ctx context.Context) (int64, error)
}

// Catalog is the repository/commit/file surface of the replay store.
type Catalog interface {
	RepositoryByURL(ctx context.Context, url string) (*replay.Repository, error)
	CreateRepository(ctx context.Context, repo *replay.Repository) error
	TouchRepositoryFetched(ctx context.Context, repoID uint) error
	CommitCount(ctx context.Context, repoID uint) (int64, error)
	CreateCommits(ctx context.Context, commits []replay.Commit) error
	CommitsByRepo(ctx context.Context, repoID uint) ([]replay.Commit, error)
	CreateFile(ctx context.Context, file *replay.File) error
}

// Fetcher is the source collaborator: a fallible, rate-limited remote
// with its own read-through cache.
type Fetcher interface {
	GetRepository(ctx context.Context, owner, repo string) (*github.RepositoryMeta, error)
	GetReadme(ctx context.Context, owner, repo string) string
	GetCommitHistory(ctx context.Context, owner, repo string, max int) ([]github.CommitInfo, error)
	GetFileTree(ctx context.Context, owner, repo, sha string) ([]github.TreeEntry, error)
	GetFileContent(ctx context.Context, owner, repo, sha, path string) (string, error)
}

// ContentRouter decides inline vs offloaded storage per file body.
type ContentRouter interface {
	StoreFileContent(ctx context.Context, key, content string, metadata map[string]string) (content.StoreResult, error)
	DetermineLocation(size int) string
}

// EventPublisher receives lifecycle notifications. It is optional and
// strictly fire-and-forget: publishing never drives the pipeline.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}
