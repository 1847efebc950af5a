package replay

import (
	"time"

	"gorm.io/datatypes"
)

// Job ledger states. pending doubles as the freshly-queued and the
// retry-rearmed state; completed and failed are terminal.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Repository is one ingested source repository, deduplicated solely
// by canonical URL.
type Repository struct {
	ID            uint       `json:"id" gorm:"primaryKey;column:id"`
	URL           string     `json:"url" gorm:"column:url;uniqueIndex"`
	Owner         string     `json:"owner" gorm:"column:owner"`
	Name          string     `json:"name" gorm:"column:name"`
	Description   string     `json:"description" gorm:"column:description"`
	Stars         int        `json:"stars" gorm:"column:stars"`
	DefaultBranch string     `json:"default_branch" gorm:"column:default_branch"`
	Readme        *string    `json:"readme,omitempty" gorm:"column:readme;type:text"`
	LastFetched   *time.Time `json:"last_fetched,omitempty" gorm:"column:last_fetched"`
	CreatedAt     time.Time  `json:"created_at" gorm:"column:created_at"`
}

func (Repository) TableName() string {
	return "repositories"
}

// Commit is immutable once written. Position is a dense 1..N sequence
// per repository, 1 = oldest.
type Commit struct {
	ID          uint      `json:"id" gorm:"primaryKey;column:id"`
	RepoID      uint      `json:"repo_id" gorm:"column:repo_id;index;uniqueIndex:idx_commits_repo_sha"`
	SHA         string    `json:"sha" gorm:"column:sha;uniqueIndex:idx_commits_repo_sha"`
	Message     string    `json:"message" gorm:"column:message;type:text"`
	AuthorName  *string   `json:"author_name,omitempty" gorm:"column:author_name"`
	AuthorEmail *string   `json:"author_email,omitempty" gorm:"column:author_email"`
	CommitDate  time.Time `json:"commit_date" gorm:"column:commit_date"`
	Position    int       `json:"position" gorm:"column:position"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Commit) TableName() string {
	return "commits"
}

// File is one (commit, path) pair. Content is null when the body was
// offloaded to the object store; such a row may be backfilled later
// when the body is fetched on demand.
type File struct {
	ID        uint      `json:"id" gorm:"primaryKey;column:id"`
	CommitID  uint      `json:"commit_id" gorm:"column:commit_id;index;uniqueIndex:idx_files_commit_path"`
	Path      string    `json:"path" gorm:"column:path;uniqueIndex:idx_files_commit_path"`
	Content   *string   `json:"content,omitempty" gorm:"column:content;type:text"`
	Size      int       `json:"size" gorm:"column:size"`
	Language  string    `json:"language" gorm:"column:language"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (File) TableName() string {
	return "files"
}

// IngestJob is the ledger row for one ingestion request. Rows are
// never deleted; they double as the audit trail.
type IngestJob struct {
	ID               uint              `json:"-" gorm:"primaryKey;column:id"`
	JobID            string            `json:"job_id" gorm:"column:job_id;uniqueIndex"`
	URL              string            `json:"url" gorm:"column:url"`
	Status           string            `json:"status" gorm:"column:status;index;index:idx_jobs_status_next_retry"`
	Progress         int               `json:"progress" gorm:"column:progress"`
	RepoID           *uint             `json:"repo_id,omitempty" gorm:"column:repo_id"`
	TotalCommits     int               `json:"total_commits" gorm:"column:total_commits"`
	ProcessedCommits int               `json:"processed_commits" gorm:"column:processed_commits"`
	LastError        *string           `json:"error,omitempty" gorm:"column:last_error;type:text"`
	RetryCount       int               `json:"retry_count" gorm:"column:retry_count"`
	MaxRetries       int               `json:"max_retries" gorm:"column:max_retries"`
	LastRetryAt      *time.Time        `json:"last_retry_at,omitempty" gorm:"column:last_retry_at"`
	NextRetryAt      *time.Time        `json:"next_retry_at,omitempty" gorm:"column:next_retry_at;index:idx_jobs_status_next_retry"`
	AttemptToken     string            `json:"-" gorm:"column:attempt_token"`
	FileCounts       datatypes.JSONMap `json:"file_counts,omitempty" gorm:"column:file_counts"`
	CreatedAt        time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (IngestJob) TableName() string {
	return "ingest_jobs"
}

// Terminal reports whether no further transition is allowed.
func (j *IngestJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
