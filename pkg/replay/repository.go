package replay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrStaleAttempt is returned when a token-fenced job write hits a
	// row whose attempt token has since been replaced. The superseded
	// attempt's write is a no-op.
	ErrStaleAttempt = errors.New("ingest job attempt superseded")
)

// Store is the persistence layer over the four replay tables. Every
// consumer receives it (or a narrowed interface over it) explicitly.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Repository{}, &Commit{}, &File{}, &IngestJob{})
}

// ---- repositories ----

func (s *Store) RepositoryByURL(ctx context.Context, url string) (*Repository, error) {
	var repo Repository
	result := s.db.WithContext(ctx).First(&repo, "url = ?", url)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &repo, result.Error
}

func (s *Store) RepositoryByID(ctx context.Context, id uint) (*Repository, error) {
	var repo Repository
	result := s.db.WithContext(ctx).First(&repo, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &repo, result.Error
}

func (s *Store) RepositoryByOwnerName(ctx context.Context, owner, name string) (*Repository, error) {
	var repo Repository
	result := s.db.WithContext(ctx).First(&repo, "owner = ? AND name = ?", owner, name)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &repo, result.Error
}

func (s *Store) CreateRepository(ctx context.Context, repo *Repository) error {
	repo.CreatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Create(repo).Error
}

func (s *Store) TouchRepositoryFetched(ctx context.Context, repoID uint) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&Repository{}).
		Where("id = ?", repoID).
		Update("last_fetched", now).Error
}

func (s *Store) ListRepositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&repos).Error
	return repos, err
}

// ---- commits ----

func (s *Store) CommitCount(ctx context.Context, repoID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Commit{}).Where("repo_id = ?", repoID).Count(&count).Error
	return count, err
}

// CreateCommits inserts one batch. Rows whose (repo_id, sha) already
// exist are skipped, so a retried run cannot duplicate history.
func (s *Store) CreateCommits(ctx context.Context, commits []Commit) error {
	if len(commits) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range commits {
		commits[i].CreatedAt = now
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repo_id"}, {Name: "sha"}},
		DoNothing: true,
	}).Create(&commits).Error
}

// CommitsByRepo returns a repository's full timeline, oldest first.
func (s *Store) CommitsByRepo(ctx context.Context, repoID uint) ([]Commit, error) {
	var commits []Commit
	err := s.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("position ASC").
		Find(&commits).Error
	return commits, err
}

func (s *Store) CommitByID(ctx context.Context, id uint) (*Commit, error) {
	var commit Commit
	result := s.db.WithContext(ctx).First(&commit, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &commit, result.Error
}

// CommitsPage returns commits ordered by position, strictly after the
// given position. The timeline UI pages through history with this.
func (s *Store) CommitsPage(ctx context.Context, repoID uint, afterPosition, limit int) ([]Commit, error) {
	var commits []Commit
	err := s.db.WithContext(ctx).
		Where("repo_id = ? AND position > ?", repoID, afterPosition).
		Order("position ASC").
		Limit(limit).
		Find(&commits).Error
	return commits, err
}

// ---- files ----

func (s *Store) CreateFile(ctx context.Context, file *File) error {
	file.CreatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "commit_id"}, {Name: "path"}},
		DoNothing: true,
	}).Create(file).Error
}

func (s *Store) FilesByCommit(ctx context.Context, commitID uint) ([]File, error) {
	var files []File
	err := s.db.WithContext(ctx).
		Select("id", "commit_id", "path", "size", "language", "created_at").
		Where("commit_id = ?", commitID).
		Order("path ASC").
		Find(&files).Error
	return files, err
}

func (s *Store) FileByID(ctx context.Context, id uint) (*File, error) {
	var file File
	result := s.db.WithContext(ctx).First(&file, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &file, result.Error
}

// BackfillFileContent populates a lazily-fetched body on an existing
// row. Only null-content rows transition; a populated row is left as
// is.
func (s *Store) BackfillFileContent(ctx context.Context, fileID uint, content string) error {
	return s.db.WithContext(ctx).Model(&File{}).
		Where("id = ? AND content IS NULL", fileID).
		Update("content", content).Error
}

// ---- ingest jobs ----

func (s *Store) CreateJob(ctx context.Context, url string, maxRetries int) (*IngestJob, error) {
	now := time.Now().UTC()
	job := &IngestJob{
		JobID:      uuid.New().String(),
		URL:        url,
		Status:     JobPending,
		Progress:   0,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// ActiveJobForURL finds a non-terminal job already covering the URL,
// so duplicate ingestion requests collapse onto one job id.
func (s *Store) ActiveJobForURL(ctx context.Context, url string) (*IngestJob, error) {
	var job IngestJob
	result := s.db.WithContext(ctx).
		Where("url = ? AND status IN ?", url, []string{JobPending, JobProcessing}).
		Order("created_at DESC").
		First(&job)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &job, result.Error
}

func (s *Store) JobByID(ctx context.Context, jobID string) (*IngestJob, error) {
	var job IngestJob
	result := s.db.WithContext(ctx).First(&job, "job_id = ?", jobID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &job, result.Error
}

// MarkProcessing flips the job to processing and stamps a fresh
// attempt token. Every subsequent write from the same attempt carries
// the token, so writes from a superseded attempt land nowhere.
func (s *Store) MarkProcessing(ctx context.Context, jobID string) (string, error) {
	token := uuid.New().String()
	result := s.db.WithContext(ctx).Model(&IngestJob{}).
		Where("job_id = ? AND status IN ?", jobID, []string{JobPending, JobProcessing}).
		Updates(map[string]interface{}{
			"status":        JobProcessing,
			"attempt_token": token,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", ErrStaleAttempt
	}
	return token, nil
}

func (s *Store) fencedUpdate(ctx context.Context, jobID, token string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&IngestJob{}).
		Where("job_id = ? AND attempt_token = ?", jobID, token).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleAttempt
	}
	return nil
}

// UpdateJobProgress is one write per checkpoint so a concurrent
// status poll always observes the latest value.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID, token string, progress int) error {
	return s.fencedUpdate(ctx, jobID, token, map[string]interface{}{
		"progress": progress,
	})
}

func (s *Store) SetJobRepo(ctx context.Context, jobID, token string, repoID uint) error {
	return s.fencedUpdate(ctx, jobID, token, map[string]interface{}{
		"repo_id": repoID,
	})
}

func (s *Store) SetJobCommitTotal(ctx context.Context, jobID, token string, total int) error {
	return s.fencedUpdate(ctx, jobID, token, map[string]interface{}{
		"total_commits": total,
	})
}

func (s *Store) CompleteJob(ctx context.Context, jobID, token string, processed int, fileCounts map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":            JobCompleted,
		"progress":          100,
		"processed_commits": processed,
	}
	if fileCounts != nil {
		updates["file_counts"] = datatypes.JSONMap(fileCounts)
	}
	return s.fencedUpdate(ctx, jobID, token, updates)
}

// FailJob and RearmJob are owned by the retry subsystem and are not
// token-fenced: the failure path must win even over a live attempt.
func (s *Store) FailJob(ctx context.Context, jobID, errText string) error {
	return s.db.WithContext(ctx).Model(&IngestJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     JobFailed,
			"last_error": errText,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) RearmJob(ctx context.Context, jobID, errText string, retryCount int, lastRetryAt, nextRetryAt time.Time) error {
	return s.db.WithContext(ctx).Model(&IngestJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        JobPending,
			"last_error":    errText,
			"retry_count":   retryCount,
			"last_retry_at": lastRetryAt,
			"next_retry_at": nextRetryAt,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// DueRetries selects re-armed jobs whose retry time has passed,
// oldest first. Freshly queued jobs have no next_retry_at and are
// never picked up by the sweep.
func (s *Store) DueRetries(ctx context.Context, now time.Time, limit int) ([]IngestJob, error) {
	var jobs []IngestJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", JobPending, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&IngestJob{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (s *Store) CountDueRetries(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&IngestJob{}).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", JobPending, now).
		Count(&count).Error
	return count, err
}

func (s *Store) CountRetryExhausted(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&IngestJob{}).
		Where("status = ? AND retry_count >= max_retries", JobFailed).
		Count(&count).Error
	return count, err
}
