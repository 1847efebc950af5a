package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/github"
	"github.com/gitrewind/platform/pkg/replay"
)

func TestMain(m *testing.M) {
	logger.Init("test")
	logger.Log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// In-memory collaborators for exercising the pipeline without
// Postgres, Redis, or the GitHub API.

type fakeLedger struct {
	mu         sync.Mutex
	jobs       map[string]*replay.IngestJob
	progress   map[string][]int // observed progress writes per job
	tokenSeq   int
	failRearm  error
	defaultMax int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		jobs:       make(map[string]*replay.IngestJob),
		progress:   make(map[string][]int),
		defaultMax: 3,
	}
}

func (l *fakeLedger) addJob(job *replay.IngestJob) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[job.JobID] = job
}

func (l *fakeLedger) job(jobID string) replay.IngestJob {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.jobs[jobID]
}

func (l *fakeLedger) progressWrites(jobID string) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.progress[jobID]...)
}

func (l *fakeLedger) CreateJob(_ context.Context, url string, maxRetries int) (*replay.IngestJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokenSeq++
	job := &replay.IngestJob{
		JobID:      fmt.Sprintf("job-%d", l.tokenSeq),
		URL:        url,
		Status:     replay.JobPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	l.jobs[job.JobID] = job
	return job, nil
}

func (l *fakeLedger) JobByID(_ context.Context, jobID string) (*replay.IngestJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return nil, replay.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (l *fakeLedger) ActiveJobForURL(_ context.Context, url string) (*replay.IngestJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, job := range l.jobs {
		if job.URL == url && !job.Terminal() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, replay.ErrNotFound
}

func (l *fakeLedger) MarkProcessing(_ context.Context, jobID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok || job.Terminal() {
		return "", replay.ErrStaleAttempt
	}
	l.tokenSeq++
	job.Status = replay.JobProcessing
	job.AttemptToken = fmt.Sprintf("token-%d", l.tokenSeq)
	return job.AttemptToken, nil
}

func (l *fakeLedger) fenced(jobID, token string) (*replay.IngestJob, error) {
	job, ok := l.jobs[jobID]
	if !ok || job.AttemptToken != token {
		return nil, replay.ErrStaleAttempt
	}
	return job, nil
}

func (l *fakeLedger) UpdateJobProgress(_ context.Context, jobID, token string, progress int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, err := l.fenced(jobID, token)
	if err != nil {
		return err
	}
	job.Progress = progress
	l.progress[jobID] = append(l.progress[jobID], progress)
	return nil
}

func (l *fakeLedger) SetJobRepo(_ context.Context, jobID, token string, repoID uint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, err := l.fenced(jobID, token)
	if err != nil {
		return err
	}
	job.RepoID = &repoID
	return nil
}

func (l *fakeLedger) SetJobCommitTotal(_ context.Context, jobID, token string, total int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, err := l.fenced(jobID, token)
	if err != nil {
		return err
	}
	job.TotalCommits = total
	return nil
}

func (l *fakeLedger) CompleteJob(_ context.Context, jobID, token string, processed int, fileCounts map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, err := l.fenced(jobID, token)
	if err != nil {
		return err
	}
	job.Status = replay.JobCompleted
	job.Progress = 100
	job.ProcessedCommits = processed
	if fileCounts != nil {
		job.FileCounts = fileCounts
	}
	l.progress[jobID] = append(l.progress[jobID], 100)
	return nil
}

func (l *fakeLedger) FailJob(_ context.Context, jobID, errText string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return replay.ErrNotFound
	}
	job.Status = replay.JobFailed
	job.LastError = &errText
	return nil
}

func (l *fakeLedger) RearmJob(_ context.Context, jobID, errText string, retryCount int, lastRetryAt, nextRetryAt time.Time) error {
	if l.failRearm != nil {
		return l.failRearm
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return replay.ErrNotFound
	}
	job.Status = replay.JobPending
	job.LastError = &errText
	job.RetryCount = retryCount
	job.LastRetryAt = &lastRetryAt
	job.NextRetryAt = &nextRetryAt
	return nil
}

func (l *fakeLedger) DueRetries(_ context.Context, now time.Time, limit int) ([]replay.IngestJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []replay.IngestJob
	for _, job := range l.jobs {
		if job.Status != replay.JobPending || job.NextRetryAt == nil {
			continue
		}
		if job.NextRetryAt.After(now) {
			continue
		}
		due = append(due, *job)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (l *fakeLedger) CountJobsByStatus(_ context.Context) (map[string]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[string]int64)
	for _, job := range l.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (l *fakeLedger) CountDueRetries(ctx context.Context, now time.Time) (int64, error) {
	due, err := l.DueRetries(ctx, now, 1<<30)
	return int64(len(due)), err
}

func (l *fakeLedger) CountRetryExhausted(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, job := range l.jobs {
		if job.Status == replay.JobFailed && job.RetryCount >= job.MaxRetries {
			n++
		}
	}
	return n, nil
}

type fakeCatalog struct {
	mu         sync.Mutex
	nextID     uint
	repos      map[string]*replay.Repository
	commits    []replay.Commit
	files      []replay.File
	batchSizes []int
	failCommit error
	failFile   error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{repos: make(map[string]*replay.Repository)}
}

func (c *fakeCatalog) RepositoryByURL(_ context.Context, url string) (*replay.Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	repo, ok := c.repos[url]
	if !ok {
		return nil, replay.ErrNotFound
	}
	copied := *repo
	return &copied, nil
}

func (c *fakeCatalog) CreateRepository(_ context.Context, repo *replay.Repository) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	repo.ID = c.nextID
	copied := *repo
	c.repos[repo.URL] = &copied
	return nil
}

func (c *fakeCatalog) TouchRepositoryFetched(_ context.Context, _ uint) error {
	return nil
}

func (c *fakeCatalog) CommitCount(_ context.Context, repoID uint) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, commit := range c.commits {
		if commit.RepoID == repoID {
			n++
		}
	}
	return n, nil
}

func (c *fakeCatalog) CreateCommits(_ context.Context, commits []replay.Commit) error {
	if c.failCommit != nil {
		return c.failCommit
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchSizes = append(c.batchSizes, len(commits))
	for _, commit := range commits {
		duplicate := false
		for _, existing := range c.commits {
			if existing.RepoID == commit.RepoID && existing.SHA == commit.SHA {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		c.nextID++
		commit.ID = c.nextID
		c.commits = append(c.commits, commit)
	}
	return nil
}

func (c *fakeCatalog) CommitsByRepo(_ context.Context, repoID uint) ([]replay.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []replay.Commit
	for _, commit := range c.commits {
		if commit.RepoID == repoID {
			out = append(out, commit)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Position > out[j].Position; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

func (c *fakeCatalog) CreateFile(_ context.Context, file *replay.File) error {
	if c.failFile != nil {
		return c.failFile
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	file.ID = c.nextID
	c.files = append(c.files, *file)
	return nil
}

func (c *fakeCatalog) filesForCommit(commitID uint) []replay.File {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []replay.File
	for _, file := range c.files {
		if file.CommitID == commitID {
			out = append(out, file)
		}
	}
	return out
}

type fakeFetcher struct {
	mu          sync.Mutex
	meta        *github.RepositoryMeta
	readme      string
	history     []github.CommitInfo
	trees       map[string][]github.TreeEntry
	contents    map[string]string
	metaErr     error
	historyErr  error
	treeErr     error
	contentErr  error
	historyCall int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		meta: &github.RepositoryMeta{
			Owner: "octocat", Name: "hello", DefaultBranch: "main",
			URL: "https://github.com/octocat/hello",
		},
		trees:    make(map[string][]github.TreeEntry),
		contents: make(map[string]string),
	}
}

func (f *fakeFetcher) GetRepository(_ context.Context, _, _ string) (*github.RepositoryMeta, error) {
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return f.meta, nil
}

func (f *fakeFetcher) GetReadme(_ context.Context, _, _ string) string {
	return f.readme
}

func (f *fakeFetcher) GetCommitHistory(_ context.Context, _, _ string, max int) ([]github.CommitInfo, error) {
	f.mu.Lock()
	f.historyCall++
	f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if len(f.history) > max {
		return f.history[:max], nil
	}
	return f.history, nil
}

func (f *fakeFetcher) GetFileTree(_ context.Context, _, _, sha string) ([]github.TreeEntry, error) {
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	return f.trees[sha], nil
}

func (f *fakeFetcher) GetFileContent(_ context.Context, _, _, sha, path string) (string, error) {
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.contents[sha+":"+path], nil
}

// memBlobs is an in-memory objectstore used behind the real content
// router so routing decisions stay the production code path.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, key string, data []byte, _ map[string]string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeEvents struct {
	mu    sync.Mutex
	types []string
}

func (e *fakeEvents) PublishEvent(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
	return nil
}

func synthHistory(n int) []github.CommitInfo {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	history := make([]github.CommitInfo, n)
	for i := 0; i < n; i++ {
		history[i] = github.CommitInfo{
			SHA:         fmt.Sprintf("sha-%03d", i+1),
			Message:     fmt.Sprintf("commit %d", i+1),
			AuthorName:  "Dev",
			AuthorEmail: "dev@example.com",
			CommitDate:  base.Add(time.Duration(i) * time.Hour),
		}
	}
	return history
}
