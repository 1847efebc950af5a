package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/content"
	"github.com/gitrewind/platform/pkg/github"
	"github.com/gitrewind/platform/pkg/observability/metrics"
	"github.com/gitrewind/platform/pkg/replay"
)

const (
	fileBatchSize  = 5
	fileBatchDelay = 100 * time.Millisecond
)

// FileStageResult are the per-commit counters. Failures here are
// best-effort bookkeeping, never a job error.
type FileStageResult struct {
	Total           int
	Ingested        int
	Skipped         int
	Failed          int
	StoredInline    int
	StoredOffloaded int
}

func (r *FileStageResult) add(other FileStageResult) {
	r.Total += other.Total
	r.Ingested += other.Ingested
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.StoredInline += other.StoredInline
	r.StoredOffloaded += other.StoredOffloaded
}

// FileStage ingests one commit's file tree: filter, fetch in small
// concurrent batches with a throttling delay between them, route each
// body through the content store, persist one File row per survivor.
type FileStage struct {
	fetcher Fetcher
	router  ContentRouter
	catalog Catalog
	policy  *FilterPolicy
}

func NewFileStage(fetcher Fetcher, router ContentRouter, catalog Catalog, policy *FilterPolicy) *FileStage {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &FileStage{fetcher: fetcher, router: router, catalog: catalog, policy: policy}
}

// IngestCommitFiles processes the tree at (owner, repo, sha) for the
// commit row commitID. A single file's failure increments the failed
// counter and the loop continues; only the tree fetch itself is fatal
// to the stage.
func (f *FileStage) IngestCommitFiles(ctx context.Context, commitID uint, owner, repo, sha string) (FileStageResult, error) {
	tree, err := f.fetcher.GetFileTree(ctx, owner, repo, sha)
	if err != nil {
		return FileStageResult{}, fmt.Errorf("fetching tree for %s: %w", sha, err)
	}

	result := FileStageResult{Total: len(tree)}

	var survivors []github.TreeEntry
	for _, entry := range tree {
		if reason, skip := f.policy.ShouldSkip(entry); skip {
			logger.Log.WithFields(map[string]interface{}{
				"path": entry.Path, "reason": reason, "sha": sha,
			}).Debug("file filtered")
			result.Skipped++
			continue
		}
		survivors = append(survivors, entry)
	}

	for start := 0; start < len(survivors); start += fileBatchSize {
		end := start + fileBatchSize
		if end > len(survivors) {
			end = len(survivors)
		}

		batch := f.ingestBatch(ctx, commitID, owner, repo, sha, survivors[start:end])
		result.add(batch)

		if end < len(survivors) {
			select {
			case <-time.After(fileBatchDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	return result, nil
}

// ingestBatch fetches and stores up to fileBatchSize files
// concurrently. Errors are folded into the counters.
func (f *FileStage) ingestBatch(ctx context.Context, commitID uint, owner, repo, sha string, entries []github.TreeEntry) FileStageResult {
	var (
		mu     sync.Mutex
		result FileStageResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileBatchSize)

	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			outcome, err := f.ingestOne(gctx, commitID, owner, repo, sha, entry)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"path": entry.Path, "sha": sha,
				}).Warn("file ingestion failed")
				metrics.FilesFailed.Inc()
				result.Failed++
				return nil
			}
			result.add(outcome)
			return nil
		})
	}

	_ = g.Wait()
	return result
}

func (f *FileStage) ingestOne(ctx context.Context, commitID uint, owner, repo, sha string, entry github.TreeEntry) (FileStageResult, error) {
	body, err := f.fetcher.GetFileContent(ctx, owner, repo, sha, entry.Path)
	if err != nil {
		return FileStageResult{}, err
	}
	if body == "" {
		return FileStageResult{}, fmt.Errorf("no content for %s", entry.Path)
	}

	key := content.FileKey(commitID, entry.Path)
	stored, err := f.router.StoreFileContent(ctx, key, body, map[string]string{
		"repo":   fmt.Sprintf("%s/%s", owner, repo),
		"commit": sha,
		"path":   entry.Path,
	})
	if err != nil {
		return FileStageResult{}, err
	}

	file := &replay.File{
		CommitID: commitID,
		Path:     entry.Path,
		Size:     stored.Size,
		Language: DetectLanguage(entry.Path),
	}
	if stored.Location == content.LocationInline {
		file.Content = &body
	}

	if err := f.catalog.CreateFile(ctx, file); err != nil {
		return FileStageResult{}, err
	}

	outcome := FileStageResult{Ingested: 1}
	if stored.Location == content.LocationInline {
		outcome.StoredInline = 1
	} else {
		outcome.StoredOffloaded = 1
		metrics.BytesOffloaded.Add(float64(stored.Size))
	}
	metrics.FilesIngested.Inc()
	return outcome, nil
}
