package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/gitrewind/platform/pkg/common/logger"
)

// FetchError is a failed remote call. The ingestion pipeline treats
// these as transient and retryable.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("github %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("github %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fetchErr(op string, resp *github.Response, err error) *FetchError {
	fe := &FetchError{Op: op, Err: err}
	if resp != nil {
		fe.StatusCode = resp.StatusCode
	}
	return fe
}

// Client wraps go-github, translating responses into internal models.
// Calls pass through a client-side rate limiter and a redis
// read-through cache.
type Client struct {
	gh      *github.Client
	cache   *responseCache
	limiter *rate.Limiter
}

// NewClient builds the fetcher. token may be empty (unauthenticated,
// heavily rate-limited by GitHub); cacheClient may be nil to disable
// the read-through cache.
func NewClient(token string, cacheClient *redis.Client, cacheTTL time.Duration, requestsPerSecond float64) *Client {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}

	return &Client{
		gh:      github.NewClient(httpClient),
		cache:   newResponseCache(cacheClient, cacheTTL),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)),
	}
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*RepositoryMeta, error) {
	key := fmt.Sprintf("repo:%s/%s", owner, repo)
	var meta RepositoryMeta
	if c.cache.get(ctx, key, &meta) {
		return &meta, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	ghRepo, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fetchErr("get repository", resp, err)
	}

	meta = RepositoryMeta{
		Owner:         ghRepo.GetOwner().GetLogin(),
		Name:          ghRepo.GetName(),
		Description:   ghRepo.GetDescription(),
		Stars:         ghRepo.GetStargazersCount(),
		DefaultBranch: ghRepo.GetDefaultBranch(),
		URL:           ghRepo.GetHTMLURL(),
	}
	c.cache.set(ctx, key, meta)
	return &meta, nil
}

// GetReadme returns the repository README text, or "" when there is
// none or the fetch fails. A missing README never fails an ingestion.
func (c *Client) GetReadme(ctx context.Context, owner, repo string) string {
	key := fmt.Sprintf("readme:%s/%s", owner, repo)
	var readme string
	if c.cache.get(ctx, key, &readme) {
		return readme
	}

	if err := c.wait(ctx); err != nil {
		return ""
	}
	content, resp, err := c.gh.Repositories.GetReadme(ctx, owner, repo, nil)
	if err != nil {
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"owner": owner, "repo": repo,
			}).Warn("readme fetch failed")
		}
		return ""
	}

	readme, err = content.GetContent()
	if err != nil {
		return ""
	}
	c.cache.set(ctx, key, readme)
	return readme
}

// GetCommitHistory fetches up to max commits and returns them
// oldest-first. The API pages newest-first; the window is the most
// recent max commits, reversed into chronological order.
func (c *Client) GetCommitHistory(ctx context.Context, owner, repo string, max int) ([]CommitInfo, error) {
	key := fmt.Sprintf("commits:%s/%s:%d", owner, repo, max)
	var cached []CommitInfo
	if c.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	perPage := 100
	if max < perPage {
		perPage = max
	}
	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var newestFirst []CommitInfo
	for len(newestFirst) < max {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			return nil, fetchErr("list commits", resp, err)
		}
		for _, commit := range commits {
			newestFirst = append(newestFirst, toCommitInfo(commit))
			if len(newestFirst) == max {
				break
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	oldestFirst := make([]CommitInfo, len(newestFirst))
	for i, commit := range newestFirst {
		oldestFirst[len(newestFirst)-1-i] = commit
	}

	c.cache.set(ctx, key, oldestFirst)
	return oldestFirst, nil
}

// GetFileTree returns the blobs of the tree at a commit, recursively.
func (c *Client) GetFileTree(ctx context.Context, owner, repo, sha string) ([]TreeEntry, error) {
	key := fmt.Sprintf("tree:%s/%s:%s", owner, repo, sha)
	var cached []TreeEntry
	if c.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	tree, resp, err := c.gh.Git.GetTree(ctx, owner, repo, sha, true)
	if err != nil {
		return nil, fetchErr("get tree", resp, err)
	}

	var entries []TreeEntry
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{
			Path: entry.GetPath(),
			Size: entry.GetSize(),
			SHA:  entry.GetSHA(),
		})
	}

	c.cache.set(ctx, key, entries)
	return entries, nil
}

// GetFileContent returns a file's text at a commit, or "" when the
// path does not exist there. Transport failures surface as errors.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, sha, path string) (string, error) {
	key := fmt.Sprintf("content:%s/%s:%s:%s", owner, repo, sha, path)
	var cached string
	if c.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	if err := c.wait(ctx); err != nil {
		return "", err
	}
	fileContent, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: sha})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", fetchErr("get contents", resp, err)
	}
	if fileContent == nil {
		// Path resolved to a directory.
		return "", nil
	}

	text, err := fileContent.GetContent()
	if err != nil {
		return "", fetchErr("decode contents", resp, err)
	}

	c.cache.set(ctx, key, text)
	return text, nil
}

func toCommitInfo(c *github.RepositoryCommit) CommitInfo {
	return CommitInfo{
		SHA:         c.GetSHA(),
		Message:     c.GetCommit().GetMessage(),
		AuthorName:  c.GetCommit().GetAuthor().GetName(),
		AuthorEmail: c.GetCommit().GetAuthor().GetEmail(),
		CommitDate:  c.GetCommit().GetAuthor().GetDate().Time,
	}
}

// IsNotFound reports whether err is a FetchError for a missing
// upstream resource.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound
}
