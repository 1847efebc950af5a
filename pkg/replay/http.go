package replay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gitrewind/platform/pkg/common/logger"
	"github.com/gitrewind/platform/pkg/content"
	"github.com/gitrewind/platform/pkg/objectstore"
)

const defaultTimelinePageSize = 20

// ContentReader retrieves offloaded file bodies.
type ContentReader interface {
	GetFileContent(ctx context.Context, key string) (string, error)
	DetermineLocation(size int) string
	StoreFileContent(ctx context.Context, key, body string, metadata map[string]string) (content.StoreResult, error)
}

// SourceFetcher backs the lazy content path for rows whose body was
// never stored.
type SourceFetcher interface {
	GetFileContent(ctx context.Context, owner, repo, sha, path string) (string, error)
}

// Explainer produces an LLM explanation of one commit. Optional.
type Explainer interface {
	ExplainCommit(ctx context.Context, repoName, message string, files []string) (string, error)
}

// HTTPHandler serves the replay timeline: repositories, commit pages,
// per-commit file lists, and file bodies.
type HTTPHandler struct {
	store     *Store
	contents  ContentReader
	fetcher   SourceFetcher
	explainer Explainer
}

func NewHTTPHandler(store *Store, contents ContentReader, fetcher SourceFetcher, explainer Explainer) *HTTPHandler {
	return &HTTPHandler{store: store, contents: contents, fetcher: fetcher, explainer: explainer}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/repos", h.handleListRepos).Methods(http.MethodGet)
	router.HandleFunc("/repos/{owner}/{name}", h.handleGetRepo).Methods(http.MethodGet)
	router.HandleFunc("/repos/{owner}/{name}/commits", h.handleCommitsPage).Methods(http.MethodGet)
	router.HandleFunc("/commits/{id}/files", h.handleCommitFiles).Methods(http.MethodGet)
	router.HandleFunc("/commits/{id}/explain", h.handleExplainCommit).Methods(http.MethodGet)
	router.HandleFunc("/files/{id}/content", h.handleFileContent).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.store.ListRepositories(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to list repositories")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The list view does not need README bodies.
	for i := range repos {
		repos[i].Readme = nil
	}
	writeJSON(w, repos)
}

func (h *HTTPHandler) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	repo, err := h.store.RepositoryByOwnerName(r.Context(), vars["owner"], vars["name"])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "repository not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to load repository")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, repo)
}

// handleCommitsPage serves the timeline incrementally:
// ?after=<position>&limit=<n> returns the next page in chronological
// order, so the UI can replay commit-by-commit.
func (h *HTTPHandler) handleCommitsPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	repo, err := h.store.RepositoryByOwnerName(r.Context(), vars["owner"], vars["name"])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "repository not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to load repository")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	after := intQuery(r, "after", 0)
	limit := intQuery(r, "limit", defaultTimelinePageSize)
	if limit < 1 || limit > 100 {
		http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
		return
	}

	commits, err := h.store.CommitsPage(r.Context(), repo.ID, after, limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load commits page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, commits)
}

func (h *HTTPHandler) handleCommitFiles(w http.ResponseWriter, r *http.Request) {
	commit, ok := h.commitFromPath(w, r)
	if !ok {
		return
	}

	files, err := h.store.FilesByCommit(r.Context(), commit.ID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list commit files")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, files)
}

// handleFileContent returns a file body from whichever tier holds it:
// the row, the object store, or (lazily) the source itself. In the
// last case the body is routed back through the content store and the
// row backfilled when it lands inline.
func (h *HTTPHandler) handleFileContent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)
		return
	}

	file, err := h.store.FileByID(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to load file")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if file.Content != nil {
		writeJSON(w, fileContentResponse(file, *file.Content))
		return
	}

	body, err := h.contents.GetFileContent(r.Context(), content.FileKey(file.CommitID, file.Path))
	if err == nil {
		writeJSON(w, fileContentResponse(file, body))
		return
	}
	if !errors.Is(err, objectstore.ErrNotFound) {
		logger.Log.WithError(err).WithField("file_id", file.ID).Error("failed to read offloaded content")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, ok := h.lazyFetch(r.Context(), file)
	if !ok {
		http.Error(w, "content unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, fileContentResponse(file, body))
}

func (h *HTTPHandler) handleExplainCommit(w http.ResponseWriter, r *http.Request) {
	if h.explainer == nil {
		http.Error(w, "explanations not configured", http.StatusNotFound)
		return
	}

	commit, ok := h.commitFromPath(w, r)
	if !ok {
		return
	}

	files, err := h.store.FilesByCommit(r.Context(), commit.ID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list commit files")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}

	var repoName string
	if repo, err := h.repoForCommit(r.Context(), commit); err == nil {
		repoName = repo.Owner + "/" + repo.Name
	}

	explanation, err := h.explainer.ExplainCommit(r.Context(), repoName, commit.Message, paths)
	if err != nil {
		logger.Log.WithError(err).WithField("commit_id", commit.ID).Error("explanation failed")
		http.Error(w, "explanation unavailable", http.StatusBadGateway)
		return
	}

	writeJSON(w, map[string]interface{}{
		"commit_id":   commit.ID,
		"sha":         commit.SHA,
		"explanation": explanation,
	})
}

// lazyFetch pulls a never-stored body from the source and caches it
// back through the content store, populating the row when it routes
// inline.
func (h *HTTPHandler) lazyFetch(ctx context.Context, file *File) (string, bool) {
	if h.fetcher == nil {
		return "", false
	}

	commit, err := h.store.CommitByID(ctx, file.CommitID)
	if err != nil {
		return "", false
	}
	repo, err := h.repoForCommit(ctx, commit)
	if err != nil {
		return "", false
	}

	body, err := h.fetcher.GetFileContent(ctx, repo.Owner, repo.Name, commit.SHA, file.Path)
	if err != nil || body == "" {
		return "", false
	}

	key := content.FileKey(file.CommitID, file.Path)
	stored, err := h.contents.StoreFileContent(ctx, key, body, map[string]string{
		"repo": repo.Owner + "/" + repo.Name, "commit": commit.SHA, "path": file.Path,
	})
	if err != nil {
		logger.Log.WithError(err).WithField("file_id", file.ID).Warn("failed to cache lazily fetched content")
		return body, true
	}
	if stored.Location == content.LocationInline {
		if err := h.store.BackfillFileContent(ctx, file.ID, body); err != nil {
			logger.Log.WithError(err).WithField("file_id", file.ID).Warn("content backfill failed")
		}
	}
	return body, true
}

func (h *HTTPHandler) commitFromPath(w http.ResponseWriter, r *http.Request) (*Commit, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid commit id", http.StatusBadRequest)
		return nil, false
	}

	commit, err := h.store.CommitByID(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "commit not found", http.StatusNotFound)
			return nil, false
		}
		logger.Log.WithError(err).Error("failed to load commit")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return commit, true
}

func (h *HTTPHandler) repoForCommit(ctx context.Context, commit *Commit) (*Repository, error) {
	return h.store.RepositoryByID(ctx, commit.RepoID)
}

func fileContentResponse(file *File, body string) map[string]interface{} {
	return map[string]interface{}{
		"id":       file.ID,
		"path":     file.Path,
		"language": file.Language,
		"size":     file.Size,
		"content":  body,
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
