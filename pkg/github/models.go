package github

import "time"

// RepositoryMeta is the subset of repository metadata the platform
// ingests.
type RepositoryMeta struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Stars         int    `json:"stars"`
	DefaultBranch string `json:"default_branch"`
	URL           string `json:"url"`
}

// CommitInfo is one commit as fetched from the API, before it is
// assigned a timeline position.
type CommitInfo struct {
	SHA         string    `json:"sha"`
	Message     string    `json:"message"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	CommitDate  time.Time `json:"commit_date"`
}

// TreeEntry is one blob in a commit's file tree.
type TreeEntry struct {
	Path string `json:"path"`
	Size int    `json:"size"`
	SHA  string `json:"sha"`
}
