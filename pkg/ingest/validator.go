package ingest

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	errEmptyURL      = errors.New("url required")
	errNotGithub     = errors.New("only github.com repositories are supported")
	errMalformedPath = errors.New("expected github.com/<owner>/<repo>")
)

// ValidationError marks input that can never succeed, no matter how
// often it is retried. The retry subsystem routes these straight to
// failed without consuming attempts.
type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ParseRepoURL sanitizes a target URL into owner/repo and the
// canonical form used as the repository dedup key.
func ParseRepoURL(raw string) (owner, repo, canonical string, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", "", ValidationError{reason: errEmptyURL}
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, perr := url.Parse(trimmed)
	if perr != nil {
		return "", "", "", ValidationError{reason: fmt.Errorf("unparseable url %q: %w", raw, perr)}
	}

	host := strings.ToLower(parsed.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", "", ValidationError{reason: fmt.Errorf("host %q: %w", parsed.Hostname(), errNotGithub)}
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", ValidationError{reason: fmt.Errorf("path %q: %w", parsed.Path, errMalformedPath)}
	}

	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if repo == "" {
		return "", "", "", ValidationError{reason: fmt.Errorf("path %q: %w", parsed.Path, errMalformedPath)}
	}

	canonical = fmt.Sprintf("https://github.com/%s/%s", owner, repo)
	return owner, repo, canonical, nil
}
