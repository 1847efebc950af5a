package content

import (
	"context"
	"fmt"
	"io"
)

// Where a file body ends up at rest.
const (
	LocationInline    = "inline"
	LocationOffloaded = "offloaded"
)

// DefaultInlineMaxBytes is the largest body kept inline in the
// relational row.
const DefaultInlineMaxBytes = 100 * 1024

// BlobStore is the slice of the object store adapter the router uses.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// FileKey is the content-addressed key for a file body, shared by
// the write path (ingestion) and the read path (timeline serving).
func FileKey(commitID uint, path string) string {
	return fmt.Sprintf("files/%d/%s", commitID, path)
}

// StoreResult reports the routing decision for one body.
type StoreResult struct {
	Location string
	Size     int
}

// Store routes file bodies by size: at or under the inline threshold
// the caller keeps the content in the row and the object store is
// never touched; over it the body is written through to the adapter.
type Store struct {
	blobs          BlobStore
	inlineMaxBytes int
}

func NewStore(blobs BlobStore, inlineMaxBytes int) *Store {
	if inlineMaxBytes <= 0 {
		inlineMaxBytes = DefaultInlineMaxBytes
	}
	return &Store{blobs: blobs, inlineMaxBytes: inlineMaxBytes}
}

// DetermineLocation is the pure routing predicate, for callers that
// need to plan without writing.
func (s *Store) DetermineLocation(size int) string {
	if size <= s.inlineMaxBytes {
		return LocationInline
	}
	return LocationOffloaded
}

// StoreFileContent routes one body. An adapter failure on the
// offload path is a hard error: there is no fallback tier, and a
// silent drop would leave a File row pointing at nothing.
func (s *Store) StoreFileContent(ctx context.Context, key, content string, metadata map[string]string) (StoreResult, error) {
	size := len(content) // UTF-8 byte length
	location := s.DetermineLocation(size)

	if location == LocationOffloaded {
		if err := s.blobs.Put(ctx, key, []byte(content), metadata); err != nil {
			return StoreResult{}, fmt.Errorf("offloading %q: %w", key, err)
		}
	}

	return StoreResult{Location: location, Size: size}, nil
}

// GetFileContent reads an offloaded body back, concatenating the
// adapter's chunks into a single UTF-8 string.
func (s *Store) GetFileContent(ctx context.Context, key string) (string, error) {
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("reading offloaded content %q: %w", key, err)
	}
	return string(data), nil
}
