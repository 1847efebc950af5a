package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type memBlobs struct {
	objects map[string][]byte
	puts    int
	putErr  error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, key string, data []byte, _ map[string]string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestDetermineLocationBoundary(t *testing.T) {
	store := NewStore(newMemBlobs(), 0)

	tests := []struct {
		size int
		want string
	}{
		{0, LocationInline},
		{1, LocationInline},
		{DefaultInlineMaxBytes - 1, LocationInline},
		{DefaultInlineMaxBytes, LocationInline},
		{DefaultInlineMaxBytes + 1, LocationOffloaded},
		{10 * DefaultInlineMaxBytes, LocationOffloaded},
	}
	for _, tt := range tests {
		if got := store.DetermineLocation(tt.size); got != tt.want {
			t.Fatalf("DetermineLocation(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestStoreFileContentInlineSkipsBlobStore(t *testing.T) {
	blobs := newMemBlobs()
	store := NewStore(blobs, 0)

	body := strings.Repeat("a", DefaultInlineMaxBytes)
	result, err := store.StoreFileContent(context.Background(), FileKey(1, "main.go"), body, nil)
	if err != nil {
		t.Fatalf("StoreFileContent: %v", err)
	}
	if result.Location != LocationInline {
		t.Fatalf("location = %q, want inline at the threshold", result.Location)
	}
	if result.Size != DefaultInlineMaxBytes {
		t.Fatalf("size = %d, want %d", result.Size, DefaultInlineMaxBytes)
	}
	if blobs.puts != 0 {
		t.Fatal("inline path must not touch the object store")
	}
}

func TestStoreFileContentOffloadsRoundTrip(t *testing.T) {
	blobs := newMemBlobs()
	store := NewStore(blobs, 0)

	body := strings.Repeat("b", DefaultInlineMaxBytes+1)
	key := FileKey(7, "vendor.js")
	result, err := store.StoreFileContent(context.Background(), key, body, map[string]string{"path": "vendor.js"})
	if err != nil {
		t.Fatalf("StoreFileContent: %v", err)
	}
	if result.Location != LocationOffloaded {
		t.Fatalf("location = %q, want offloaded one byte over the threshold", result.Location)
	}
	if blobs.puts != 1 {
		t.Fatalf("puts = %d, want 1", blobs.puts)
	}

	got, err := store.GetFileContent(context.Background(), key)
	if err != nil {
		t.Fatalf("GetFileContent: %v", err)
	}
	if got != body {
		t.Fatalf("read back %d bytes, want byte-identical %d", len(got), len(body))
	}
}

func TestStoreFileContentMultibyteUsesByteLength(t *testing.T) {
	store := NewStore(newMemBlobs(), 4)

	// Two 3-byte runes: 2 characters, 6 bytes, over a 4-byte threshold.
	result, err := store.StoreFileContent(context.Background(), FileKey(1, "i18n.txt"), "日本", nil)
	if err != nil {
		t.Fatalf("StoreFileContent: %v", err)
	}
	if result.Size != 6 {
		t.Fatalf("size = %d, want UTF-8 byte length 6", result.Size)
	}
	if result.Location != LocationOffloaded {
		t.Fatalf("location = %q, routing must use bytes not runes", result.Location)
	}
}

func TestStoreFileContentOffloadFailureIsHard(t *testing.T) {
	blobs := newMemBlobs()
	blobs.putErr = errors.New("redis: connection refused")
	store := NewStore(blobs, 8)

	if _, err := store.StoreFileContent(context.Background(), FileKey(1, "big.txt"), strings.Repeat("c", 64), nil); err == nil {
		t.Fatal("adapter failure on the offload path must surface")
	}
}

func TestFileKey(t *testing.T) {
	if got := FileKey(42, "src/app/main.ts"); got != "files/42/src/app/main.ts" {
		t.Fatalf("FileKey = %q", got)
	}
}
