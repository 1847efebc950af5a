package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gitrewind/platform/pkg/common/logger"
)

func TestMain(m *testing.M) {
	logger.Init("test")
	logger.Log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeRedis implements the command slice the adapter uses against
// plain maps, answering with the cmd result constructors go-redis
// ships for exactly this purpose.
type fakeRedis struct {
	strings map[string][]byte
	hashes  map[string]map[string]string

	getRangeCalls int

	setErr      error
	strLenErr   error
	getRangeErr error
	hsetErr     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: make(map[string][]byte),
		hashes:  make(map[string]map[string]string),
	}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.strings[key] = append([]byte(nil), v...)
	case string:
		f.strings[key] = []byte(v)
	default:
		return redis.NewStatusResult("", fmt.Errorf("unsupported value type %T", value))
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) StrLen(_ context.Context, key string) *redis.IntCmd {
	if f.strLenErr != nil {
		return redis.NewIntResult(0, f.strLenErr)
	}
	return redis.NewIntResult(int64(len(f.strings[key])), nil)
}

func (f *fakeRedis) GetRange(_ context.Context, key string, start, end int64) *redis.StringCmd {
	f.getRangeCalls++
	if f.getRangeErr != nil {
		return redis.NewStringResult("", f.getRangeErr)
	}
	data := f.strings[key]
	if start >= int64(len(data)) {
		return redis.NewStringResult("", nil)
	}
	if end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}
	return redis.NewStringResult(string(data[start:end+1]), nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			delete(f.strings, key)
			n++
		}
		if _, ok := f.hashes[key]; ok {
			delete(f.hashes, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.hsetErr != nil {
		return redis.NewIntResult(0, f.hsetErr)
	}
	hash, ok := f.hashes[key]
	if !ok {
		hash = make(map[string]string)
		f.hashes[key] = hash
	}
	for i := 0; i+1 < len(values); i += 2 {
		hash[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func TestPutStoresBodyAndMetadata(t *testing.T) {
	client := newFakeRedis()
	adapter := newAdapter(client, 0)

	data := []byte("package main\n")
	err := adapter.Put(context.Background(), "files/1/main.go", data, map[string]string{"path": "main.go"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if got := client.strings["blob:files/1/main.go"]; !bytes.Equal(got, data) {
		t.Fatalf("stored body = %q", got)
	}
	meta := client.hashes["blobmeta:files/1/main.go"]
	if meta["size"] != fmt.Sprint(len(data)) {
		t.Fatalf("size tag = %q, want %d", meta["size"], len(data))
	}
	if meta["path"] != "main.go" {
		t.Fatalf("path tag = %q", meta["path"])
	}
}

func TestPutMetadataFailureIsSoft(t *testing.T) {
	client := newFakeRedis()
	client.hsetErr = errors.New("redis: readonly replica")
	adapter := newAdapter(client, 0)

	if err := adapter.Put(context.Background(), "k", []byte("body"), nil); err != nil {
		t.Fatalf("Put must tolerate metadata failure, got %v", err)
	}
	if _, ok := client.strings["blob:k"]; !ok {
		t.Fatal("body missing after soft metadata failure")
	}
}

func TestGetReadsInChunks(t *testing.T) {
	client := newFakeRedis()
	adapter := newAdapter(client, 64)

	body := bytes.Repeat([]byte("x"), 150)
	if err := adapter.Put(context.Background(), "big", body, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := adapter.Get(context.Background(), "big")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("read %d bytes, want byte-identical %d", len(got), len(body))
	}
	// 150 bytes at 64-byte ranges: 64 + 64 + 22.
	if client.getRangeCalls != 3 {
		t.Fatalf("range requests = %d, want 3", client.getRangeCalls)
	}
}

func TestGetMissingObject(t *testing.T) {
	adapter := newAdapter(newFakeRedis(), 0)

	if _, err := adapter.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetEmptyObject(t *testing.T) {
	client := newFakeRedis()
	client.strings["blob:empty"] = []byte{}
	adapter := newAdapter(client, 0)

	rc, err := adapter.Get(context.Background(), "empty")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("read %d bytes from empty object", len(got))
	}
}

func TestGetRangeFailureSurfacesOnRead(t *testing.T) {
	client := newFakeRedis()
	adapter := newAdapter(client, 0)
	if err := adapter.Put(context.Background(), "k", []byte("body"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	client.getRangeErr = errors.New("redis: connection reset")

	rc, err := adapter.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()

	if _, err := io.ReadAll(rc); err == nil {
		t.Fatal("read must surface the range failure")
	}
}

func TestDeleteRemovesBodyAndMetadata(t *testing.T) {
	client := newFakeRedis()
	adapter := newAdapter(client, 0)
	if err := adapter.Put(context.Background(), "k", []byte("body"), map[string]string{"a": "b"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := adapter.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := client.strings["blob:k"]; ok {
		t.Fatal("body survived delete")
	}
	if _, ok := client.hashes["blobmeta:k"]; ok {
		t.Fatal("metadata survived delete")
	}

	exists, err := adapter.Exists(context.Background(), "k")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("Exists reports deleted object")
	}
}
