package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gitrewind/platform/pkg/github"
)

func TestShouldSkip(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name   string
		entry  github.TreeEntry
		reason string
		skip   bool
	}{
		{"source file survives", github.TreeEntry{Path: "src/index.ts", Size: 512}, "", false},
		{"vendored dependency", github.TreeEntry{Path: "node_modules/left-pad/index.js", Size: 128}, SkipPath, true},
		{"image extension", github.TreeEntry{Path: "assets/logo.png", Size: 2048}, SkipExtension, true},
		{"oversized file", github.TreeEntry{Path: "data/dump.csv", Size: 20 * 1024 * 1024}, SkipTooLarge, true},
		{"size beats extension", github.TreeEntry{Path: "huge.png", Size: 20 * 1024 * 1024}, SkipTooLarge, true},
		{"extension beats prefix", github.TreeEntry{Path: "node_modules/pkg/icon.svg", Size: 64}, SkipExtension, true},
		{"minified js", github.TreeEntry{Path: "static/app.min.js", Size: 900}, SkipExtension, true},
		{"lockfile", github.TreeEntry{Path: "yarn.lock", Size: 300}, SkipExtension, true},
		{"at size ceiling", github.TreeEntry{Path: "main.go", Size: 1024 * 1024}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, skip := policy.ShouldSkip(tt.entry)
			if skip != tt.skip || reason != tt.reason {
				t.Fatalf("ShouldSkip(%q) = (%q, %v), want (%q, %v)", tt.entry.Path, reason, skip, tt.reason, tt.skip)
			}
		})
	}
}

func TestShouldSkipLeavesOneSurvivor(t *testing.T) {
	policy := DefaultPolicy()
	tree := []github.TreeEntry{
		{Path: "node_modules/x.js", Size: 100},
		{Path: "image.png", Size: 100},
		{Path: "big.txt", Size: 20 * 1024 * 1024},
		{Path: "src/index.ts", Size: 100},
	}

	var kept []string
	for _, entry := range tree {
		if _, skip := policy.ShouldSkip(entry); !skip {
			kept = append(kept, entry.Path)
		}
	}
	if len(kept) != 1 || kept[0] != "src/index.ts" {
		t.Fatalf("survivors = %v, want [src/index.ts]", kept)
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	doc := []byte("max_file_bytes: 2048\ndeny_extensions: [\".png\"]\ndeny_prefixes: [\"gen/\"]\n")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if policy.MaxFileBytes != 2048 {
		t.Fatalf("MaxFileBytes = %d, want 2048", policy.MaxFileBytes)
	}
	if reason, skip := policy.ShouldSkip(github.TreeEntry{Path: "icon.PNG", Size: 10}); !skip || reason != SkipExtension {
		t.Fatalf("extension deny not case-insensitive: (%q, %v)", reason, skip)
	}
	if _, skip := policy.ShouldSkip(github.TreeEntry{Path: "gen/api.go", Size: 10}); !skip {
		t.Fatal("prefix deny not applied")
	}
}

func TestLoadPolicyFallsBackToDefaults(t *testing.T) {
	policy, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy(\"\"): %v", err)
	}
	if policy.MaxFileBytes != 1024*1024 {
		t.Fatalf("default ceiling = %d, want 1MB", policy.MaxFileBytes)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should surface an error alongside the fallback")
	}
}

func TestLoadPolicyRejectsZeroCeiling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("deny_prefixes: [\"x/\"]\n"), 0o600); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("policy without max_file_bytes should be rejected")
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"cmd/server/main.go", "go"},
		{"src/App.tsx", "typescript"},
		{"scripts/run.PY", "python"},
		{"Dockerfile", "dockerfile"},
		{"Makefile", "makefile"},
		{"README.md", "markdown"},
		{"LICENSE", "text"},
		{"data.unknownext", "text"},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.path); got != tt.want {
			t.Fatalf("DetectLanguage(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
