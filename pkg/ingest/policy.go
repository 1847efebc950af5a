package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gitrewind/platform/pkg/github"
)

// Skip reasons reported by the filter, first match wins.
const (
	SkipTooLarge  = "too_large"
	SkipExtension = "extension"
	SkipPath      = "path_prefix"
)

// FilterPolicy decides which tree entries are worth ingesting.
type FilterPolicy struct {
	MaxFileBytes   int      `yaml:"max_file_bytes" json:"max_file_bytes"`
	DenyExtensions []string `yaml:"deny_extensions" json:"deny_extensions"`
	DenyPrefixes   []string `yaml:"deny_prefixes" json:"deny_prefixes"`

	denyExt map[string]struct{}
}

// LoadPolicy reads a YAML policy file, falling back to the compiled
// defaults when no path is configured.
func LoadPolicy(path string) (*FilterPolicy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultPolicy(), err
	}

	var policy FilterPolicy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, err
	}
	if policy.MaxFileBytes <= 0 {
		return nil, errors.New("ingest policy: max_file_bytes must be positive")
	}

	policy.index()
	return &policy, nil
}

func DefaultPolicy() *FilterPolicy {
	policy := &FilterPolicy{
		MaxFileBytes: 1024 * 1024, // hard ingestion ceiling
		DenyExtensions: []string{
			".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".svg", ".webp",
			".mp3", ".mp4", ".wav", ".avi", ".mov", ".webm",
			".woff", ".woff2", ".ttf", ".eot", ".otf",
			".zip", ".tar", ".gz", ".bz2", ".7z", ".rar",
			".exe", ".dll", ".so", ".dylib", ".bin", ".o", ".a",
			".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
			".lock", ".sum",
			".min.js", ".min.css", ".map",
		},
		DenyPrefixes: []string{
			"node_modules/", "vendor/", "dist/", "build/", "out/",
			".git/", ".idea/", ".vscode/", "__pycache__/",
			"coverage/", "target/", "bower_components/",
		},
	}
	policy.index()
	return policy
}

func (p *FilterPolicy) index() {
	p.denyExt = make(map[string]struct{}, len(p.DenyExtensions))
	for _, ext := range p.DenyExtensions {
		p.denyExt[strings.ToLower(ext)] = struct{}{}
	}
}

// ShouldSkip applies the filters in order: size ceiling, extension
// deny-list, path-prefix deny-list. It returns the reason of the
// first matching filter.
func (p *FilterPolicy) ShouldSkip(entry github.TreeEntry) (string, bool) {
	if entry.Size > p.MaxFileBytes {
		return SkipTooLarge, true
	}

	lower := strings.ToLower(entry.Path)
	for ext := range p.denyExt {
		if strings.HasSuffix(lower, ext) {
			return SkipExtension, true
		}
	}

	for _, prefix := range p.DenyPrefixes {
		if strings.HasPrefix(entry.Path, prefix) {
			return SkipPath, true
		}
	}

	return "", false
}

var languageByExt = map[string]string{
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".md":    "markdown",
	".txt":   "text",
}

// DetectLanguage maps a path to a coarse language tag for the UI's
// syntax highlighting. Unknown extensions tag as "text".
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	base := strings.ToLower(filepath.Base(path))
	switch base {
	case "dockerfile":
		return "dockerfile"
	case "makefile":
		return "makefile"
	}
	return "text"
}
