package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens/codelens/internal/store"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func newTestScanner(t *testing.T, root string, opts Options) *FileScanner {
	t.Helper()
	opts.Root = root
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func scannedPaths(files []*File) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"pkg/lib/util.go", "go"},
		{"app.tsx", "typescript"},
		{"script.py", "python"},
		{"query.sql", "sql"},
		{"Dockerfile", "dockerfile"},
		{"sub/Makefile", "makefile"},
		{"README.md", "markdown"},
		{"data.bin", ""},
		{"no_extension", ""},
		{"weird.xyz", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.path), tt.path)
	}
}

func TestScanReadsContentAndHash(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"main.go": "package main\n"})

	s := newTestScanner(t, root, Options{})
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	assert.Equal(t, "main.go", f.Path)
	assert.Equal(t, "go", f.Language)
	assert.Equal(t, []byte("package main\n"), f.Content)

	sum := sha256.Sum256([]byte("package main\n"))
	assert.Equal(t, hex.EncodeToString(sum[:]), f.ContentHash)
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"small.go": "package small\n"})
	big := make([]byte, 101)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), big, 0o644))

	s := newTestScanner(t, root, Options{MaxFileSize: 100})
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"small.go"}, scannedPaths(files))
}

func TestScanSkipsBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"code.go": "package code\n"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.dat"), []byte{0x7f, 0x00, 0x01, 0x02}, 0o644))

	s := newTestScanner(t, root, Options{})
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"code.go"}, scannedPaths(files))
}

func TestScanSkipsSensitiveAndDefaultExcludes(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"main.go":               "package main\n",
		".env":                  "SECRET=1\n",
		"server.key":            "-----BEGIN\n",
		"aws-credentials.json":  "{}\n",
		"app.min.js":            "x\n",
		"node_modules/dep/a.js": "module.exports = 1\n",
		".git/config":           "[core]\n",
	})

	s := newTestScanner(t, root, Options{})
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, scannedPaths(files))
}

func TestScanRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":     "*.log\ntmp/\n",
		"main.go":        "package main\n",
		"debug.log":      "noise\n",
		"tmp/scratch.go": "package scratch\n",
	})

	s := newTestScanner(t, root, Options{RespectGitignore: true})
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "main.go"}, scannedPaths(files))
}

func TestScanRespectsNestedGitignore(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"sub/.gitignore":   "generated.go\n",
		"sub/real.go":      "package sub\n",
		"sub/generated.go": "package sub\n",
		"generated.go":     "package root\n",
	})

	s := newTestScanner(t, root, Options{RespectGitignore: true})
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Contains(t, scannedPaths(files), "generated.go")
	assert.Contains(t, scannedPaths(files), "sub/real.go")
	assert.NotContains(t, scannedPaths(files), "sub/generated.go")
}

func TestScanIncludeExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.go":      "package a\n",
		"b.py":      "pass\n",
		"skip/c.go": "package c\n",
		"keep/d.go": "package d\n",
	})

	s := newTestScanner(t, root, Options{
		IncludePatterns: []string{"**.go", "*.go"},
		ExcludePatterns: []string{"skip/**"},
	})
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	paths := scannedPaths(files)
	assert.Contains(t, paths, "a.go")
	assert.Contains(t, paths, "keep/d.go")
	assert.NotContains(t, paths, "b.py")
	assert.NotContains(t, paths, "skip/c.go")
}

func TestScanStreamingBatches(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.go": "package a\n",
		"b.go": "package b\n",
		"c.go": "package c\n",
		"d.go": "package d\n",
	})

	s := newTestScanner(t, root, Options{})
	var total int
	for batch := range s.ScanStreaming(context.Background(), 1) {
		assert.Len(t, batch, 1)
		total += len(batch)
	}
	assert.Equal(t, 4, total)
}

func TestScanStreamingCancellation(t *testing.T) {
	root := t.TempDir()
	files := make(map[string]string, 50)
	for i := 0; i < 50; i++ {
		files[filepath.ToSlash(filepath.Join("pkg", string(rune('a'+i%26))+string(rune('0'+i/26))+".go"))] = "package pkg\n"
	}
	writeFiles(t, root, files)

	ctx, cancel := context.WithCancel(context.Background())
	s := newTestScanner(t, root, Options{})
	ch := s.ScanStreaming(ctx, 5)
	cancel()

	// The channel must close promptly after cancellation.
	for range ch {
	}
}

func TestScanSpecific(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.go":      "package a\n",
		"b.go":      "package b\n",
		"debug.log": "noise\n",
	})

	s := newTestScanner(t, root, Options{ExcludePatterns: []string{"*.log"}})
	files, err := s.ScanSpecific(context.Background(), []string{"a.go", "missing.go", "debug.log", "b.go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, scannedPaths(files))
}

func TestCount(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.go": "package a\n",
		"b.go": "package b\n",
	})
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.dat"), []byte{0x00, 0x01}, 0o644))

	s := newTestScanner(t, root, Options{})
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Options{Root: t.TempDir(), IncludePatterns: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	scanned := []*File{
		{Path: "new.go", ContentHash: "h1"},
		{Path: "changed.go", ContentHash: "h2-new"},
		{Path: "same.go", ContentHash: "h3"},
	}
	stored := []*store.FileMeta{
		{Path: "changed.go", ContentHash: "h2-old"},
		{Path: "same.go", ContentHash: "h3"},
		{Path: "gone.go", ContentHash: "h4"},
	}

	cs := Diff(scanned, stored)
	assert.Equal(t, []string{"new.go"}, cs.Added)
	assert.Equal(t, []string{"changed.go"}, cs.Modified)
	assert.Equal(t, []string{"gone.go"}, cs.Deleted)
}

func TestDiffEmpty(t *testing.T) {
	cs := Diff(nil, nil)
	assert.True(t, cs.Empty())
}
