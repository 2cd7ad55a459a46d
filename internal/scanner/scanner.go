package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codelens/codelens/internal/gitignore"
)

// gitignoreCacheSize bounds the number of cached gitignore matchers so
// long-running processes don't grow without limit.
const gitignoreCacheSize = 1000

// Options configures a FileScanner.
type Options struct {
	Root             string   // Project root (default ".")
	IncludePatterns  []string // Glob patterns; empty means include everything
	ExcludePatterns  []string // Glob patterns excluded in addition to the defaults
	RespectGitignore bool
	MaxFileSize      int64 // 0 means MaxFileSize (10 MiB)
}

// FileScanner enumerates indexable files under a project root. Scans are
// finite and repeatable; the streaming variant emits bounded batches so
// large repositories never need to fit in memory at once.
type FileScanner struct {
	root        string
	include     []glob.Glob
	exclude     []glob.Glob
	respectGit  bool
	maxFileSize int64

	cacheMu        sync.Mutex
	gitignoreCache *lru.Cache[string, *gitignore.Matcher]
}

// New creates a FileScanner. Include/exclude patterns are compiled up
// front so a bad pattern fails here, not mid-scan.
func New(opts Options) (*FileScanner, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	include, err := compileGlobs(opts.IncludePatterns)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	exclude, err := compileGlobs(opts.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}

	cache, err := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gitignore cache: %w", err)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}

	return &FileScanner{
		root:           absRoot,
		include:        include,
		exclude:        exclude,
		respectGit:     opts.RespectGitignore,
		maxFileSize:    maxSize,
		gitignoreCache: cache,
	}, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Root returns the absolute project root.
func (s *FileScanner) Root() string {
	return s.root
}

// Scan walks the project and returns every indexable file with content
// and hash.
func (s *FileScanner) Scan(ctx context.Context) ([]*File, error) {
	var files []*File
	err := s.walk(ctx, func(f *File) error {
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ScanStreaming walks the project and emits files in batches of at most
// batchSize. The channel closes when the walk finishes or ctx is
// cancelled; a cancelled scan stops emitting promptly.
func (s *FileScanner) ScanStreaming(ctx context.Context, batchSize int) <-chan []*File {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	out := make(chan []*File, 1)
	go func() {
		defer close(out)

		batch := make([]*File, 0, batchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			select {
			case out <- batch:
				batch = make([]*File, 0, batchSize)
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := s.walk(ctx, func(f *File) error {
			batch = append(batch, f)
			if len(batch) >= batchSize {
				if !flush() {
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			return
		}
		flush()
	}()
	return out
}

// ScanSpecific reads only the given project-relative paths. Paths that no
// longer exist are silently skipped, matching delete semantics; paths the
// scanner would exclude are skipped too.
func (s *FileScanner) ScanSpecific(ctx context.Context, paths []string) ([]*File, error) {
	files := make([]*File, 0, len(paths))
	for _, relPath := range paths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		relPath = filepath.ToSlash(filepath.Clean(relPath))
		absPath := filepath.Join(s.root, relPath)
		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() {
			continue
		}
		if s.excluded(relPath) || info.Size() > s.maxFileSize {
			continue
		}

		f, err := s.readFile(relPath, absPath, info)
		if err != nil || f == nil {
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

// Count walks the project without reading file bodies and returns how
// many files a full scan would yield.
func (s *FileScanner) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.walkEntries(ctx, func(relPath, absPath string, info fs.FileInfo) error {
		if !isBinaryFile(absPath) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// walk traverses the tree and calls fn for each included file, content
// loaded. Unreadable files are skipped, not failed.
func (s *FileScanner) walk(ctx context.Context, fn func(*File) error) error {
	return s.walkEntries(ctx, func(relPath, absPath string, info fs.FileInfo) error {
		f, err := s.readFile(relPath, absPath, info)
		if err != nil || f == nil {
			return nil
		}
		return fn(f)
	})
}

// walkEntries runs the shared traversal and exclusion logic, calling fn
// for every surviving regular file without reading its body.
func (s *FileScanner) walkEntries(ctx context.Context, fn func(relPath, absPath string, info fs.FileInfo) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // skip unreadable entries
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil || relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if s.excludedDir(relPath) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if s.excluded(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > s.maxFileSize {
			return nil
		}
		return fn(relPath, path, info)
	})
}

// readFile loads and hashes one file. Returns (nil, nil) for binary files.
func (s *FileScanner) readFile(relPath, absPath string, info fs.FileInfo) (*File, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	if bytes.Contains(content[:min(len(content), 512)], []byte{0}) {
		return nil, nil
	}

	sum := sha256.Sum256(content)
	return &File{
		Path:         relPath,
		AbsPath:      absPath,
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Language:     DetectLanguage(relPath),
		ContentHash:  hex.EncodeToString(sum[:]),
		Content:      content,
	}, nil
}

// excludedDir decides whether a whole directory subtree can be pruned.
func (s *FileScanner) excludedDir(relPath string) bool {
	base := filepath.Base(relPath)
	for _, name := range defaultExcludeDirs {
		if base == name {
			return true
		}
	}
	for _, g := range s.exclude {
		if g.Match(relPath) {
			return true
		}
	}
	if s.respectGit && s.gitignored(relPath, true) {
		return true
	}
	return false
}

// excluded decides whether a file is skipped: sensitive patterns first,
// then user excludes, gitignore, and finally include filtering.
func (s *FileScanner) excluded(relPath string) bool {
	base := filepath.Base(relPath)

	for _, pattern := range sensitiveFilePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	for _, suffix := range defaultExcludeSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	for _, g := range s.exclude {
		if g.Match(relPath) {
			return true
		}
	}
	if s.respectGit && s.gitignored(relPath, false) {
		return true
	}

	if len(s.include) > 0 {
		for _, g := range s.include {
			if g.Match(relPath) {
				return false
			}
		}
		return true
	}
	return false
}

// gitignored consults the root .gitignore plus any nested ones along the
// path, all LRU-cached by directory.
func (s *FileScanner) gitignored(relPath string, isDir bool) bool {
	if m := s.matcherFor(s.root, ""); m != nil && m.Match(relPath, isDir) {
		return true
	}

	dir := filepath.Dir(relPath)
	if dir == "." {
		return false
	}
	currentDir := s.root
	currentBase := ""
	for _, part := range strings.Split(dir, "/") {
		currentDir = filepath.Join(currentDir, part)
		currentBase = filepath.ToSlash(filepath.Join(currentBase, part))
		if m := s.matcherFor(currentDir, currentBase); m != nil && m.Match(relPath, isDir) {
			return true
		}
	}
	return false
}

// matcherFor returns the cached matcher for dir's .gitignore, or nil when
// the directory has none.
func (s *FileScanner) matcherFor(dir, base string) *gitignore.Matcher {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if m, ok := s.gitignoreCache.Get(dir); ok {
		return m
	}

	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err != nil {
		return nil
	}
	m := gitignore.New()
	if err := m.AddFromFile(gitignorePath, base); err != nil {
		return nil
	}
	s.gitignoreCache.Add(dir, m)
	return m
}

// InvalidateGitignoreCache clears cached matchers after .gitignore edits.
func (s *FileScanner) InvalidateGitignoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gitignoreCache.Purge()
}

func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

// Directory names pruned during traversal.
var defaultExcludeDirs = []string{
	".git",
	"node_modules",
	"vendor",
	"__pycache__",
	"dist",
	"build",
	".ssh",
}

// File suffixes that are never worth indexing.
var defaultExcludeSuffixes = []string{
	".min.js",
	".min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
}

// Sensitive files never indexed regardless of other configuration.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	".netrc",
	".npmrc",
	"id_rsa",
	"id_ed25519",
}
