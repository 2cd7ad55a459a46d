package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Project holds the on-disk layout for one indexed project. All index
// artifacts live under ~/.codelens/projects/<hash>/, keyed by a hash of
// the project's absolute path so renames of the home directory or
// concurrent projects never collide.
type Project struct {
	Root    string // Absolute project root
	DataDir string // Per-project data directory

	lock *flock.Flock
}

// OpenProject resolves the project root and creates its data directory.
func OpenProject(root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	hash := sha256.Sum256([]byte(abs))
	dataDir := filepath.Join(home, ".codelens", "projects", hex.EncodeToString(hash[:])[:16])
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return &Project{
		Root:    abs,
		DataDir: dataDir,
		lock:    flock.New(filepath.Join(dataDir, ".lock")),
	}, nil
}

// MetadataPath is the SQLite database file for this project.
func (p *Project) MetadataPath() string {
	return filepath.Join(p.DataDir, "metadata.db")
}

// VectorPath is the HNSW index file for this project.
func (p *Project) VectorPath() string {
	return filepath.Join(p.DataDir, "vectors.hnsw")
}

// TryLock acquires the cross-process project lock without blocking.
// Returns false when another process holds it.
func (p *Project) TryLock() (bool, error) {
	acquired, err := p.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire project lock: %w", err)
	}
	return acquired, nil
}

// Unlock releases the project lock. Safe to call when not held.
func (p *Project) Unlock() error {
	return p.lock.Unlock()
}
