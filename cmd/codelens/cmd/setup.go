package cmd

import (
	"fmt"
	"os"

	"github.com/codelens/codelens/internal/config"
	"github.com/codelens/codelens/internal/embed"
	"github.com/codelens/codelens/internal/errors"
	"github.com/codelens/codelens/internal/scanner"
	"github.com/codelens/codelens/internal/store"
)

// env bundles the per-project collaborators a command needs.
type env struct {
	cfg     *config.Config
	project *store.Project
	meta    store.MetadataStore
	vectors store.VectorStore
	graph   store.SymbolGraph
	embed   embed.Embedder
	scanner *scanner.FileScanner

	locked bool
}

// openEnv resolves the project root, loads config, and opens the
// stores. When lock is true the cross-process project lock is acquired;
// read-only commands skip it so they can run alongside a build.
func openEnv(lock bool) (*env, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	project, err := store.OpenProject(root)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, project: project}

	if lock {
		acquired, err := project.TryLock()
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, errors.New(errors.ErrCodeProjectLocked,
				"another codelens process is indexing this project", nil)
		}
		e.locked = true
	}

	meta, err := store.NewSQLiteStore(project.MetadataPath())
	if err != nil {
		e.Close()
		return nil, err
	}
	e.meta = meta

	inner := embed.NewStaticEmbedder()
	e.embed = embed.NewCachedEmbedder(inner, meta, embed.DefaultMemoryCacheSize)

	vectors, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: e.embed.Dimensions()})
	if err != nil {
		e.Close()
		return nil, err
	}
	if _, err := os.Stat(project.VectorPath()); err == nil {
		if err := vectors.Load(project.VectorPath()); err != nil {
			e.Close()
			return nil, fmt.Errorf("load vector index: %w", err)
		}
	}
	e.vectors = vectors

	e.graph = store.NewMemoryGraph()

	sc, err := scanner.New(scanner.Options{
		Root:             root,
		IncludePatterns:  cfg.Paths.Include,
		ExcludePatterns:  cfg.Paths.Exclude,
		RespectGitignore: true,
		MaxFileSize:      cfg.Indexing.MaxFileSize,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.scanner = sc

	return e, nil
}

// saveVectors persists the vector index next to the metadata store.
func (e *env) saveVectors() error {
	return e.vectors.Save(e.project.VectorPath())
}

// Close releases stores and the project lock.
func (e *env) Close() {
	if e.vectors != nil {
		_ = e.vectors.Close()
	}
	if e.meta != nil {
		_ = e.meta.Close()
	}
	if e.embed != nil {
		_ = e.embed.Close()
	}
	if e.locked {
		_ = e.project.Unlock()
	}
}
