package scanner

import (
	"context"
	"fmt"
	"sort"

	"github.com/codelens/codelens/internal/store"
)

// ChangeDetector diffs a fresh scan against stored file metadata to find
// what an incremental update needs to touch.
type ChangeDetector struct {
	scanner *FileScanner
	meta    store.MetadataStore
}

// NewChangeDetector creates a detector over the given scanner and store.
func NewChangeDetector(scanner *FileScanner, meta store.MetadataStore) *ChangeDetector {
	return &ChangeDetector{scanner: scanner, meta: meta}
}

// Detect scans the project and classifies each path: added when unseen,
// modified when the content hash differs, deleted when stored but no
// longer scanned. Unchanged files are omitted.
func (d *ChangeDetector) Detect(ctx context.Context) (*store.ChangeSet, error) {
	scanned, err := d.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	stored, err := d.meta.GetAllFileMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stored metadata: %w", err)
	}
	return Diff(scanned, stored), nil
}

// Diff computes the change set between a scan and stored metadata.
// Output lists are sorted so change sets are deterministic.
func Diff(scanned []*File, stored []*store.FileMeta) *store.ChangeSet {
	storedByPath := make(map[string]*store.FileMeta, len(stored))
	for _, m := range stored {
		storedByPath[m.Path] = m
	}

	cs := &store.ChangeSet{}
	seen := make(map[string]bool, len(scanned))
	for _, f := range scanned {
		seen[f.Path] = true
		prev, exists := storedByPath[f.Path]
		switch {
		case !exists:
			cs.Added = append(cs.Added, f.Path)
		case prev.ContentHash != f.ContentHash:
			cs.Modified = append(cs.Modified, f.Path)
		}
	}
	for _, m := range stored {
		if !seen[m.Path] {
			cs.Deleted = append(cs.Deleted, m.Path)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	return cs
}
