// Package watcher observes a project tree for live file changes and
// emits debounced change sets suitable for incremental index updates.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codelens/codelens/internal/store"
)

// Op is the kind of filesystem change.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one filesystem change, with Path relative to the root.
type Event struct {
	Path string
	Op   Op
}

// DefaultDebounceWindow batches editor save storms into one update.
const DefaultDebounceWindow = 500 * time.Millisecond

// skipDirs are directory names never worth watching.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// Watcher reports debounced file changes under a project root.
// fsnotify watches are per-directory, so new directories are added as
// they appear.
type Watcher struct {
	root      string
	debouncer *Debouncer
	changes   chan *store.ChangeSet
	log       *slog.Logger

	fsw *fsnotify.Watcher
}

// New creates a watcher for root. A non-positive window uses the default.
func New(root string, window time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Watcher{
		root:      abs,
		debouncer: NewDebouncer(window),
		changes:   make(chan *store.ChangeSet, 4),
		log:       slog.Default().With("component", "watcher"),
	}, nil
}

// Changes returns debounced change sets with root-relative paths.
func (w *Watcher) Changes() <-chan *store.ChangeSet {
	return w.changes
}

// Start installs watches on the tree and begins emitting change sets
// until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.watchTree(w.root); err != nil {
		_ = fsw.Close()
		return err
	}

	go w.run(ctx)
	go w.emit(ctx)
	return nil
}

// watchTree adds a watch for dir and every directory below it.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipDirs[d.Name()] && path != dir {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Debug("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.debouncer.Stop()
	defer func() { _ = w.fsw.Close() }()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	if ev.Op.Has(fsnotify.Create) {
		// New directories need their own watch before their files
		// start producing events.
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if !skipDirs[filepath.Base(ev.Name)] {
				_ = w.watchTree(ev.Name)
			}
			return
		}
		w.debouncer.Add(Event{Path: rel, Op: OpCreate})
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Write):
		w.debouncer.Add(Event{Path: rel, Op: OpModify})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.debouncer.Add(Event{Path: rel, Op: OpDelete})
	}
}

// emit converts debounced batches into ChangeSets.
func (w *Watcher) emit(ctx context.Context) {
	defer close(w.changes)
	for {
		select {
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			cs := toChangeSet(batch)
			if cs.Empty() {
				continue
			}
			select {
			case w.changes <- cs:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func toChangeSet(events []Event) *store.ChangeSet {
	cs := &store.ChangeSet{}
	for _, ev := range events {
		switch ev.Op {
		case OpCreate:
			cs.Added = append(cs.Added, ev.Path)
		case OpModify:
			cs.Modified = append(cs.Modified, ev.Path)
		case OpDelete:
			cs.Deleted = append(cs.Deleted, ev.Path)
		}
	}
	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	return cs
}
