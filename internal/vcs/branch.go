// Package vcs tracks the checked-out git branch so the indexer can treat
// a branch switch as a bulk file change.
package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultPollInterval is the fallback cadence when fsnotify is unavailable
// (network mounts, some container volumes).
const defaultPollInterval = 5 * time.Second

// SwitchFunc is invoked on a branch change with the previous and current
// branch names.
type SwitchFunc func(prev, cur string)

// BranchHandler watches .git/HEAD and reports branch switches. fsnotify
// is the primary mechanism; a polling loop covers filesystems where
// inotify events don't fire.
type BranchHandler struct {
	gitDir       string
	onSwitch     SwitchFunc
	pollInterval time.Duration

	mu      sync.Mutex
	current string
	stopped bool
	stopCh  chan struct{}
}

// NewBranchHandler creates a handler for the repository at root. Returns
// an error when root is not a git repository.
func NewBranchHandler(root string, onSwitch SwitchFunc) (*BranchHandler, error) {
	gitDir := filepath.Join(root, ".git")
	info, err := os.Stat(gitDir)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	if !info.IsDir() {
		// Worktrees keep a "gitdir: <path>" pointer file.
		data, err := os.ReadFile(gitDir)
		if err != nil {
			return nil, fmt.Errorf("read .git pointer: %w", err)
		}
		target := strings.TrimSpace(strings.TrimPrefix(string(data), "gitdir:"))
		gitDir = target
	}

	h := &BranchHandler{
		gitDir:       gitDir,
		onSwitch:     onSwitch,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
	}
	h.current, err = h.readBranch()
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Current returns the branch name seen most recently.
func (h *BranchHandler) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Start begins watching for branch switches until ctx is cancelled or
// Stop is called. Blocks; run it in its own goroutine.
func (h *BranchHandler) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("fsnotify unavailable, polling for branch switches",
			slog.String("error", err.Error()))
		return h.poll(ctx)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not HEAD itself: git swaps HEAD via rename,
	// which drops a watch placed on the file.
	if err := watcher.Add(h.gitDir); err != nil {
		slog.Warn("cannot watch git dir, polling for branch switches",
			slog.String("dir", h.gitDir),
			slog.String("error", err.Error()))
		return h.poll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return h.poll(ctx)
			}
			if filepath.Base(event.Name) == "HEAD" {
				h.check()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return h.poll(ctx)
			}
			slog.Warn("branch watcher error", slog.String("error", err.Error()))
		}
	}
}

// Stop terminates a running Start loop. Idempotent.
func (h *BranchHandler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stopCh)
}

func (h *BranchHandler) poll(ctx context.Context) error {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case <-ticker.C:
			h.check()
		}
	}
}

// check re-reads HEAD and fires the callback when the branch moved.
func (h *BranchHandler) check() {
	branch, err := h.readBranch()
	if err != nil {
		slog.Debug("cannot read git HEAD", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	prev := h.current
	changed := branch != prev
	if changed {
		h.current = branch
	}
	cb := h.onSwitch
	h.mu.Unlock()

	if changed {
		slog.Info("branch switch detected",
			slog.String("from", prev),
			slog.String("to", branch))
		if cb != nil {
			cb(prev, branch)
		}
	}
}

// readBranch parses .git/HEAD: "ref: refs/heads/<name>" for a checked-out
// branch, a bare commit hash when detached.
func (h *BranchHandler) readBranch() (string, error) {
	data, err := os.ReadFile(filepath.Join(h.gitDir, "HEAD"))
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}

	head := strings.TrimSpace(string(data))
	if ref, ok := strings.CutPrefix(head, "ref: "); ok {
		return strings.TrimPrefix(ref, "refs/heads/"), nil
	}
	// Detached HEAD: report the abbreviated commit.
	if len(head) > 12 {
		head = head[:12]
	}
	return head, nil
}
