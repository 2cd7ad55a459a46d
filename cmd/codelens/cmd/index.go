package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/chunk"
	"github.com/codelens/codelens/internal/index"
	"github.com/codelens/codelens/internal/output"
	"github.com/codelens/codelens/internal/store"
	"github.com/codelens/codelens/internal/vcs"
	"github.com/codelens/codelens/internal/watcher"
)

type indexOptions struct {
	resume bool
	watch  bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the project index",
		Long: `Scan the repository, chunk and embed changed files, and persist
the index. Re-running only processes what changed.

Examples:
  codelens index
  codelens index --resume
  codelens index --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Resume an interrupted build from its checkpoint")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep running and index changes as they appear")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())

	e, err := openEnv(true)
	if err != nil {
		return err
	}
	defer e.Close()

	pollInterval, err := time.ParseDuration(e.cfg.Indexing.PollInterval)
	if err != nil || pollInterval <= 0 {
		pollInterval = index.DefaultPollInterval
	}

	svc, err := index.NewService(index.Dependencies{
		Scanner:   e.scanner,
		Meta:      e.meta,
		Vectors:   e.vectors,
		Graph:     e.graph,
		Chunker:   chunk.NewLineChunker(e.cfg.Indexing.ChunkLines, e.cfg.Indexing.ChunkOverlap),
		Embedder:  e.embed,
		BatchSize: e.cfg.Indexing.BatchSize,
		Logger:    slog.Default(),
	}, index.WithPollInterval(pollInterval))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop()

	// A branch switch is just many files changing at once.
	branches, err := vcs.NewBranchHandler(e.project.Root, func(prev, cur string) {
		out.Statusf("🔀", "branch switch %s → %s, updating index", prev, cur)
		_ = svc.Send(index.Command{Type: index.CmdIncrementalUpdate})
	})
	if err == nil {
		go func() { _ = branches.Start(ctx) }()
		defer branches.Stop()
	}

	var liveChanges <-chan *store.ChangeSet
	if opts.watch {
		w, watchErr := watcher.New(e.project.Root, watcher.DefaultDebounceWindow)
		if watchErr != nil {
			return watchErr
		}
		if watchErr := w.Start(ctx); watchErr != nil {
			return watchErr
		}
		liveChanges = w.Changes()
	}

	if err := svc.Send(index.Command{Type: index.CmdBuild, ResumeFromCheckpoint: opts.resume}); err != nil {
		return err
	}

	out.Statusf("🔍", "indexing %s", e.project.Root)
	for {
		select {
		case cs, ok := <-liveChanges:
			if !ok {
				liveChanges = nil
				continue
			}
			if err := svc.Send(index.Command{Type: index.CmdIncrementalUpdate, Changes: cs}); err != nil {
				out.Warningf("update skipped: %v", err)
			}
		case ev := <-svc.Events():
			done, evErr := renderEvent(out, ev)
			if evErr != nil {
				return evErr
			}
			if done {
				if err := e.saveVectors(); err != nil {
					return fmt.Errorf("save vector index: %w", err)
				}
				if !opts.watch {
					return nil
				}
				out.Status("👀", "watching for changes (ctrl-c to stop)")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// renderEvent prints one service event. It reports whether the event
// completed a build or update.
func renderEvent(out *output.Writer, ev index.Event) (bool, error) {
	switch ev.Type {
	case index.EventProgress:
		if p := ev.Progress; p != nil && p.TotalFiles > 0 {
			out.Progress(p.ChunkedFiles, p.TotalFiles,
				fmt.Sprintf("%s (%d chunks)", p.Phase, p.StoredChunks))
		}
		return false, nil

	case index.EventBuildComplete, index.EventUpdateComplete:
		out.ProgressDone()
		if p := ev.Progress; p != nil {
			out.Successf("indexed %d files, %d chunks", p.ChunkedFiles, p.StoredChunks)
			if len(p.FailedFiles) > 0 {
				out.Warningf("%d files could not be indexed", len(p.FailedFiles))
			}
		} else {
			out.Success("index up to date")
		}
		return true, nil

	case index.EventPaused:
		out.Status("⏸ ", "build paused")
	case index.EventResumed:
		out.Status("▶️ ", "build resumed")
	case index.EventCancelled:
		out.Warning("build cancelled")
		return false, nil
	case index.EventWorkerRecovering:
		out.Warningf("worker crashed, recovering (attempt %d)", ev.Attempt)
	case index.EventWorkerRecovered:
		out.Status("🔄", "worker recovered, resuming from checkpoint")
	case index.EventError:
		out.ProgressDone()
		return false, ev.Err
	}
	return false, nil
}
