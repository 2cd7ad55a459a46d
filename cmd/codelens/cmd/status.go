package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codelens/codelens/internal/output"
	"github.com/codelens/codelens/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index status and store statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd)
		},
	}
}

func runStatus(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	e, err := openEnv(false)
	if err != nil {
		return err
	}
	defer e.Close()

	progress, err := e.meta.GetIndexStatus(ctx)
	if err != nil {
		return err
	}

	out.Statusf("📁", "project: %s", e.project.Root)
	out.Statusf("📊", "status: %s", progress.Status)

	switch progress.Status {
	case store.StatusBuilding, store.StatusPaused:
		out.Statusf("", "phase: %s (%.0f%% overall)", progress.Phase, progress.OverallProgress*100)
		out.Statusf("", "files: %d/%d, chunks stored: %d",
			progress.ChunkedFiles, progress.TotalFiles, progress.StoredChunks)
		if progress.ETA != nil {
			out.Statusf("", "eta: %s", progress.ETA.Round(time.Second))
		}
	case store.StatusFailed:
		out.Errorf("last build failed: %s", progress.Error)
	}

	if cp, err := e.meta.GetCheckpoint(ctx); err == nil && cp != nil {
		out.Warningf("interrupted build checkpoint from %s (resume with 'codelens index --resume')",
			cp.UpdatedAt.Format(time.RFC3339))
	}

	stats, err := e.meta.Stats(ctx)
	if err != nil {
		return err
	}
	out.Newline()
	out.Statusf("🗂 ", "store: %d files, %d chunks, %d cached embeddings",
		stats.Files, stats.Chunks, stats.CachedEmbeddings)
	out.Statusf("🧭", "vectors: %d", e.vectors.Count())

	if langs, err := e.meta.PrimaryLanguages(ctx); err == nil && len(langs) > 0 {
		out.Statusf("🌐", "primary languages: %v", langs)
	}

	if len(progress.FailedFiles) > 0 {
		out.Newline()
		out.Warningf("%d files failed in the last build:", len(progress.FailedFiles))
		for _, f := range progress.FailedFiles {
			out.Status("", fmt.Sprintf("- %s", f))
		}
	}
	return nil
}
