package index

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/codelens/codelens/internal/chunk"
	"github.com/codelens/codelens/internal/errors"
	"github.com/codelens/codelens/internal/scanner"
	"github.com/codelens/codelens/internal/store"
)

// errCancelled signals a clean, caller-requested stop.
var errCancelled = goerrors.New("build cancelled")

// phaseWeights apportion overall progress across pipeline phases.
var phaseWeights = map[store.BuildPhase]struct{ offset, span float64 }{
	store.PhaseScanning:   {0.00, 0.10},
	store.PhaseDiffing:    {0.10, 0.05},
	store.PhaseChunking:   {0.15, 0.25},
	store.PhaseEmbedding:  {0.40, 0.45},
	store.PhasePersisting: {0.85, 0.15},
}

// worker executes one build or incremental update. It is owned by the
// Service, which feeds pause/resume/cancel commands through the control
// channel and consumes progress through the events channel.
type worker struct {
	deps     Dependencies
	control  <-chan Command
	events   chan<- Event
	progress *store.IndexingProgress
	log      *slog.Logger
}

func newWorker(deps Dependencies, control <-chan Command, events chan<- Event) *worker {
	return &worker{
		deps:     deps,
		control:  control,
		events:   events,
		progress: &store.IndexingProgress{Status: store.StatusBuilding},
		log:      deps.Logger.With("component", "index_worker"),
	}
}

// build runs a full reconciliation of the project against the stores.
// When resume is true it skips files already covered by the persisted
// checkpoint.
func (w *worker) build(ctx context.Context, resume bool) error {
	start := time.Now()
	w.progress.StartTime = start

	var checkpoint *store.BuildCheckpoint
	if resume {
		cp, err := w.deps.Meta.GetCheckpoint(ctx)
		if err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailed, err)
		}
		checkpoint = cp
	}

	// Chunks whose metadata was committed but whose vectors may not
	// have been written before the interruption get their vectors
	// replayed first.
	if checkpoint != nil && len(checkpoint.PendingChunkIDs) > 0 {
		if err := w.revectorize(ctx, checkpoint.PendingChunkIDs); err != nil {
			return err
		}
	}

	w.setPhase(ctx, store.PhaseScanning, 0)
	files, err := w.deps.Scanner.Scan(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBuildFailed, err)
	}
	w.progress.TotalFiles = len(files)
	w.progress.ScannedFiles = len(files)
	w.setPhase(ctx, store.PhaseScanning, 1)

	if err := w.checkControl(ctx); err != nil {
		return err
	}

	w.setPhase(ctx, store.PhaseDiffing, 0)
	stored, err := w.deps.Meta.GetAllFileMeta(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	changes := scanner.Diff(files, stored)
	w.setPhase(ctx, store.PhaseDiffing, 1)

	if err := w.deleteFiles(ctx, changes.Deleted); err != nil {
		return err
	}

	byPath := make(map[string]*scanner.File, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}

	work := make([]string, 0, len(changes.Added)+len(changes.Modified))
	work = append(work, changes.Added...)
	work = append(work, changes.Modified...)
	sort.Strings(work)

	// A checkpoint records the last fully persisted path; everything at
	// or before it is already in the stores.
	if checkpoint != nil && checkpoint.LastProcessedPath != "" {
		resumed := work[:0]
		for _, p := range work {
			if p > checkpoint.LastProcessedPath {
				resumed = append(resumed, p)
			}
		}
		work = resumed
		w.log.Info("resuming from checkpoint",
			"last_path", checkpoint.LastProcessedPath, "remaining", len(work))
	}

	var lastDone string
	if checkpoint != nil {
		lastDone = checkpoint.LastProcessedPath
	}
	if err := w.processPaths(ctx, work, byPath, lastDone); err != nil {
		return err
	}

	w.progress.Status = store.StatusDone
	w.progress.Phase = store.PhasePersisting
	w.progress.PhaseProgress = 1
	w.progress.OverallProgress = 1
	if err := w.deps.Meta.SetIndexStatus(ctx, w.progress); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if err := w.deps.Meta.ClearCheckpoint(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}

	w.log.Info("build complete",
		"files", len(work),
		"deleted", len(changes.Deleted),
		"duration", time.Since(start).Round(time.Millisecond))
	w.emit(progressEvent(EventBuildComplete, w.snapshot()))
	return nil
}

// incrementalUpdate applies a known change set without a full rescan.
func (w *worker) incrementalUpdate(ctx context.Context, changes *store.ChangeSet) error {
	w.progress.StartTime = time.Now()

	if changes == nil || changes.Empty() {
		w.progress.Status = store.StatusDone
		w.progress.OverallProgress = 1
		w.emit(progressEvent(EventUpdateComplete, w.snapshot()))
		return nil
	}

	if err := w.deleteFiles(ctx, changes.Deleted); err != nil {
		return err
	}

	paths := make([]string, 0, len(changes.Added)+len(changes.Modified))
	paths = append(paths, changes.Added...)
	paths = append(paths, changes.Modified...)
	sort.Strings(paths)

	w.setPhase(ctx, store.PhaseScanning, 0)
	files, err := w.deps.Scanner.ScanSpecific(ctx, paths)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBuildFailed, err)
	}
	w.progress.TotalFiles = len(files)
	w.progress.ScannedFiles = len(files)
	w.setPhase(ctx, store.PhaseScanning, 1)

	byPath := make(map[string]*scanner.File, len(files))
	scanned := make([]string, 0, len(files))
	for _, f := range files {
		byPath[f.Path] = f
		scanned = append(scanned, f.Path)
	}

	if err := w.processPaths(ctx, scanned, byPath, ""); err != nil {
		return err
	}

	w.progress.Status = store.StatusDone
	w.progress.OverallProgress = 1
	if err := w.deps.Meta.SetIndexStatus(ctx, w.progress); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if err := w.deps.Meta.ClearCheckpoint(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}

	w.log.Info("incremental update complete",
		"added", len(changes.Added), "modified", len(changes.Modified), "deleted", len(changes.Deleted))
	w.emit(progressEvent(EventUpdateComplete, w.snapshot()))
	return nil
}

// processPaths chunks, embeds and persists the given paths in batches,
// checkpointing after each batch so a crash never loses more than one
// batch of work. lastDone is the last path already covered by the
// checkpoint, empty for a fresh run. Pause and cancel are honored
// before embedding or between batches, never mid-persist: an embedded
// batch is always stored and checkpointed first.
func (w *worker) processPaths(ctx context.Context, paths []string, byPath map[string]*scanner.File, lastDone string) error {
	batchSize := w.deps.BatchSize
	if batchSize <= 0 {
		batchSize = scanner.DefaultBatchSize
	}

	total := len(paths)
	processed := 0

	for start := 0; start < total; start += batchSize {
		if err := w.checkControl(ctx); err != nil {
			return err
		}

		end := start + batchSize
		if end > total {
			end = total
		}
		batch := paths[start:end]

		w.setPhase(ctx, store.PhaseChunking, float64(processed)/float64(total))
		var (
			batchChunks []*store.Chunk
			batchMeta   []*store.FileMeta
			staleChunks []string
		)
		for _, p := range batch {
			f := byPath[p]
			if f == nil {
				continue
			}

			// Replacing a modified file means dropping its old chunks
			// from the vector store and graph as well.
			old, err := w.deps.Meta.GetChunksByFilePath(ctx, p)
			if err != nil {
				return errors.Wrap(errors.ErrCodeStoreFailed, err)
			}
			for _, c := range old {
				staleChunks = append(staleChunks, c.ID)
			}

			chunks, err := w.deps.Chunker.Chunk(ctx, &chunk.FileInput{
				Path:     f.Path,
				Content:  f.Content,
				Language: f.Language,
			})
			if err != nil {
				w.log.Warn("chunking failed, skipping file", "path", p, "error", err)
				w.progress.FailedFiles = append(w.progress.FailedFiles, p)
				continue
			}

			batchChunks = append(batchChunks, chunks...)
			batchMeta = append(batchMeta, &store.FileMeta{
				Path:         f.Path,
				ContentHash:  f.ContentHash,
				LastModified: f.LastModified,
				Size:         f.Size,
				Language:     f.Language,
			})
			w.progress.ChunkedFiles++
		}
		w.progress.TotalChunks += len(batchChunks)

		if err := w.checkControl(ctx); err != nil {
			return err
		}

		w.setPhase(ctx, store.PhaseEmbedding, float64(processed)/float64(total))
		texts := make([]string, len(batchChunks))
		for i, c := range batchChunks {
			texts[i] = c.Content
		}
		vectors, err := w.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			w.log.Warn("batch embedding failed, retrying per file", "error", err)
			batchChunks, batchMeta, vectors = w.embedPerFile(ctx, batchChunks, batchMeta)
		}
		w.progress.EmbeddedChunks += len(vectors)

		w.setPhase(ctx, store.PhasePersisting, float64(processed)/float64(total))
		if len(staleChunks) > 0 {
			if err := w.deps.Vectors.Delete(ctx, staleChunks); err != nil {
				return errors.Wrap(errors.ErrCodeStoreFailed, err)
			}
			if w.deps.Graph != nil {
				if err := w.deps.Graph.RemoveChunks(ctx, staleChunks); err != nil {
					return errors.Wrap(errors.ErrCodeStoreFailed, err)
				}
			}
		}
		ids := make([]string, len(batchChunks))
		for i, c := range batchChunks {
			ids[i] = c.ID
		}

		// The pending-chunk checkpoint covers the window between the
		// metadata commit and the vector insert: once file metadata is
		// stored the resume diff no longer sees these files, so a
		// resumed build replays the vector writes from the IDs.
		if err := w.saveCheckpoint(ctx, lastDone, ids); err != nil {
			return err
		}
		if err := w.deps.Meta.InsertFileMeta(ctx, batchMeta); err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailed, err)
		}
		if err := w.deps.Meta.InsertChunks(ctx, batchChunks); err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailed, err)
		}
		if err := w.deps.Vectors.Add(ctx, ids, vectors); err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailed, err)
		}
		w.progress.StoredChunks += len(batchChunks)

		processed += len(batch)
		lastDone = batch[len(batch)-1]
		if err := w.saveCheckpoint(ctx, lastDone, nil); err != nil {
			return err
		}
		w.updateETA(processed, total)
		if err := w.deps.Meta.SetIndexStatus(ctx, w.progress); err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailed, err)
		}
		w.emit(progressEvent(EventProgress, w.snapshot()))
	}
	return nil
}

// deleteFiles removes all traces of the given paths: chunks, FTS rows,
// vectors, graph edges and file metadata.
func (w *worker) deleteFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	var chunkIDs []string
	for _, p := range paths {
		chunks, err := w.deps.Meta.GetChunksByFilePath(ctx, p)
		if err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailed, err)
		}
		for _, c := range chunks {
			chunkIDs = append(chunkIDs, c.ID)
		}
	}

	if err := w.deps.Meta.DeleteFileMeta(ctx, paths); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if len(chunkIDs) > 0 {
		if err := w.deps.Vectors.Delete(ctx, chunkIDs); err != nil {
			return errors.Wrap(errors.ErrCodeStoreFailed, err)
		}
		if w.deps.Graph != nil {
			if err := w.deps.Graph.RemoveChunks(ctx, chunkIDs); err != nil {
				return errors.Wrap(errors.ErrCodeStoreFailed, err)
			}
		}
	}

	w.log.Debug("removed deleted files from index", "files", len(paths), "chunks", len(chunkIDs))
	return nil
}

// checkControl polls for a pending pause or cancel command without
// blocking. On pause it persists a checkpoint and blocks until resume
// or cancel arrives.
func (w *worker) checkControl(ctx context.Context) error {
	select {
	case cmd := <-w.control:
		return w.handleControl(ctx, cmd)
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (w *worker) handleControl(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CmdCancel:
		return w.cancel(ctx)
	case CmdPause:
		return w.pause(ctx)
	default:
		// Resume without a pause is a no-op.
		return nil
	}
}

func (w *worker) pause(ctx context.Context) error {
	w.progress.Status = store.StatusPaused
	if err := w.deps.Meta.SetIndexStatus(ctx, w.progress); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	w.log.Info("build paused")
	w.emit(progressEvent(EventPaused, w.snapshot()))

	for {
		select {
		case cmd := <-w.control:
			switch cmd.Type {
			case CmdResume:
				w.progress.Status = store.StatusBuilding
				if err := w.deps.Meta.SetIndexStatus(ctx, w.progress); err != nil {
					return errors.Wrap(errors.ErrCodeStoreFailed, err)
				}
				w.log.Info("build resumed")
				w.emit(progressEvent(EventResumed, w.snapshot()))
				return nil
			case CmdCancel:
				return w.cancel(ctx)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// cancel stops the build but keeps the checkpoint, so a later
// resume-from-checkpoint build picks up where this one stopped.
func (w *worker) cancel(ctx context.Context) error {
	w.progress.Status = store.StatusIdle
	if err := w.deps.Meta.SetIndexStatus(ctx, w.progress); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	w.log.Info("build cancelled")
	w.emit(progressEvent(EventCancelled, w.snapshot()))
	return errCancelled
}

func (w *worker) saveCheckpoint(ctx context.Context, lastPath string, pending []string) error {
	cp := &store.BuildCheckpoint{
		Phase:             w.progress.Phase,
		LastProcessedPath: lastPath,
		PendingChunkIDs:   pending,
		UpdatedAt:         time.Now(),
	}
	if err := w.deps.Meta.SaveCheckpoint(ctx, cp); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	return nil
}

// embedPerFile retries a failed batch one file at a time, so a single
// bad input only costs its own file. Files that still fail are recorded
// in FailedFiles and dropped from the batch, leaving the diff to retry
// them on the next run.
func (w *worker) embedPerFile(ctx context.Context, chunks []*store.Chunk, meta []*store.FileMeta) ([]*store.Chunk, []*store.FileMeta, [][]float32) {
	byFile := make(map[string][]*store.Chunk, len(meta))
	for _, c := range chunks {
		byFile[c.FilePath] = append(byFile[c.FilePath], c)
	}

	keptChunks := make([]*store.Chunk, 0, len(chunks))
	keptMeta := make([]*store.FileMeta, 0, len(meta))
	vectors := make([][]float32, 0, len(chunks))

	for _, m := range meta {
		if ctx.Err() != nil {
			break
		}
		fileChunks := byFile[m.Path]
		texts := make([]string, len(fileChunks))
		for i, c := range fileChunks {
			texts[i] = c.Content
		}
		vecs, err := w.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			w.log.Warn("embedding failed, skipping file", "path", m.Path, "error", err)
			w.progress.FailedFiles = append(w.progress.FailedFiles, m.Path)
			continue
		}
		keptChunks = append(keptChunks, fileChunks...)
		keptMeta = append(keptMeta, m)
		vectors = append(vectors, vecs...)
	}
	return keptChunks, keptMeta, vectors
}

// revectorize re-embeds chunks recorded as pending in the checkpoint.
// Their metadata is already committed; vector adds replace existing
// entries, so replaying a batch that partially landed is safe.
func (w *worker) revectorize(ctx context.Context, ids []string) error {
	chunks, err := w.deps.Meta.GetChunks(ctx, ids)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	live := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		live[i] = c.ID
	}
	vectors, err := w.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return errors.Wrap(errors.ErrCodeEmbeddingFailed, err)
	}
	if err := w.deps.Vectors.Add(ctx, live, vectors); err != nil {
		return errors.Wrap(errors.ErrCodeStoreFailed, err)
	}
	w.log.Info("replayed vector writes for interrupted batch", "chunks", len(chunks))
	return nil
}

func (w *worker) setPhase(ctx context.Context, phase store.BuildPhase, frac float64) {
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	w.progress.Phase = phase
	w.progress.PhaseProgress = frac
	if pw, ok := phaseWeights[phase]; ok {
		w.progress.OverallProgress = pw.offset + pw.span*frac
	}
}

func (w *worker) updateETA(processed, total int) {
	if processed == 0 || total == 0 {
		return
	}
	elapsed := time.Since(w.progress.StartTime)
	remaining := time.Duration(float64(elapsed) / float64(processed) * float64(total-processed))
	w.progress.ETA = &remaining
}

// snapshot copies the progress record so event consumers never observe
// later mutations.
func (w *worker) snapshot() *store.IndexingProgress {
	p := *w.progress
	if w.progress.ETA != nil {
		eta := *w.progress.ETA
		p.ETA = &eta
	}
	p.FailedFiles = append([]string(nil), w.progress.FailedFiles...)
	return &p
}

func (w *worker) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		// A slow consumer must not stall the build.
	}
}

// describeRun labels a worker run for logging.
func describeRun(cmd Command) string {
	if cmd.Type == CmdIncrementalUpdate {
		return "incremental update"
	}
	if cmd.ResumeFromCheckpoint {
		return fmt.Sprintf("%s (resume)", cmd.Type)
	}
	return string(cmd.Type)
}
