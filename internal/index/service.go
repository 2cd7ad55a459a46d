package index

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/codelens/codelens/internal/chunk"
	"github.com/codelens/codelens/internal/embed"
	"github.com/codelens/codelens/internal/errors"
	"github.com/codelens/codelens/internal/scanner"
	"github.com/codelens/codelens/internal/store"
)

const (
	// DefaultPollInterval is how often the idle service rescans for
	// drift between the filesystem and the index.
	DefaultPollInterval = 5 * time.Minute

	// crashRecoveryBackoff is the fixed wait before respawning a
	// crashed worker.
	crashRecoveryBackoff = 2 * time.Second

	// maxConsecutiveCrashes bounds recovery attempts before the build
	// is marked failed.
	maxConsecutiveCrashes = 3

	commandBufferSize = 16
	eventBufferSize   = 128
	controlBufferSize = 4
)

// Dependencies are the collaborators an index Service needs. Graph is
// optional; everything else is required.
type Dependencies struct {
	Scanner  *scanner.FileScanner
	Meta     store.MetadataStore
	Vectors  store.VectorStore
	Graph    store.SymbolGraph
	Chunker  chunk.Chunker
	Embedder embed.Embedder

	// BatchSize is files per pipeline batch; zero means the default.
	BatchSize int
	Logger    *slog.Logger
}

func (d *Dependencies) validate() error {
	if d.Scanner == nil {
		return errors.New(errors.ErrCodeInvalidInput, "scanner is required", nil)
	}
	if d.Meta == nil {
		return errors.New(errors.ErrCodeInvalidInput, "metadata store is required", nil)
	}
	if d.Vectors == nil {
		return errors.New(errors.ErrCodeInvalidInput, "vector store is required", nil)
	}
	if d.Chunker == nil {
		return errors.New(errors.ErrCodeInvalidInput, "chunker is required", nil)
	}
	if d.Embedder == nil {
		return errors.New(errors.ErrCodeInvalidInput, "embedder is required", nil)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}

// checkPlatform rejects operating systems the index store stack does
// not support.
func checkPlatform() error {
	switch runtime.GOOS {
	case "linux", "darwin":
		return nil
	default:
		return errors.CapabilityError(errors.ErrCodeUnsupportedPlatform,
			fmt.Sprintf("indexing is not supported on %s", runtime.GOOS))
	}
}

// workerResult is delivered when a worker goroutine exits.
type workerResult struct {
	cmd Command
	err error
}

// Service supervises the build worker. All interaction happens through
// Send and Events; the supervisor serializes builds, recovers crashed
// workers, and polls for filesystem drift while idle.
type Service struct {
	deps Dependencies
	log  *slog.Logger

	commands chan Command
	events   chan Event
	control  chan Command

	pollInterval time.Duration

	// Supervisor-goroutine state, never touched elsewhere.
	building bool
	crashes  int
	results  chan workerResult

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Service.
type Option func(*Service)

// WithPollInterval overrides the drift-poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewService validates dependencies and the platform, returning a
// stopped Service. Call Start to begin processing commands.
func NewService(deps Dependencies, opts ...Option) (*Service, error) {
	if err := checkPlatform(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Service{
		deps:         deps,
		log:          deps.Logger.With("component", "index_service"),
		commands:     make(chan Command, commandBufferSize),
		events:       make(chan Event, eventBufferSize),
		control:      make(chan Command, controlBufferSize),
		pollInterval: DefaultPollInterval,
		results:      make(chan workerResult, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Events returns the event stream. The channel is buffered; events are
// dropped rather than blocking the build when the consumer lags.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Send queues a command. It never blocks the build; a full queue
// returns an error instead.
func (s *Service) Send(cmd Command) error {
	select {
	case s.commands <- cmd:
		return nil
	case <-s.stopCh:
		return errors.New(errors.ErrCodeInvalidInput, "index service is stopped", nil)
	default:
		return errors.New(errors.ErrCodeInvalidInput, "command queue is full", nil)
	}
}

// Start launches the supervisor goroutine.
func (s *Service) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop shuts the supervisor down and waits for it to exit.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)
		case res := <-s.results:
			s.handleResult(ctx, res)
		case <-ticker.C:
			s.pollForDrift(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case CmdBuild:
		s.handleBuild(ctx, cmd)

	case CmdIncrementalUpdate:
		if s.building {
			s.emit(errorEvent(errors.New(errors.ErrCodeBuildInProgress,
				"a build is already in progress", nil)))
			return
		}
		s.spawnWorker(ctx, cmd, 0)

	case CmdPause, CmdResume, CmdCancel:
		if !s.building {
			s.emit(errorEvent(errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("no build in progress to %s", cmd.Type), nil)))
			return
		}
		select {
		case s.control <- cmd:
		default:
			s.emit(errorEvent(errors.New(errors.ErrCodeInternal,
				"worker control queue is full", nil)))
		}

	case CmdGetStatus:
		progress, err := s.deps.Meta.GetIndexStatus(ctx)
		if err != nil {
			s.emit(errorEvent(errors.Wrap(errors.ErrCodeStoreFailed, err)))
			return
		}
		s.emit(progressEvent(EventStatus, progress))

	default:
		s.emit(errorEvent(errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown command %q", cmd.Type), nil)))
	}
}

func (s *Service) handleBuild(ctx context.Context, cmd Command) {
	if s.building {
		s.emit(errorEvent(errors.New(errors.ErrCodeBuildInProgress,
			"a build is already in progress", nil)))
		return
	}

	// A completed index with no interrupted work and no drift has
	// nothing to do.
	if !cmd.ResumeFromCheckpoint {
		if done, progress := s.indexUpToDate(ctx); done {
			s.log.Info("index already up to date, skipping build")
			s.emit(progressEvent(EventBuildComplete, progress))
			return
		}
	}

	s.spawnWorker(ctx, cmd, 0)
}

// indexUpToDate reports whether the persisted index is complete and in
// sync with the filesystem.
func (s *Service) indexUpToDate(ctx context.Context) (bool, *store.IndexingProgress) {
	progress, err := s.deps.Meta.GetIndexStatus(ctx)
	if err != nil || progress.Status != store.StatusDone {
		return false, nil
	}
	cp, err := s.deps.Meta.GetCheckpoint(ctx)
	if err != nil || cp != nil {
		return false, nil
	}
	changes, err := scanner.NewChangeDetector(s.deps.Scanner, s.deps.Meta).Detect(ctx)
	if err != nil || !changes.Empty() {
		return false, nil
	}
	return true, progress
}

// spawnWorker starts a worker goroutine for cmd. delay is non-zero only
// on the crash-recovery path.
func (s *Service) spawnWorker(ctx context.Context, cmd Command, delay time.Duration) {
	s.building = true
	s.drainControl()
	s.log.Info("starting worker", "run", describeRun(cmd))

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = errors.New(errors.ErrCodeWorkerCrashed,
					fmt.Sprintf("worker panic: %v", r), nil)
			}
			s.results <- workerResult{cmd: cmd, err: err}
		}()

		if delay > 0 {
			select {
			case <-time.After(delay):
				s.emit(newEvent(EventWorkerRecovered))
			case <-ctx.Done():
				err = ctx.Err()
				return
			}
		}

		w := newWorker(s.deps, s.control, s.events)
		if cmd.Type == CmdIncrementalUpdate {
			changes := cmd.Changes
			if changes == nil {
				changes, err = scanner.NewChangeDetector(s.deps.Scanner, s.deps.Meta).Detect(ctx)
				if err != nil {
					err = errors.Wrap(errors.ErrCodeBuildFailed, err)
					return
				}
			}
			err = w.incrementalUpdate(ctx, changes)
		} else {
			err = w.build(ctx, cmd.ResumeFromCheckpoint || delay > 0)
		}
	}()
}

func (s *Service) handleResult(ctx context.Context, res workerResult) {
	s.building = false
	s.rejectStrandedControl()

	switch {
	case res.err == nil:
		s.crashes = 0

	case goerrors.Is(res.err, errCancelled),
		goerrors.Is(res.err, context.Canceled),
		goerrors.Is(res.err, context.DeadlineExceeded):
		s.crashes = 0

	case errors.GetCode(res.err) == errors.ErrCodeWorkerCrashed || errors.IsRetryable(res.err):
		s.crashes++
		if s.crashes >= maxConsecutiveCrashes {
			s.log.Error("worker crashed too many times, giving up",
				"crashes", s.crashes, "error", res.err)
			s.failBuild(ctx, res.err)
			s.crashes = 0
			return
		}
		s.log.Warn("worker crashed, recovering from checkpoint",
			"attempt", s.crashes, "error", res.err)
		ev := newEvent(EventWorkerRecovering)
		ev.Attempt = s.crashes
		ev.Err = res.err
		s.emit(ev)
		// Respawn resumes from the last checkpoint after a fixed backoff.
		resume := res.cmd
		resume.ResumeFromCheckpoint = true
		s.spawnWorker(ctx, resume, crashRecoveryBackoff)

	default:
		s.log.Error("build failed", "error", res.err)
		s.failBuild(ctx, res.err)
		s.crashes = 0
	}
}

// failBuild persists the failed status and emits the error.
func (s *Service) failBuild(ctx context.Context, cause error) {
	progress, err := s.deps.Meta.GetIndexStatus(ctx)
	if err != nil {
		progress = &store.IndexingProgress{}
	}
	progress.Status = store.StatusFailed
	progress.Error = cause.Error()
	if err := s.deps.Meta.SetIndexStatus(ctx, progress); err != nil {
		s.log.Error("failed to persist failed status", "error", err)
	}
	s.emit(errorEvent(cause))
}

// pollForDrift runs the change detector while idle and triggers an
// incremental update when the filesystem has drifted from the index.
func (s *Service) pollForDrift(ctx context.Context) {
	if s.building {
		return
	}
	progress, err := s.deps.Meta.GetIndexStatus(ctx)
	if err != nil || progress.Status != store.StatusDone {
		return
	}

	changes, err := scanner.NewChangeDetector(s.deps.Scanner, s.deps.Meta).Detect(ctx)
	if err != nil {
		s.log.Warn("drift detection failed", "error", err)
		return
	}
	if changes.Empty() {
		return
	}

	s.log.Info("filesystem drift detected",
		"added", len(changes.Added), "modified", len(changes.Modified), "deleted", len(changes.Deleted))
	s.spawnWorker(ctx, Command{Type: CmdIncrementalUpdate, Changes: changes}, 0)
}

// drainControl discards stale pause/resume/cancel commands aimed at a
// previous worker.
func (s *Service) drainControl() {
	for {
		select {
		case <-s.control:
		default:
			return
		}
	}
}

// rejectStrandedControl reports control commands the exited worker never
// consumed. Forwarding is fire-and-forget, so a command that raced a
// finishing build would otherwise vanish without a response.
func (s *Service) rejectStrandedControl() {
	for {
		select {
		case cmd := <-s.control:
			s.emit(errorEvent(errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("no build in progress to %s", cmd.Type), nil)))
		default:
			return
		}
	}
}

func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
