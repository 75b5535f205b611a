package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"notionsync/internal/config"
	"notionsync/internal/domain"
	"notionsync/internal/etl"
	"notionsync/internal/relations"
	"notionsync/internal/storage"
	"notionsync/internal/syncerr"
)

// ─────────────────────────────────────────────────────────────
// Sync Service: run once, run continuously, reload on change
// ─────────────────────────────────────────────────────────────

// Run modes recorded in the run history.
const (
	ModeOnce       = "once"
	ModeContinuous = "continuous"
	ModeMCP        = "mcp"
)

// relationsJob is the guard key of the relations pass.
const relationsJob = "relations:"

// RunRecorder persists pass summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *storage.Run) error
}

// PassObserver is told about every finished pass.
type PassObserver interface {
	PassFinished(etl.RunSummary)
}

// Options configures a SyncService.
type Options struct {
	Environment     domain.Environment
	CollectionsPath string
	RelationsPath   string

	// Relations materializes junction tables after every sync pass.
	Relations       bool
	RelationOptions relations.Options

	// PollEvery spaces continuous passes; Schedule (a cron expression)
	// replaces it when set.
	PollEvery time.Duration
	Schedule  string

	// WatchFiles reloads the collection and relation files after they change.
	WatchFiles bool
	Debounce   time.Duration
}

// RunRequest controls one pass.
type RunRequest struct {
	Full bool
	// FirstOnly limits Full to the first table of the pass.
	FirstOnly bool
	// Tables restricts the pass to these destination tables.
	Tables        []string
	SkipRelations bool
	Mode          string
}

// PassResult is the outcome of one pass.
type PassResult struct {
	RunID     string            `json:"runId,omitempty"`
	Sync      etl.RunSummary    `json:"sync"`
	Relations *relations.Result `json:"relations,omitempty"`
}

// SyncService runs sync passes over the collection directory.
type SyncService struct {
	engine       *etl.Engine
	materializer *relations.Materializer
	runs         RunRecorder
	passes       PassObserver
	emitter      EventEmitter
	logger       *zap.Logger
	opts         Options
	runningJobs  runningJobsGuard

	mu          sync.Mutex
	loaded      bool
	dirty       bool
	collections []domain.Collection
	specs       []domain.RelationSpec

	// watcher / cron lifecycle
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// Option configures optional collaborators.
type Option func(*SyncService)

// WithRunStore records every pass.
func WithRunStore(r RunRecorder) Option {
	return func(s *SyncService) { s.runs = r }
}

// WithPassObserver reports every pass, typically to metrics.
func WithPassObserver(o PassObserver) Option {
	return func(s *SyncService) { s.passes = o }
}

// WithEmitter sets the event sink.
func WithEmitter(e EventEmitter) Option {
	return func(s *SyncService) { s.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SyncService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSyncService creates a SyncService. A nil materializer disables the
// relations pass.
func NewSyncService(engine *etl.Engine, materializer *relations.Materializer, opts Options, options ...Option) *SyncService {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	s := &SyncService{
		engine:       engine,
		materializer: materializer,
		opts:         opts,
		logger:       zap.NewNop(),
	}
	for _, o := range options {
		o(s)
	}
	if s.emitter == nil {
		s.emitter = LogEmitter{Logger: s.logger}
	}
	return s
}

// ── Directory ──────────────────────────────────────────────

// Reload reads the collection directory and the relation declarations.
// A missing relations file means no relations.
func (s *SyncService) Reload() error {
	collections, err := config.LoadCollections(s.opts.CollectionsPath)
	if err != nil {
		return syncerr.Wrap(syncerr.CategoryConfig, syncerr.CodeInvalidConfig, "load collections", err)
	}

	var specs []domain.RelationSpec
	if s.opts.RelationsPath != "" {
		if _, statErr := os.Stat(s.opts.RelationsPath); statErr == nil {
			specs, err = config.LoadRelations(s.opts.RelationsPath, collections)
			if err != nil {
				return syncerr.Wrap(syncerr.CategoryConfig, syncerr.CodeInvalidConfig, "load relations", err)
			}
			specs = relations.Resolve(specs, collections)
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return fmt.Errorf("stat relations file: %w", statErr)
		}
	}

	s.mu.Lock()
	s.collections, s.specs = collections, specs
	s.loaded, s.dirty = true, false
	s.mu.Unlock()

	s.logger.Info("service: directory loaded",
		zap.Int("collections", len(collections)),
		zap.Int("relations", len(specs)),
	)
	return nil
}

// MarkDirty schedules a reload before the next pass.
func (s *SyncService) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Collections returns the current directory, loading it on first use.
func (s *SyncService) Collections() ([]domain.Collection, []domain.RelationSpec, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, nil, err
	}
	collections, specs := s.snapshot()
	return collections, specs, nil
}

// snapshot copies the loaded directory.
func (s *SyncService) snapshot() ([]domain.Collection, []domain.RelationSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Collection(nil), s.collections...), append([]domain.RelationSpec(nil), s.specs...)
}

// ensureLoaded loads the directory the first time and reloads it when the
// files changed. A failed reload keeps the previous lists.
func (s *SyncService) ensureLoaded() error {
	s.mu.Lock()
	loaded, dirty := s.loaded, s.dirty
	s.mu.Unlock()

	switch {
	case !loaded:
		return s.Reload()
	case dirty:
		if err := s.Reload(); err != nil {
			s.logger.Warn("service: reload failed, keeping previous directory", zap.Error(err))
		}
	}
	return nil
}

// ── Run ────────────────────────────────────────────────────

// RunOnce runs one sync pass followed by the relations pass. Tables already
// being synced by another caller are skipped. The returned error is set only
// when the pass could not start or ctx was cancelled; table failures are
// reported in the summary.
func (s *SyncService) RunOnce(ctx context.Context, req RunRequest) (*PassResult, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	collections, specs := s.snapshot()

	targets, err := targetTables(collections, req.Tables)
	if err != nil {
		return nil, err
	}
	locked, busy := s.runningJobs.TryLockAll(targets)
	defer s.runningJobs.UnlockAll(locked)
	if len(busy) > 0 {
		if len(locked) == 0 {
			return nil, syncerr.NewConfigError(syncerr.CodeAlreadyRunning, "every requested table is already being synced")
		}
		s.logger.Warn("service: skipping tables already being synced", zap.Strings("tables", busy))
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeOnce
	}
	result := &PassResult{}
	result.Sync = s.engine.SyncAll(ctx, collections, etl.RunOptions{
		ForceFull:      req.Full,
		ForceFirstOnly: req.FirstOnly,
		Tables:         locked,
	})

	if s.materializer != nil && s.opts.Relations && !req.SkipRelations && ctx.Err() == nil {
		res, err := s.materialize(ctx, specs, s.opts.RelationOptions)
		if err != nil {
			s.logger.Error("service: relations pass failed", zap.Error(err))
		}
		result.Relations = &res
	}

	s.finishPass(ctx, mode, result)
	return result, ctx.Err()
}

// Materialize runs the relations pass on its own.
func (s *SyncService) Materialize(ctx context.Context, opts relations.Options) (relations.Result, error) {
	if s.materializer == nil {
		return relations.Result{}, syncerr.NewConfigError(syncerr.CodeInvalidConfig, "relations are not configured")
	}
	_, specs, err := s.Collections()
	if err != nil {
		return relations.Result{}, err
	}
	return s.materialize(ctx, specs, opts)
}

func (s *SyncService) materialize(ctx context.Context, specs []domain.RelationSpec, opts relations.Options) (relations.Result, error) {
	if !s.runningJobs.TryLock(relationsJob) {
		return relations.Result{}, syncerr.NewConfigError(syncerr.CodeAlreadyRunning, "relations pass is already running")
	}
	defer s.runningJobs.Unlock(relationsJob)

	res, err := s.materializer.Materialize(ctx, specs, opts)
	s.logger.Info("service: "+res.String(), zap.Bool("dry_run", opts.DryRun))
	s.emitter.Emit(ctx, EventRelationsFinished, res)
	return res, err
}

// finishPass records, reports and announces a pass.
func (s *SyncService) finishPass(ctx context.Context, mode string, result *PassResult) {
	if s.runs != nil {
		run := storage.RunFromSummary(result.Sync, mode, s.opts.Environment)
		if r := result.Relations; r != nil {
			run.RelationsAttempted = r.Attempted
			run.RelationsSucceeded = r.Succeeded
			run.RelationsFailed = r.Failed
			run.JunctionRows = r.Rows
		}
		if err := s.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			s.logger.Warn("service: failed to record run", zap.Error(err))
		} else {
			result.RunID = run.ID
		}
	}
	if s.passes != nil {
		s.passes.PassFinished(result.Sync)
	}
	s.logger.Info("service: "+result.Sync.String(), zap.String("mode", mode))
	s.emitter.Emit(ctx, EventPassFinished, result)
}

// targetTables lists the replicated tables a pass would touch, restricted
// to filter when given. Filter entries that are not replicated tables are
// configuration errors.
func targetTables(collections []domain.Collection, filter []string) ([]string, error) {
	replicated := make(map[string]bool, len(collections))
	var all []string
	for _, c := range collections {
		if c.Replicate && c.Table != "" {
			replicated[c.Table] = true
			all = append(all, c.Table)
		}
	}
	if len(filter) == 0 {
		return all, nil
	}
	for _, t := range filter {
		if !replicated[t] {
			return nil, syncerr.NewConfigError(syncerr.CodeUnknownTable, "table "+t+" is not a replicated table").
				WithDetails(map[string]any{"table": t})
		}
	}
	return filter, nil
}

// WaitRunning blocks until all running syncs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *SyncService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}
