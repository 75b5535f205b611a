package service

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"notionsync/internal/syncerr"
)

// ── Continuous mode ────────────────────────────────────────

// shutdownGrace bounds how long RunContinuous waits for a pass in flight.
const shutdownGrace = 30 * time.Second

// RunContinuous runs a first pass immediately, then one pass per schedule
// tick until ctx is cancelled. req.Full applies only to the first table of
// the first pass. Only setup failures are returned.
func (s *SyncService) RunContinuous(ctx context.Context, req RunRequest) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if s.opts.WatchFiles {
		s.startWatcher(ctx)
	}
	defer s.Stop()

	first := req
	first.FirstOnly = true
	first.Mode = ModeContinuous
	_, err := s.RunOnce(ctx, first)
	switch {
	case err == nil, ctx.Err() != nil:
	case syncerr.GetCode(err) == syncerr.CodeAlreadyRunning:
		s.logger.Warn("service: first pass skipped, tables busy", zap.Error(err))
	default:
		return err
	}

	next := RunRequest{Tables: req.Tables, SkipRelations: req.SkipRelations, Mode: ModeContinuous}
	if err := s.startSchedule(ctx, next); err != nil {
		return err
	}

	<-ctx.Done()
	s.logger.Info("service: stopping continuous mode")
	s.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.WaitRunning(waitCtx)
	return nil
}

// startSchedule registers the repeated pass on a cron scheduler. Ticks that
// fire while the previous pass still runs are skipped.
func (s *SyncService) startSchedule(ctx context.Context, req RunRequest) error {
	logger := cron.PrintfLogger(zap.NewStdLog(s.logger))
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx, req); err != nil && ctx.Err() == nil {
			s.logger.Error("service: scheduled pass failed", zap.Error(err))
		}
	})

	if s.opts.Schedule != "" {
		if _, err := c.AddJob(s.opts.Schedule, job); err != nil {
			return syncerr.Wrap(syncerr.CategoryConfig, syncerr.CodeInvalidConfig, "invalid schedule "+s.opts.Schedule, err)
		}
		s.logger.Info("service: scheduled", zap.String("schedule", s.opts.Schedule))
	} else {
		if s.opts.PollEvery <= 0 {
			return syncerr.NewConfigError(syncerr.CodeInvalidConfig, "poll interval must be positive")
		}
		c.Schedule(cron.Every(s.opts.PollEvery), job)
		s.logger.Info("service: scheduled", zap.Duration("every", s.opts.PollEvery))
	}

	c.Start()
	s.mu.Lock()
	s.cronSched = c
	s.mu.Unlock()
	return nil
}

// ── Watchers ───────────────────────────────────────────────

// startWatcher marks the directory dirty when the collection or relation
// file changes. Editors that replace files on save emit Create or Rename,
// so the parent directories are watched rather than the files.
func (s *SyncService) startWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("service: failed to create watcher", zap.Error(err))
		return
	}

	watched := make(map[string]bool)
	watchedDirs := make(map[string]bool)
	for _, p := range []string{s.opts.CollectionsPath, s.opts.RelationsPath} {
		if p == "" {
			continue
		}
		absPath, err := filepath.Abs(p)
		if err != nil {
			s.logger.Warn("service: bad watch path", zap.String("path", p), zap.Error(err))
			continue
		}
		watched[absPath] = true

		dir := filepath.Dir(absPath)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				s.logger.Warn("service: failed to watch dir", zap.String("dir", dir), zap.Error(err))
			} else {
				watchedDirs[dir] = true
			}
		}
	}
	if len(watchedDirs) == 0 {
		watcher.Close()
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.watcher, s.watchCancel = watcher, cancel
	s.mu.Unlock()

	go func() {
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				absPath, _ := filepath.Abs(event.Name)
				if !watched[absPath] {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(s.opts.Debounce, func() {
					s.logger.Info("service: file changed, reloading before next pass", zap.String("path", absPath))
					s.MarkDirty()
					s.emitter.Emit(watchCtx, EventConfigChanged, absPath)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("service: watcher error", zap.Error(err))
			}
		}
	}()

	s.logger.Info("service: watching files", zap.Int("files", len(watched)))
}

// Stop tears down the watcher and the scheduler. Safe to call repeatedly.
func (s *SyncService) Stop() {
	s.mu.Lock()
	cancel, watcher, sched := s.watchCancel, s.watcher, s.cronSched
	s.watchCancel, s.watcher, s.cronSched = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		watcher.Close()
	}
	if sched != nil {
		<-sched.Stop().Done()
	}
}
