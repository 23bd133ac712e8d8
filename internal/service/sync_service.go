package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"catalogsync/internal/config"
	"catalogsync/internal/etl"
	"catalogsync/internal/metrics"
	"catalogsync/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Sync Service: runs the ERP → Eshop job and keeps it running
// ─────────────────────────────────────────────────────────────

// syncJobKey is the guard key for the single configured job.
const syncJobKey = "erp-to-eshop"

// runTimeout bounds a single run, whatever triggered it.
const runTimeout = 5 * time.Minute

var (
	// ErrSinkFailed wraps output write failures. The run itself succeeded.
	ErrSinkFailed = errors.New("failed to save synced products")
	// ErrAlreadyRunning is returned when a trigger fires mid-run.
	ErrAlreadyRunning = errors.New("sync is already running")
)

// SyncService runs the configured sync, saves the result, records history
// and metrics, and owns the cron/file-watch triggers.
type SyncService struct {
	cfg     *config.Config
	engine  *etl.Engine
	dest    etl.Destination
	store   *storage.RunStore
	metrics *metrics.Registry
	emitter EventEmitter
	logger  *log.Logger
	running runningJobsGuard

	// watcher / cron lifecycle
	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewSyncService creates a SyncService writing to cfg.OutputFile and
// cfg.LogFile. store and reg may be nil.
func NewSyncService(
	cfg *config.Config,
	store *storage.RunStore,
	reg *metrics.Registry,
	logger *log.Logger,
) *SyncService {
	if logger == nil {
		logger = log.Default()
	}
	return &SyncService{
		cfg: cfg,
		engine: &etl.Engine{
			ErrorLog: &etl.FileErrorLog{Path: cfg.LogFile},
			Logger:   logger,
		},
		dest:    &etl.JSONFileWriter{Path: cfg.OutputFile},
		store:   store,
		metrics: reg,
		logger:  logger,
	}
}

// SetDestination replaces the output sink, e.g. with etl.DiscardWriter for dry runs.
func (s *SyncService) SetDestination(d etl.Destination) { s.dest = d }

// SetErrorLog replaces the rejected-product log.
func (s *SyncService) SetErrorLog(l etl.ErrorLog) { s.engine.ErrorLog = l }

// SetEmitter installs a run notification hook.
func (s *SyncService) SetEmitter(e EventEmitter) { s.emitter = e }

// ── Run ────────────────────────────────────────────────────

// RunOnce executes one manually triggered sync.
func (s *SyncService) RunOnce(ctx context.Context) (*etl.SyncResult, error) {
	return s.Run(ctx, "manual")
}

// Run executes the sync job synchronously. A fatal source error comes back
// unchanged; a failed write comes back wrapped in ErrSinkFailed with
// result.Status "sink_error".
func (s *SyncService) Run(ctx context.Context, trigger string) (*etl.SyncResult, error) {
	if !s.running.TryLock(syncJobKey) {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock(syncJobKey)

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	s.logger.Printf("sync: starting %s run", trigger)
	result, runErr := s.engine.RunSync(runCtx, s.cfg.Job())

	if runErr == nil {
		if err := s.dest.Save(runCtx, result.Accepted); err != nil {
			s.logger.Printf("sync: failed to save output: %v", err)
			runErr = fmt.Errorf("%w: %w", ErrSinkFailed, err)
			result.Status = "sink_error"
			result.Error = runErr.Error()
		} else {
			s.logger.Printf("sync: %d products synced, %d rejected, %d unmatched, %d skipped",
				len(result.Accepted), result.Rejected, result.Unmatched, result.Skipped)
		}
	}

	s.record(trigger, result)
	if s.emitter != nil {
		s.emitter.Emit(ctx, "sync:completed", result)
	}
	return result, runErr
}

// record stores the run summary and updates metrics. History failures are
// logged and never fail the run.
func (s *SyncService) record(trigger string, result *etl.SyncResult) {
	s.metrics.Observe(metrics.Run{
		Status:    result.Status,
		Accepted:  len(result.Accepted),
		Rejected:  result.Rejected,
		Unmatched: result.Unmatched,
		Skipped:   result.Skipped,
		Duration:  result.Duration,
		Finished:  result.FinishedAt,
	})

	if s.store == nil {
		return
	}
	runLog := &storage.RunLog{
		ID:         result.RunID,
		Trigger:    trigger,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Status:     result.Status,
		ERPRead:    result.ERPRead,
		RowsRead:   result.RowsRead,
		Accepted:   len(result.Accepted),
		Rejected:   result.Rejected,
		Unmatched:  result.Unmatched,
		Skipped:    result.Skipped,
		Error:      result.Error,
	}
	if err := s.store.CreateRunLog(runLog); err != nil {
		s.logger.Printf("sync: failed to record run %s: %v", result.RunID, err)
		return
	}
	if s.cfg.HistoryKeep > 0 {
		if n, err := s.store.PruneRunLogs(s.cfg.HistoryKeep); err != nil {
			s.logger.Printf("sync: failed to prune run history: %v", err)
		} else if n > 0 {
			s.logger.Printf("sync: pruned %d old run(s) from history", n)
		}
	}
}

// ListRunLogs returns the last limit runs, newest first.
func (s *SyncService) ListRunLogs(limit int) ([]storage.RunLog, error) {
	if s.store == nil {
		return nil, errors.New("run history is not configured")
	}
	return s.store.ListRunLogs(limit)
}

// ── Watchers (cron + file watch) ──────────────────────────

// Start installs the cron schedule and the source file watcher described
// by the config. It tears down anything a previous Start installed.
func (s *SyncService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()

	if s.cfg.Schedule != "" {
		c := cron.New()
		_, err := c.AddFunc(s.cfg.Schedule, func() {
			s.trigger(ctx, "schedule")
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", s.cfg.Schedule, err)
		}
		c.Start()
		s.cronSched = c
		s.logger.Printf("sync cron: scheduled %q", s.cfg.Schedule)
	}

	if !s.cfg.Watch {
		return nil
	}
	if err := s.startWatcherLocked(ctx); err != nil {
		s.stopWatchersLocked()
		return err
	}
	return nil
}

func (s *SyncService) startWatcherLocked(ctx context.Context) error {
	files := s.cfg.SourceFiles()
	if len(files) == 0 {
		return errors.New("watch: no source files to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	s.watcher = watcher

	watched := make(map[string]bool)
	watchedDirs := make(map[string]bool)
	for _, f := range files {
		absPath, err := filepath.Abs(f)
		if err != nil {
			s.logger.Printf("sync watcher: bad path %q: %v", f, err)
			continue
		}
		watched[absPath] = true

		// Watch the directory so atomic replaces are seen too.
		dir := filepath.Dir(absPath)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch: add %q: %w", dir, err)
			}
			watchedDirs[dir] = true
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

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
				timer = time.AfterFunc(500*time.Millisecond, func() {
					s.logger.Printf("sync watcher: file changed %q", absPath)
					s.trigger(watchCtx, "watch")
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Printf("sync watcher: error: %v", err)
			}
		}
	}()

	s.logger.Printf("sync watcher: watching %d file(s)", len(watched))
	return nil
}

// trigger runs the job from a background trigger and only logs the outcome.
func (s *SyncService) trigger(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Run(ctx, name); err != nil {
		s.logger.Printf("sync %s: run failed: %v", name, err)
	}
}

// WaitRunning blocks until the current run finishes or ctx is cancelled.
// Used for graceful shutdown.
func (s *SyncService) WaitRunning(ctx context.Context) {
	s.running.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers. Safe to call repeatedly.
func (s *SyncService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()
}

func (s *SyncService) stopWatchersLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
