package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/etl"
	_ "catalogsync/internal/etl/sources"
	"catalogsync/internal/metrics"
	"catalogsync/internal/service"
	"catalogsync/internal/storage"
)

// Flags holds the CLI flags.
type Flags struct {
	ConfigPath  string
	DryRun      bool
	ListSources bool
	History     int
}

func main() {
	flags := readFlags()
	if err := run(flags); err != nil {
		log.Printf("catalogsync failed: %v", err)
		os.Exit(1)
	}
}

func readFlags() Flags {
	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "", "YAML config file (built-in defaults when empty)")
	flag.BoolVar(&f.DryRun, "dry-run", false, "run the sync once without writing any file; rejected products go to stdout")
	flag.BoolVar(&f.ListSources, "list-sources", false, "list registered source types and exit")
	flag.IntVar(&f.History, "history", 0, "print the last N recorded runs and exit")
	flag.Parse()
	return f
}

func run(flags Flags) error {
	if flags.ListSources {
		return printSources(os.Stdout)
	}

	cfg := config.Default()
	if flags.ConfigPath != "" {
		loaded, err := config.LoadFile(flags.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	var store *storage.RunStore
	if cfg.HistoryDB != "" {
		db, err := storage.New(cfg.HistoryDB)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer db.Close()
		store = storage.NewRunStore(db)
	}

	reg := metrics.NewRegistry()
	svc := service.NewSyncService(cfg, store, reg, logger)
	if flags.History > 0 {
		return printHistory(os.Stdout, svc, flags.History)
	}
	if store != nil {
		if last, err := store.LastRunLog(); err == nil {
			logger.Printf("sync: previous run %s at %s: %s", last.ID, last.StartedAt.Format(time.RFC3339), last.Status)
		} else if !errors.Is(err, storage.ErrNoRuns) {
			logger.Printf("sync: failed to read run history: %v", err)
		}
	}

	svc.SetEmitter(service.LogEmitter{Logger: logger})
	var dryLog *etl.MemoryErrorLog
	if flags.DryRun {
		dryLog = &etl.MemoryErrorLog{}
		svc.SetDestination(etl.DiscardWriter{})
		svc.SetErrorLog(dryLog)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, runErr := svc.RunOnce(ctx)
	if dryLog != nil {
		for _, block := range dryLog.Blocks {
			fmt.Fprint(os.Stdout, block)
		}
		return runErr
	}
	if cfg.Schedule == "" && !cfg.Watch {
		return runErr
	}
	if runErr != nil {
		logger.Printf("sync: initial run failed: %v", runErr)
	}

	return serve(ctx, cfg, svc, reg, logger)
}

// serve keeps the triggers running until the context is cancelled.
func serve(ctx context.Context, cfg *config.Config, svc *service.SyncService, reg *metrics.Registry, logger *log.Logger) error {
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			logger.Printf("metrics: listening on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics: server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Printf("catalogsync: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.Stop()
	svc.WaitRunning(shutdownCtx)
	if srv != nil {
		srv.Shutdown(shutdownCtx)
	}
	return nil
}

// newLogger writes to stderr and appends to the sync log file.
func newLogger(path string) (*log.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := log.New(io.MultiWriter(os.Stderr, f), "", log.LstdFlags)
	return logger, func() { f.Close() }, nil
}

func printSources(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(etl.ListSources())
}

func printHistory(w io.Writer, svc *service.SyncService, limit int) error {
	logs, err := svc.ListRunLogs(limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	for _, l := range logs {
		fmt.Fprintf(w, "%s  %-10s %-8s accepted=%d rejected=%d unmatched=%d skipped=%d %s\n",
			l.StartedAt.Format(time.RFC3339), l.Status, l.Trigger,
			l.Accepted, l.Rejected, l.Unmatched, l.Skipped, l.Error)
	}
	return nil
}
