// Package service wires the backing store, the search index, the change
// notifier and the index updater into one long-running process, and exposes
// the administrative entry points.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roach88/vtkindex/internal/config"
	"github.com/roach88/vtkindex/internal/consistency"
	"github.com/roach88/vtkindex/internal/index"
	"github.com/roach88/vtkindex/internal/indexer"
	"github.com/roach88/vtkindex/internal/metrics"
	"github.com/roach88/vtkindex/internal/notify"
	"github.com/roach88/vtkindex/internal/store"
)

// ErrCheckRunning is returned when a consistency check is requested while
// another one is still running.
var ErrCheckRunning = errors.New("consistency check already running")

// shutdownTimeout bounds the admin server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// CheckResult is the outcome of one administrative check run.
type CheckResult struct {
	// Report is nil when the check aborted on storage corruption.
	Report *consistency.Report       `json:"report,omitempty"`
	Repair *consistency.RepairReport `json:"repair,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

// Service owns every long-lived component.
type Service struct {
	cfg      config.Config
	log      *slog.Logger
	store    *store.Store
	index    *index.Index
	notifier *notify.Notifier
	updater  *indexer.Updater
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	checkMu sync.Mutex // held while a check runs
	// indexMu serialises change polls against consistency checks. Both
	// read the index and then write it, so neither may run inside the other.
	indexMu sync.Mutex

	// afterScan, when set, runs between a check's scan and its repair.
	// Tests use it to interleave other work.
	afterScan func()

	mu   sync.RWMutex // protects last
	last *CheckResult
}

// Open opens the store and index named by cfg and assembles the service.
// The updater starts enabled if cfg says so.
func Open(cfg config.Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	st, err := store.Open(cfg.Database, store.WithChangeBatchLimit(cfg.Notifier.BatchLimit))
	if err != nil {
		return nil, fmt.Errorf("open backing store: %w", err)
	}
	idx, err := index.Open(cfg.Index.Path,
		index.WithLogger(log.With("component", "index")),
		index.WithLockTimeout(cfg.Index.LockTimeout))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewIndexCollector(idx, st),
	)
	m := metrics.New(registry)

	s := &Service{
		cfg:      cfg,
		log:      log,
		store:    st,
		index:    idx,
		metrics:  m,
		registry: registry,
	}
	s.notifier = notify.New(st,
		notify.WithLogger(log.With("component", "notifier")),
		notify.WithMetrics(m),
		notify.WithPollGuard(&s.indexMu))
	s.updater = indexer.New(idx, st,
		indexer.WithLogger(log.With("component", "updater")),
		indexer.WithMetrics(m))
	if cfg.Updater.Enabled {
		s.updater.Enable(s.notifier)
	}
	return s, nil
}

// Close closes the index and the store.
func (s *Service) Close() error {
	return errors.Join(s.index.Close(), s.store.Close())
}

func (s *Service) Store() *store.Store { return s.store }

func (s *Service) Index() *index.Index { return s.index }

func (s *Service) Notifier() *notify.Notifier { return s.notifier }

// Run polls the change log, runs scheduled checks and serves the admin API
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.notifier.Run(ctx, s.cfg.Notifier.PollInterval)
	}()

	if s.cfg.Consistency.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runScheduledChecks(ctx)
		}()
	}

	if s.cfg.Admin.Listen != "" {
		server := &http.Server{
			Addr:              s.cfg.Admin.Listen,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.log.Info("admin server listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("admin server: %w", err)
				cancel()
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if err := server.Shutdown(shutdownCtx); err != nil {
				s.log.Error("admin server shutdown", "error", err)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (s *Service) runScheduledChecks(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Consistency.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.RunCheck(ctx, s.cfg.Consistency.AutoRepair, s.cfg.Consistency.AbortOnFailure)
			switch {
			case errors.Is(err, ErrCheckRunning):
				s.log.Info("scheduled check skipped, another check is running")
			case err != nil:
				s.log.Error("scheduled check failed", "error", err)
			}
		}
	}
}

// RunCheck runs a consistency check and, if repair is set, repairs what it
// found. Only one check runs at a time, and no change poll runs between the
// start of the scan and the end of the repair.
func (s *Service) RunCheck(ctx context.Context, repair, abortOnFailure bool) (*CheckResult, error) {
	if !s.checkMu.TryLock() {
		return nil, ErrCheckRunning
	}
	defer s.checkMu.Unlock()

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	check, err := consistency.Run(ctx, s.index, s.store,
		consistency.WithLogger(s.log.With("component", "consistency")),
		consistency.WithMetrics(s.metrics))

	result := &CheckResult{}
	if check != nil {
		report := check.Report()
		result.Report = &report
	}
	if err != nil {
		result.Error = err.Error()
		s.setLast(result)
		return result, err
	}

	if s.afterScan != nil {
		s.afterScan()
	}

	if repair && len(check.Inconsistencies()) > 0 {
		rep, err := check.Repair(ctx, abortOnFailure)
		result.Repair = &rep
		if err != nil {
			result.Error = err.Error()
			s.setLast(result)
			return result, err
		}
	}

	s.setLast(result)
	return result, nil
}

func (s *Service) setLast(r *CheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
}

// LastCheck returns the most recent check result, if any.
func (s *Service) LastCheck() (*CheckResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.last != nil
}

// EnableUpdater resumes incremental index updates.
func (s *Service) EnableUpdater() {
	s.updater.Enable(s.notifier)
}

// DisableUpdater stops incremental index updates. Changes made while
// disabled are only picked up by a consistency check.
func (s *Service) DisableUpdater() {
	s.updater.Disable()
}

func (s *Service) UpdaterEnabled() bool {
	return s.updater.Enabled()
}

// UpdaterLastError returns the error of the updater's most recent batch.
func (s *Service) UpdaterLastError() error {
	return s.updater.LastError()
}
