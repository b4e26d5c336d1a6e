package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tesserahq/toolgate/internal/storage"
)

// SchedulerConfig configures the periodic inventory refresh.
type SchedulerConfig struct {
	// Interval between full refresh sweeps. Defaults to 5 minutes.
	Interval time.Duration

	// Concurrency bounds how many sources refresh at once. Defaults to 4.
	Concurrency int

	// RunOnStart triggers a sweep immediately instead of waiting for
	// the first tick.
	RunOnStart bool

	// Logger for scheduler events.
	Logger *slog.Logger
}

// Scheduler sweeps enabled sources through the reconciler on a cron
// schedule. Sweeps never force: unchanged inventories are skipped by
// hash.
type Scheduler struct {
	reconciler  *Reconciler
	sourceStore storage.SourceStore
	config      SchedulerConfig
	logger      *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler around an existing reconciler.
func NewScheduler(reconciler *Reconciler, sourceStore storage.SourceStore, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "inventory-scheduler")
	}
	return &Scheduler{
		reconciler:  reconciler,
		sourceStore: sourceStore,
		config:      config,
		logger:      logger,
	}
}

// Start begins the sweep schedule. It returns immediately; sweeps run
// on the cron goroutine until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.config.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh sweep: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("inventory scheduler started",
		"interval", s.config.Interval,
		"concurrency", s.config.Concurrency)

	if s.config.RunOnStart {
		go s.sweep(ctx)
	}
	return nil
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	done := c.Stop().Done()
	select {
	case <-done:
		s.logger.Info("inventory scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAll sweeps every enabled source once, outside the schedule.
// Used by the admin refresh command when no source id is given.
func (s *Scheduler) RefreshAll(ctx context.Context) error {
	return s.refreshEnabled(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) {
	if err := s.refreshEnabled(ctx); err != nil {
		s.logger.Error("refresh sweep failed", "error", err)
	}
}

func (s *Scheduler) refreshEnabled(ctx context.Context) error {
	srcs, err := s.sourceStore.List(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, src := range srcs {
		if !src.IsEnabled {
			continue
		}
		id := src.ID
		g.Go(func() error {
			// A failing source must not abort the sweep; the
			// reconciler already recorded its failure streak.
			if _, err := s.reconciler.Refresh(ctx, id, false); err != nil {
				s.logger.Warn("scheduled refresh failed", "source_id", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
