// Package scheduler keeps deployment history healthy: it recovers
// deployments a crash left running and periodically prunes old records.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/pushdeploy/internal/config"
	"github.com/mattjoyce/pushdeploy/internal/events"
)

// Scheduler runs history maintenance on a fixed interval.
type Scheduler struct {
	history   HistoryService
	events    events.Publisher
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a Scheduler. hub may be nil.
func New(cfg *config.Config, history HistoryService, hub events.Publisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		history:   history,
		events:    hub,
		retention: cfg.State.Retention,
		interval:  cfg.State.PruneInterval,
		logger:    logger.With("component", "scheduler"),
		stopCh:    make(chan struct{}),
	}
}

// Start performs crash recovery, then prunes immediately and on every
// interval until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "retention", s.retention, "interval", s.interval)

	if err := s.recoverInterrupted(ctx); err != nil {
		return fmt.Errorf("scheduler crash recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	// Initial tick immediately
	s.tick(ctx)

	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick prunes history older than the retention window.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("Scheduler tick")

	n, err := s.history.Prune(ctx, s.retention)
	if err != nil {
		s.logger.Error("Failed to prune deployment history", "error", err)
		return
	}
	if n == 0 {
		return
	}
	s.logger.Info("Pruned deployment history", "count", n, "retention", s.retention)
	if s.events != nil {
		s.events.Publish(events.HistoryPruned, map[string]any{
			"count":     n,
			"retention": s.retention.String(),
		})
	}
}

// recoverInterrupted fails deployments that were running when the previous
// process died. They are not retried.
func (s *Scheduler) recoverInterrupted(ctx context.Context) error {
	n, err := s.history.MarkInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark interrupted deployments: %w", err)
	}
	if n == 0 {
		s.logger.Info("No interrupted deployments found")
		return nil
	}
	s.logger.Warn("Marked interrupted deployments as failed", "count", n)
	return nil
}
