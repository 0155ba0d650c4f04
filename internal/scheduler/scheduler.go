// Package scheduler periodically scans for due synchronization work and
// enqueues pending tasks for the worker pool, and sweeps tasks stranded by
// crashed workers back into a runnable state.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/repos"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

// RuleScanner finds sync rules whose next run is due.
type RuleScanner interface {
	Due(ctx context.Context, now time.Time) ([]*repos.SyncRule, error)
}

// ShopScanner finds shops due for auto-sync and pushes their schedule
// forward once a task is enqueued.
type ShopScanner interface {
	Get(ctx context.Context, id int64) (*repos.Shop, error)
	DueAutoSync(ctx context.Context, now time.Time) ([]int64, error)
	ScheduleNextAutoSync(ctx context.Context, shopID int64, next time.Time) error
}

// Scheduler drives the periodic due-work scan.
type Scheduler struct {
	Tasks task.Store
	Rules RuleScanner
	Shops ShopScanner

	// Interval is the scan period. StaleTaskAge is how long a running task
	// may go without a progress write before the sweep considers its worker
	// dead.
	Interval     time.Duration
	StaleTaskAge time.Duration

	Logger zerolog.Logger

	stopChan chan struct{}
}

// New creates a scheduler.
func New(tasks task.Store, rules RuleScanner, shops ShopScanner, interval, staleTaskAge time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		Tasks:        tasks,
		Rules:        rules,
		Shops:        shops,
		Interval:     interval,
		StaleTaskAge: staleTaskAge,
		Logger:       logger.With().Str("component", "scheduler").Logger(),
		stopChan:     make(chan struct{}),
	}
}

// Start recovers interrupted tasks once, then scans on every tick until the
// context is cancelled or Stop is called. The startup recovery also sweeps
// orphaned paused tasks; the periodic sweep must not, because a worker
// parked on a pause writes nothing and would be mistaken for a dead one.
func (s *Scheduler) Start(ctx context.Context) {
	s.Logger.Info().Dur("interval", s.Interval).Msg("starting scheduler")

	if err := s.recover(ctx, true); err != nil {
		s.Logger.Error().Err(err).Msg("startup task recovery failed")
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info().Msg("scheduler stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.Logger.Info().Msg("scheduler stopping (stop signal)")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Sweep runs one full scan: recover stranded tasks, enqueue due rule runs,
// enqueue due shop auto-syncs. Scan errors are logged, never fatal.
func (s *Scheduler) Sweep(ctx context.Context) {
	if err := s.recover(ctx, false); err != nil {
		s.Logger.Error().Err(err).Msg("task recovery failed")
	}
	if err := s.enqueueDueRules(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("rule scan failed")
	}
	if err := s.enqueueDueShops(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("shop scan failed")
	}
}

// recover returns tasks stranded in a running stage to pending (or failed,
// for tasks interrupted mid-push).
func (s *Scheduler) recover(ctx context.Context, includePaused bool) error {
	n, err := s.Tasks.RecoverInterrupted(ctx, s.StaleTaskAge, includePaused)
	if err != nil {
		return err
	}
	if n > 0 {
		s.Logger.Info().Int("tasks", n).Msg("recovered interrupted tasks")
	}
	return nil
}

func (s *Scheduler) enqueueDueRules(ctx context.Context) error {
	due, err := s.Rules.Due(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, rule := range due {
		t := task.New(task.KindPipelineSync, rule.ShopID)
		ruleID := rule.ID
		t.RuleID = &ruleID

		err := s.Tasks.Create(ctx, t)
		if errors.Is(err, task.ErrAlreadyRunning) {
			continue
		}
		if err != nil {
			s.Logger.Error().Err(err).Int64("rule_id", rule.ID).Msg("failed to enqueue pipeline task")
			continue
		}
		s.Logger.Info().
			Str("task_id", t.ID).
			Int64("rule_id", rule.ID).
			Str("channel", rule.ChannelName).
			Msg("enqueued pipeline task")
	}
	return nil
}

func (s *Scheduler) enqueueDueShops(ctx context.Context) error {
	now := time.Now()
	due, err := s.Shops.DueAutoSync(ctx, now)
	if err != nil {
		return err
	}

	for _, shopID := range due {
		t := task.New(task.KindAutoSync, shopID)
		err := s.Tasks.Create(ctx, t)
		if errors.Is(err, task.ErrAlreadyRunning) {
			continue
		}
		if err != nil {
			s.Logger.Error().Err(err).Int64("shop_id", shopID).Msg("failed to enqueue auto sync task")
			continue
		}

		shop, err := s.Shops.Get(ctx, shopID)
		if err != nil {
			s.Logger.Error().Err(err).Int64("shop_id", shopID).Msg("failed to load shop for rescheduling")
			continue
		}
		if err := s.Shops.ScheduleNextAutoSync(ctx, shopID, now.Add(shop.AutoSyncInterval)); err != nil {
			s.Logger.Error().Err(err).Int64("shop_id", shopID).Msg("failed to schedule next auto sync")
		}

		s.Logger.Info().
			Str("task_id", t.ID).
			Int64("shop_id", shopID).
			Msg("enqueued auto sync task")
	}
	return nil
}
