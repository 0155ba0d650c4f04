// Package syncer implements the resumable catalog sync engine: it pulls the
// full remote catalog of a shop page by page, writes each item into local
// storage, and checkpoints after every item so a process restart, pause, or
// cancel never loses or double-counts work.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/control"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/gateway"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/metrics"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/ratelimit"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/repos"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

// defaultPollInterval is how often a paused task re-checks its signal.
const defaultPollInterval = 250 * time.Millisecond

// ProductWriter is the slice of the product repository the engine writes
// through.
type ProductWriter interface {
	ExistsBySKU(ctx context.Context, shopID int64, sku string) (bool, error)
	Insert(ctx context.Context, p *repos.Product) error
	Update(ctx context.Context, p *repos.Product) error
}

// Runner executes batch_sync tasks. One Runner is shared by all workers;
// per-task state lives in the task record itself.
type Runner struct {
	Tasks    task.Store
	Signals  control.Channel
	Products ProductWriter
	Limiter  *ratelimit.Limiter

	// PollInterval bounds how long a paused task waits between signal
	// checks. Zero means defaultPollInterval.
	PollInterval time.Duration

	Logger zerolog.Logger
}

// Run drives one batch_sync task to a terminal stage or to paused-then-
// resumed continuation. It resumes from the task's persisted checkpoint:
// the progress counter is the pagination cursor and the checkpoint's SKU
// lists are the in-run duplicate-suppression set.
//
// Run returns nil when the task ends in completed or cancelled; a non-nil
// error means the task was marked failed (checkpoint retained for a later
// resume).
func (r *Runner) Run(ctx context.Context, t *task.Task, src gateway.ChannelGateway) error {
	logger := r.Logger.With().
		Str("task_id", t.ID).
		Int64("shop_id", t.ShopID).
		Str("source_type", src.SourceType()).
		Logger()

	cp := t.Checkpoint
	if cp.Version == 0 {
		cp = task.NewCheckpoint()
	}
	seen := cp.Seen()
	progress := t.Progress
	total := t.Total

	if t.Stage == task.StagePending || t.Stage == task.StagePaused {
		if err := r.Tasks.SetStage(ctx, t.ID, task.StageRunning); err != nil {
			return err
		}
	}

	logger.Info().
		Int("progress", progress).
		Int("seen", len(seen)).
		Msg("batch sync starting")

	first := true
	for {
		if !first {
			if err := r.Limiter.Wait(ctx, src.SourceType()); err != nil {
				return r.fail(ctx, t.ID, logger, err)
			}
		}
		first = false

		page, err := src.FetchPage(ctx, progress)
		if err != nil {
			return r.fail(ctx, t.ID, logger, fmt.Errorf("fetch page at offset %d: %w", progress, err))
		}
		if page.Total > total {
			total = page.Total
		}

		// Batch-level poll, then again per item below, so cancel latency
		// is bounded by one item rather than one page.
		done, err := r.observeSignal(ctx, t.ID, progress, total, cp, logger)
		if err != nil || done {
			return err
		}

		for _, item := range page.Items {
			done, err := r.observeSignal(ctx, t.ID, progress, total, cp, logger)
			if err != nil || done {
				return err
			}

			if _, dup := seen[item.SKU]; dup {
				cp.SkippedSkus = append(cp.SkippedSkus, item.SKU)
				metrics.ItemsSynced.WithLabelValues("skipped").Inc()
			} else {
				created, err := r.writeItem(ctx, t.ShopID, item)
				if err != nil {
					return r.fail(ctx, t.ID, logger, fmt.Errorf("write sku %s: %w", item.SKU, err))
				}
				if created {
					cp.CreatedSkus = append(cp.CreatedSkus, item.SKU)
					metrics.ItemsSynced.WithLabelValues("created").Inc()
				} else {
					cp.UpdatedSkus = append(cp.UpdatedSkus, item.SKU)
					metrics.ItemsSynced.WithLabelValues("updated").Inc()
				}
				seen[item.SKU] = struct{}{}
			}
			progress++

			if err := r.Tasks.UpdateProgress(ctx, t.ID, progress, total, cp); err != nil {
				return r.fail(ctx, t.ID, logger, fmt.Errorf("persist progress: %w", err))
			}
		}

		if page.IsLast {
			break
		}
	}

	if err := r.Tasks.Finish(context.WithoutCancel(ctx), t.ID, task.StageCompleted); err != nil {
		return err
	}
	logger.Info().
		Int("created", cp.Created()).
		Int("updated", cp.Updated()).
		Int("skipped", cp.Skipped()).
		Msg("batch sync completed")
	return nil
}

// writeItem persists one fetched item, returning true if a new record was
// created and false if an existing one was updated.
func (r *Runner) writeItem(ctx context.Context, shopID int64, item gateway.RawProduct) (bool, error) {
	exists, err := r.Products.ExistsBySKU(ctx, shopID, item.SKU)
	if err != nil {
		return false, err
	}
	p := &repos.Product{
		ShopID:        shopID,
		SKU:           item.SKU,
		Title:         item.Title,
		Currency:      item.Currency,
		OriginalPrice: item.Price,
		OriginalStock: item.Stock,
		Extra:         item.Extra,
	}
	if exists {
		return false, r.Products.Update(ctx, p)
	}
	return true, r.Products.Insert(ctx, p)
}

// observeSignal polls the control channel once and acts on what it finds.
// It returns done=true when the task reached a terminal stage and the
// caller should stop. A pause parks here until resumed or cancelled.
func (r *Runner) observeSignal(ctx context.Context, id string, progress, total int, cp task.Checkpoint, logger zerolog.Logger) (bool, error) {
	sig, err := r.Signals.Get(ctx, id)
	if err != nil {
		return false, r.fail(ctx, id, logger, fmt.Errorf("read control signal: %w", err))
	}

	switch sig {
	case control.SignalNone:
		return false, nil

	case control.SignalCancel:
		return true, r.cancel(ctx, id, progress, total, cp, logger)

	case control.SignalPause:
		if err := r.Tasks.UpdateProgress(ctx, id, progress, total, cp); err != nil {
			return false, r.fail(ctx, id, logger, err)
		}
		if err := r.Tasks.SetStage(ctx, id, task.StagePaused); err != nil {
			return false, r.fail(ctx, id, logger, err)
		}
		logger.Info().Int("progress", progress).Msg("task paused")
		return r.park(ctx, id, progress, total, cp, logger)
	}
	return false, nil
}

// park blocks while the pause signal stands, still observing cancel and
// context shutdown. Resume is a cleared signal.
func (r *Runner) park(ctx context.Context, id string, progress, total int, cp task.Checkpoint, logger zerolog.Logger) (bool, error) {
	interval := r.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown while paused: the task stays paused in the store
			// and a restarted worker resumes it from its checkpoint.
			return true, ctx.Err()
		case <-ticker.C:
		}

		sig, err := r.Signals.Get(ctx, id)
		if err != nil {
			return false, r.fail(ctx, id, logger, fmt.Errorf("read control signal: %w", err))
		}
		switch sig {
		case control.SignalCancel:
			return true, r.cancel(ctx, id, progress, total, cp, logger)
		case control.SignalNone:
			if err := r.Tasks.SetStage(ctx, id, task.StageRunning); err != nil {
				return false, r.fail(ctx, id, logger, err)
			}
			logger.Info().Msg("task resumed")
			return false, nil
		}
	}
}

// cancel flushes the current counts and moves the task to cancelled.
func (r *Runner) cancel(ctx context.Context, id string, progress, total int, cp task.Checkpoint, logger zerolog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	if err := r.Tasks.UpdateProgress(ctx, id, progress, total, cp); err != nil {
		return r.fail(ctx, id, logger, err)
	}
	if err := r.Tasks.Finish(ctx, id, task.StageCancelled); err != nil {
		return err
	}
	if err := r.Signals.Clear(ctx, id); err != nil {
		logger.Warn().Err(err).Msg("failed to clear control signal")
	}
	logger.Info().Int("progress", progress).Msg("task cancelled")
	return nil
}

// fail marks the task failed without touching its checkpoint, so a fresh
// trigger resumes from the last good cursor instead of restarting.
func (r *Runner) fail(ctx context.Context, id string, logger zerolog.Logger, cause error) error {
	logger.Error().Err(cause).Msg("batch sync failed")
	if err := r.Tasks.MarkFailed(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to persist failure")
	}
	return cause
}
