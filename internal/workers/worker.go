// Package workers runs the task execution pool: N goroutines polling the
// task store, claiming the oldest pending task, and dispatching it to the
// handler registered for its kind.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/control"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/metrics"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

// Handler executes one claimed task. Handlers own their terminal
// transitions; a returned error is a safety net that marks the task failed
// if the handler did not.
type Handler func(ctx context.Context, t *task.Task) error

// Config tunes the worker pool.
type Config struct {
	WorkerID   string
	NumWorkers int
	PollDelay  time.Duration
}

// Worker is the polling task execution pool.
type Worker struct {
	store    task.Store
	signals  control.Channel
	config   Config
	handlers map[task.Kind]Handler
	logger   zerolog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a worker pool on the given store. Control signals pending
// against a task are dropped once it reaches a terminal stage; a handler
// that never reads its signal (not every kind does) must not leave it
// behind for an unrelated future run.
func New(store task.Store, signals control.Channel, config Config, logger zerolog.Logger) *Worker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.PollDelay <= 0 {
		config.PollDelay = time.Second
	}
	return &Worker{
		store:    store,
		signals:  signals,
		config:   config,
		handlers: make(map[task.Kind]Handler),
		logger:   logger.With().Str("component", "worker").Str("worker_id", config.WorkerID).Logger(),
		stopChan: make(chan struct{}),
	}
}

// RegisterHandler binds a task kind to its handler. Must be called before
// Start; the handler map is read-only afterwards.
func (w *Worker) RegisterHandler(kind task.Kind, h Handler) {
	w.handlers[kind] = h
}

// Start launches the worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	kinds := w.kinds()
	w.logger.Info().
		Int("num_workers", w.config.NumWorkers).
		Interface("kinds", kinds).
		Msg("starting workers")

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// Stop signals all workers and waits for in-flight tasks to finish.
func (w *Worker) Stop() {
	close(w.stopChan)
	w.logger.Info().Msg("worker pool stopping, waiting for in-flight tasks")
	w.wg.Wait()
	w.logger.Info().Msg("worker pool stopped")
}

func (w *Worker) kinds() []task.Kind {
	kinds := make([]task.Kind, 0, len(w.handlers))
	for k := range w.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerID := fmt.Sprintf("%s-%d", w.config.WorkerID, workerNum)
	logger := w.logger.With().Str("worker_id", workerID).Logger()

	ticker := time.NewTicker(w.config.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker shutting down")
			return
		case <-w.stopChan:
			logger.Info().Msg("worker received stop signal")
			return
		case <-ticker.C:
			// Drain the queue before going back to sleep.
			for w.processOne(ctx, workerID, logger) {
				select {
				case <-ctx.Done():
					return
				case <-w.stopChan:
					return
				default:
				}
			}
		}
	}
}

// processOne claims and executes at most one task, reporting whether a task
// was claimed.
func (w *Worker) processOne(ctx context.Context, workerID string, logger zerolog.Logger) bool {
	t, err := w.store.ClaimNext(ctx, w.kinds(), workerID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim task")
		return false
	}
	if t == nil {
		return false
	}

	logger.Info().
		Str("task_id", t.ID).
		Str("kind", string(t.Kind)).
		Int64("shop_id", t.ShopID).
		Msg("processing task")

	handler, ok := w.handlers[t.Kind]
	if !ok {
		// Unreachable as long as kinds() and handlers stay in sync.
		w.markFailed(ctx, t.ID, "no handler registered for kind "+string(t.Kind), logger)
		return true
	}

	metrics.TasksStarted.WithLabelValues(string(t.Kind)).Inc()
	start := time.Now()

	if err := handler(ctx, t); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("task failed")
		w.markFailed(ctx, t.ID, err.Error(), logger)
	} else {
		logger.Info().Str("task_id", t.ID).Msg("task finished")
	}

	metrics.TaskDuration.WithLabelValues(string(t.Kind)).Observe(time.Since(start).Seconds())
	if final, err := w.store.Get(ctx, t.ID); err == nil && final.Stage.Terminal() {
		metrics.TasksFinished.WithLabelValues(string(t.Kind), string(final.Stage)).Inc()
		if w.signals != nil {
			if err := w.signals.Clear(context.WithoutCancel(ctx), t.ID); err != nil {
				logger.Warn().Err(err).Str("task_id", t.ID).Msg("failed to clear task signal")
			}
		}
	}
	return true
}

// markFailed persists a failure unless the handler already moved the task
// to a terminal stage.
func (w *Worker) markFailed(ctx context.Context, id, msg string, logger zerolog.Logger) {
	err := w.store.MarkFailed(context.WithoutCancel(ctx), id, msg)
	if err != nil && !errors.Is(err, task.ErrTerminalStage) {
		logger.Error().Err(err).Str("task_id", id).Msg("failed to mark task failed")
	}
}
