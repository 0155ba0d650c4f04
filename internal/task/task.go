// Package task defines the durable record of one synchronization run and
// the stores that persist it. A task's stage is its state machine position;
// its checkpoint is the resume cursor that survives process restarts.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/pkg/cuid2"
)

// Kind discriminates the three task types.
type Kind string

const (
	// KindBatchSync synchronizes the full remote catalog of a shop into
	// local storage with resumable pagination.
	KindBatchSync Kind = "batch_sync"
	// KindAutoSync runs the three-stage fetch/update/push orchestration
	// for one shop.
	KindAutoSync Kind = "auto_sync"
	// KindPipelineSync runs the rule-driven fetch/transform/push pipeline.
	KindPipelineSync Kind = "pipeline_sync"
)

// Stage is the task state machine position. Pipeline-style tasks move
// through pending/running/paused; auto-sync tasks additionally expose
// which of their three stages is active.
type Stage string

const (
	StagePending Stage = "pending"
	StageRunning Stage = "running"
	StagePaused  Stage = "paused"

	// Auto-sync sub-stages, all "running" for state machine purposes.
	StageFetchChannel Stage = "fetch_channel"
	StageUpdateLocal  Stage = "update_local"
	StagePushPlatform Stage = "push_platform"

	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
	StageCancelled Stage = "cancelled"
)

// Terminal reports whether the stage is final. Once a task reaches a
// terminal stage it never transitions again.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// active reports whether the stage counts as "running" for transition rules.
func (s Stage) active() bool {
	switch s {
	case StageRunning, StageFetchChannel, StageUpdateLocal, StagePushPlatform:
		return true
	}
	return false
}

// CanTransition reports whether moving from one stage to another is legal:
// nothing leaves a terminal stage, paused is only reachable from a running
// stage, and a paused task may only resume or be cancelled.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StagePending:
		return to.active() || to == StageCancelled || to == StageFailed
	case StagePaused:
		return to.active() || to == StageCancelled
	default: // running stages
		return to != StagePending
	}
}

// CheckpointVersion is the current checkpoint schema version.
const CheckpointVersion = 1

// Checkpoint is the structured resume cursor for one run: the ordered SKU
// lists double as the in-run duplicate-suppression set and as progress
// detail for status reporting. Persisted as a single atomic write together
// with the progress counter.
type Checkpoint struct {
	Version     int      `json:"version"`
	CreatedSkus []string `json:"createdSkus"`
	UpdatedSkus []string `json:"updatedSkus"`
	SkippedSkus []string `json:"skippedSkus"`
}

// NewCheckpoint returns an empty checkpoint at the current schema version.
func NewCheckpoint() Checkpoint {
	return Checkpoint{Version: CheckpointVersion}
}

// Seen returns the set of SKUs already handled in this run.
func (c Checkpoint) Seen() map[string]struct{} {
	seen := make(map[string]struct{}, len(c.CreatedSkus)+len(c.UpdatedSkus)+len(c.SkippedSkus))
	for _, lists := range [][]string{c.CreatedSkus, c.UpdatedSkus, c.SkippedSkus} {
		for _, sku := range lists {
			seen[sku] = struct{}{}
		}
	}
	return seen
}

// Created returns the number of records created in this run.
func (c Checkpoint) Created() int { return len(c.CreatedSkus) }

// Updated returns the number of records updated in this run.
func (c Checkpoint) Updated() int { return len(c.UpdatedSkus) }

// Skipped returns the number of duplicate records suppressed in this run.
func (c Checkpoint) Skipped() int { return len(c.SkippedSkus) }

// SourceStatus is the per-upstream-channel completion state.
type SourceStatus string

const (
	SourceRunning   SourceStatus = "running"
	SourceCompleted SourceStatus = "completed"
	SourceFailed    SourceStatus = "failed"
)

// SourceStat tracks sub-progress for one upstream channel within a task.
type SourceStat struct {
	Status  SourceStatus `json:"status"`
	Fetched int          `json:"fetched"`
	Error   string       `json:"error,omitempty"`
}

// Task is one run of synchronization work.
type Task struct {
	ID           string
	Kind         Kind
	ShopID       int64
	RuleID       *int64
	Stage        Stage
	Progress     int
	Total        int
	Checkpoint   Checkpoint
	SourceStats  map[int64]*SourceStat
	WorkerID     *string
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New creates a pending task for the given shop.
func New(kind Kind, shopID int64) *Task {
	now := time.Now()
	return &Task{
		ID:          cuid2.New("task"),
		Kind:        kind,
		ShopID:      shopID,
		Stage:       StagePending,
		Checkpoint:  NewCheckpoint(),
		SourceStats: make(map[int64]*SourceStat),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SeedFromLastFailure copies the resume cursor of the scope's most recent
// run into t when that run failed, so a fresh trigger continues where the
// failure left off instead of restarting. Failed runs keep their checkpoint
// for exactly this purpose. A newer completed or cancelled run supersedes
// an older failure, and only batch syncs carry a resumable cursor; in both
// cases t is left untouched.
func SeedFromLastFailure(ctx context.Context, s Store, t *Task) error {
	if t.Kind != KindBatchSync {
		return nil
	}
	prior, err := s.List(ctx, Filter{ShopID: t.ShopID, Kind: t.Kind, Limit: 1})
	if err != nil {
		return err
	}
	if len(prior) == 0 || prior[0].Stage != StageFailed {
		return nil
	}
	t.Progress = prior[0].Progress
	t.Total = prior[0].Total
	t.Checkpoint = prior[0].Checkpoint
	return nil
}

// ScopeKey identifies the (shop, kind) slot: only one non-terminal task may
// exist per scope at a time.
func (t *Task) ScopeKey() string {
	return fmt.Sprintf("%d/%s", t.ShopID, t.Kind)
}
