package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageCompleted.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.True(t, StageCancelled.Terminal())

	assert.False(t, StagePending.Terminal())
	assert.False(t, StageRunning.Terminal())
	assert.False(t, StagePaused.Terminal())
	assert.False(t, StageFetchChannel.Terminal())
	assert.False(t, StagePushPlatform.Terminal())
}

func TestCanTransition(t *testing.T) {
	// Nothing leaves a terminal stage.
	for _, from := range []Stage{StageCompleted, StageFailed, StageCancelled} {
		for _, to := range []Stage{StagePending, StageRunning, StagePaused, StageCompleted} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	assert.True(t, CanTransition(StagePending, StageRunning))
	assert.True(t, CanTransition(StageRunning, StagePaused))
	assert.True(t, CanTransition(StageRunning, StageCancelled))
	assert.True(t, CanTransition(StageRunning, StageCompleted))
	assert.True(t, CanTransition(StageRunning, StageFailed))

	// From paused only resume or cancel.
	assert.True(t, CanTransition(StagePaused, StageRunning))
	assert.True(t, CanTransition(StagePaused, StageCancelled))
	assert.False(t, CanTransition(StagePaused, StageCompleted))
	assert.False(t, CanTransition(StagePaused, StageFailed))
	assert.False(t, CanTransition(StagePaused, StagePending))
}

func TestCheckpointSeen(t *testing.T) {
	cp := Checkpoint{
		Version:     CheckpointVersion,
		CreatedSkus: []string{"A", "B"},
		UpdatedSkus: []string{"C"},
		SkippedSkus: []string{"A"},
	}

	seen := cp.Seen()
	assert.Len(t, seen, 3)
	for _, sku := range []string{"A", "B", "C"} {
		_, ok := seen[sku]
		assert.True(t, ok, "expected %s in seen set", sku)
	}

	assert.Equal(t, 2, cp.Created())
	assert.Equal(t, 1, cp.Updated())
	assert.Equal(t, 1, cp.Skipped())
}

func TestMemoryStoreCreateEnforcesSingleNonTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := New(KindBatchSync, 7)
	require.NoError(t, store.Create(ctx, first))

	// Second task for the same (shop, kind) slot is rejected.
	err := store.Create(ctx, New(KindBatchSync, 7))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Different kind or shop is fine.
	assert.NoError(t, store.Create(ctx, New(KindAutoSync, 7)))
	assert.NoError(t, store.Create(ctx, New(KindBatchSync, 8)))

	// Once the first task is terminal, the slot frees up.
	require.NoError(t, store.Finish(ctx, first.ID, StageCompleted))
	assert.NoError(t, store.Create(ctx, New(KindBatchSync, 7)))
}

func TestMemoryStoreTerminalStageIsFinal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tk := New(KindBatchSync, 1)
	require.NoError(t, store.Create(ctx, tk))
	require.NoError(t, store.Finish(ctx, tk.ID, StageCancelled))

	assert.ErrorIs(t, store.SetStage(ctx, tk.ID, StageRunning), ErrTerminalStage)
	assert.ErrorIs(t, store.Finish(ctx, tk.ID, StageCompleted), ErrTerminalStage)
	assert.ErrorIs(t, store.MarkFailed(ctx, tk.ID, "boom"), ErrTerminalStage)
	assert.ErrorIs(t, store.UpdateProgress(ctx, tk.ID, 10, 10, NewCheckpoint()), ErrTerminalStage)

	got, err := store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StageCancelled, got.Stage)
}

func TestMemoryStoreClaimNext(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	older := New(KindBatchSync, 1)
	older.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, older))

	newer := New(KindBatchSync, 2)
	require.NoError(t, store.Create(ctx, newer))

	claimed, err := store.ClaimNext(ctx, []Kind{KindBatchSync}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.Equal(t, StageRunning, claimed.Stage)
	require.NotNil(t, claimed.WorkerID)
	assert.Equal(t, "worker-1", *claimed.WorkerID)
	assert.NotNil(t, claimed.StartedAt)

	// A second claim gets the other task, a third gets nothing.
	second, err := store.ClaimNext(ctx, []Kind{KindBatchSync}, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, newer.ID, second.ID)

	third, err := store.ClaimNext(ctx, []Kind{KindBatchSync}, "worker-3")
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestMemoryStoreClaimNextFiltersKinds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, New(KindAutoSync, 1)))

	claimed, err := store.ClaimNext(ctx, []Kind{KindBatchSync}, "w")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestMemoryStoreUpdateProgress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tk := New(KindBatchSync, 1)
	require.NoError(t, store.Create(ctx, tk))

	cp := NewCheckpoint()
	cp.CreatedSkus = []string{"A", "B"}
	require.NoError(t, store.UpdateProgress(ctx, tk.ID, 2, 10, cp))

	got, err := store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Progress)
	assert.Equal(t, 10, got.Total)
	assert.Equal(t, []string{"A", "B"}, got.Checkpoint.CreatedSkus)

	// Total never revises downward.
	require.NoError(t, store.UpdateProgress(ctx, tk.ID, 3, 5, cp))
	got, _ = store.Get(ctx, tk.ID)
	assert.Equal(t, 10, got.Total)
}

func TestMemoryStoreRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	running := New(KindBatchSync, 1)
	require.NoError(t, store.Create(ctx, running))
	require.NoError(t, store.SetStage(ctx, running.ID, StageRunning))

	pushing := New(KindAutoSync, 2)
	require.NoError(t, store.Create(ctx, pushing))
	require.NoError(t, store.SetStage(ctx, pushing.ID, StagePushPlatform))

	// Backdate both so they count as stale.
	store.mu.Lock()
	store.tasks[running.ID].UpdatedAt = time.Now().Add(-time.Hour)
	store.tasks[pushing.ID].UpdatedAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	n, err := store.RecoverInterrupted(ctx, 10*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := store.Get(ctx, running.ID)
	assert.Equal(t, StagePending, got.Stage)
	assert.Nil(t, got.WorkerID)

	// Tasks interrupted mid-push are failed, never resumed.
	got, _ = store.Get(ctx, pushing.ID)
	assert.Equal(t, StageFailed, got.Stage)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "push")
}

func TestSeedFromLastFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	failed := New(KindBatchSync, 1)
	require.NoError(t, store.Create(ctx, failed))
	require.NoError(t, store.SetStage(ctx, failed.ID, StageRunning))
	cp := NewCheckpoint()
	cp.CreatedSkus = []string{"a", "b", "c", "d"}
	require.NoError(t, store.UpdateProgress(ctx, failed.ID, 4, 9, cp))
	require.NoError(t, store.MarkFailed(ctx, failed.ID, "boom"))

	fresh := New(KindBatchSync, 1)
	require.NoError(t, SeedFromLastFailure(ctx, store, fresh))
	assert.Equal(t, 4, fresh.Progress)
	assert.Equal(t, 9, fresh.Total)
	assert.Equal(t, []string{"a", "b", "c", "d"}, fresh.Checkpoint.CreatedSkus)

	// Only batch syncs carry a resumable cursor.
	failedAuto := New(KindAutoSync, 1)
	require.NoError(t, store.Create(ctx, failedAuto))
	require.NoError(t, store.SetStage(ctx, failedAuto.ID, StageFetchChannel))
	require.NoError(t, store.UpdateProgress(ctx, failedAuto.ID, 7, 7, NewCheckpoint()))
	require.NoError(t, store.MarkFailed(ctx, failedAuto.ID, "boom"))

	freshAuto := New(KindAutoSync, 1)
	require.NoError(t, SeedFromLastFailure(ctx, store, freshAuto))
	assert.Equal(t, 0, freshAuto.Progress)

	// A newer successful run supersedes the old failure; later triggers
	// start clean again.
	done := New(KindBatchSync, 1)
	require.NoError(t, store.Create(ctx, done))
	require.NoError(t, store.SetStage(ctx, done.ID, StageRunning))
	require.NoError(t, store.Finish(ctx, done.ID, StageCompleted))

	clean := New(KindBatchSync, 1)
	require.NoError(t, SeedFromLastFailure(ctx, store, clean))
	assert.Equal(t, 0, clean.Progress)
	assert.Empty(t, clean.Checkpoint.CreatedSkus)
}

func TestRecoverySweepLeavesParkedPausedTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tk := New(KindBatchSync, 1)
	require.NoError(t, store.Create(ctx, tk))
	claimed, err := store.ClaimNext(ctx, []Kind{KindBatchSync}, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.SetStage(ctx, tk.ID, StagePaused))

	// A parked worker writes nothing, so even an hour-old pause must
	// survive the periodic sweep.
	store.mu.Lock()
	store.tasks[tk.ID].UpdatedAt = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	n, err := store.RecoverInterrupted(ctx, 10*time.Minute, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, _ := store.Get(ctx, tk.ID)
	assert.Equal(t, StagePaused, got.Stage)

	// Still paused, so no second worker can claim it out from under the
	// parked one.
	again, err := store.ClaimNext(ctx, []Kind{KindBatchSync}, "worker-b")
	require.NoError(t, err)
	assert.Nil(t, again)

	// Startup recovery runs before any worker exists; only there may an
	// orphaned pause be reclaimed.
	n, err = store.RecoverInterrupted(ctx, 10*time.Minute, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ = store.Get(ctx, tk.ID)
	assert.Equal(t, StagePending, got.Stage)
	assert.Nil(t, got.WorkerID)
}

func TestScopeKey(t *testing.T) {
	tk := New(KindAutoSync, 42)
	assert.Equal(t, "42/auto_sync", tk.ScopeKey())
}
