package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/repos"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

type fakeRuleScanner struct{ due []*repos.SyncRule }

func (f *fakeRuleScanner) Due(context.Context, time.Time) ([]*repos.SyncRule, error) {
	return f.due, nil
}

type fakeShopScanner struct {
	due       []int64
	shops     map[int64]*repos.Shop
	scheduled map[int64]time.Time
}

func newFakeShopScanner() *fakeShopScanner {
	return &fakeShopScanner{shops: make(map[int64]*repos.Shop), scheduled: make(map[int64]time.Time)}
}

func (f *fakeShopScanner) Get(_ context.Context, id int64) (*repos.Shop, error) {
	s, ok := f.shops[id]
	if !ok {
		return nil, repos.ErrShopNotFound
	}
	return s, nil
}

func (f *fakeShopScanner) DueAutoSync(context.Context, time.Time) ([]int64, error) {
	return f.due, nil
}

func (f *fakeShopScanner) ScheduleNextAutoSync(_ context.Context, shopID int64, next time.Time) error {
	f.scheduled[shopID] = next
	return nil
}

func newScheduler(store task.Store, rules *fakeRuleScanner, shops *fakeShopScanner) *Scheduler {
	return New(store, rules, shops, time.Minute, 10*time.Minute, zerolog.Nop())
}

func TestSweepEnqueuesDueRules(t *testing.T) {
	ctx := context.Background()
	store := task.NewMemoryStore()
	rules := &fakeRuleScanner{due: []*repos.SyncRule{
		{ID: 7, ShopID: 1, ChannelName: "supplier-a"},
		{ID: 8, ShopID: 2, ChannelName: "supplier-b"},
	}}

	s := newScheduler(store, rules, newFakeShopScanner())
	s.Sweep(ctx)

	tasks, err := store.List(ctx, task.Filter{Kind: task.KindPipelineSync})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, tk := range tasks {
		assert.Equal(t, task.StagePending, tk.Stage)
		require.NotNil(t, tk.RuleID)
	}
}

func TestSweepSkipsShopWithRunningTask(t *testing.T) {
	ctx := context.Background()
	store := task.NewMemoryStore()
	rules := &fakeRuleScanner{due: []*repos.SyncRule{{ID: 7, ShopID: 1}}}

	existing := task.New(task.KindPipelineSync, 1)
	require.NoError(t, store.Create(ctx, existing))

	s := newScheduler(store, rules, newFakeShopScanner())
	s.Sweep(ctx)
	s.Sweep(ctx)

	tasks, err := store.List(ctx, task.Filter{Kind: task.KindPipelineSync})
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "no duplicate task while one is still pending")
}

func TestSweepEnqueuesAutoSyncAndReschedules(t *testing.T) {
	ctx := context.Background()
	store := task.NewMemoryStore()
	shops := newFakeShopScanner()
	shops.due = []int64{5}
	shops.shops[5] = &repos.Shop{ID: 5, AutoSyncInterval: 2 * time.Hour}

	s := newScheduler(store, &fakeRuleScanner{}, shops)
	before := time.Now()
	s.Sweep(ctx)

	tasks, err := store.List(ctx, task.Filter{Kind: task.KindAutoSync})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(5), tasks[0].ShopID)

	next, ok := shops.scheduled[5]
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(2*time.Hour), next, time.Minute)
}

func TestSweepRecoversInterruptedTasks(t *testing.T) {
	ctx := context.Background()
	store := task.NewMemoryStore()

	tk := task.New(task.KindBatchSync, 1)
	require.NoError(t, store.Create(ctx, tk))
	claimed, err := store.ClaimNext(ctx, []task.Kind{task.KindBatchSync}, "w-dead")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	s := newScheduler(store, &fakeRuleScanner{}, newFakeShopScanner())
	s.StaleTaskAge = 0
	s.Sweep(ctx)

	got, err := store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StagePending, got.Stage)
}
