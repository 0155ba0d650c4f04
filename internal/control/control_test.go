package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGetClear(t *testing.T) {
	ctx := context.Background()
	ch := NewMemory()

	sig, err := ch.Get(ctx, "task_1")
	assert.NoError(t, err)
	assert.Equal(t, SignalNone, sig)

	assert.NoError(t, ch.Set(ctx, "task_1", SignalPause))
	sig, _ = ch.Get(ctx, "task_1")
	assert.Equal(t, SignalPause, sig)

	// Overwrite pause with cancel, as the API does for cancel-while-paused.
	assert.NoError(t, ch.Set(ctx, "task_1", SignalCancel))
	sig, _ = ch.Get(ctx, "task_1")
	assert.Equal(t, SignalCancel, sig)

	assert.NoError(t, ch.Clear(ctx, "task_1"))
	sig, _ = ch.Get(ctx, "task_1")
	assert.Equal(t, SignalNone, sig)
}

func TestMemorySignalsAreIndependentPerTask(t *testing.T) {
	ctx := context.Background()
	ch := NewMemory()

	ch.Set(ctx, "task_a", SignalPause)
	ch.Set(ctx, "task_b", SignalCancel)

	a, _ := ch.Get(ctx, "task_a")
	b, _ := ch.Get(ctx, "task_b")
	assert.Equal(t, SignalPause, a)
	assert.Equal(t, SignalCancel, b)

	ch.Clear(ctx, "task_a")
	b, _ = ch.Get(ctx, "task_b")
	assert.Equal(t, SignalCancel, b)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	ch := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch.Set(ctx, "task_1", SignalPause)
		}()
		go func() {
			defer wg.Done()
			ch.Get(ctx, "task_1")
			ch.Clear(ctx, "task_1")
		}()
	}
	wg.Wait()
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ch, err := NewRedis(rdb, time.Minute)
	require.NoError(t, err)
	return ch
}

func TestRedisSetGetClear(t *testing.T) {
	ctx := context.Background()
	ch := newTestRedis(t)

	sig, err := ch.Get(ctx, "task_1")
	assert.NoError(t, err)
	assert.Equal(t, SignalNone, sig)

	assert.NoError(t, ch.Set(ctx, "task_1", SignalCancel))
	sig, _ = ch.Get(ctx, "task_1")
	assert.Equal(t, SignalCancel, sig)

	assert.NoError(t, ch.Clear(ctx, "task_1"))
	sig, _ = ch.Get(ctx, "task_1")
	assert.Equal(t, SignalNone, sig)
}

func TestRedisSetNoneClears(t *testing.T) {
	ctx := context.Background()
	ch := newTestRedis(t)

	ch.Set(ctx, "task_1", SignalPause)
	assert.NoError(t, ch.Set(ctx, "task_1", SignalNone))

	sig, _ := ch.Get(ctx, "task_1")
	assert.Equal(t, SignalNone, sig)
}

func TestNewRedisRequiresClient(t *testing.T) {
	_, err := NewRedis(nil, time.Minute)
	assert.Error(t, err)
}
