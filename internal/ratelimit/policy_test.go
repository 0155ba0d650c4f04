package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyLookup(t *testing.T) {
	l := New(map[string]Policy{
		"taobao": {BatchSize: 20, BatchDelay: 2 * time.Second},
		"cj":     {BatchSize: 100, BatchDelay: 100 * time.Millisecond},
	}, Policy{BatchSize: 50, BatchDelay: 500 * time.Millisecond})

	assert.Equal(t, 20, l.Policy("taobao").BatchSize)
	assert.Equal(t, 100, l.Policy("cj").BatchSize)

	// Unknown source types fall back to the default policy.
	assert.Equal(t, 50, l.Policy("unknown").BatchSize)
	assert.Equal(t, 500*time.Millisecond, l.Delay("unknown"))
}

func TestNewRejectsInvalidPolicies(t *testing.T) {
	l := New(map[string]Policy{"bad": {BatchSize: 0}}, Policy{})

	// Non-positive batch sizes are dropped, zero fallback becomes the default.
	assert.Equal(t, DefaultPolicy().BatchSize, l.Policy("bad").BatchSize)
}

func TestChunk(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	batches := Chunk(items, 2)
	assert.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"c", "d"}, batches[1])
	assert.Equal(t, []string{"e"}, batches[2])
}

func TestChunkEmptyInput(t *testing.T) {
	// Empty input must yield an empty sequence, never a zero-length batch.
	assert.Empty(t, Chunk([]int{}, 10))
	assert.Empty(t, Chunk[int](nil, 10))
}

func TestChunkExactMultiple(t *testing.T) {
	batches := Chunk([]int{1, 2, 3, 4}, 2)
	assert.Len(t, batches, 2)
	for _, b := range batches {
		assert.Len(t, b, 2)
	}
}

func TestBatchesUsesSourcePolicy(t *testing.T) {
	l := New(map[string]Policy{"taobao": {BatchSize: 2}}, Policy{BatchSize: 10})

	assert.Len(t, Batches(l, []int{1, 2, 3, 4, 5}, "taobao"), 3)
	assert.Len(t, Batches(l, []int{1, 2, 3, 4, 5}, "other"), 1)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	l := New(nil, Policy{BatchSize: 10, BatchDelay: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := l.Wait(ctx, "any")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitZeroDelay(t *testing.T) {
	l := New(nil, Policy{BatchSize: 10, BatchDelay: 0})
	assert.NoError(t, l.Wait(context.Background(), "any"))
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, IsRetryableStatus(429))
	assert.True(t, IsRetryableStatus(500))
	assert.True(t, IsRetryableStatus(503))
	assert.False(t, IsRetryableStatus(200))
	assert.False(t, IsRetryableStatus(404))
	assert.False(t, IsRetryableStatus(400))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialBackoffMs: 100, MaxBackoffMs: 1000}

	// Attempt 0: 100ms base, up to +25% jitter.
	b0 := Backoff(0, cfg)
	assert.GreaterOrEqual(t, b0, 100*time.Millisecond)
	assert.LessOrEqual(t, b0, 125*time.Millisecond)

	// Attempt 10 would be 102400ms uncapped; capped at 1000ms (+ jitter).
	b10 := Backoff(10, cfg)
	assert.LessOrEqual(t, b10, 1250*time.Millisecond)
}

func TestRateLimitBackoffRespectsRetryAfter(t *testing.T) {
	cfg := DefaultRetryConfig()

	d := RateLimitBackoff(0, cfg, "7")
	assert.GreaterOrEqual(t, d, 7*time.Second)
	assert.Less(t, d, 8*time.Second)

	// Malformed header falls back to exponential backoff.
	d = RateLimitBackoff(0, cfg, "soon")
	assert.Less(t, d, time.Second)
}
