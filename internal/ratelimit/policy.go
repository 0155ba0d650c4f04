// Package ratelimit governs how fast batched calls to external sources may
// be issued: a per-source-type policy fixes the batch size and the delay
// between batches, with a default policy for unknown source types.
package ratelimit

import (
	"context"
	"time"
)

// Policy describes batching for one source type.
type Policy struct {
	BatchSize  int
	BatchDelay time.Duration
}

// DefaultPolicy returns the fallback policy used for unknown source types.
func DefaultPolicy() Policy {
	return Policy{
		BatchSize:  50,
		BatchDelay: 500 * time.Millisecond,
	}
}

// Limiter resolves batching policies by source type. Immutable after New.
type Limiter struct {
	policies map[string]Policy
	fallback Policy
}

// New creates a limiter with per-source policies and a fallback.
// A fallback with a non-positive batch size is replaced by DefaultPolicy.
func New(policies map[string]Policy, fallback Policy) *Limiter {
	if fallback.BatchSize <= 0 {
		fallback = DefaultPolicy()
	}
	cloned := make(map[string]Policy, len(policies))
	for k, p := range policies {
		if p.BatchSize > 0 {
			cloned[k] = p
		}
	}
	return &Limiter{policies: cloned, fallback: fallback}
}

// Policy returns the policy for the given source type.
func (l *Limiter) Policy(sourceType string) Policy {
	if p, ok := l.policies[sourceType]; ok {
		return p
	}
	return l.fallback
}

// Delay returns the pause to await between batches for the given source type.
func (l *Limiter) Delay(sourceType string) time.Duration {
	return l.Policy(sourceType).BatchDelay
}

// Wait blocks for the inter-batch delay of the given source type,
// returning early with ctx.Err() if the context is cancelled.
func (l *Limiter) Wait(ctx context.Context, sourceType string) error {
	delay := l.Delay(sourceType)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Chunk splits items into batches of at most size elements.
// Empty input yields an empty (nil) batch sequence; zero-length batches
// are never produced.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultPolicy().BatchSize
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// Batches splits items per the policy of the given source type.
func Batches[T any](l *Limiter, items []T, sourceType string) [][]T {
	return Chunk(items, l.Policy(sourceType).BatchSize)
}
