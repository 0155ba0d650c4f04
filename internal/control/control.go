// Package control carries pause/cancel instructions from the API layer to
// running sync tasks. Signals are ephemeral: a process restart loses them
// and tasks resume from their last durable checkpoint instead.
package control

import (
	"context"
	"sync"
)

// Signal is a pending control instruction for one task.
type Signal string

const (
	// SignalNone means no instruction is pending.
	SignalNone Signal = ""
	// SignalPause asks the task loop to park until resumed or cancelled.
	SignalPause Signal = "pause"
	// SignalCancel asks the task loop to stop at its next poll point.
	SignalCancel Signal = "cancel"
)

// Channel is the shared signal map between the API layer (writer) and task
// loops (reader/clearer). Read-and-clear is the task loop's responsibility;
// Get never mutates.
type Channel interface {
	Set(ctx context.Context, taskID string, s Signal) error
	Get(ctx context.Context, taskID string) (Signal, error)
	Clear(ctx context.Context, taskID string) error
}

// Memory is the in-process Channel used when execution and the control API
// share one process.
type Memory struct {
	mu      sync.RWMutex
	signals map[string]Signal
}

// NewMemory creates an empty in-memory signal channel.
func NewMemory() *Memory {
	return &Memory{signals: make(map[string]Signal)}
}

func (m *Memory) Set(_ context.Context, taskID string, s Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == SignalNone {
		delete(m.signals, taskID)
		return nil
	}
	m.signals[taskID] = s
	return nil
}

func (m *Memory) Get(_ context.Context, taskID string) (Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signals[taskID], nil
}

func (m *Memory) Clear(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.signals, taskID)
	return nil
}
