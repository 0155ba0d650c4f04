package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and single-process dry
// runs. It enforces the same transition rules as the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tasks {
		if existing.ShopID == t.ShopID && existing.Kind == t.Kind && !existing.Stage.Terminal() {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, existing.ID)
		}
	}
	cp := clone(t)
	s.tasks[t.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0)
	for _, t := range s.tasks {
		if f.ShopID != 0 && t.ShopID != f.ShopID {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.Stage != "" && t.Stage != f.Stage {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindRunning(_ context.Context, shopID int64, kind Kind) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ShopID == shopID && t.Kind == kind && !t.Stage.Terminal() {
			return clone(t), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ClaimNext(_ context.Context, kinds []Kind, workerID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Task
	for _, t := range s.tasks {
		if t.Stage != StagePending {
			continue
		}
		match := false
		for _, k := range kinds {
			if t.Kind == k {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Stage = StageRunning
	oldest.WorkerID = &workerID
	if oldest.StartedAt == nil {
		now := time.Now()
		oldest.StartedAt = &now
	}
	oldest.UpdatedAt = time.Now()
	return clone(oldest), nil
}

func (s *MemoryStore) SetStage(_ context.Context, id string, stage Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Stage.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStage, t.Stage)
	}
	t.Stage = stage
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, progress, total int, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Stage.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStage, t.Stage)
	}
	t.Progress = progress
	if total > t.Total {
		t.Total = total
	}
	t.Checkpoint = cloneCheckpoint(cp)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateSourceStats(_ context.Context, id string, stats map[int64]*SourceStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.SourceStats = cloneStats(stats)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Finish(_ context.Context, id string, stage Stage) error {
	if !stage.Terminal() {
		return fmt.Errorf("finish with non-terminal stage %q", stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Stage.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStage, t.Stage)
	}
	t.Stage = stage
	now := time.Now()
	t.FinishedAt = &now
	t.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Stage.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStage, t.Stage)
	}
	t.Stage = StageFailed
	t.ErrorMessage = &errMsg
	now := time.Now()
	t.FinishedAt = &now
	t.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RecoverInterrupted(_ context.Context, olderThan time.Duration, includePaused bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for _, t := range s.tasks {
		if !t.UpdatedAt.Before(cutoff) {
			continue
		}
		switch t.Stage {
		case StagePushPlatform:
			msg := "interrupted during marketplace push"
			t.Stage = StageFailed
			t.ErrorMessage = &msg
			now := time.Now()
			t.FinishedAt = &now
			count++
		case StageRunning, StageFetchChannel, StageUpdateLocal:
			t.Stage = StagePending
			t.WorkerID = nil
			count++
		case StagePaused:
			if includePaused {
				t.Stage = StagePending
				t.WorkerID = nil
				count++
			}
		}
	}
	return count, nil
}

func clone(t *Task) *Task {
	cp := *t
	cp.Checkpoint = cloneCheckpoint(t.Checkpoint)
	cp.SourceStats = cloneStats(t.SourceStats)
	return &cp
}

func cloneCheckpoint(c Checkpoint) Checkpoint {
	return Checkpoint{
		Version:     c.Version,
		CreatedSkus: append([]string(nil), c.CreatedSkus...),
		UpdatedSkus: append([]string(nil), c.UpdatedSkus...),
		SkippedSkus: append([]string(nil), c.SkippedSkus...),
	}
}

func cloneStats(stats map[int64]*SourceStat) map[int64]*SourceStat {
	out := make(map[int64]*SourceStat, len(stats))
	for k, v := range stats {
		copied := *v
		out[k] = &copied
	}
	return out
}
