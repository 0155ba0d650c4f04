package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no task exists with the given id.
	ErrNotFound = errors.New("task not found")
	// ErrTerminalStage is returned when a transition is attempted on a
	// task that already reached a terminal stage.
	ErrTerminalStage = errors.New("task already in terminal stage")
	// ErrAlreadyRunning is returned when a non-terminal task already
	// occupies the (shop, kind) slot.
	ErrAlreadyRunning = errors.New("a non-terminal task already exists for this shop and kind")
)

// Filter narrows List results.
type Filter struct {
	ShopID int64
	Kind   Kind
	Stage  Stage
	Limit  int
}

// Store is the durable, transactional record of task state, checkpoints,
// and per-source sub-statistics.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, error)
	FindRunning(ctx context.Context, shopID int64, kind Kind) (*Task, error)

	// ClaimNext atomically moves the oldest pending task of one of the
	// given kinds to running and assigns it to workerID. Returns nil when
	// no task is due. The claim is what prevents two workers from
	// processing the same task concurrently.
	ClaimNext(ctx context.Context, kinds []Kind, workerID string) (*Task, error)

	SetStage(ctx context.Context, id string, stage Stage) error
	UpdateProgress(ctx context.Context, id string, progress, total int, cp Checkpoint) error
	UpdateSourceStats(ctx context.Context, id string, stats map[int64]*SourceStat) error

	// Finish moves the task to a terminal stage and stamps finished_at.
	Finish(ctx context.Context, id string, stage Stage) error
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// RecoverInterrupted returns tasks stranded in a running stage by a
	// crashed worker to pending so they resume from their checkpoint.
	// Tasks interrupted mid-push are failed instead of resumed. Paused
	// tasks are reclaimed only when includePaused is set: a parked worker
	// writes nothing while it waits, so a long legitimate pause is
	// indistinguishable from an orphan and may only be swept when no
	// worker can be parked (process startup).
	RecoverInterrupted(ctx context.Context, olderThan time.Duration, includePaused bool) (int, error)
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Store backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const taskColumns = `
	id, kind, shop_id, rule_id, stage, progress, total,
	checkpoint, source_stats, worker_id, error_message,
	started_at, finished_at, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, t *Task) error {
	running, err := s.FindRunning(ctx, t.ShopID, t.Kind)
	if err != nil {
		return err
	}
	if running != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, running.ID)
	}

	cp, err := json.Marshal(t.Checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	stats, err := json.Marshal(t.SourceStats)
	if err != nil {
		return fmt.Errorf("marshal source stats: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_tasks (
			id, kind, shop_id, rule_id, stage, progress, total,
			checkpoint, source_stats, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, t.ID, string(t.Kind), t.ShopID, t.RuleID, string(t.Stage), t.Progress, t.Total, cp, stats)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM sync_tasks WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if f.ShopID != 0 {
		query += fmt.Sprintf(" AND shop_id = $%d", argNum)
		args = append(args, f.ShopID)
		argNum++
	}
	if f.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argNum)
		args = append(args, string(f.Kind))
		argNum++
	}
	if f.Stage != "" {
		query += fmt.Sprintf(" AND stage = $%d", argNum)
		args = append(args, string(f.Stage))
		argNum++
	}

	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PGStore) FindRunning(ctx context.Context, shopID int64, kind Kind) (*Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM sync_tasks
		WHERE shop_id = $1 AND kind = $2
		  AND stage NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at DESC
		LIMIT 1
	`, shopID, string(kind))
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *PGStore) ClaimNext(ctx context.Context, kinds []Kind, workerID string) (*Task, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE sync_tasks SET
			stage = 'running',
			worker_id = $2,
			started_at = COALESCE(started_at, NOW()),
			updated_at = NOW()
		WHERE id = (
			SELECT id FROM sync_tasks
			WHERE stage = 'pending' AND kind = ANY($1)
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns, kindStrs, workerID)

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *PGStore) SetStage(ctx context.Context, id string, stage Stage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_tasks SET stage = $2, updated_at = NOW()
		WHERE id = $1 AND stage NOT IN ('completed', 'failed', 'cancelled')
	`, id, string(stage))
	if err != nil {
		return fmt.Errorf("set stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PGStore) UpdateProgress(ctx context.Context, id string, progress, total int, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Single atomic write: a crash-and-resume never observes progress
	// without the matching checkpoint. Total only ever revises upward.
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_tasks SET
			progress = $2,
			total = GREATEST(total, $3),
			checkpoint = $4,
			updated_at = NOW()
		WHERE id = $1 AND stage NOT IN ('completed', 'failed', 'cancelled')
	`, id, progress, total, data)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PGStore) UpdateSourceStats(ctx context.Context, id string, stats map[int64]*SourceStat) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal source stats: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE sync_tasks SET source_stats = $2, updated_at = NOW() WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("update source stats: %w", err)
	}
	return nil
}

func (s *PGStore) Finish(ctx context.Context, id string, stage Stage) error {
	if !stage.Terminal() {
		return fmt.Errorf("finish with non-terminal stage %q", stage)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_tasks SET stage = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND stage NOT IN ('completed', 'failed', 'cancelled')
	`, id, string(stage))
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_tasks SET
			stage = 'failed',
			error_message = $2,
			finished_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND stage NOT IN ('completed', 'failed', 'cancelled')
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

func (s *PGStore) RecoverInterrupted(ctx context.Context, olderThan time.Duration, includePaused bool) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	// A task interrupted mid-push must not be re-run: the feed may already
	// be submitted. Fail it; the audit trail covers reconciliation.
	failTag, err := s.pool.Exec(ctx, `
		UPDATE sync_tasks SET
			stage = 'failed',
			error_message = 'interrupted during marketplace push',
			finished_at = NOW(),
			updated_at = NOW()
		WHERE stage = 'push_platform' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted push tasks: %w", err)
	}

	stages := []string{"running", "fetch_channel", "update_local"}
	if includePaused {
		stages = append(stages, "paused")
	}
	resumeTag, err := s.pool.Exec(ctx, `
		UPDATE sync_tasks SET
			stage = 'pending',
			worker_id = NULL,
			updated_at = NOW()
		WHERE stage = ANY($1)
		  AND updated_at < $2
	`, stages, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", err)
	}

	return int(failTag.RowsAffected() + resumeTag.RowsAffected()), nil
}

func (s *PGStore) missingOrTerminal(ctx context.Context, id string) error {
	var stage string
	err := s.pool.QueryRow(ctx, `SELECT stage FROM sync_tasks WHERE id = $1`, id).Scan(&stage)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrTerminalStage, stage)
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t         Task
		kind      string
		stage     string
		cpData    []byte
		statsData []byte
	)
	err := row.Scan(
		&t.ID, &kind, &t.ShopID, &t.RuleID, &stage, &t.Progress, &t.Total,
		&cpData, &statsData, &t.WorkerID, &t.ErrorMessage,
		&t.StartedAt, &t.FinishedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Kind = Kind(kind)
	t.Stage = Stage(stage)

	if len(cpData) > 0 {
		if err := json.Unmarshal(cpData, &t.Checkpoint); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
	}
	t.SourceStats = make(map[int64]*SourceStat)
	if len(statsData) > 0 {
		if err := json.Unmarshal(statsData, &t.SourceStats); err != nil {
			return nil, fmt.Errorf("unmarshal source stats: %w", err)
		}
	}
	return &t, nil
}
