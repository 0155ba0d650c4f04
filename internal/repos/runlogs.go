package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/pkg/cuid2"
)

// RunStatus is the outcome of one pipeline run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// RunLog is the run-level record of one pipeline execution, created when
// the fetch stage starts and finalized when the push stage completes.
type RunLog struct {
	ID           string
	RuleID       int64
	Status       RunStatus
	Total        int
	Succeeded    int
	Failed       int
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// RunLogRepo is the Postgres run log repository.
type RunLogRepo struct {
	pool *pgxpool.Pool
}

// NewRunLogRepo creates a run log repository on the given pool.
func NewRunLogRepo(pool *pgxpool.Pool) *RunLogRepo {
	return &RunLogRepo{pool: pool}
}

// Create opens a run log in the running state and returns its id.
func (r *RunLogRepo) Create(ctx context.Context, ruleID int64) (string, error) {
	id := cuid2.New("run")
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_run_logs (id, rule_id, status, started_at)
		VALUES ($1, $2, 'running', NOW())
	`, id, ruleID)
	if err != nil {
		return "", fmt.Errorf("create run log: %w", err)
	}
	return id, nil
}

// Complete finalizes a run log with its outcome and counts.
func (r *RunLogRepo) Complete(ctx context.Context, id string, status RunStatus, total, succeeded, failed int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_run_logs SET
			status = $2, total = $3, succeeded = $4, failed = $5, finished_at = NOW()
		WHERE id = $1
	`, id, string(status), total, succeeded, failed)
	if err != nil {
		return fmt.Errorf("complete run log: %w", err)
	}
	return nil
}

// MarkFailed finalizes a run log as failed with the originating error.
func (r *RunLogRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_run_logs SET status = 'failed', error_message = $2, finished_at = NOW()
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark run log failed: %w", err)
	}
	return nil
}
