package repos

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/pkg/cuid2"
)

// PushKind distinguishes the two marketplace bulk submissions.
type PushKind string

const (
	PushPrice     PushKind = "price"
	PushInventory PushKind = "inventory"
)

// PushAuditRepo records exactly what was submitted to a marketplace and
// under which feed id. Marketplace batch APIs are asynchronous, so this
// record is what later reconciliation works from.
type PushAuditRepo struct {
	pool *pgxpool.Pool
}

// NewPushAuditRepo creates a push audit repository on the given pool.
func NewPushAuditRepo(pool *pgxpool.Pool) *PushAuditRepo {
	return &PushAuditRepo{pool: pool}
}

// Record stores one bulk submission: the feed id returned by the
// marketplace plus the submitted payload.
func (r *PushAuditRepo) Record(ctx context.Context, taskID string, shopID int64, kind PushKind, feedID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO push_audits (id, task_id, shop_id, kind, feed_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, cuid2.New("aud"), taskID, shopID, string(kind), feedID, data)
	if err != nil {
		return fmt.Errorf("record push audit: %w", err)
	}
	return nil
}
