package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrShopNotFound is returned when no shop exists with the given id.
var ErrShopNotFound = errors.New("shop not found")

// Shop is one downstream storefront configuration.
type Shop struct {
	ID               int64
	Name             string
	PlatformType     string
	PreferDiscounted bool
	AutoSyncEnabled  bool
	AutoSyncInterval time.Duration
	NextAutoSyncAt   *time.Time
}

// ShopRepo is the Postgres shop repository.
type ShopRepo struct {
	pool *pgxpool.Pool
}

// NewShopRepo creates a shop repository on the given pool.
func NewShopRepo(pool *pgxpool.Pool) *ShopRepo {
	return &ShopRepo{pool: pool}
}

// Get loads one shop.
func (r *ShopRepo) Get(ctx context.Context, id int64) (*Shop, error) {
	var s Shop
	var intervalMinutes int
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, platform_type, prefer_discounted,
		       auto_sync_enabled, auto_sync_interval_minutes, next_auto_sync_at
		FROM shops WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.PlatformType, &s.PreferDiscounted,
		&s.AutoSyncEnabled, &intervalMinutes, &s.NextAutoSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shop: %w", err)
	}
	s.AutoSyncInterval = time.Duration(intervalMinutes) * time.Minute
	return &s, nil
}

// DueAutoSync returns shop ids whose next_auto_sync_at has passed.
func (r *ShopRepo) DueAutoSync(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM shops
		WHERE auto_sync_enabled AND next_auto_sync_at IS NOT NULL AND next_auto_sync_at <= $1
		ORDER BY next_auto_sync_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due shops: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ScheduleNextAutoSync moves a shop's next due time forward.
func (r *ShopRepo) ScheduleNextAutoSync(ctx context.Context, shopID int64, next time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE shops SET next_auto_sync_at = $2 WHERE id = $1
	`, shopID, next)
	if err != nil {
		return fmt.Errorf("schedule next auto sync: %w", err)
	}
	return nil
}
