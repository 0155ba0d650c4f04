package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrChannelNotFound is returned when no channel exists with the given id.
var ErrChannelNotFound = errors.New("channel not found")

// Channel is one upstream supplier/source of price and stock data.
type Channel struct {
	ID         int64
	Name       string
	SourceType string
	Enabled    bool
}

// ChannelRepo is the Postgres channel repository.
type ChannelRepo struct {
	pool *pgxpool.Pool
}

// NewChannelRepo creates a channel repository on the given pool.
func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

// Get loads one channel.
func (r *ChannelRepo) Get(ctx context.Context, id int64) (*Channel, error) {
	var c Channel
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, source_type, enabled FROM channels WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.SourceType, &c.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &c, nil
}
