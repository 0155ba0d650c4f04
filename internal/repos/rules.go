package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/rules"
)

// ErrRuleNotFound is returned when no sync rule exists with the given id.
var ErrRuleNotFound = errors.New("sync rule not found")

// SyncRule drives one rule-based pipeline run: which channel to fetch from,
// which marketplace to push to, how often, and which price/stock rule sets
// to apply.
type SyncRule struct {
	ID           int64
	ShopID       int64
	ChannelID    int64
	ChannelName  string
	SourceType   string
	PlatformType string
	Incremental  bool
	Interval     time.Duration
	LastSyncAt   *time.Time
	NextSyncAt   *time.Time
	Enabled      bool
	PriceRules   rules.PriceRuleSet
	StockRules   rules.StockRuleSet
}

// RuleRepo is the Postgres rule repository.
type RuleRepo struct {
	pool *pgxpool.Pool
}

// NewRuleRepo creates a rule repository on the given pool.
func NewRuleRepo(pool *pgxpool.Pool) *RuleRepo {
	return &RuleRepo{pool: pool}
}

const ruleColumns = `
	id, shop_id, channel_id, channel_name, source_type, platform_type,
	incremental, interval_minutes, last_sync_at, next_sync_at, enabled,
	price_rules, stock_rules`

// Get loads one sync rule.
func (r *RuleRepo) Get(ctx context.Context, id int64) (*SyncRule, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM sync_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// Due returns enabled rules whose next_sync_at has passed.
func (r *RuleRepo) Due(ctx context.Context, now time.Time) ([]*SyncRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM sync_rules
		WHERE enabled AND (next_sync_at IS NULL OR next_sync_at <= $1)
		ORDER BY next_sync_at NULLS FIRST
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due rules: %w", err)
	}
	defer rows.Close()

	out := make([]*SyncRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// UpdateSyncTimes records a completed run and schedules the next one.
func (r *RuleRepo) UpdateSyncTimes(ctx context.Context, id int64, last, next time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sync_rules SET last_sync_at = $2, next_sync_at = $3 WHERE id = $1
	`, id, last, next)
	if err != nil {
		return fmt.Errorf("update sync times: %w", err)
	}
	return nil
}

// PriceRules loads the shop-level price rule set applied by auto-sync.
func (r *RuleRepo) PriceRules(ctx context.Context, shopID int64) (rules.PriceRuleSet, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `
		SELECT price_rules FROM shop_rules WHERE shop_id = $1
	`, shopID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.PriceRuleSet{}, nil // no rules configured: pass-through
	}
	if err != nil {
		return rules.PriceRuleSet{}, fmt.Errorf("load price rules: %w", err)
	}
	var rs rules.PriceRuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return rules.PriceRuleSet{}, fmt.Errorf("unmarshal price rules: %w", err)
	}
	return rs, nil
}

// StockRules loads the shop-level stock rule set applied by auto-sync.
func (r *RuleRepo) StockRules(ctx context.Context, shopID int64) (rules.StockRuleSet, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `
		SELECT stock_rules FROM shop_rules WHERE shop_id = $1
	`, shopID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.StockRuleSet{}, nil
	}
	if err != nil {
		return rules.StockRuleSet{}, fmt.Errorf("load stock rules: %w", err)
	}
	var rs rules.StockRuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return rules.StockRuleSet{}, fmt.Errorf("unmarshal stock rules: %w", err)
	}
	return rs, nil
}

func scanRule(row pgx.Row) (*SyncRule, error) {
	var (
		rule            SyncRule
		intervalMinutes int
		priceData       []byte
		stockData       []byte
	)
	err := row.Scan(
		&rule.ID, &rule.ShopID, &rule.ChannelID, &rule.ChannelName,
		&rule.SourceType, &rule.PlatformType, &rule.Incremental,
		&intervalMinutes, &rule.LastSyncAt, &rule.NextSyncAt, &rule.Enabled,
		&priceData, &stockData,
	)
	if err != nil {
		return nil, err
	}
	rule.Interval = time.Duration(intervalMinutes) * time.Minute

	if len(priceData) > 0 {
		if err := json.Unmarshal(priceData, &rule.PriceRules); err != nil {
			return nil, fmt.Errorf("unmarshal price rules: %w", err)
		}
	}
	if len(stockData) > 0 {
		if err := json.Unmarshal(stockData, &rule.StockRules); err != nil {
			return nil, fmt.Errorf("unmarshal stock rules: %w", err)
		}
	}
	return &rule, nil
}
