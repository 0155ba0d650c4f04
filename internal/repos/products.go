// Package repos holds the data access layer the sync core reads and writes
// through: products, shops, channels, rules, run logs, and push audits.
package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MetaFetched is the well-known extra-fields key under which the fetch
// stage stores the latest raw values from the upstream channel.
const MetaFetched = "latestFetch"

// FetchedMeta is the payload stored under MetaFetched.
type FetchedMeta struct {
	Price         float64   `json:"price"`
	Stock         int       `json:"stock"`
	ShippingFee   float64   `json:"shippingFee"`
	DiscountPrice float64   `json:"discountPrice"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// Product is one local product record owned by a shop and sourced from an
// upstream channel. FinalPrice/FinalStock are the post-rule values pushed
// to the marketplace.
type Product struct {
	ID            int64
	ShopID        int64
	ChannelID     int64
	SourceName    string
	SKU           string
	Title         string
	Currency      string
	OriginalPrice float64
	OriginalStock int
	LocalPrice    float64
	FinalPrice    float64
	FinalStock    int
	Extra         map[string]interface{}
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SetFetchedMeta stores the latest fetched values in the extra-fields bag.
func (p *Product) SetFetchedMeta(m FetchedMeta) {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[MetaFetched] = m
}

// FetchedMeta extracts the latest fetched values from the extra-fields bag.
// Handles both the typed form (set in-process) and the generic map form
// (loaded from the database).
func (p *Product) FetchedMeta() (FetchedMeta, bool) {
	raw, ok := p.Extra[MetaFetched]
	if !ok {
		return FetchedMeta{}, false
	}
	if m, ok := raw.(FetchedMeta); ok {
		return m, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return FetchedMeta{}, false
	}
	var m FetchedMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return FetchedMeta{}, false
	}
	return m, true
}

// ProductRepo is the Postgres product repository.
type ProductRepo struct {
	pool *pgxpool.Pool
}

// NewProductRepo creates a product repository on the given pool.
func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

const productColumns = `
	id, shop_id, channel_id, source_name, sku, title, currency,
	original_price, original_stock, local_price, final_price, final_stock,
	extra, created_at, updated_at`

// ListByShop returns all products of a shop, ordered by channel then sku so
// the fetch stage groups channels deterministically.
func (r *ProductRepo) ListByShop(ctx context.Context, shopID int64) ([]*Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE shop_id = $1
		ORDER BY channel_id, sku
	`, shopID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]*Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ExistsBySKU reports whether a product with this SKU already exists for
// the shop.
func (r *ProductRepo) ExistsBySKU(ctx context.Context, shopID int64, sku string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE shop_id = $1 AND sku = $2)
	`, shopID, sku).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check product existence: %w", err)
	}
	return exists, nil
}

// Insert creates a product record.
func (r *ProductRepo) Insert(ctx context.Context, p *Product) error {
	extra, err := json.Marshal(p.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO products (
			shop_id, channel_id, source_name, sku, title, currency,
			original_price, original_stock, local_price, final_price, final_stock,
			extra, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id
	`, p.ShopID, p.ChannelID, p.SourceName, p.SKU, p.Title, p.Currency,
		p.OriginalPrice, p.OriginalStock, p.LocalPrice, p.FinalPrice, p.FinalStock,
		extra).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing (shop, sku) record.
func (r *ProductRepo) Update(ctx context.Context, p *Product) error {
	extra, err := json.Marshal(p.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE products SET
			title = $3, currency = $4,
			original_price = $5, original_stock = $6,
			local_price = $7, final_price = $8, final_stock = $9,
			extra = $10, updated_at = NOW()
		WHERE shop_id = $1 AND sku = $2
	`, p.ShopID, p.SKU, p.Title, p.Currency,
		p.OriginalPrice, p.OriginalStock,
		p.LocalPrice, p.FinalPrice, p.FinalStock, extra)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

// UpdateFetched stores the freshly fetched raw values for one product.
func (r *ProductRepo) UpdateFetched(ctx context.Context, id int64, originalPrice float64, originalStock int, extra map[string]interface{}) error {
	data, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE products SET
			original_price = $2, original_stock = $3, extra = $4, updated_at = NOW()
		WHERE id = $1
	`, id, originalPrice, originalStock, data)
	if err != nil {
		return fmt.Errorf("update fetched values: %w", err)
	}
	return nil
}

// UpdateComputed stores the recomputed local and final values.
func (r *ProductRepo) UpdateComputed(ctx context.Context, id int64, localPrice, finalPrice float64, finalStock int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE products SET
			local_price = $2, final_price = $3, final_stock = $4, updated_at = NOW()
		WHERE id = $1
	`, id, localPrice, finalPrice, finalStock)
	if err != nil {
		return fmt.Errorf("update computed values: %w", err)
	}
	return nil
}

// UpsertBySource inserts or updates a record keyed by (source_name, sku),
// the pipeline's idempotent write path.
func (r *ProductRepo) UpsertBySource(ctx context.Context, p *Product) error {
	extra, err := json.Marshal(p.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO products (
			shop_id, channel_id, source_name, sku, title, currency,
			original_price, original_stock, local_price, final_price, final_stock,
			extra, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (source_name, sku) DO UPDATE SET
			title = EXCLUDED.title,
			currency = EXCLUDED.currency,
			original_price = EXCLUDED.original_price,
			original_stock = EXCLUDED.original_stock,
			local_price = EXCLUDED.local_price,
			final_price = EXCLUDED.final_price,
			final_stock = EXCLUDED.final_stock,
			extra = EXCLUDED.extra,
			updated_at = NOW()
	`, p.ShopID, p.ChannelID, p.SourceName, p.SKU, p.Title, p.Currency,
		p.OriginalPrice, p.OriginalStock, p.LocalPrice, p.FinalPrice, p.FinalStock, extra)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func scanProduct(row interface{ Scan(...interface{}) error }) (*Product, error) {
	var p Product
	var extra []byte
	err := row.Scan(
		&p.ID, &p.ShopID, &p.ChannelID, &p.SourceName, &p.SKU, &p.Title, &p.Currency,
		&p.OriginalPrice, &p.OriginalStock, &p.LocalPrice, &p.FinalPrice, &p.FinalStock,
		&extra, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &p.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal extra: %w", err)
		}
	}
	return &p, nil
}
