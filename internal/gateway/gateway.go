// Package gateway defines the capability-typed clients for upstream supply
// channels and downstream marketplaces, and the registry that resolves them
// by source type at startup.
package gateway

import "context"

// RawProduct is one product as reported by an upstream channel.
type RawProduct struct {
	SKU      string                 `json:"sku"`
	Title    string                 `json:"title"`
	Price    float64                `json:"price"`
	Stock    int                    `json:"stock"`
	Currency string                 `json:"currency"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// Page is one page of a batched fetch. Total may be revised upward as
// pagination proceeds; IsLast signals exhaustion of the source.
type Page struct {
	Items  []RawProduct
	Total  int
	IsLast bool
}

// ChannelGateway is the client for one upstream supply channel.
// Both fetch methods must be safe to call repeatedly with overlapping
// SKU sets or offsets; sources may legitimately re-emit records.
type ChannelGateway interface {
	// SourceType identifies the channel protocol family for rate limiting.
	SourceType() string

	FetchProductsBySkus(ctx context.Context, skus []string) ([]RawProduct, error)

	// FetchPage returns the page starting at offset. Resuming a run means
	// calling FetchPage with the persisted progress cursor.
	FetchPage(ctx context.Context, offset int) (Page, error)

	TestConnection(ctx context.Context) error
}

// IncrementalFetcher is an optional channel capability: fetch only records
// updated after a given instant. The pipeline's fetch stage type-asserts
// for it in incremental mode and falls back to full pagination otherwise.
type IncrementalFetcher interface {
	FetchUpdatedSince(ctx context.Context, since int64) ([]RawProduct, error)
}

// PriceUpdate is one entry of a marketplace bulk price submission.
type PriceUpdate struct {
	SKU   string  `json:"sku"`
	Price float64 `json:"price"`
}

// StockUpdate is one entry of a marketplace bulk inventory submission.
type StockUpdate struct {
	SKU   string `json:"sku"`
	Stock int    `json:"stock"`
}

// Feed identifies a marketplace's asynchronous bulk-submission job. The
// outcome of a feed is polled separately; pushing is at-least-once.
type Feed struct {
	ID string `json:"feedId"`
}

// PushItem is one product pushed individually by the pipeline's push stage.
type PushItem struct {
	SKU   string  `json:"sku"`
	Title string  `json:"title"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// SyncResult is the marketplace's answer to a single-product sync.
type SyncResult struct {
	Success           bool   `json:"success"`
	PlatformProductID string `json:"platformProductId,omitempty"`
	Error             string `json:"error,omitempty"`
}

// PlatformGateway is the client for one downstream marketplace.
type PlatformGateway interface {
	// PlatformType identifies the marketplace family.
	PlatformType() string

	PushPriceUpdate(ctx context.Context, items []PriceUpdate) (Feed, error)
	PushInventoryUpdate(ctx context.Context, items []StockUpdate) (Feed, error)
	SyncProduct(ctx context.Context, item PushItem) (SyncResult, error)

	TestConnection(ctx context.Context) error
}
