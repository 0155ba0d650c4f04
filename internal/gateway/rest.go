package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// RESTConfig configures one REST-speaking gateway endpoint.
type RESTConfig struct {
	Type    string
	BaseURL string
	APIKey  string
}

// RESTChannel is a channel gateway over a conventional JSON API:
// GET /products?offset=N, GET /products?skus=a,b, GET /products?updated_since=TS.
type RESTChannel struct {
	cfg    RESTConfig
	client *HTTPClient
}

// NewRESTChannel creates a REST channel gateway.
func NewRESTChannel(cfg RESTConfig, client *HTTPClient) *RESTChannel {
	return &RESTChannel{cfg: cfg, client: client}
}

func (r *RESTChannel) SourceType() string { return r.cfg.Type }

type productPage struct {
	Items  []RawProduct `json:"items"`
	Total  int          `json:"total"`
	IsLast bool         `json:"isLast"`
}

func (r *RESTChannel) FetchProductsBySkus(ctx context.Context, skus []string) ([]RawProduct, error) {
	q := url.Values{}
	for _, sku := range skus {
		q.Add("sku", sku)
	}
	var page productPage
	if err := r.get(ctx, "/products", q, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (r *RESTChannel) FetchPage(ctx context.Context, offset int) (Page, error) {
	q := url.Values{"offset": {strconv.Itoa(offset)}}
	var page productPage
	if err := r.get(ctx, "/products", q, &page); err != nil {
		return Page{}, err
	}
	return Page{Items: page.Items, Total: page.Total, IsLast: page.IsLast}, nil
}

// FetchUpdatedSince implements the incremental capability for sources that
// index products by update time.
func (r *RESTChannel) FetchUpdatedSince(ctx context.Context, since int64) ([]RawProduct, error) {
	q := url.Values{"updated_since": {strconv.FormatInt(since, 10)}}
	var page productPage
	if err := r.get(ctx, "/products", q, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (r *RESTChannel) TestConnection(ctx context.Context) error {
	return r.get(ctx, "/ping", nil, &struct{}{})
}

func (r *RESTChannel) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := r.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("channel %s: %w", r.cfg.Type, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("channel %s: decode response: %w", r.cfg.Type, err)
	}
	return nil
}

// RESTPlatform is a marketplace gateway over a conventional JSON API:
// POST /feeds/price, POST /feeds/inventory, POST /products/sync.
type RESTPlatform struct {
	cfg    RESTConfig
	client *HTTPClient
}

// NewRESTPlatform creates a REST platform gateway.
func NewRESTPlatform(cfg RESTConfig, client *HTTPClient) *RESTPlatform {
	return &RESTPlatform{cfg: cfg, client: client}
}

func (p *RESTPlatform) PlatformType() string { return p.cfg.Type }

func (p *RESTPlatform) PushPriceUpdate(ctx context.Context, items []PriceUpdate) (Feed, error) {
	var feed Feed
	if err := p.post(ctx, "/feeds/price", map[string]interface{}{"items": items}, &feed); err != nil {
		return Feed{}, err
	}
	return feed, nil
}

func (p *RESTPlatform) PushInventoryUpdate(ctx context.Context, items []StockUpdate) (Feed, error) {
	var feed Feed
	if err := p.post(ctx, "/feeds/inventory", map[string]interface{}{"items": items}, &feed); err != nil {
		return Feed{}, err
	}
	return feed, nil
}

func (p *RESTPlatform) SyncProduct(ctx context.Context, item PushItem) (SyncResult, error) {
	var res SyncResult
	if err := p.post(ctx, "/products/sync", item, &res); err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

func (p *RESTPlatform) TestConnection(ctx context.Context) error {
	return p.post(ctx, "/ping", struct{}{}, &struct{}{})
}

func (p *RESTPlatform) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("platform %s: %w", p.cfg.Type, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("platform %s: decode response: %w", p.cfg.Type, err)
	}
	return nil
}
