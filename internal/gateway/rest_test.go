package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/ratelimit"
)

func testClient() *HTTPClient {
	return NewHTTPClient(ratelimit.RetryConfig{
		MaxRetries:       2,
		InitialBackoffMs: 1,
		MaxBackoffMs:     5,
	})
}

func TestRESTChannelFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		json.NewEncoder(w).Encode(productPage{
			Items:  []RawProduct{{SKU: "a", Price: 9.99, Stock: 3}},
			Total:  11,
			IsLast: true,
		})
	}))
	defer srv.Close()

	ch := NewRESTChannel(RESTConfig{Type: "srcA", BaseURL: srv.URL, APIKey: "secret"}, testClient())
	page, err := ch.FetchPage(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	assert.True(t, page.IsLast)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].SKU)
}

func TestRESTChannelFetchBySkus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"a", "b"}, r.URL.Query()["sku"])
		json.NewEncoder(w).Encode(productPage{Items: []RawProduct{{SKU: "a"}, {SKU: "b"}}})
	}))
	defer srv.Close()

	ch := NewRESTChannel(RESTConfig{Type: "srcA", BaseURL: srv.URL}, testClient())
	items, err := ch.FetchProductsBySkus(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRESTChannelRetriesTransientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(productPage{IsLast: true})
	}))
	defer srv.Close()

	ch := NewRESTChannel(RESTConfig{Type: "srcA", BaseURL: srv.URL}, testClient())
	_, err := ch.FetchPage(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRESTChannelGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch := NewRESTChannel(RESTConfig{Type: "srcA", BaseURL: srv.URL}, testClient())
	_, err := ch.FetchPage(context.Background(), 0)
	require.Error(t, err)

	var retryErr *ratelimit.RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, http.StatusServiceUnavailable, retryErr.LastStatus)
	assert.Equal(t, 3, retryErr.Attempts)
}

func TestRESTPlatformPushPriceUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feeds/price", r.URL.Path)
		var body struct {
			Items []PriceUpdate `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Items, 2)
		json.NewEncoder(w).Encode(Feed{ID: "feed-42"})
	}))
	defer srv.Close()

	pf := NewRESTPlatform(RESTConfig{Type: "marketX", BaseURL: srv.URL}, testClient())
	feed, err := pf.PushPriceUpdate(context.Background(), []PriceUpdate{
		{SKU: "a", Price: 9.99},
		{SKU: "b", Price: 19.99},
	})
	require.NoError(t, err)
	assert.Equal(t, "feed-42", feed.ID)
}

func TestRESTPlatformRetriesPostWithBody(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		var body PushItem
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body), "body must be intact on retry")
		assert.Equal(t, "a", body.SKU)
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(SyncResult{Success: true, PlatformProductID: "px-1"})
	}))
	defer srv.Close()

	pf := NewRESTPlatform(RESTConfig{Type: "marketX", BaseURL: srv.URL}, testClient())
	res, err := pf.SyncProduct(context.Background(), PushItem{SKU: "a", Price: 1, Stock: 1})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "px-1", res.PlatformProductID)
	assert.Equal(t, 2, attempts)
}
