package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	sourceType string
}

func (s *stubChannel) SourceType() string { return s.sourceType }
func (s *stubChannel) FetchProductsBySkus(context.Context, []string) ([]RawProduct, error) {
	return nil, nil
}
func (s *stubChannel) FetchPage(context.Context, int) (Page, error) { return Page{IsLast: true}, nil }
func (s *stubChannel) TestConnection(context.Context) error         { return nil }

type stubPlatform struct {
	platformType string
}

func (s *stubPlatform) PlatformType() string { return s.platformType }
func (s *stubPlatform) PushPriceUpdate(context.Context, []PriceUpdate) (Feed, error) {
	return Feed{}, nil
}
func (s *stubPlatform) PushInventoryUpdate(context.Context, []StockUpdate) (Feed, error) {
	return Feed{}, nil
}
func (s *stubPlatform) SyncProduct(context.Context, PushItem) (SyncResult, error) {
	return SyncResult{Success: true}, nil
}
func (s *stubPlatform) TestConnection(context.Context) error { return nil }

func TestRegistryChannelResolution(t *testing.T) {
	r := NewRegistry()
	r.RegisterChannel(&stubChannel{sourceType: "taobao"})

	gw, err := r.Channel("taobao")
	require.NoError(t, err)
	assert.Equal(t, "taobao", gw.SourceType())

	_, err = r.Channel("nope")
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestRegistryPlatformResolution(t *testing.T) {
	r := NewRegistry()
	r.RegisterPlatform(&stubPlatform{platformType: "shopify"})

	gw, err := r.Platform("shopify")
	require.NoError(t, err)
	assert.Equal(t, "shopify", gw.PlatformType())

	_, err = r.Platform("amazon")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestRegistryTypeLists(t *testing.T) {
	r := NewRegistry()
	r.RegisterChannel(&stubChannel{sourceType: "taobao"})
	r.RegisterChannel(&stubChannel{sourceType: "cj"})
	r.RegisterPlatform(&stubPlatform{platformType: "shopify"})

	assert.ElementsMatch(t, []string{"taobao", "cj"}, r.ChannelTypes())
	assert.ElementsMatch(t, []string{"shopify"}, r.PlatformTypes())
}
