// Package autosync runs the shop-level three-stage synchronization task:
// fetch current values from every upstream channel the shop sources from,
// recompute local and final prices, and push the results to the shop's
// marketplace in bulk.
package autosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/control"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/gateway"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/metrics"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/ratelimit"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/repos"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/rules"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

// ShopLoader loads shop configuration.
type ShopLoader interface {
	Get(ctx context.Context, id int64) (*repos.Shop, error)
}

// ChannelLoader loads upstream channel configuration.
type ChannelLoader interface {
	Get(ctx context.Context, id int64) (*repos.Channel, error)
}

// ProductAccess is the slice of the product repository the orchestrator
// reads and writes.
type ProductAccess interface {
	ListByShop(ctx context.Context, shopID int64) ([]*repos.Product, error)
	UpdateFetched(ctx context.Context, id int64, originalPrice float64, originalStock int, extra map[string]interface{}) error
	UpdateComputed(ctx context.Context, id int64, localPrice, finalPrice float64, finalStock int) error
}

// RuleLoader loads the shop-level price and stock rule sets.
type RuleLoader interface {
	PriceRules(ctx context.Context, shopID int64) (rules.PriceRuleSet, error)
	StockRules(ctx context.Context, shopID int64) (rules.StockRuleSet, error)
}

// AuditRecorder persists what was submitted to the marketplace.
type AuditRecorder interface {
	Record(ctx context.Context, taskID string, shopID int64, kind repos.PushKind, feedID string, payload interface{}) error
}

// GatewayResolver resolves channel and platform gateways by type.
type GatewayResolver interface {
	Channel(sourceType string) (gateway.ChannelGateway, error)
	Platform(platformType string) (gateway.PlatformGateway, error)
}

// Orchestrator executes auto_sync tasks.
type Orchestrator struct {
	Tasks    task.Store
	Signals  control.Channel
	Shops    ShopLoader
	Channels ChannelLoader
	Products ProductAccess
	Rules    RuleLoader
	Audits   AuditRecorder
	Gateways GatewayResolver
	Limiter  *ratelimit.Limiter
	Logger   zerolog.Logger
}

// errCancelled is the internal marker for a cooperatively cancelled task.
// It never escapes Run; cancellation is a terminal state, not an error.
var errCancelled = errors.New("task cancelled")

// Run drives one auto_sync task through its three stages. Per-channel
// failures in the fetch stage are recorded into the task's source stats and
// do not fail the task; any other unhandled error marks it failed.
// Cancellation is honored before each channel, each item, and between
// stages, but never once the marketplace push has begun.
func (o *Orchestrator) Run(ctx context.Context, t *task.Task) error {
	logger := o.Logger.With().
		Str("task_id", t.ID).
		Int64("shop_id", t.ShopID).
		Logger()

	shop, err := o.Shops.Get(ctx, t.ShopID)
	if err != nil {
		return o.fail(ctx, t.ID, logger, err)
	}

	products, err := o.Products.ListByShop(ctx, t.ShopID)
	if err != nil {
		return o.fail(ctx, t.ID, logger, err)
	}
	logger.Info().Int("products", len(products)).Msg("auto sync starting")

	if err := o.fetchStage(ctx, t, products, logger); err != nil {
		return o.settle(ctx, t.ID, logger, err)
	}
	if err := o.updateStage(ctx, t, shop, products, logger); err != nil {
		return o.settle(ctx, t.ID, logger, err)
	}
	if err := o.pushStage(ctx, t, shop, products, logger); err != nil {
		return o.settle(ctx, t.ID, logger, err)
	}

	if err := o.Tasks.Finish(context.WithoutCancel(ctx), t.ID, task.StageCompleted); err != nil {
		return err
	}
	logger.Info().Msg("auto sync completed")
	return nil
}

// fetchStage pulls the latest raw values from every channel the shop's
// products come from. Channels are visited sequentially; failures are
// isolated per channel.
func (o *Orchestrator) fetchStage(ctx context.Context, t *task.Task, products []*repos.Product, logger zerolog.Logger) error {
	if err := o.Tasks.SetStage(ctx, t.ID, task.StageFetchChannel); err != nil {
		return err
	}

	// Group by channel, preserving the (channel, sku) listing order.
	order := make([]int64, 0)
	byChannel := make(map[int64][]*repos.Product)
	for _, p := range products {
		if _, ok := byChannel[p.ChannelID]; !ok {
			order = append(order, p.ChannelID)
		}
		byChannel[p.ChannelID] = append(byChannel[p.ChannelID], p)
	}

	stats := t.SourceStats
	if stats == nil {
		stats = make(map[int64]*task.SourceStat)
	}

	for _, channelID := range order {
		if cancelled, err := o.pollCancel(ctx, t.ID); err != nil {
			return err
		} else if cancelled {
			return errCancelled
		}

		stat := &task.SourceStat{Status: task.SourceRunning}
		stats[channelID] = stat

		if err := o.fetchChannel(ctx, t.ID, channelID, byChannel[channelID], stat); err != nil {
			if errors.Is(err, errCancelled) {
				return err
			}
			stat.Status = task.SourceFailed
			stat.Error = err.Error()
			logger.Warn().Err(err).Int64("channel_id", channelID).Msg("channel fetch failed")
		} else {
			stat.Status = task.SourceCompleted
		}

		if err := o.Tasks.UpdateSourceStats(ctx, t.ID, stats); err != nil {
			return err
		}
	}

	t.SourceStats = stats
	return nil
}

// fetchChannel fetches one channel's products in rate-limited batches and
// stores the raw values on the matching local records.
func (o *Orchestrator) fetchChannel(ctx context.Context, taskID string, channelID int64, products []*repos.Product, stat *task.SourceStat) error {
	ch, err := o.Channels.Get(ctx, channelID)
	if err != nil {
		return err
	}
	gw, err := o.Gateways.Channel(ch.SourceType)
	if err != nil {
		return err
	}

	bySKU := make(map[string]*repos.Product, len(products))
	skus := make([]string, 0, len(products))
	for _, p := range products {
		bySKU[p.SKU] = p
		skus = append(skus, p.SKU)
	}

	for i, batch := range ratelimit.Batches(o.Limiter, skus, ch.SourceType) {
		if i > 0 {
			if err := o.Limiter.Wait(ctx, ch.SourceType); err != nil {
				return err
			}
		}

		fetched, err := gw.FetchProductsBySkus(ctx, batch)
		if err != nil {
			return fmt.Errorf("fetch batch: %w", err)
		}

		for _, item := range fetched {
			if cancelled, err := o.pollCancel(ctx, taskID); err != nil {
				return err
			} else if cancelled {
				return errCancelled
			}

			p, ok := bySKU[item.SKU]
			if !ok {
				continue
			}
			p.OriginalPrice = item.Price
			p.OriginalStock = item.Stock
			p.SetFetchedMeta(fetchedMeta(item))
			if err := o.Products.UpdateFetched(ctx, p.ID, item.Price, item.Stock, p.Extra); err != nil {
				return err
			}
			stat.Fetched++
		}
	}
	return nil
}

// updateStage recomputes local and final values for every product carrying
// freshly fetched metadata. Pure recomputation, so no rate limiting; only
// cancellation polling and progress checkpointing per product.
func (o *Orchestrator) updateStage(ctx context.Context, t *task.Task, shop *repos.Shop, products []*repos.Product, logger zerolog.Logger) error {
	if err := o.Tasks.SetStage(ctx, t.ID, task.StageUpdateLocal); err != nil {
		return err
	}

	priceRules, err := o.Rules.PriceRules(ctx, t.ShopID)
	if err != nil {
		return err
	}
	stockRules, err := o.Rules.StockRules(ctx, t.ShopID)
	if err != nil {
		return err
	}

	progress := 0
	for _, p := range products {
		if cancelled, err := o.pollCancel(ctx, t.ID); err != nil {
			return err
		} else if cancelled {
			return errCancelled
		}

		meta, ok := p.FetchedMeta()
		if !ok {
			continue
		}

		channelPrice := meta.Price
		if shop.PreferDiscounted && meta.DiscountPrice > 0 {
			channelPrice = meta.DiscountPrice
		}
		localPrice := channelPrice + meta.ShippingFee
		p.LocalPrice = localPrice
		p.FinalPrice = rules.ComputeFinalPrice(priceRules.Basis(channelPrice, localPrice), priceRules)
		p.FinalStock = rules.ComputeFinalStock(meta.Stock, stockRules)

		if err := o.Products.UpdateComputed(ctx, p.ID, p.LocalPrice, p.FinalPrice, p.FinalStock); err != nil {
			return err
		}

		progress++
		if err := o.Tasks.UpdateProgress(ctx, t.ID, progress, len(products), t.Checkpoint); err != nil {
			return err
		}
	}

	logger.Info().Int("recomputed", progress).Msg("local values updated")
	return nil
}

// pushStage submits the final prices and stock levels to the shop's
// marketplace as one bulk call each. An unsupported marketplace skips the
// stage. Once this stage starts it runs to completion; cancellation is
// checked one final time before it begins and never afterwards.
func (o *Orchestrator) pushStage(ctx context.Context, t *task.Task, shop *repos.Shop, products []*repos.Product, logger zerolog.Logger) error {
	if cancelled, err := o.pollCancel(ctx, t.ID); err != nil {
		return err
	} else if cancelled {
		return errCancelled
	}

	if err := o.Tasks.SetStage(ctx, t.ID, task.StagePushPlatform); err != nil {
		return err
	}

	gw, err := o.Gateways.Platform(shop.PlatformType)
	if errors.Is(err, gateway.ErrUnsupportedPlatform) {
		logger.Info().Str("platform_type", shop.PlatformType).Msg("marketplace push not supported, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	// A submission must survive a caller shutdown once started.
	ctx = context.WithoutCancel(ctx)

	prices := make([]gateway.PriceUpdate, 0, len(products))
	stocks := make([]gateway.StockUpdate, 0, len(products))
	for _, p := range products {
		// Non-positive prices are policy-excluded, not errors.
		if p.FinalPrice > 0 {
			prices = append(prices, gateway.PriceUpdate{SKU: p.SKU, Price: p.FinalPrice})
		}
		stocks = append(stocks, gateway.StockUpdate{SKU: p.SKU, Stock: p.FinalStock})
	}

	if len(prices) > 0 {
		feed, err := gw.PushPriceUpdate(ctx, prices)
		if err != nil {
			return fmt.Errorf("push price update: %w", err)
		}
		if err := o.Audits.Record(ctx, t.ID, t.ShopID, repos.PushPrice, feed.ID, prices); err != nil {
			return err
		}
		metrics.FeedsSubmitted.WithLabelValues(string(repos.PushPrice)).Inc()
		logger.Info().Str("feed_id", feed.ID).Int("items", len(prices)).Msg("price feed submitted")
	}
	if len(stocks) > 0 {
		feed, err := gw.PushInventoryUpdate(ctx, stocks)
		if err != nil {
			return fmt.Errorf("push inventory update: %w", err)
		}
		if err := o.Audits.Record(ctx, t.ID, t.ShopID, repos.PushInventory, feed.ID, stocks); err != nil {
			return err
		}
		metrics.FeedsSubmitted.WithLabelValues(string(repos.PushInventory)).Inc()
		logger.Info().Str("feed_id", feed.ID).Int("items", len(stocks)).Msg("inventory feed submitted")
	}
	return nil
}

// pollCancel reads the control channel once; the pause signal is not part
// of the auto-sync protocol and is ignored here.
func (o *Orchestrator) pollCancel(ctx context.Context, taskID string) (bool, error) {
	sig, err := o.Signals.Get(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("read control signal: %w", err)
	}
	return sig == control.SignalCancel, nil
}

// settle persists the terminal stage matching the stage error: cancelled
// for the cooperative marker, failed for everything else.
func (o *Orchestrator) settle(ctx context.Context, id string, logger zerolog.Logger, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if errors.Is(cause, errCancelled) {
		if err := o.Tasks.Finish(ctx, id, task.StageCancelled); err != nil {
			return err
		}
		if err := o.Signals.Clear(ctx, id); err != nil {
			logger.Warn().Err(err).Msg("failed to clear control signal")
		}
		logger.Info().Msg("auto sync cancelled")
		return nil
	}
	return o.fail(ctx, id, logger, cause)
}

func (o *Orchestrator) fail(ctx context.Context, id string, logger zerolog.Logger, cause error) error {
	logger.Error().Err(cause).Msg("auto sync failed")
	if err := o.Tasks.MarkFailed(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to persist failure")
	}
	return cause
}

func fetchedMeta(item gateway.RawProduct) repos.FetchedMeta {
	return repos.FetchedMeta{
		Price:         item.Price,
		Stock:         item.Stock,
		ShippingFee:   extraFloat(item.Extra, "shippingFee"),
		DiscountPrice: extraFloat(item.Extra, "discountPrice"),
		FetchedAt:     time.Now(),
	}
}

func extraFloat(extra map[string]interface{}, key string) float64 {
	switch v := extra[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}
