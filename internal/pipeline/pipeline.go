// Package pipeline runs rule-driven synchronization: fetch new or updated
// items from one upstream channel, transform them through the shop's price
// and stock rules, and push each transformed record to the marketplace.
// Stages are strictly sequential; an error in any stage fails the whole run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/gateway"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/ratelimit"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/repos"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/rules"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

// RuleAccess loads sync rules and records completed runs.
type RuleAccess interface {
	Get(ctx context.Context, id int64) (*repos.SyncRule, error)
	UpdateSyncTimes(ctx context.Context, id int64, last, next time.Time) error
}

// RunLogger is the run-level log of one pipeline execution.
type RunLogger interface {
	Create(ctx context.Context, ruleID int64) (string, error)
	Complete(ctx context.Context, id string, status repos.RunStatus, total, succeeded, failed int) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// ProductUpserter writes transformed records keyed by (source name, sku).
type ProductUpserter interface {
	UpsertBySource(ctx context.Context, p *repos.Product) error
}

// GatewayResolver resolves channel and platform gateways by type.
type GatewayResolver interface {
	Channel(sourceType string) (gateway.ChannelGateway, error)
	Platform(platformType string) (gateway.PlatformGateway, error)
}

// Pipeline executes pipeline_sync tasks.
type Pipeline struct {
	Tasks    task.Store
	Rules    RuleAccess
	RunLogs  RunLogger
	Products ProductUpserter
	Gateways GatewayResolver
	Limiter  *ratelimit.Limiter
	Logger   zerolog.Logger
}

// Run executes the fetch, transform and push stages for the task's rule.
// A stage error finalizes the run log as failed and stops; per-item push
// failures only count against the run outcome.
func (pl *Pipeline) Run(ctx context.Context, t *task.Task) error {
	if t.RuleID == nil {
		return pl.fail(ctx, t.ID, "", pl.Logger, fmt.Errorf("pipeline task %s has no rule", t.ID))
	}

	rule, err := pl.Rules.Get(ctx, *t.RuleID)
	if err != nil {
		return pl.fail(ctx, t.ID, "", pl.Logger, err)
	}

	logger := pl.Logger.With().
		Str("task_id", t.ID).
		Int64("rule_id", rule.ID).
		Str("channel", rule.ChannelName).
		Logger()

	if t.Stage == task.StagePending {
		if err := pl.Tasks.SetStage(ctx, t.ID, task.StageRunning); err != nil {
			return err
		}
	}

	runID, err := pl.RunLogs.Create(ctx, rule.ID)
	if err != nil {
		return pl.fail(ctx, t.ID, "", logger, err)
	}

	items, err := pl.fetch(ctx, rule, logger)
	if err != nil {
		return pl.fail(ctx, t.ID, runID, logger, fmt.Errorf("fetch stage: %w", err))
	}
	logger.Info().Int("items", len(items)).Bool("incremental", rule.Incremental).Msg("fetch stage done")

	transformed, err := pl.transform(ctx, t, rule, items)
	if err != nil {
		return pl.fail(ctx, t.ID, runID, logger, fmt.Errorf("transform stage: %w", err))
	}

	succeeded, failed, err := pl.push(ctx, rule, transformed, logger)
	if err != nil {
		return pl.fail(ctx, t.ID, runID, logger, fmt.Errorf("push stage: %w", err))
	}

	status := repos.RunSuccess
	switch {
	case failed > 0 && succeeded > 0:
		status = repos.RunPartial
	case failed > 0:
		status = repos.RunFailed
	}
	if err := pl.RunLogs.Complete(ctx, runID, status, len(transformed), succeeded, failed); err != nil {
		return pl.fail(ctx, t.ID, "", logger, err)
	}

	now := time.Now()
	if err := pl.Rules.UpdateSyncTimes(ctx, rule.ID, now, now.Add(rule.Interval)); err != nil {
		return pl.fail(ctx, t.ID, "", logger, err)
	}

	if err := pl.Tasks.Finish(context.WithoutCancel(ctx), t.ID, task.StageCompleted); err != nil {
		return err
	}
	logger.Info().
		Str("run_id", runID).
		Str("status", string(status)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("pipeline run finished")
	return nil
}

// fetch pulls the rule's items from its channel. Incremental mode uses the
// channel's updated-since capability when available and a last sync time
// exists; everything else walks full pagination.
func (pl *Pipeline) fetch(ctx context.Context, rule *repos.SyncRule, logger zerolog.Logger) ([]gateway.RawProduct, error) {
	gw, err := pl.Gateways.Channel(rule.SourceType)
	if err != nil {
		return nil, err
	}

	if rule.Incremental && rule.LastSyncAt != nil {
		if inc, ok := gw.(gateway.IncrementalFetcher); ok {
			return inc.FetchUpdatedSince(ctx, rule.LastSyncAt.Unix())
		}
		logger.Debug().Msg("channel has no incremental fetch, falling back to full pagination")
	}

	var items []gateway.RawProduct
	offset := 0
	for {
		if offset > 0 {
			if err := pl.Limiter.Wait(ctx, rule.SourceType); err != nil {
				return nil, err
			}
		}
		page, err := gw.FetchPage(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("page at offset %d: %w", offset, err)
		}
		items = append(items, page.Items...)
		offset += len(page.Items)
		if page.IsLast || len(page.Items) == 0 {
			return items, nil
		}
	}
}

// transform applies the rule's price and stock rules to each fetched item
// and upserts the local record.
func (pl *Pipeline) transform(ctx context.Context, t *task.Task, rule *repos.SyncRule, items []gateway.RawProduct) ([]*repos.Product, error) {
	out := make([]*repos.Product, 0, len(items))
	for i, item := range items {
		p := &repos.Product{
			ShopID:        rule.ShopID,
			ChannelID:     rule.ChannelID,
			SourceName:    rule.ChannelName,
			SKU:           item.SKU,
			Title:         item.Title,
			Currency:      item.Currency,
			OriginalPrice: item.Price,
			OriginalStock: item.Stock,
			LocalPrice:    item.Price,
			FinalStock:    rules.ComputeFinalStock(item.Stock, rule.StockRules),
			Extra:         item.Extra,
		}
		// Rule pipelines carry no shipping, so the local price equals the
		// channel price and the rule set's basis selector is a formality.
		p.FinalPrice = rules.ComputeFinalPrice(rule.PriceRules.Basis(item.Price, p.LocalPrice), rule.PriceRules)
		if err := pl.Products.UpsertBySource(ctx, p); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", item.SKU, err)
		}
		out = append(out, p)

		if err := pl.Tasks.UpdateProgress(ctx, t.ID, i+1, len(items), t.Checkpoint); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// push submits each transformed record individually, counting successes and
// failures. A rejected or errored item counts against the run but does not
// stop the remaining items.
func (pl *Pipeline) push(ctx context.Context, rule *repos.SyncRule, products []*repos.Product, logger zerolog.Logger) (succeeded, failed int, err error) {
	gw, err := pl.Gateways.Platform(rule.PlatformType)
	if err != nil {
		return 0, 0, err
	}

	for _, p := range products {
		res, err := gw.SyncProduct(ctx, gateway.PushItem{
			SKU:   p.SKU,
			Title: p.Title,
			Price: p.FinalPrice,
			Stock: p.FinalStock,
		})
		if err != nil {
			failed++
			logger.Warn().Err(err).Str("sku", p.SKU).Msg("product push failed")
			continue
		}
		if !res.Success {
			failed++
			logger.Warn().Str("sku", p.SKU).Str("error", res.Error).Msg("product push rejected")
			continue
		}
		succeeded++
	}
	return succeeded, failed, nil
}

// fail finalizes the run log (when one exists) and the task as failed.
func (pl *Pipeline) fail(ctx context.Context, taskID, runID string, logger zerolog.Logger, cause error) error {
	ctx = context.WithoutCancel(ctx)
	logger.Error().Err(cause).Msg("pipeline run failed")
	if runID != "" {
		if err := pl.RunLogs.MarkFailed(ctx, runID, cause.Error()); err != nil {
			logger.Error().Err(err).Msg("failed to finalize run log")
		}
	}
	if err := pl.Tasks.MarkFailed(ctx, taskID, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to persist failure")
	}
	return cause
}
