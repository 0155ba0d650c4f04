package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/database"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

var autosyncShopID int64

// autosyncCmd enqueues the three-stage auto-sync for one shop
var autosyncCmd = &cobra.Command{
	Use:     "autosync",
	Short:   "Enqueue the fetch/update/push auto-sync for a shop",
	Example: `  sync-service autosync --shop 1`,
	RunE:    runAutosync,
}

func init() {
	rootCmd.AddCommand(autosyncCmd)

	autosyncCmd.Flags().Int64Var(&autosyncShopID, "shop", 0, "Shop id (required)")
	autosyncCmd.MarkFlagRequired("shop")
}

func runAutosync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := task.NewPGStore(database.Pool())

	t := task.New(task.KindAutoSync, autosyncShopID)
	if err := store.Create(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue auto sync: %w", err)
	}

	logger.Info().
		Str("task_id", t.ID).
		Int64("shop_id", autosyncShopID).
		Msg("Auto sync enqueued")
	return nil
}
