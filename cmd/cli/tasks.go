package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/control"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/database"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

var (
	tasksShopID int64
	tasksStage  string
	tasksLimit  int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and control sync tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync tasks",
	Example: `  sync-service tasks list
  sync-service tasks list --shop 1 --stage running`,
	RunE: runTasksList,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a sync task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksCancel,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksCancelCmd)

	tasksListCmd.Flags().Int64Var(&tasksShopID, "shop", 0, "Filter by shop id")
	tasksListCmd.Flags().StringVar(&tasksStage, "stage", "", "Filter by stage")
	tasksListCmd.Flags().IntVar(&tasksLimit, "limit", 50, "Maximum number of tasks to show")
}

func runTasksList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := task.NewPGStore(database.Pool())

	tasks, err := store.List(ctx, task.Filter{
		ShopID: tasksShopID,
		Stage:  task.Stage(tasksStage),
		Limit:  tasksLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSHOP\tSTAGE\tPROGRESS\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d/%d\t%s\n",
			t.ID, t.Kind, t.ShopID, t.Stage, t.Progress, t.Total,
			t.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store := task.NewPGStore(database.Pool())
	taskID := args[0]

	t, err := store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}

	if t.Stage.Terminal() {
		return fmt.Errorf("task %s already finished (%s)", taskID, t.Stage)
	}

	// A pending task has no worker observing signals yet, so it can be
	// moved to cancelled directly.
	if t.Stage == task.StagePending {
		if err := store.Finish(ctx, taskID, task.StageCancelled); err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
		logger.Info().Str("task_id", taskID).Msg("Task cancelled")
		return nil
	}

	// An active task is cancelled cooperatively: the worker stops at its
	// next poll point. That only reaches another process through redis.
	if !cfg.Redis.Enabled {
		return fmt.Errorf("task %s is %s; cancelling an active task requires redis control signals or the HTTP API", taskID, t.Stage)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	signals, err := control.NewRedis(rdb, 0)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	if err := signals.Set(ctx, taskID, control.SignalCancel); err != nil {
		return fmt.Errorf("failed to send cancel signal: %w", err)
	}

	logger.Info().Str("task_id", taskID).Msg("Cancel signal sent")
	return nil
}
