package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/control"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

// TriggerSyncRequest represents a manual sync trigger.
type TriggerSyncRequest struct {
	Kind   string `json:"kind" binding:"required"`
	ShopID int64  `json:"shopId" binding:"required"`
	RuleID *int64 `json:"ruleId"`
}

// TaskResponse is the wire shape of one task.
type TaskResponse struct {
	ID           string                     `json:"id"`
	Kind         string                     `json:"kind"`
	ShopID       int64                      `json:"shopId"`
	RuleID       *int64                     `json:"ruleId,omitempty"`
	Stage        string                     `json:"stage"`
	Progress     int                        `json:"progress"`
	Total        int                        `json:"total"`
	Created      int                        `json:"created"`
	Updated      int                        `json:"updated"`
	Skipped      int                        `json:"skipped"`
	SourceStats  map[int64]*task.SourceStat `json:"sourceStats,omitempty"`
	ErrorMessage *string                    `json:"errorMessage,omitempty"`
	StartedAt    *time.Time                 `json:"startedAt,omitempty"`
	FinishedAt   *time.Time                 `json:"finishedAt,omitempty"`
	CreatedAt    time.Time                  `json:"createdAt"`
}

func toTaskResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Kind:         string(t.Kind),
		ShopID:       t.ShopID,
		RuleID:       t.RuleID,
		Stage:        string(t.Stage),
		Progress:     t.Progress,
		Total:        t.Total,
		Created:      t.Checkpoint.Created(),
		Updated:      t.Checkpoint.Updated(),
		Skipped:      t.Checkpoint.Skipped(),
		SourceStats:  t.SourceStats,
		ErrorMessage: t.ErrorMessage,
		StartedAt:    t.StartedAt,
		FinishedAt:   t.FinishedAt,
		CreatedAt:    t.CreatedAt,
	}
}

var validKinds = map[task.Kind]bool{
	task.KindBatchSync:    true,
	task.KindAutoSync:     true,
	task.KindPipelineSync: true,
}

// TriggerSync creates a pending task for the workers to pick up.
func (a *API) TriggerSync(c *gin.Context) {
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := task.Kind(req.Kind)
	if !validKinds[kind] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown task kind: " + req.Kind})
		return
	}
	if kind == task.KindPipelineSync && req.RuleID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pipeline_sync requires ruleId"})
		return
	}

	t := task.New(kind, req.ShopID)
	t.RuleID = req.RuleID
	if err := task.SeedFromLastFailure(c.Request.Context(), a.Tasks, t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	err := a.Tasks.Create(c.Request.Context(), t)
	if errors.Is(err, task.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toTaskResponse(t))
}

// GetTask returns one task with its live progress and per-source stats.
func (a *API) GetTask(c *gin.Context) {
	t, ok := a.loadTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(t))
}

// ListTasksRequest represents query parameters for listing tasks.
type ListTasksRequest struct {
	ShopID int64  `form:"shopId"`
	Kind   string `form:"kind"`
	Stage  string `form:"stage"`
	Limit  int    `form:"limit" binding:"min=0,max=200"`
}

// ListTasks returns tasks newest first, with optional filters.
func (a *API) ListTasks(c *gin.Context) {
	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks, err := a.Tasks.List(c.Request.Context(), task.Filter{
		ShopID: req.ShopID,
		Kind:   task.Kind(req.Kind),
		Stage:  task.Stage(req.Stage),
		Limit:  req.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out, "total": len(out)})
}

// PauseTask asks a running task to park at its next poll point.
func (a *API) PauseTask(c *gin.Context) {
	t, ok := a.loadTask(c)
	if !ok {
		return
	}
	if t.Stage.Terminal() || t.Stage == task.StagePaused {
		c.JSON(http.StatusConflict, gin.H{"error": "task is not running", "stage": string(t.Stage)})
		return
	}

	if err := a.Signals.Set(c.Request.Context(), t.ID, control.SignalPause); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": t.ID, "signal": string(control.SignalPause)})
}

// ResumeTask clears a pending pause so the parked loop continues.
func (a *API) ResumeTask(c *gin.Context) {
	t, ok := a.loadTask(c)
	if !ok {
		return
	}
	if t.Stage.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "task already finished", "stage": string(t.Stage)})
		return
	}

	if err := a.Signals.Clear(c.Request.Context(), t.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": t.ID})
}

// CancelTask stops a task. A still-pending task is cancelled directly in
// the store; a running one gets the cooperative signal and stops at its
// next poll point.
func (a *API) CancelTask(c *gin.Context) {
	t, ok := a.loadTask(c)
	if !ok {
		return
	}
	if t.Stage.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "task already finished", "stage": string(t.Stage)})
		return
	}

	ctx := c.Request.Context()
	if t.Stage == task.StagePending {
		if err := a.Tasks.Finish(ctx, t.ID, task.StageCancelled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// A pause set while the task was still pending would otherwise
		// sit in the signal map forever; no worker will ever read it.
		if err := a.Signals.Clear(ctx, t.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": t.ID, "stage": string(task.StageCancelled)})
		return
	}

	if err := a.Signals.Set(ctx, t.ID, control.SignalCancel); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": t.ID, "signal": string(control.SignalCancel)})
}

func (a *API) loadTask(c *gin.Context) (*task.Task, bool) {
	t, err := a.Tasks.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return t, true
}
