// Package handlers is the internal HTTP control surface: trigger syncs,
// pause/resume/cancel running tasks, and query task status.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/control"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/middleware"
	"github.com/inspoaibox/Ecommerce-sync-sub008/internal/task"
)

// API bundles the dependencies of the control surface.
type API struct {
	Tasks   task.Store
	Signals control.Channel
}

// Register wires all routes onto the engine. The internal group carries
// auth and the service rate limit; health and metrics stay open for
// orchestration probes and scrapers.
func (a *API) Register(r *gin.Engine, apiKey string, requestsPerSecond float64, burstSize int) {
	r.GET("/health", HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	internal := r.Group("/internal")
	internal.Use(middleware.InternalAuth(apiKey))
	internal.Use(middleware.ServiceRateLimit(requestsPerSecond, burstSize))

	internal.POST("/sync/trigger", a.TriggerSync)
	internal.GET("/tasks", a.ListTasks)
	internal.GET("/tasks/:id", a.GetTask)
	internal.POST("/tasks/:id/pause", a.PauseTask)
	internal.POST("/tasks/:id/resume", a.ResumeTask)
	internal.POST("/tasks/:id/cancel", a.CancelTask)
}
