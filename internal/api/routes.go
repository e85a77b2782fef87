package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/quotawatch/internal/display"
	"github.com/rs/zerolog"
)

// Controller is the subset of the monitor the API drives.
type Controller interface {
	LimitReached() error
	Clear() error
	Refresh() error
	Snapshot(ctx context.Context) (display.Snapshot, error)
}

// Deps holds dependencies needed for the API routes. Recorder is optional;
// when set, status is served from it without a round trip to the monitor.
type Deps struct {
	Controller Controller
	Recorder   *display.Recorder
	Logger     zerolog.Logger
}

// SetupRoutes registers all control routes with the Gin engine.
func SetupRoutes(r *gin.Engine, deps *Deps) {
	r.Use(LoggingMiddleware(deps.Logger))

	views := NewViews(deps.Controller, deps.Recorder, deps.Logger)

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/status", views.Status)
		api.POST("/limit", views.Limit)
		api.POST("/clear", views.Clear)
		api.POST("/refresh", views.Refresh)
	}
}
