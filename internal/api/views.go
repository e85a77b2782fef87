package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/quotawatch/internal/display"
	"github.com/goodtune/quotawatch/internal/monitor"
	"github.com/rs/zerolog"
)

// Views handles control API requests.
type Views struct {
	controller Controller
	recorder   *display.Recorder
	logger     zerolog.Logger
}

// NewViews creates a new views instance.
func NewViews(controller Controller, recorder *display.Recorder, logger zerolog.Logger) *Views {
	return &Views{
		controller: controller,
		recorder:   recorder,
		logger:     logger.With().Str("handler", "control").Logger(),
	}
}

// Status returns the most recent snapshot.
func (v *Views) Status(ctx *gin.Context) {
	if v.recorder != nil {
		if snap, ok := v.recorder.Latest(); ok {
			ctx.JSON(http.StatusOK, snap)
			return
		}
	}

	snap, err := v.controller.Snapshot(ctx.Request.Context())
	if err != nil {
		v.fail(ctx, "status", err)
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// Limit signals that the usage limit was reached.
func (v *Views) Limit(ctx *gin.Context) {
	v.action(ctx, "limit", v.controller.LimitReached)
}

// Clear dismisses the current limit.
func (v *Views) Clear(ctx *gin.Context) {
	v.action(ctx, "clear", v.controller.Clear)
}

// Refresh requests an immediate re-evaluation.
func (v *Views) Refresh(ctx *gin.Context) {
	v.action(ctx, "refresh", v.controller.Refresh)
}

func (v *Views) action(ctx *gin.Context, name string, fn func() error) {
	if err := fn(); err != nil {
		v.fail(ctx, name, err)
		return
	}

	v.logger.Info().Str("action", name).Msg("Control action accepted")
	ctx.JSON(http.StatusAccepted, gin.H{"action": name, "accepted": true})
}

func (v *Views) fail(ctx *gin.Context, name string, err error) {
	status := http.StatusInternalServerError
	code := "server_error"
	if errors.Is(err, monitor.ErrStopped) {
		status = http.StatusServiceUnavailable
		code = "stopped"
	}

	v.logger.Error().Err(err).Str("action", name).Msg("Control action failed")
	ctx.JSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}
