package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires the control API onto the Echo instance.
func RegisterRoutes(e *echo.Echo, control *ControlHandler) {
	e.GET("/health", control.Health)
	e.GET("/stats", control.Stats)
	e.GET("/stats/live", control.Live)
	e.GET("/config", control.GetConfig)
	e.POST("/config", control.UpdateConfig)
	e.POST("/reset-stats", control.ResetStats)
}
