// Package handler implements the control API surface: health, stats, and
// runtime configuration over JSON, plus the live stats feed.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/stats"
)

// connectorType describes the upstream pooling mechanism in GET /config.
const connectorType = "http.Transport with connection pooling"

// ControlHandler serves the management endpoints next to the data path.
type ControlHandler struct {
	cfg    *config.Config
	rt     *config.Runtime
	reg    *stats.Register
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(cfg *config.Config, rt *config.Runtime, reg *stats.Register, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		cfg:    cfg,
		rt:     rt,
		reg:    reg,
		logger: logger.With("component", "control"),
	}
}

// Health reports liveness and the number of in-flight forwards.
func (h *ControlHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "healthy",
		"timestamp":          time.Now(),
		"active_connections": h.reg.Active(),
	})
}

// Stats returns the current counter snapshot.
func (h *ControlHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.reg.Snapshot(time.Now()))
}

// GetConfig returns the effective configuration, with the runtime-mutable
// fields read from the live view.
func (h *ControlHandler) GetConfig(c echo.Context) error {
	target, maxConns := h.rt.View()
	return c.JSON(http.StatusOK, map[string]any{
		"proxy_host":      h.cfg.Proxy.Host,
		"proxy_port":      h.cfg.Proxy.Port,
		"api_host":        h.cfg.API.Host,
		"api_port":        h.cfg.API.Port,
		"target_url":      target,
		"max_connections": maxConns,
		"connector_type":  connectorType,
	})
}

// configUpdate is the accepted PATCH-style body for POST /config. Pointer
// fields distinguish "absent" from zero values.
type configUpdate struct {
	TargetURL      *string `json:"target_url"`
	MaxConnections *int    `json:"max_connections"`
}

// UpdateConfig applies target_url and max_connections to the runtime view.
// The transport pool itself is sized at startup; an updated max_connections
// changes the advertised value and the next start.
func (h *ControlHandler) UpdateConfig(c echo.Context) error {
	var upd configUpdate
	if err := json.NewDecoder(c.Request().Body).Decode(&upd); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if upd.TargetURL != nil {
		if err := config.ValidateTargetURL(*upd.TargetURL); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}
	if upd.MaxConnections != nil && *upd.MaxConnections < 1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "max_connections must be at least 1"})
	}

	if upd.TargetURL != nil {
		h.rt.SetTargetURL(*upd.TargetURL)
		h.logger.Info("target url updated", "target_url", *upd.TargetURL)
	}
	if upd.MaxConnections != nil {
		h.rt.SetMaxConnections(*upd.MaxConnections)
		h.logger.Info("max connections updated", "max_connections", *upd.MaxConnections)
	}

	target, maxConns := h.rt.View()
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Configuration updated successfully",
		"config": map[string]any{
			"max_connections": maxConns,
			"target_url":      target,
		},
	})
}

// ResetStats zeroes the counters and restarts the uptime clock.
func (h *ControlHandler) ResetStats(c echo.Context) error {
	h.reg.Reset(time.Now())
	h.logger.Info("statistics reset")
	return c.JSON(http.StatusOK, map[string]string{"message": "Statistics reset"})
}
