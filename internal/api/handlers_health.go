// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iv-workbench/backend/internal/engine"
)

// HealthHandler reports server liveness and the engine state.
type HealthHandler struct {
	version string
	engine  *engine.Controller
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, eng *engine.Controller) *HealthHandler {
	return &HealthHandler{version: version, engine: eng}
}

// HandleHealth returns server health status
func (h *HealthHandler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"engine":  h.engine.Status().State,
	})
}
