// handlers_run.go - Run control surface: start, pause, resume, stop, status.
// All control calls return immediately; progress is observed via status
// polling or the live WebSocket feed.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iv-workbench/backend/internal/config"
	"github.com/iv-workbench/backend/internal/engine"
	"github.com/iv-workbench/backend/internal/instrument"
	"github.com/iv-workbench/backend/internal/models"
	"github.com/iv-workbench/backend/internal/plan"
	"github.com/iv-workbench/backend/internal/storage"
)

// RunHandler drives the acquisition engine.
type RunHandler struct {
	engine  *engine.Controller
	port    instrument.Port
	archive *storage.Archive
	presets *config.PresetStore
}

// NewRunHandler creates a run control handler
func NewRunHandler(eng *engine.Controller, port instrument.Port, archive *storage.Archive, presets *config.PresetStore) *RunHandler {
	return &RunHandler{engine: eng, port: port, archive: archive, presets: presets}
}

// StartRunRequest is the body of POST /api/runs. Either a preset name or an
// inline recipe; inline fields override the preset's when both are given.
type StartRunRequest struct {
	Preset   string              `json:"preset,omitempty"`
	Name     string              `json:"name,omitempty"`
	Kind     models.RunKind      `json:"kind,omitempty"`
	Settings *models.Settings    `json:"settings,omitempty"`
	Sweep    *models.SweepPlan   `json:"sweep,omitempty"`
	Monitor  *models.MonitorPlan `json:"monitor,omitempty"`
}

// StartRunResponse is the immediate acknowledgment of a started run.
type StartRunResponse struct {
	RunID         string         `json:"runId"`
	Kind          models.RunKind `json:"kind"`
	PlannedPoints int            `json:"plannedPoints"`
	PrimaryLog    string         `json:"primaryLog"`
	CacheLog      string         `json:"cacheLog"`
}

// HandleStartRun validates the recipe, builds the plan and launches the run
func (h *RunHandler) HandleStartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	settings := models.DefaultSettings()
	sweep := req.Sweep
	monitor := req.Monitor
	kind := req.Kind

	if req.Preset != "" {
		preset, ok := h.presets.Get(req.Preset)
		if !ok {
			return NewNotFoundError("preset", req.Preset)
		}
		settings = preset.Settings
		kind = preset.Kind
		if sweep == nil {
			sweep = preset.Sweep
		}
		if monitor == nil {
			monitor = preset.Monitor
		}
	}
	if req.Settings != nil {
		settings = *req.Settings
	}

	var p *plan.Plan
	var err error
	switch {
	case kind == models.RunKindMonitor || (kind == "" && monitor != nil && sweep == nil):
		if monitor == nil {
			return NewValidationError("monitor")
		}
		p, err = plan.BuildMonitor(*monitor)
	default:
		if sweep == nil {
			return NewValidationError("sweep")
		}
		p, err = plan.BuildSweep(*sweep)
	}
	if err != nil {
		return err
	}

	primaryPath, cachePath := h.archive.NewRunPaths(p.Kind, req.Name)
	runID, err := h.engine.Start(p, h.port, settings, primaryPath, cachePath)
	if err != nil {
		if _, ok := err.(*models.ConfigurationError); ok {
			return err
		}
		return NewConflictError(err.Error())
	}

	return c.JSON(http.StatusAccepted, StartRunResponse{
		RunID:         runID,
		Kind:          p.Kind,
		PlannedPoints: p.Len(),
		PrimaryLog:    primaryPath,
		CacheLog:      cachePath,
	})
}

// HandleStatus returns the live run status snapshot
func (h *RunHandler) HandleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Status())
}

// HandleLastResult returns the terminal record of the most recent run
func (h *RunHandler) HandleLastResult(c echo.Context) error {
	result := h.engine.LastResult()
	if result == nil {
		return NewNotFoundError("run result", "none")
	}
	return c.JSON(http.StatusOK, result)
}

// HandlePause suspends acquisition before the next setpoint
func (h *RunHandler) HandlePause(c echo.Context) error {
	h.engine.Pause()
	return c.JSON(http.StatusOK, h.engine.Status())
}

// HandleResume continues a paused run at the pending setpoint
func (h *RunHandler) HandleResume(c echo.Context) error {
	h.engine.Resume()
	return c.JSON(http.StatusOK, h.engine.Status())
}

// HandleStop requests cooperative cancellation of the active run
func (h *RunHandler) HandleStop(c echo.Context) error {
	h.engine.Stop()
	return c.JSON(http.StatusOK, h.engine.Status())
}
