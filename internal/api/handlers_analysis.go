// handlers_analysis.go - Post-hoc analysis over a review session's samples.
// Analysis is pure: the same session yields the same report every time.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iv-workbench/backend/internal/analyzer"
	"github.com/iv-workbench/backend/internal/models"
	"github.com/iv-workbench/backend/internal/session"
)

// AnalysisHandler computes analysis reports for review sessions.
type AnalysisHandler struct {
	sessionMgr *session.Manager
}

// NewAnalysisHandler creates an analysis handler
func NewAnalysisHandler(mgr *session.Manager) *AnalysisHandler {
	return &AnalysisHandler{sessionMgr: mgr}
}

func (h *AnalysisHandler) sessionSamples(c echo.Context) ([]models.Sample, *APIError) {
	id := c.Param("sessionId")
	h.sessionMgr.Touch(id)
	samples, ok := h.sessionMgr.All(c.Request().Context(), id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	return samples, nil
}

// sourceFunction reads the optional ?source= override, defaulting to
// voltage-sourced, the common case for IV sweeps.
func sourceFunction(c echo.Context) models.SourceFunction {
	if c.QueryParam("source") == string(models.SourceCurrent) {
		return models.SourceCurrent
	}
	return models.SourceVoltage
}

// HandleSummary returns the per-run report
func (h *AnalysisHandler) HandleSummary(c echo.Context) error {
	samples, apiErr := h.sessionSamples(c)
	if apiErr != nil {
		return apiErr
	}
	return c.JSON(http.StatusOK, analyzer.Summarize(samples, sourceFunction(c)))
}

// HandleResistance returns resistance statistics
func (h *AnalysisHandler) HandleResistance(c echo.Context) error {
	samples, apiErr := h.sessionSamples(c)
	if apiErr != nil {
		return apiErr
	}
	return c.JSON(http.StatusOK, analyzer.ResistanceStatistics(samples))
}

// HandleBreakdown runs breakdown detection at the given threshold
func (h *AnalysisHandler) HandleBreakdown(c echo.Context) error {
	threshold, err := strconv.ParseFloat(c.QueryParam("threshold"), 64)
	if err != nil || threshold <= 0 {
		return NewValidationError("threshold")
	}

	samples, apiErr := h.sessionSamples(c)
	if apiErr != nil {
		return apiErr
	}
	return c.JSON(http.StatusOK, analyzer.DetectBreakdown(samples, threshold))
}

// HandleHysteresis compares forward and reverse sweep branches
func (h *AnalysisHandler) HandleHysteresis(c echo.Context) error {
	samples, apiErr := h.sessionSamples(c)
	if apiErr != nil {
		return apiErr
	}
	return c.JSON(http.StatusOK, analyzer.DetectHysteresis(samples))
}

// HandleDifferential returns dV/dI estimates along the IV curve
func (h *AnalysisHandler) HandleDifferential(c echo.Context) error {
	samples, apiErr := h.sessionSamples(c)
	if apiErr != nil {
		return apiErr
	}
	points := analyzer.DifferentialResistance(samples, sourceFunction(c))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"points": points,
		"total":  len(points),
	})
}
