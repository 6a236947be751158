// handlers_presets.go - Named measurement recipes stored in the preset file.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iv-workbench/backend/internal/config"
)

// PresetHandler serves the measurement preset store.
type PresetHandler struct {
	presets *config.PresetStore
}

// NewPresetHandler creates a preset handler
func NewPresetHandler(presets *config.PresetStore) *PresetHandler {
	return &PresetHandler{presets: presets}
}

// HandleList returns all presets
func (h *PresetHandler) HandleList(c echo.Context) error {
	presets := h.presets.List()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"presets": presets,
		"total":   len(presets),
	})
}

// HandleGet returns one preset by name
func (h *PresetHandler) HandleGet(c echo.Context) error {
	name := c.Param("name")
	preset, ok := h.presets.Get(name)
	if !ok {
		return NewNotFoundError("preset", name)
	}
	return c.JSON(http.StatusOK, preset)
}

// HandlePut creates or replaces a preset
func (h *PresetHandler) HandlePut(c echo.Context) error {
	var preset config.Preset
	if err := c.Bind(&preset); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	preset.Name = c.Param("name")

	if err := h.presets.Put(preset); err != nil {
		return NewBadRequestError("invalid preset", err)
	}
	return c.JSON(http.StatusOK, preset)
}

// HandleDelete removes a preset
func (h *PresetHandler) HandleDelete(c echo.Context) error {
	name := c.Param("name")
	if err := h.presets.Delete(name); err != nil {
		return NewNotFoundError("preset", name)
	}
	return c.NoContent(http.StatusNoContent)
}
