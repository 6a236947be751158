// handlers_archive.go - Archived run listing, download and cache recovery.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iv-workbench/backend/internal/storage"
)

// ArchiveHandler serves the on-disk run archive.
type ArchiveHandler struct {
	archive *storage.Archive
}

// NewArchiveHandler creates an archive handler
func NewArchiveHandler(archive *storage.Archive) *ArchiveHandler {
	return &ArchiveHandler{archive: archive}
}

// HandleList returns archived runs, most recent first
func (h *ArchiveHandler) HandleList(c echo.Context) error {
	infos, err := h.archive.List()
	if err != nil {
		return NewInternalError("failed to list archive", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  infos,
		"total": len(infos),
	})
}

// HandleInfo returns metadata for one archived run
func (h *ArchiveHandler) HandleInfo(c echo.Context) error {
	filename := c.Param("filename")
	if filename == "" {
		return NewValidationError("filename")
	}
	info, err := h.archive.Info(filename)
	if err != nil {
		return NewNotFoundError("run log", filename)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDownload streams the raw log file
func (h *ArchiveHandler) HandleDownload(c echo.Context) error {
	filename := c.Param("filename")
	if filename == "" {
		return NewValidationError("filename")
	}
	path, err := h.archive.Path(filename)
	if err != nil {
		return NewNotFoundError("run log", filename)
	}
	return c.Attachment(path, filename)
}

// RecoverRequest names a cache log to restore into the archive.
type RecoverRequest struct {
	CacheFilename string `json:"cacheFilename"`
}

// HandleRecover copies a cache log into the data directory as a recovered run
func (h *ArchiveHandler) HandleRecover(c echo.Context) error {
	var req RecoverRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.CacheFilename == "" {
		return NewValidationError("cacheFilename")
	}

	recovered, err := h.archive.RecoverFromCache(req.CacheFilename)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"filename": recovered})
}
