// handlers_session.go - Review sessions: archived runs opened for paged
// sample access and plotting.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/iv-workbench/backend/internal/models"
	"github.com/iv-workbench/backend/internal/session"
)

// SessionHandler serves review sessions.
type SessionHandler struct {
	sessionMgr *session.Manager
}

// NewSessionHandler creates a session handler
func NewSessionHandler(mgr *session.Manager) *SessionHandler {
	return &SessionHandler{sessionMgr: mgr}
}

// OpenSessionRequest names the archived run to open.
type OpenSessionRequest struct {
	Filename string `json:"filename"`
}

// HandleOpen loads an archived run into a review session
func (h *SessionHandler) HandleOpen(c echo.Context) error {
	var req OpenSessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Filename == "" {
		return NewValidationError("filename")
	}

	sess, err := h.sessionMgr.Open(req.Filename)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

// HandleGet returns session metadata
func (h *SessionHandler) HandleGet(c echo.Context) error {
	id := c.Param("sessionId")
	sess, ok := h.sessionMgr.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	h.sessionMgr.Touch(id)
	return c.JSON(http.StatusOK, sess)
}

// HandleKeepAlive refreshes the session's cleanup clock
func (h *SessionHandler) HandleKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if !h.sessionMgr.Touch(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type samplesResponse struct {
	Samples []models.Sample `json:"samples"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
	Total   int             `json:"total"`
}

func (h *SessionHandler) pageSamples(c echo.Context) (*samplesResponse, *APIError) {
	id := c.Param("sessionId")

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 1000
	}

	h.sessionMgr.Touch(id)
	samples, total, ok := h.sessionMgr.Samples(c.Request().Context(), id, offset, limit)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	return &samplesResponse{Samples: samples, Offset: offset, Limit: limit, Total: total}, nil
}

// HandleSamples returns a page of samples in acquisition order
func (h *SessionHandler) HandleSamples(c echo.Context) error {
	resp, apiErr := h.pageSamples(c)
	if apiErr != nil {
		return apiErr
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleSamplesMsgpack returns a sample page in MessagePack format.
// MessagePack is 30-50% smaller than JSON for dense numeric data.
func (h *SessionHandler) HandleSamplesMsgpack(c echo.Context) error {
	resp, apiErr := h.pageSamples(c)
	if apiErr != nil {
		return apiErr
	}

	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleEnvelope returns plot axis bounds for the session
func (h *SessionHandler) HandleEnvelope(c echo.Context) error {
	id := c.Param("sessionId")
	env, ok := h.sessionMgr.Envelope(c.Request().Context(), id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, env)
}

// HandleClose releases a session
func (h *SessionHandler) HandleClose(c echo.Context) error {
	id := c.Param("sessionId")
	if !h.sessionMgr.Close(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}
