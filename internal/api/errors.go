// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iv-workbench/backend/internal/models"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// fromDomainError maps the measurement error taxonomy onto HTTP statuses:
// bad recipes are the client's fault, instrument trouble is upstream, and
// disk trouble is ours.
func fromDomainError(err error) (*APIError, bool) {
	var cfgErr *models.ConfigurationError
	if errors.As(err, &cfgErr) {
		return &APIError{
			Status:  http.StatusBadRequest,
			Code:    "CONFIGURATION_ERROR",
			Message: cfgErr.Error(),
		}, true
	}
	var commErr *models.CommunicationError
	if errors.As(err, &commErr) {
		return &APIError{
			Status:  http.StatusBadGateway,
			Code:    "COMMUNICATION_ERROR",
			Message: commErr.Error(),
		}, true
	}
	var faultErr *models.FaultError
	if errors.As(err, &faultErr) {
		return &APIError{
			Status:  http.StatusConflict,
			Code:    "INSTRUMENT_FAULT",
			Message: faultErr.Error(),
		}, true
	}
	var fileErr *models.FileIOError
	if errors.As(err, &fileErr) {
		return &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "FILE_IO_ERROR",
			Message: fileErr.Error(),
		}, true
	}
	return nil, false
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError

	switch e := err.(type) {
	case *APIError:
		apiErr = e
	case *echo.HTTPError:
		apiErr = &APIError{
			Status:  e.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", e.Message),
		}
	default:
		if mapped, ok := fromDomainError(err); ok {
			apiErr = mapped
		} else {
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "UNKNOWN_ERROR",
				Message: "An unexpected error occurred",
				Details: err.Error(),
			}
		}
	}

	if !c.Response().Committed {
		c.JSON(apiErr.Status, apiErr)
	}
}
