// Package response writes the JSON envelopes returned by the management API.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse wraps every successful payload.
type APIResponse struct {
	Data    any    `json:"data"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path"`
}

// APIError is returned for every failed request. Error carries the detail,
// Message a short summary fit for display.
type APIError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Path    string `json:"path"`
	Status  int    `json:"status"`
}

func requestPath(c echo.Context) string {
	if c == nil || c.Request() == nil {
		return ""
	}
	return c.Request().URL.Path
}

func success(c echo.Context, status int, data any, message string) error {
	return c.JSON(status, APIResponse{Data: data, Status: status, Message: message, Path: requestPath(c)})
}

func OK(c echo.Context, data any, message string) error {
	return success(c, http.StatusOK, data, message)
}

func Created(c echo.Context, data any, message string) error {
	return success(c, http.StatusCreated, data, message)
}

func NoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// Error writes an APIError with the given status.
func Error(c echo.Context, status int, message, detail string) error {
	return c.JSON(status, APIError{Message: message, Error: detail, Path: requestPath(c), Status: status})
}

func BadRequest(c echo.Context, message, detail string) error {
	return Error(c, http.StatusBadRequest, message, detail)
}

func NotFound(c echo.Context, message, detail string) error {
	return Error(c, http.StatusNotFound, message, detail)
}

func Conflict(c echo.Context, message, detail string) error {
	return Error(c, http.StatusConflict, message, detail)
}

func InternalError(c echo.Context, message, detail string) error {
	return Error(c, http.StatusInternalServerError, message, detail)
}
