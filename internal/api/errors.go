package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/vlsi/ksar/internal/parser"
	"github.com/vlsi/ksar/internal/session"
	"go.uber.org/zap"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(status int, code, message string, cause error) *APIError {
	err := &APIError{Status: status, Code: code, Message: message}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewBadRequestError creates a 400 error. cause, when set, goes to Details.
func NewBadRequestError(message string, cause error) *APIError {
	return newAPIError(http.StatusBadRequest, "BAD_REQUEST", message, cause)
}

// NewValidationError reports a missing or malformed request field.
func NewValidationError(field string) *APIError {
	return newAPIError(http.StatusBadRequest, "VALIDATION_ERROR", "validation failed for field: "+field, nil)
}

func NewNotFoundError(resource string, id string) *APIError {
	return newAPIError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id), nil)
}

func NewForbiddenError(message string) *APIError {
	return newAPIError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func NewInternalError(message string, cause error) *APIError {
	return newAPIError(http.StatusInternalServerError, "INTERNAL_ERROR", message, cause)
}

// NewParseError maps a parse or registry failure for file id to a response.
//
//	parser.ErrEmptyInput      400 EMPTY_INPUT
//	*parser.HeaderError       422 UNSUPPORTED_FORMAT
//	*parser.DateFormatError   422 DATE_FORMAT
//	session.ErrFileNotFound   404 NOT_FOUND
//	session.ErrNotParsed      409 NOT_PARSED
func NewParseError(id string, err error) *APIError {
	var headerErr *parser.HeaderError
	var dateErr *parser.DateFormatError

	switch {
	case errors.Is(err, parser.ErrEmptyInput):
		return newAPIError(http.StatusBadRequest, "EMPTY_INPUT", "report is empty", nil)
	case errors.As(err, &headerErr):
		return newAPIError(http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", "report header is not recognized", err)
	case errors.As(err, &dateErr):
		return newAPIError(http.StatusUnprocessableEntity, "DATE_FORMAT", "report date cannot be read", err)
	case errors.Is(err, session.ErrFileNotFound):
		return NewNotFoundError("file", id)
	case errors.Is(err, session.ErrNotParsed):
		return newAPIError(http.StatusConflict, "NOT_PARSED", "file has no parsed report: "+id, nil)
	default:
		return NewInternalError("failed to parse report", err)
	}
}

// NewErrorHandler returns the echo HTTP error handler. Details of unexpected
// errors are only sent to the client when showDetails is set.
func NewErrorHandler(log *zap.Logger, showDetails bool) echo.HTTPErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := toAPIError(err, showDetails)
		req := c.Request()
		if apiErr.Status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Error(err))
		}

		if req.Method == http.MethodHead {
			c.NoContent(apiErr.Status)
			return
		}
		c.JSON(apiErr.Status, apiErr)
	}
}

func toAPIError(err error, showDetails bool) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return newAPIError(httpErr.Code, "HTTP_ERROR", fmt.Sprint(httpErr.Message), nil)
	}

	apiErr = newAPIError(http.StatusInternalServerError, "UNKNOWN_ERROR", "An unexpected error occurred", nil)
	if showDetails {
		apiErr.Details = err.Error()
	}
	return apiErr
}
