package http

import (
	"errors"
	"net/http"

	"github.com/artpar/docstream/app"
	"github.com/artpar/docstream/domain/document"
	"github.com/artpar/docstream/ports"
)

// ErrorResponseBody represents an error response body for swagger docs.
type ErrorResponseBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details for swagger docs.
type ErrorDetail struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"document not found"`
}

// Error is a handler error carrying its HTTP status and code.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// BadRequest builds a 400 handler error.
func BadRequest(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "bad_request", Message: message}
}

// NotFound builds a 404 handler error.
func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "not_found", Message: message}
}

// toError maps handler and domain errors to HTTP errors.
func toError(err error) *Error {
	var herr *Error
	switch {
	case errors.As(err, &herr):
		return herr
	case errors.Is(err, ports.ErrNotFound):
		return NotFound("document not found")
	case errors.Is(err, app.ErrArchiveNotFound):
		return NotFound("archive not found")
	case errors.Is(err, document.ErrInvalidCollection), errors.Is(err, document.ErrInvalidData):
		return &Error{Status: http.StatusBadRequest, Code: "invalid_request", Message: err.Error()}
	case errors.Is(err, ports.ErrConflict):
		return &Error{Status: http.StatusConflict, Code: "conflict", Message: "document already exists"}
	default:
		return &Error{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
	}
}

func writeError(w http.ResponseWriter, err *Error) {
	writeJSON(w, err.Status, ErrorResponseBody{
		Error: ErrorDetail{Code: err.Code, Message: err.Message},
	})
}
