package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an application error carrying the HTTP status it maps to
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// WithInternal returns a copy of the error with an internal error attached
func (e *Error) WithInternal(err error) *Error {
	cp := *e
	cp.Internal = err
	return &cp
}

// WithDetails returns a copy of the error with details attached
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Error codes, one per member of the taxonomy
const (
	CodeValidation = "validation_error"
	CodeConflict   = "conflict"
	CodeNotFound   = "not_found"
	CodeGone       = "gone"
	CodeDependency = "missing_dependency"
	CodeInternal   = "internal_error"
)

// Validation is a malformed or schema-violating request (400)
func Validation(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeValidation, fmt.Sprintf(format, args...))
}

// Conflict is a duplicate node or a delete blocked by relationships (409)
func Conflict(format string, args ...any) *Error {
	return New(http.StatusConflict, CodeConflict, fmt.Sprintf(format, args...))
}

// NotFound is an absent node or relationship (404)
func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Sprintf(format, args...))
}

// Gone is a soft-deleted node (410)
func Gone(format string, args ...any) *Error {
	return New(http.StatusGone, CodeGone, fmt.Sprintf(format, args...))
}

// Dependency is a referenced related node that does not exist (400)
func Dependency(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeDependency, fmt.Sprintf(format, args...))
}

// Internal wraps an unexpected failure. Callers only ever see the generic
// message; the wrapped error is for logs.
func Internal(err error) *Error {
	return &Error{
		HTTPStatus: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    "An internal error occurred",
		Internal:   err,
	}
}

// As extracts an *Error from err's chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Status returns the HTTP status for any error, 500 when unclassified
func Status(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// ToHTTPError converts an error to a status and JSON body
func ToHTTPError(err error) (int, map[string]any) {
	appErr, ok := As(err)
	if !ok {
		appErr = Internal(err)
	}
	body := map[string]any{
		"code":    appErr.Code,
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	return appErr.HTTPStatus, map[string]any{"error": body}
}
