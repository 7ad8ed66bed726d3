// Package apperrors defines the coded error taxonomy shared by the
// repositories, services and HTTP handlers.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping and caller branching.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodeConflict       Code = "CONFLICT"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeAlreadyDecided Code = "ALREADY_DECIDED"
	CodeNoHierarchy    Code = "NO_HIERARCHY_CONFIGURED"
	CodeNoLevels       Code = "NO_LEVELS_CONFIGURED"
	CodeInternal       Code = "INTERNAL"
)

// Error is a coded application error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource by type and identifier.
func NotFound(resource, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// CodeOf extracts the Code from an error chain, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status the HTTP layer should respond with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput, CodeNoHierarchy, CodeNoLevels:
		return http.StatusBadRequest
	case CodeConflict, CodeAlreadyDecided:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
