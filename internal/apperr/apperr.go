// Package apperr defines the domain error taxonomy and its mapping to the
// HTTP error envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in the envelope.
const (
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeValidation      = "validation_error"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeUpstreamFailure = "upstream_failure"
	CodeInternal        = "internal"
)

// Error is a domain error with a stable code. API handlers translate these
// into the JSON envelope; storage errors never reach clients directly.
type Error struct {
	Code    string
	Message string
	Details map[string]interface{}
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// WithDetails attaches structured details to the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// New creates an Error with the given code.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error wrapping an underlying cause.
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// NotFound builds a not_found error for a named resource.
func NotFound(resource string) *Error {
	return New(CodeNotFound, resource+" not found")
}

// InvalidState builds an invalid_state error.
func InvalidState(message string) *Error {
	return New(CodeInvalidState, message)
}

// Validation builds a validation_error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Upstream builds an upstream_failure wrapping the collaborator error.
func Upstream(message string, err error) *Error {
	e := Wrap(CodeUpstreamFailure, message, err)
	if err != nil {
		e.Details = map[string]interface{}{"cause": err.Error()}
	}
	return e
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUpstreamFailure, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// From extracts an *Error from err, or wraps it as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, "internal error", err)
}
