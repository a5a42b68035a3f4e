// Package apierror defines the error taxonomy shared by every component:
// authentication failures, authorization denials, missing entities, invalid
// requests, and internal faults. Handlers translate these codes into HTTP
// responses; everything below the handler layer deals only in codes.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for boundary handling.
type Code string

const (
	// CodeUnauthenticated indicates a missing, invalid, or expired token or
	// session. API calls receive 401; browser calls are redirected to login.
	CodeUnauthenticated Code = "unauthenticated"

	// CodeForbidden indicates an authenticated principal that policy denies.
	CodeForbidden Code = "forbidden"

	// CodeNotFound indicates an absent role or binding.
	CodeNotFound Code = "not_found"

	// CodeBadRequest indicates a request missing a required field.
	CodeBadRequest Code = "bad_request"

	// CodeInternal indicates a store or serialization failure. Internal
	// errors are reported to callers with a correlation id and a generic
	// message; details stay in the logs.
	CodeInternal Code = "internal"
)

// Error is a coded error. The zero value is not valid; use the constructors.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a static message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Wrapf attaches a code and formatted message to an underlying error.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf extracts the code from an error chain. Uncoded errors are treated
// as internal so that a failed evaluation is never mistaken for a decision.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeInternal
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps a code onto its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
