// Package errors defines the coded domain errors shared by the backup engine,
// the record stores and the HTTP layer. A Code decides the HTTP status and the
// machine-readable code clients see; the message is for humans.
//
//	if info == nil {
//	    return errors.NotFoundf("backup %s not found", id)
//	}
//
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    status := domainErr.HTTPStatus()
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-exported so callers need a single errors import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// Code is a machine-readable error code.
type Code string

// Error codes.
const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeTokenExpired    Code = "TOKEN_EXPIRED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeValidation      Code = "VALIDATION"
	CodeConflict        Code = "CONFLICT"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	CodeTooManyRequests Code = "TOO_MANY_REQUESTS"
	CodeInternal        Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	CodeNotFound:        http.StatusNotFound,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeTokenExpired:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeValidation:      http.StatusBadRequest,
	CodeConflict:        http.StatusConflict,
	CodePayloadTooLarge: http.StatusRequestEntityTooLarge,
	CodeTooManyRequests: http.StatusTooManyRequests,
}

// HTTPStatus returns the HTTP status for c. Unknown codes map to 500.
func (c Code) HTTPStatus() int {
	if status, ok := statusByCode[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same Code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of e carrying details. e is not modified.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy of e wrapping err. e is not modified.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.cause = err
	return &c
}

// Sentinels for errors.Is.
var (
	ErrNotFound        = New(CodeNotFound, "not found")
	ErrUnauthorized    = New(CodeUnauthorized, "unauthorized")
	ErrTokenExpired    = New(CodeTokenExpired, "token expired")
	ErrForbidden       = New(CodeForbidden, "forbidden")
	ErrValidation      = New(CodeValidation, "validation error")
	ErrConflict        = New(CodeConflict, "conflict")
	ErrPayloadTooLarge = New(CodePayloadTooLarge, "payload too large")
	ErrTooManyRequests = New(CodeTooManyRequests, "too many requests")
	ErrInternal        = New(CodeInternal, "internal error")
)

// New creates an error with code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an error with code and a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

func NotFound(msg string) *Error { return New(CodeNotFound, msg) }

func NotFoundf(format string, args ...any) *Error { return Newf(CodeNotFound, format, args...) }

func Unauthorized(msg string) *Error { return New(CodeUnauthorized, msg) }

func Forbidden(msg string) *Error { return New(CodeForbidden, msg) }

func Validation(msg string) *Error { return New(CodeValidation, msg) }

// ValidationWithDetails creates a validation error carrying per-field details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

func Conflict(msg string) *Error { return New(CodeConflict, msg) }

func PayloadTooLargef(format string, args ...any) *Error {
	return Newf(CodePayloadTooLarge, format, args...)
}

func TooManyRequests(msg string) *Error { return New(CodeTooManyRequests, msg) }

func Internal(msg string) *Error { return New(CodeInternal, msg) }
