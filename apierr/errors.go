// Package apierr defines the stable error taxonomy every object operation,
// driver, and protocol adapter surfaces through.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the closed set of taxonomy codes. New codes are never
// added silently; adapters have an exhaustive mapping from Code to HTTP
// status and JSON-RPC error number.
type Code string

const (
	CodeValidation               Code = "VALIDATION_ERROR"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeUnauthorized             Code = "UNAUTHORIZED"
	CodeForbidden                Code = "FORBIDDEN"
	CodeConflict                 Code = "CONFLICT"
	CodeRateLimitExceeded        Code = "RATE_LIMIT_EXCEEDED"
	CodeDriverConnectionFailed   Code = "DRIVER_CONNECTION_FAILED"
	CodeDriverQueryFailed        Code = "DRIVER_QUERY_FAILED"
	CodeDriverUnsupportedOp      Code = "DRIVER_UNSUPPORTED_OPERATION"
	CodeInvalidRegex             Code = "INVALID_REGEX"
	CodeInvalidStateTransition   Code = "INVALID_STATE_TRANSITION"
	CodeInvalidDateRange         Code = "INVALID_DATE_RANGE"
	CodeInternal                 Code = "INTERNAL_ERROR"
)

// sentinels let callers test error category with errors.Is without
// depending on the concrete *Error type.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrConflict               = errors.New("conflict")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrDriverConnectionFailed = errors.New("driver connection failed")
	ErrDriverQueryFailed      = errors.New("driver query failed")
	ErrDriverUnsupportedOp    = errors.New("driver does not support operation")
	ErrInternal               = errors.New("internal error")
)

var sentinelByCode = map[Code]error{
	CodeValidation:             ErrValidation,
	CodeNotFound:               ErrNotFound,
	CodeUnauthorized:           ErrUnauthorized,
	CodeForbidden:              ErrForbidden,
	CodeConflict:               ErrConflict,
	CodeRateLimitExceeded:      ErrRateLimitExceeded,
	CodeDriverConnectionFailed: ErrDriverConnectionFailed,
	CodeDriverQueryFailed:      ErrDriverQueryFailed,
	CodeDriverUnsupportedOp:    ErrDriverUnsupportedOp,
	CodeInvalidRegex:           ErrValidation,
	CodeInvalidStateTransition: ErrValidation,
	CodeInvalidDateRange:       ErrValidation,
	CodeInternal:               ErrInternal,
}

// httpStatusByCode is consulted by transport/rest and transport/jsonrpc to
// map a Code to an HTTP status,: 400 validation, 401/403 auth,
// 404 not-found, 409 conflict, 429 rate-limit, 5xx otherwise.
var httpStatusByCode = map[Code]int{
	CodeValidation:             http.StatusBadRequest,
	CodeNotFound:               http.StatusNotFound,
	CodeUnauthorized:           http.StatusUnauthorized,
	CodeForbidden:              http.StatusForbidden,
	CodeConflict:               http.StatusConflict,
	CodeRateLimitExceeded:      http.StatusTooManyRequests,
	CodeDriverConnectionFailed: http.StatusBadGateway,
	CodeDriverQueryFailed:      http.StatusInternalServerError,
	CodeDriverUnsupportedOp:    http.StatusNotImplemented,
	CodeInvalidRegex:           http.StatusBadRequest,
	CodeInvalidStateTransition: http.StatusBadRequest,
	CodeInvalidDateRange:       http.StatusBadRequest,
	CodeInternal:               http.StatusInternalServerError,
}

// Error is the structured error every operation raises. It always carries a
// stable Code and a human Message, and optionally a Details map (used for
// per-field validation errors and retry_after hints).
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if sentinel, ok := sentinelByCode[e.Code]; ok {
		return sentinel
	}
	return e.Err
}

// WithDetail attaches a single detail key and returns the same error for
// chaining at the call site.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus resolves the HTTP status code an adapter should answer with.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds a structured error for code with a plain message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a structured error for code that unwraps to err for logging
// and errors.Is/As chains.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func NotFound(resource, id string) *Error {
	msg := resource + " not found"
	if id != "" {
		msg = fmt.Sprintf("%s %q not found", resource, id)
	}
	return New(CodeNotFound, msg)
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// RateLimit builds a RATE_LIMIT_EXCEEDED error carrying retry_after seconds.
func RateLimit(retryAfterSeconds int) *Error {
	return New(CodeRateLimitExceeded, "rate limit exceeded").
		WithDetail("retry_after", retryAfterSeconds)
}

func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// As extracts the structured *Error from an error chain, if present.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is, or wraps, a NOT_FOUND error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is, or wraps, a VALIDATION_ERROR.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict reports whether err is, or wraps, a CONFLICT error.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsRetryable reports whether err is a transient driver failure the
// federation driver may retry: only DRIVER_CONNECTION_FAILED is retried,
// never VALIDATION_ERROR, UNAUTHORIZED, FORBIDDEN, or NOT_FOUND.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDriverConnectionFailed)
}
