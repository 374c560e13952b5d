// Package apperr defines the stable error codes surfaced by the ambassador
// API and the helpers used to classify errors across component boundaries.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error code. Codes are part of the public
// API contract and must never be renamed.
type Code string

const (
	// Authentication
	CodeMissingCredentials Code = "missing_credentials"
	CodeInvalidFormat      Code = "invalid_format"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeClientSuspended    Code = "client_suspended"
	CodeRateLimitExceeded  Code = "rate_limit_exceeded"

	// Authorization
	CodeNotAuthorized Code = "not_authorized"
	CodeCycleDetected Code = "cycle_detected"

	// Validation
	CodeValidationError    Code = "validation_error"
	CodeDisallowedPattern  Code = "disallowed_pattern"
	CodeExceedsMaxLength   Code = "exceeds_maximum_length"
	CodeTypeMismatch       Code = "type_mismatch"
	CodeMissingRequiredArg Code = "missing_required_argument"

	// Resource lifecycle
	CodeNotFound      Code = "not_found"
	CodeConflict      Code = "conflict"
	CodeForbidden     Code = "forbidden"
	CodeUnprocessable Code = "unprocessable"

	// Named conflict/unprocessable variants
	CodeReloadInProgress Code = "reload_in_progress"
	CodeStructuralChange Code = "published_mcp_structural_change"

	// Downstream
	CodeUpstreamTimeout      Code = "upstream_timeout"
	CodeUpstreamDisconnected Code = "upstream_disconnected"
	CodeCapacityExceeded     Code = "capacity_exceeded"
	CodeShuttingDown         Code = "shutting_down"

	// Routing
	CodeToolNotFound Code = "tool_not_found"

	CodeInternal Code = "internal_error"
)

// Error is an error carrying a stable code plus a user-visible message.
// Details never contain secrets; internal_error hides its cause entirely.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of e carrying the supplied detail map.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// CodeOf extracts the stable code from an error chain. Unknown errors map to
// internal_error so callers never leak raw failure detail.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf returns the user-visible message for an error chain. Errors
// without a code collapse to a generic message; full detail stays in logs.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a code onto the HTTP status used by the API envelope.
func HTTPStatus(code Code) int {
	switch code {
	case CodeMissingCredentials, CodeInvalidCredentials:
		return http.StatusUnauthorized
	case CodeInvalidFormat, CodeValidationError, CodeDisallowedPattern,
		CodeExceedsMaxLength, CodeTypeMismatch, CodeMissingRequiredArg:
		return http.StatusBadRequest
	case CodeClientSuspended, CodeForbidden, CodeNotAuthorized:
		return http.StatusForbidden
	case CodeNotFound, CodeToolNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeReloadInProgress:
		return http.StatusConflict
	case CodeUnprocessable, CodeStructuralChange, CodeCycleDetected:
		return http.StatusUnprocessableEntity
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeCapacityExceeded, CodeShuttingDown:
		return http.StatusServiceUnavailable
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamDisconnected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
