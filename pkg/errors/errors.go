// Package errors defines the typed error taxonomy used across SD Submit.
//
// Every error that can reach an HTTP response boundary is one of these
// types; the API layer maps them to RFC 7807 problem documents.
package errors

import (
	"fmt"
	"net/http"
)

// Error types
const (
	// ErrUser is returned when the request payload or domain state is invalid
	ErrUser = "user"

	// ErrUnauthorized is returned when no valid credential accompanies a request
	ErrUnauthorized = "unauthorized"

	// ErrForbidden is returned when an authenticated user lacks project membership
	ErrForbidden = "forbidden"

	// ErrNotFound is returned when a submission, object or key is not known
	ErrNotFound = "not_found"

	// ErrUpstreamClient is returned when a dependent service rejected the request with 4xx
	ErrUpstreamClient = "upstream_client"

	// ErrUpstreamServer is returned when a dependent service failed with 5xx or a malformed body
	ErrUpstreamServer = "upstream_server"

	// ErrUpstreamTimeout is returned when a dependent service timed out after retries
	ErrUpstreamTimeout = "upstream_timeout"

	// ErrConfig is returned when a service is invoked while disabled or misconfigured
	ErrConfig = "config"

	// ErrInternal is returned when an internal invariant is violated
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error

	// UpstreamStatus carries the original status code for upstream client errors
	UpstreamStatus int
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewUserError creates a new user error
func NewUserError(message string, cause error) *Error {
	return NewError(ErrUser, message, cause)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string, cause error) *Error {
	return NewError(ErrForbidden, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewUpstreamClientError creates a new upstream client error carrying the
// status code the dependent service answered with.
func NewUpstreamClientError(status int, message string, cause error) *Error {
	return &Error{
		Type:           ErrUpstreamClient,
		Message:        message,
		Cause:          cause,
		UpstreamStatus: status,
	}
}

// NewUpstreamServerError creates a new upstream server error
func NewUpstreamServerError(message string, cause error) *Error {
	return NewError(ErrUpstreamServer, message, cause)
}

// NewUpstreamTimeoutError creates a new upstream timeout error
func NewUpstreamTimeoutError(message string, cause error) *Error {
	return NewError(ErrUpstreamTimeout, message, cause)
}

// NewConfigError creates a new config error
func NewConfigError(message string, cause error) *Error {
	return NewError(ErrConfig, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// IsUser checks if the error is a user error
func IsUser(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrUser
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrUnauthorized
}

// IsForbidden checks if the error is a forbidden error
func IsForbidden(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrForbidden
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrNotFound
}

// IsUpstreamClient checks if the error is an upstream client error
func IsUpstreamClient(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrUpstreamClient
}

// IsUpstreamServer checks if the error is an upstream server error
func IsUpstreamServer(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrUpstreamServer
}

// IsUpstreamTimeout checks if the error is an upstream timeout error
func IsUpstreamTimeout(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrUpstreamTimeout
}

// IsConfig checks if the error is a config error
func IsConfig(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrConfig
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrInternal
}

// Status maps an error to the HTTP status code the API contract requires.
func Status(err error) int {
	e, ok := err.(*Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Type {
	case ErrUser:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUpstreamClient:
		if e.UpstreamStatus >= 400 && e.UpstreamStatus < 500 {
			return e.UpstreamStatus
		}
		return http.StatusConflict
	case ErrUpstreamServer:
		return http.StatusBadGateway
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
