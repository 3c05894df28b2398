package shared

import "errors"

// DomainError represents a console-level error carrying a stable code the
// HTTP layer maps to a status.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is matches domain errors by code so wrapped copies compare equal.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common console errors
var (
	ErrNotFound        = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput    = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrUnauthorized    = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrForbidden       = NewDomainError("FORBIDDEN", "Access to this resource is forbidden")
	ErrNoSession       = NewDomainError("NO_SESSION", "No console session is bound to this request")
	ErrNotReady        = NewDomainError("PERMISSIONS_NOT_READY", "Permissions are still loading")
	ErrNoWorkSession   = NewDomainError("NO_WORK_SESSION", "The signed-in user has no processing queue")
	ErrUpstream        = NewDomainError("UPSTREAM_ERROR", "The core API request failed")
	ErrUpstreamTimeout = NewDomainError("UPSTREAM_TIMEOUT", "The core API did not respond in time")
)
