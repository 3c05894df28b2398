package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the user lacks permission
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
	// ErrCodeTokenRevoked is used for tokens signed out at this gateway
	ErrCodeTokenRevoked = "ERR_TOKEN_REVOKED"
)

// Session error codes
const (
	// ErrCodeNoSession means a guarded route ran without a session: a wiring bug
	ErrCodeNoSession = "ERR_NO_SESSION"
	// ErrCodeNotReady is used when permissions did not load in time
	ErrCodeNotReady = "ERR_PERMISSIONS_NOT_READY"
	// ErrCodeNoWorkSession is used when the user has no processing queue
	ErrCodeNoWorkSession = "ERR_NO_WORK_SESSION"
	// ErrCodeMaxStreams is used when the instance holds too many event streams
	ErrCodeMaxStreams = "ERR_MAX_STREAMS"
)

// Resource and input error codes
const (
	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
)

// Upstream error codes
const (
	// ErrCodeUpstream is used when the core API failed
	ErrCodeUpstream        = "ERR_UPSTREAM"
	ErrCodeUpstreamTimeout = "ERR_UPSTREAM_TIMEOUT"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeTokenRevoked: http.StatusUnauthorized,

	ErrCodeNoSession:     http.StatusInternalServerError,
	ErrCodeNotReady:      http.StatusServiceUnavailable,
	ErrCodeNoWorkSession: http.StatusConflict,
	ErrCodeMaxStreams:    http.StatusServiceUnavailable,

	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,

	ErrCodeUpstream:        http.StatusBadGateway,
	ErrCodeUpstreamTimeout: http.StatusGatewayTimeout,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps shared.DomainError codes to API codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"INVALID_INPUT":         ErrCodeInvalidInput,
	"UNAUTHORIZED":          ErrCodeUnauthorized,
	"FORBIDDEN":             ErrCodeForbidden,
	"NO_SESSION":            ErrCodeNoSession,
	"PERMISSIONS_NOT_READY": ErrCodeNotReady,
	"NO_WORK_SESSION":       ErrCodeNoWorkSession,
	"UPSTREAM_ERROR":        ErrCodeUpstream,
	"UPSTREAM_TIMEOUT":      ErrCodeUpstreamTimeout,
	"INTERNAL_ERROR":        ErrCodeInternal,
}

// NormalizeErrorCode converts a domain error code to the API format
// If the code is already in the API format or unknown, returns it as-is
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
