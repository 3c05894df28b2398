package dto

import (
	"time"

	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/domain/bpc"
)

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return NewErrorResponseWithRequestID(code, message, "")
}

// NewErrorResponseWithRequestID creates an error response carrying the request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
}

// PermissionsResponse is the permission context of the session
type PermissionsResponse struct {
	UserID      int64            `json:"user_id"`
	Loading     bool             `json:"loading"`
	Generation  uint64           `json:"generation"`
	Permissions []string         `json:"permissions"`
	Modules     []*access.Module `json:"modules"`
	LoadedAt    *time.Time       `json:"loaded_at,omitempty"`
}

// NewPermissionsResponse converts a snapshot
func NewPermissionsResponse(snap access.Snapshot) PermissionsResponse {
	resp := PermissionsResponse{
		UserID:      snap.UserID,
		Loading:     snap.Loading,
		Generation:  snap.Generation,
		Permissions: snap.Permissions.Codes(),
		Modules:     []*access.Module{},
	}
	if snap.Modules != nil {
		resp.Modules = snap.Modules.Roots()
	}
	if !snap.LoadedAt.IsZero() {
		t := snap.LoadedAt
		resp.LoadedAt = &t
	}
	return resp
}

// CanResponse answers a single permission check
type CanResponse struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

// CanRequest is the query of a permission check
type CanRequest struct {
	Permission string `form:"permission" binding:"required,max=128"`
}

// ActionsResponse lists the inline actions of a module the user may run
type ActionsResponse struct {
	Module  string   `json:"module"`
	Actions []string `json:"actions"`
}

// NavigationResponse is the permission-pruned module tree
type NavigationResponse struct {
	Modules []*access.Module `json:"modules"`
}

// BordereauResponse is the operator's current bordereau with the actions
// the operator may take on it
type BordereauResponse struct {
	Bordereau *bpc.Bordereau `json:"bordereau"`
	Actions   []string       `json:"actions"`
}

// SessionResponse describes the signed-in console session
type SessionResponse struct {
	SessionID     string `json:"session_id"`
	UserID        int64  `json:"user_id"`
	Name          string `json:"name,omitempty"`
	RoleID        int    `json:"role_id"`
	WorkSessionID *int64 `json:"work_session_id,omitempty"`
	Channel       string `json:"channel,omitempty"`
}
