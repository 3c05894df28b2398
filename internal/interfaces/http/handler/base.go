// Package handler holds the gin handlers of the console gateway API.
package handler

import (
	"errors"
	"net/http"

	"github.com/bordereau/console/internal/application/session"
	"github.com/bordereau/console/internal/domain/shared"
	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/bordereau/console/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code. The trace
// id is included when the request is sampled.
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	resp := dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c))
	resp.Error.TraceID = telemetry.GetTraceID(c.Request.Context())
	c.JSON(statusCode, resp)
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError converts console errors to HTTP responses. Anything that is
// not a DomainError is reported as an internal error.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, dto.NormalizeErrorCode(domainErr.Code), domainErr.Message)
		return
	}
	h.InternalError(c, "An unexpected error occurred")
}

// session returns the bound console session or answers 500. Handlers behind
// the session middleware always have one.
func (h *BaseHandler) session(c *gin.Context) (*session.Session, bool) {
	s := middleware.GetSession(c)
	if s == nil {
		h.HandleError(c, shared.ErrNoSession)
		return nil, false
	}
	return s, true
}
