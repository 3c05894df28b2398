package handler

import (
	"context"
	"time"

	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/infrastructure/auth"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/bordereau/console/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionHandler serves the permission context of the signed-in operator
type SessionHandler struct {
	BaseHandler
	blacklist    auth.TokenBlacklist
	readyTimeout time.Duration
	tokenCookie  string
	logger       *zap.Logger
}

// SessionHandlerOption configures a SessionHandler
type SessionHandlerOption func(*SessionHandler)

// WithTokenBlacklist revokes the access token on sign-out
func WithTokenBlacklist(b auth.TokenBlacklist) SessionHandlerOption {
	return func(h *SessionHandler) {
		h.blacklist = b
	}
}

// WithReadyTimeout bounds the wait for the first permission load
func WithReadyTimeout(d time.Duration) SessionHandlerOption {
	return func(h *SessionHandler) {
		h.readyTimeout = d
	}
}

// WithTokenCookie names the access token cookie cleared on sign-out
func WithTokenCookie(name string) SessionHandlerOption {
	return func(h *SessionHandler) {
		h.tokenCookie = name
	}
}

// WithSessionLogger sets the logger for the handler
func WithSessionLogger(l *zap.Logger) SessionHandlerOption {
	return func(h *SessionHandler) {
		h.logger = l
	}
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(opts ...SessionHandlerOption) *SessionHandler {
	h := &SessionHandler{
		readyTimeout: 5 * time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetSession describes the session and the operator bound to it
//
// @Summary      Get the console session
// @Tags         session
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.SessionResponse}
// @Failure      401 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/session [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	resp := dto.SessionResponse{SessionID: s.ID()}
	if identity := s.Identity(); identity != nil {
		resp.UserID = identity.UserID
		resp.Name = identity.Name
		resp.RoleID = identity.RoleID
		resp.WorkSessionID = identity.WorkSessionID
		if identity.WorkSessionID != nil {
			resp.Channel = bpc.ChannelName(*identity.WorkSessionID)
		}
	}
	h.Success(c, resp)
}

// GetPermissions returns the permission snapshot. The first load is awaited
// up to the ready timeout; after that the loading snapshot is returned.
//
// @Summary      Get the permission snapshot
// @Tags         session
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.PermissionsResponse}
// @Failure      401 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/session/permissions [get]
func (h *SessionHandler) GetPermissions(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.readyTimeout)
	defer cancel()
	_ = s.Store().WaitReady(ctx)

	h.Success(c, dto.NewPermissionsResponse(s.Store().Snapshot()))
}

// ReloadPermissions fetches the grant again and returns the new snapshot.
// A failed fetch keeps the previous grant and reports the upstream error.
//
// @Summary      Reload permissions from the core API
// @Tags         session
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.PermissionsResponse}
// @Failure      401 {object} dto.Response
// @Failure      502 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/session/permissions/reload [post]
func (h *SessionHandler) ReloadPermissions(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	store := s.Store()
	store.Reload(c.Request.Context())
	if err := store.LastError(); err != nil {
		logger.Enrich(c.Request.Context(), h.logger).Warn("Permission reload failed", zap.Error(err))
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewPermissionsResponse(store.Snapshot()))
}

// Can checks a single permission code
//
// @Summary      Check one permission code
// @Tags         session
// @Produce      json
// @Param        permission query string true "Permission code"
// @Success      200 {object} dto.Response{data=dto.CanResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/session/can [get]
func (h *SessionHandler) Can(c *gin.Context) {
	var req dto.CanRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.Success(c, dto.CanResponse{
		Permission: req.Permission,
		Allowed:    s.Store().Can(req.Permission),
	})
}

// Navigation returns the module tree pruned to what the operator may open
//
// @Summary      Get the navigation tree
// @Tags         session
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.NavigationResponse}
// @Failure      401 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/session/navigation [get]
func (h *SessionHandler) Navigation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	snap := s.Store().Snapshot()
	modules := snap.Modules.Navigation(snap)
	if modules == nil {
		modules = []*access.Module{}
	}
	h.Success(c, dto.NavigationResponse{Modules: modules})
}

// ModuleActions lists the inline actions of one module the operator may run
//
// @Summary      List the actions of a module
// @Tags         session
// @Produce      json
// @Param        code path string true "Module code"
// @Success      200 {object} dto.Response{data=dto.ActionsResponse}
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/session/modules/{code}/actions [get]
func (h *SessionHandler) ModuleActions(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	code := c.Param("code")
	snap := s.Store().Snapshot()
	if _, found := snap.Modules.Find(code); !found {
		h.NotFound(c, "Module not found")
		return
	}
	h.Success(c, dto.ActionsResponse{Module: code, Actions: snap.Modules.Actions(code, snap)})
}

// SignOut drops the operator from the session and revokes the access token
// at this gateway. The session itself stays for the browser's next sign-in.
//
// @Summary      Sign out
// @Tags         session
// @Produce      json
// @Success      200 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/session [delete]
func (h *SessionHandler) SignOut(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := logger.Enrich(ctx, h.logger)

	if err := s.SignOut(ctx); err != nil {
		log.Warn("Sign-out on a closed session", zap.Error(err))
	}
	if h.blacklist != nil {
		if claims := middleware.GetClaims(c); claims != nil {
			if err := h.blacklist.AddToBlacklist(ctx, middleware.GetTokenKey(c), claims.RemainingTTL()); err != nil {
				log.Error("Failed to revoke access token", zap.Error(err))
			}
		}
	}
	if h.tokenCookie != "" {
		c.SetCookie(h.tokenCookie, "", -1, "/", "", false, true)
	}

	log.Info("Operator signed out")
	h.Success(c, gin.H{"signed_out": true})
}
