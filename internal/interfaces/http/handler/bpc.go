package handler

import (
	"context"
	"time"

	appaccess "github.com/bordereau/console/internal/application/access"
	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/domain/shared"
	"github.com/bordereau/console/internal/infrastructure/cache"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Bordereau detail module and its permission codes
const (
	BordereauModule          = "bordereau_detail"
	PermissionBordereauView  = "bordereau_detail.view"
	PermissionBordereauClose = "bordereau_detail.close"
)

// BpcSource loads the operator's live records from the core API
type BpcSource interface {
	FetchCurrentStatus(ctx context.Context, identity *access.Identity) (*bpc.StatusRecord, error)
	FetchCurrentBordereau(ctx context.Context, identity *access.Identity, subscriberID int64) (*bpc.Bordereau, error)
}

// BpcHandler serves the clerk's status and current bordereau from the
// session cache, refetching when an entry is missing or stale
type BpcHandler struct {
	BaseHandler
	source BpcSource
	ttl    time.Duration
	logger *zap.Logger
}

// NewBpcHandler creates a new BpcHandler. ttl is the cache lifetime of a
// fetched record.
func NewBpcHandler(source BpcSource, ttl time.Duration, log *zap.Logger) *BpcHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BpcHandler{source: source, ttl: ttl, logger: log}
}

// GetStatus returns the clerk's status record
//
// @Summary      Get the clerk's status record
// @Tags         bpc
// @Produce      json
// @Success      200 {object} dto.Response{data=bpc.StatusRecord}
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      502 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/bpc/status [get]
func (h *BpcHandler) GetStatus(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	identity := s.Identity()
	if identity == nil {
		h.HandleError(c, shared.ErrUnauthorized)
		return
	}

	ctx := c.Request.Context()
	record, err := cache.Fetch(ctx, s.Cache(), bpc.StatusCacheKey, h.ttl,
		func(ctx context.Context) (*bpc.StatusRecord, error) {
			return h.source.FetchCurrentStatus(ctx, identity)
		})
	if !h.served(c, record != nil, err) {
		return
	}
	if record == nil {
		h.NotFound(c, "No status record for this operator")
		return
	}
	h.Success(c, record)
}

// GetBordereau returns the bordereau assigned to the operator's work session
// with the detail actions the operator may take
//
// @Summary      Get the current bordereau
// @Tags         bpc
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.BordereauResponse}
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      502 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/bpc/bordereau [get]
func (h *BpcHandler) GetBordereau(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	identity := s.Identity()
	if identity == nil {
		h.HandleError(c, shared.ErrUnauthorized)
		return
	}
	if identity.WorkSessionID == nil {
		h.HandleError(c, shared.ErrNoWorkSession)
		return
	}
	subscriberID := *identity.WorkSessionID

	ctx := c.Request.Context()
	b, err := cache.Fetch(ctx, s.Cache(), bpc.BordereauCacheKey(subscriberID), h.ttl,
		func(ctx context.Context) (*bpc.Bordereau, error) {
			return h.source.FetchCurrentBordereau(ctx, identity, subscriberID)
		})
	if !h.served(c, b != nil, err) {
		return
	}
	if b == nil {
		h.NotFound(c, "No bordereau is assigned")
		return
	}

	guard := appaccess.MustGuard(ctx)
	tree := s.Store().Snapshot().Modules
	actions := tree.Actions(BordereauModule, access.CheckerFunc(guard.Allows))
	if tree.Len() == 0 {
		// no module tree from the core API: fall back to the close action
		actions = appaccess.Render(guard, PermissionBordereauClose, PermissionBordereauClose)
	}
	if actions == nil {
		actions = []string{}
	}
	h.Success(c, dto.BordereauResponse{Bordereau: b, Actions: actions})
}

// served reports whether the handler may answer with the fetched value. A
// value that loaded but failed to cache is still served.
func (h *BpcHandler) served(c *gin.Context, loaded bool, err error) bool {
	if err == nil {
		return true
	}
	if loaded {
		logger.Enrich(c.Request.Context(), h.logger).Warn("Failed to cache fetched record", zap.Error(err))
		return true
	}
	h.HandleError(c, err)
	return false
}
