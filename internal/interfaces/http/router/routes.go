package router

import (
	"github.com/bordereau/console/internal/interfaces/http/handler"
	"github.com/bordereau/console/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SessionRoutes serves the permission context of the signed-in operator
func SessionRoutes(h *handler.SessionHandler) *DomainGroup {
	g := NewDomainGroup("/session")
	g.GET("", h.GetSession).
		DELETE("", h.SignOut).
		GET("/permissions", h.GetPermissions).
		POST("/permissions/reload", h.ReloadPermissions).
		GET("/can", h.Can).
		GET("/navigation", h.Navigation).
		GET("/modules/:code/actions", h.ModuleActions)
	return g
}

// BpcRoutes serves the clerk's live records and event stream
func BpcRoutes(h *handler.BpcHandler, stream *handler.StreamHandler, perm middleware.PermissionConfig) *DomainGroup {
	g := NewDomainGroup("/bpc")
	g.GET("/status", h.GetStatus).
		GET("/bordereau", middleware.RequirePermission(handler.PermissionBordereauView, perm), h.GetBordereau).
		GET("/stream", stream.Stream)
	return g
}

// DocsRoutes serves the Swagger UI and the registered spec at /swagger,
// outside the versioned API
func DocsRoutes(engine *gin.Engine, cfg middleware.SwaggerConfig) {
	engine.GET("/swagger/*any", middleware.SwaggerProtection(cfg), ginSwagger.WrapHandler(swaggerFiles.Handler))
}
