package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func guardedRouter(t *testing.T, e *env, cfg PermissionConfig) *gin.Engine {
	router := gin.New()
	router.GET("/unbound", RequirePermission("bordereau_detail.view", cfg), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	authed := router.Group("/", Session(e.sessionConfig(t)))
	authed.GET("/detail", RequirePermission("bordereau_detail.view", cfg), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	authed.GET("/any", RequireAnyPermission(cfg, "reports.view", "bordereau_detail.view"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRequirePermission(t *testing.T) {
	e := newEnv(t)
	router := guardedRouter(t, e, PermissionConfig{ReadyTimeout: time.Second})

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return serve(router, req)
	}

	t.Run("granted", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, get("/detail", e.token(t, 1, nil)).Code)
		assert.Equal(t, http.StatusOK, get("/any", e.token(t, 1, nil)).Code)
	})

	t.Run("denied", func(t *testing.T) {
		rec := get("/detail", e.token(t, 2, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, dto.ErrCodeForbidden, errorCode(t, rec))
	})

	t.Run("no session is a wiring error", func(t *testing.T) {
		rec := get("/unbound", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, dto.ErrCodeNoSession, errorCode(t, rec))
	})
}

func TestRequirePermission_WaitsForFirstLoad(t *testing.T) {
	e := newEnv(t)
	gate := make(chan struct{})
	e.source.gates[1] = gate
	router := guardedRouter(t, e, PermissionConfig{ReadyTimeout: 50 * time.Millisecond})

	req := httptest.NewRequest(http.MethodGet, "/detail", nil)
	req.Header.Set("Authorization", "Bearer "+e.token(t, 1, nil))
	rec := serve(router, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, dto.ErrCodeNotReady, errorCode(t, rec))

	close(gate)
	req = httptest.NewRequest(http.MethodGet, "/detail", nil)
	req.Header.Set("Authorization", "Bearer "+e.token(t, 1, nil))
	req.AddCookie(sessionCookie(rec, "console_session"))
	assert.Equal(t, http.StatusOK, serve(router, req).Code)
}
