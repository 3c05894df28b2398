package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSwaggerProtection(t *testing.T) {
	docs := func(cfg SwaggerConfig) *gin.Engine {
		router := gin.New()
		router.GET("/swagger/*any", SwaggerProtection(cfg), func(c *gin.Context) {
			c.String(http.StatusOK, "docs")
		})
		return router
	}
	// httptest requests come from 192.0.2.1
	request := func() *http.Request { return httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil) }

	t.Run("disabled", func(t *testing.T) {
		rec := serve(docs(SwaggerConfig{Enabled: false}), request())
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), dto.ErrCodeNotFound)
	})

	t.Run("open to everyone", func(t *testing.T) {
		rec := serve(docs(SwaggerConfig{Enabled: true}), request())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("allowed by exact ip", func(t *testing.T) {
		rec := serve(docs(SwaggerConfig{Enabled: true, AllowedIPs: []string{"192.0.2.1"}}), request())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("allowed by cidr", func(t *testing.T) {
		rec := serve(docs(SwaggerConfig{Enabled: true, AllowedIPs: []string{"not-an-ip", "192.0.2.0/24"}}), request())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("outside the allow list", func(t *testing.T) {
		rec := serve(docs(SwaggerConfig{Enabled: true, AllowedIPs: []string{"10.0.0.0/8"}}), request())
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), dto.ErrCodeForbidden)
	})
}
