package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/bordereau/console/internal/domain/shared"
	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionHandler_GetSession(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t, 1, idPtr(7))

	rec := b.do(http.MethodGet, "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)

	var body dto.SessionResponse
	decode(t, rec, &body)
	assert.Equal(t, b.session.Value, body.SessionID)
	assert.Equal(t, int64(1), body.UserID)
	assert.Equal(t, "Ada", body.Name)
	require.NotNil(t, body.WorkSessionID)
	assert.Equal(t, int64(7), *body.WorkSessionID)
	assert.Equal(t, "bpc.7", body.Channel)
}

func TestSessionHandler_GetPermissions(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t, 1, nil)

	rec := b.do(http.MethodGet, "/api/v1/session/permissions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body dto.PermissionsResponse
	decode(t, rec, &body)
	assert.False(t, body.Loading)
	assert.Equal(t, int64(1), body.UserID)
	assert.ElementsMatch(t, []string{PermissionBordereauView, PermissionBordereauClose}, body.Permissions)
	assert.Len(t, body.Modules, 2)
	assert.NotNil(t, body.LoadedAt)
}

func TestSessionHandler_GetPermissionsWhileLoading(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.core.gate = gate
	defer close(gate)

	b := h.browser(t, 1, nil)
	rec := b.do(http.MethodGet, "/api/v1/session/permissions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body dto.PermissionsResponse
	decode(t, rec, &body)
	assert.True(t, body.Loading)
	assert.Empty(t, body.Permissions)
	assert.NotNil(t, body.Modules)
}

func TestSessionHandler_ReloadPermissions(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t, 1, nil)
	s := b.ready(t)
	before := s.Store().Snapshot().Generation

	rec := b.do(http.MethodPost, "/api/v1/session/permissions/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	var body dto.PermissionsResponse
	decode(t, rec, &body)
	assert.Equal(t, before, body.Generation)
	assert.Contains(t, body.Permissions, PermissionBordereauView)

	t.Run("failure keeps the previous grant", func(t *testing.T) {
		h.core.mu.Lock()
		h.core.grantErr = fmt.Errorf("%w: status 503", shared.ErrUpstream)
		h.core.mu.Unlock()

		rec := b.do(http.MethodPost, "/api/v1/session/permissions/reload")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		resp := decode(t, rec, nil)
		assert.Equal(t, dto.ErrCodeUpstream, resp.Error.Code)
		assert.True(t, s.Store().Can(PermissionBordereauView))
	})
}

func TestSessionHandler_Can(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t, 1, nil)
	b.ready(t)

	tests := []struct {
		permission string
		allowed    bool
	}{
		{PermissionBordereauView, true},
		{"bordereau_detail.reassign", false},
		{"BORDEREAU_DETAIL.VIEW", false},
	}
	for _, tt := range tests {
		t.Run(tt.permission, func(t *testing.T) {
			rec := b.do(http.MethodGet, "/api/v1/session/can?permission="+tt.permission)
			require.Equal(t, http.StatusOK, rec.Code)
			var body dto.CanResponse
			decode(t, rec, &body)
			assert.Equal(t, tt.permission, body.Permission)
			assert.Equal(t, tt.allowed, body.Allowed)
		})
	}

	t.Run("missing permission", func(t *testing.T) {
		rec := b.do(http.MethodGet, "/api/v1/session/can")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, decode(t, rec, nil).Error.Code)
	})
}

func TestSessionHandler_Navigation(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t, 1, nil)
	b.ready(t)

	rec := b.do(http.MethodGet, "/api/v1/session/navigation")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Modules []struct {
			Code string `json:"code"`
		} `json:"modules"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Modules, 1)
	assert.Equal(t, BordereauModule, body.Modules[0].Code)

	// a user without grants sees an empty list, not null
	other := h.browser(t, 2, nil)
	other.ready(t)
	rec = other.do(http.MethodGet, "/api/v1/session/navigation")
	assert.Contains(t, rec.Body.String(), `"modules":[]`)
}

func TestSessionHandler_ModuleActions(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t, 1, nil)
	b.ready(t)

	rec := b.do(http.MethodGet, "/api/v1/session/modules/"+BordereauModule+"/actions")
	require.Equal(t, http.StatusOK, rec.Code)
	var body dto.ActionsResponse
	decode(t, rec, &body)
	assert.Equal(t, []string{PermissionBordereauView, PermissionBordereauClose}, body.Actions)

	rec = b.do(http.MethodGet, "/api/v1/session/modules/nope/actions")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandler_SignOut(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t, 1, idPtr(7))
	s := b.ready(t)

	rec := b.do(http.MethodDelete, "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, s.Identity())
	assert.False(t, s.Store().Can(PermissionBordereauView))

	var cleared bool
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == tokenCookie && ck.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "token cookie is cleared")

	// the token is refused from now on
	rec = b.do(http.MethodGet, "/api/v1/session")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, dto.ErrCodeTokenRevoked, decode(t, rec, nil).Error.Code)

	// a fresh sign-in reuses the browser session
	b.token = h.token(t, 1, idPtr(7))
	again := b.ready(t)
	assert.Same(t, s, again)
}
