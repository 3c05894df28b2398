package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bordereau/console/internal/application/session"
	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/infrastructure/auth"
	"github.com/bordereau/console/internal/infrastructure/cache"
	"github.com/bordereau/console/internal/infrastructure/config"
	"github.com/bordereau/console/internal/infrastructure/push"
	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/bordereau/console/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret    = "test-secret-key-at-least-32-chars"
	tokenCookie   = "access_token"
	sessionCookie = "console_session"
)

func strPtr(s string) *string { return &s }
func idPtr(v int64) *int64    { return &v }

// fakeCore stands in for the core API
type fakeCore struct {
	mu          sync.Mutex
	grants      map[int64]*access.Grant
	grantErr    error
	gate        chan struct{}
	status      *bpc.StatusRecord
	bordereau   *bpc.Bordereau
	fetchErr    error
	statusCalls int
	bordCalls   int
}

func newFakeCore() *fakeCore {
	detail := &access.Module{
		ID: 10, Name: "Bordereau", Code: BordereauModule, Path: strPtr("/bordereaux"),
		Permissions: []string{PermissionBordereauView, PermissionBordereauClose, "bordereau_detail.reassign"},
	}
	reports := &access.Module{
		ID: 20, Name: "Reports", Code: "reports", Path: strPtr("/reports"), SortOrder: 1,
		Permissions: []string{"reports.view"},
	}
	return &fakeCore{
		grants: map[int64]*access.Grant{
			1: {
				Permissions: []string{PermissionBordereauView, PermissionBordereauClose},
				Modules:     []*access.Module{detail, reports},
			},
			2: {Permissions: []string{}},
		},
	}
}

func (f *fakeCore) FetchPermissions(_ context.Context, identity *access.Identity) (*access.Grant, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	if g, ok := f.grants[identity.UserID]; ok {
		return g, nil
	}
	return &access.Grant{}, nil
}

func (f *fakeCore) FetchCurrentStatus(context.Context, *access.Identity) (*bpc.StatusRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.status, f.fetchErr
}

func (f *fakeCore) FetchCurrentBordereau(_ context.Context, _ *access.Identity, _ int64) (*bpc.Bordereau, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bordCalls++
	return f.bordereau, f.fetchErr
}

type harness struct {
	core      *fakeCore
	jwt       *auth.JWTService
	blacklist *auth.InMemoryTokenBlacklist
	sessions  *session.Manager
	streams   *StreamHandler
	engine    *gin.Engine
}

func newHarness(t *testing.T, streamOpts ...StreamOption) *harness {
	t.Helper()
	core := newFakeCore()
	hub := push.NewMemoryHub()
	connector, err := push.NewConnector(config.RealtimeConfig{Transport: config.TransportMemory}, push.WithMemoryHub(hub))
	require.NoError(t, err)

	queryCache := cache.NewInMemoryQueryCache()
	ledger := cache.NewInMemoryToastLedger(time.Hour)
	sessions := session.NewManager(session.Config{RecipientRole: bpc.RoleProcessingClerk},
		core, connector, queryCache, ledger, session.WithLogger(zap.NewNop()))

	h := &harness{
		core:      core,
		jwt:       auth.NewJWTService(config.JWTConfig{Secret: testSecret}),
		blacklist: auth.NewInMemoryTokenBlacklist(),
		sessions:  sessions,
		streams:   NewStreamHandler(append([]StreamOption{WithHeartbeat(time.Hour)}, streamOpts...)...),
	}
	t.Cleanup(func() {
		h.streams.Stop()
		sessions.Shutdown(context.Background())
		_ = queryCache.Close()
		_ = ledger.Close()
	})

	perm := middleware.PermissionConfig{ReadyTimeout: time.Second}
	sh := NewSessionHandler(
		WithTokenBlacklist(h.blacklist),
		WithReadyTimeout(50*time.Millisecond),
		WithTokenCookie(tokenCookie),
	)
	bh := NewBpcHandler(core, time.Minute, nil)
	hh := NewHealthHandler("console", "test", config.TransportMemory, sessions, h.streams)

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.GET("/health", hh.Health)
	api := engine.Group("/api/v1", middleware.Session(middleware.SessionConfig{
		JWTService:     h.jwt,
		TokenBlacklist: h.blacklist,
		Sessions:       sessions,
		TokenCookie:    tokenCookie,
		SessionCookie:  sessionCookie,
		SessionMaxAge:  time.Hour,
	}))
	api.GET("/session", sh.GetSession)
	api.DELETE("/session", sh.SignOut)
	api.GET("/session/permissions", sh.GetPermissions)
	api.POST("/session/permissions/reload", sh.ReloadPermissions)
	api.GET("/session/can", sh.Can)
	api.GET("/session/navigation", sh.Navigation)
	api.GET("/session/modules/:code/actions", sh.ModuleActions)
	api.GET("/bpc/status", bh.GetStatus)
	api.GET("/bpc/bordereau", middleware.RequirePermission(PermissionBordereauView, perm), bh.GetBordereau)
	api.GET("/bpc/stream", h.streams.Stream)
	h.engine = engine
	return h
}

func (h *harness) token(t *testing.T, userID int64, bpcID *int64) string {
	t.Helper()
	tok, err := h.jwt.GenerateAccessToken(auth.GenerateTokenInput{
		UserID: userID,
		Name:   "Ada",
		RoleID: int(bpc.RoleProcessingClerk),
		BpcID:  bpcID,
	})
	require.NoError(t, err)
	return tok
}

// client carries one browser's cookies across requests
type client struct {
	h       *harness
	token   string
	session *http.Cookie
}

func (h *harness) browser(t *testing.T, userID int64, bpcID *int64) *client {
	return &client{h: h, token: h.token(t, userID, bpcID)}
}

func (c *client) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.session != nil {
		req.AddCookie(c.session)
	}
	rec := httptest.NewRecorder()
	c.h.engine.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookie {
			c.session = ck
		}
	}
	return rec
}

// ready waits until the browser's session holds its permissions
func (c *client) ready(t *testing.T) *session.Session {
	t.Helper()
	rec := c.do(http.MethodGet, "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)
	s, ok := c.h.sessions.Get(c.session.Value)
	require.True(t, ok)
	require.NoError(t, s.Store().WaitReady(context.Background()))
	return s
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) dto.Response {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *dto.ErrorInfo  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return dto.Response{Success: resp.Success, Error: resp.Error}
}
