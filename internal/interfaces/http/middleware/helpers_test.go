package middleware

import (
	"context"
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
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-key-at-least-32-chars"

// gatedSource serves fixed grants; a user listed in gates blocks until the
// gate is closed
type gatedSource struct {
	mu     sync.Mutex
	grants map[int64][]string
	gates  map[int64]chan struct{}
}

func (g *gatedSource) FetchPermissions(_ context.Context, identity *access.Identity) (*access.Grant, error) {
	g.mu.Lock()
	gate := g.gates[identity.UserID]
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return &access.Grant{Permissions: g.grants[identity.UserID]}, nil
}

type env struct {
	jwt       *auth.JWTService
	blacklist *auth.InMemoryTokenBlacklist
	sessions  *session.Manager
	source    *gatedSource
	hub       *push.MemoryHub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hub := push.NewMemoryHub()
	connector, err := push.NewConnector(config.RealtimeConfig{Transport: config.TransportMemory}, push.WithMemoryHub(hub))
	require.NoError(t, err)

	queryCache := cache.NewInMemoryQueryCache()
	ledger := cache.NewInMemoryToastLedger(time.Hour)
	source := &gatedSource{
		grants: map[int64][]string{1: {"bordereau_detail.view"}, 2: {}},
		gates:  map[int64]chan struct{}{},
	}
	sessions := session.NewManager(session.Config{RecipientRole: bpc.RoleProcessingClerk},
		source, connector, queryCache, ledger, session.WithLogger(zap.NewNop()))
	t.Cleanup(func() {
		sessions.Shutdown(context.Background())
		_ = queryCache.Close()
		_ = ledger.Close()
	})

	return &env{
		jwt:       auth.NewJWTService(config.JWTConfig{Secret: testSecret}),
		blacklist: auth.NewInMemoryTokenBlacklist(),
		sessions:  sessions,
		source:    source,
		hub:       hub,
	}
}

func (e *env) sessionConfig(t *testing.T) SessionConfig {
	return SessionConfig{
		JWTService:     e.jwt,
		TokenBlacklist: e.blacklist,
		Sessions:       e.sessions,
		TokenCookie:    "access_token",
		SessionCookie:  "console_session",
		SessionMaxAge:  time.Hour,
		Logger:         zap.NewNop(),
	}
}

func (e *env) token(t *testing.T, userID int64, bpcID *int64) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken(auth.GenerateTokenInput{
		UserID: userID,
		Name:   "clerk",
		RoleID: int(bpc.RoleProcessingClerk),
		BpcID:  bpcID,
	})
	require.NoError(t, err)
	return tok
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
