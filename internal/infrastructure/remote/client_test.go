package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/domain/shared"
	"github.com/bordereau/console/internal/infrastructure/config"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(baseURL string) config.RemoteConfig {
	return config.RemoteConfig{
		BaseURL:         baseURL,
		PermissionsPath: "/api/permissions",
		StatusPath:      "/api/bpc/status/current",
		BordereauPath:   "/api/bpc/%d/bordereau/current",
		Timeout:         2 * time.Second,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(testConfig(srv.URL),
		WithLogger(zaptest.NewLogger(t)),
		WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		}),
	)
	require.NoError(t, err)
	return c
}

var operator = &access.Identity{UserID: 42, Name: "Ada", RoleID: 3, Token: "tok-42"}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(config.RemoteConfig{})
	assert.Error(t, err)

	_, err = NewClient(config.RemoteConfig{BaseURL: "://bad"})
	assert.Error(t, err)
}

func TestFetchPermissions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/permissions", r.URL.Path)
		assert.Equal(t, "Bearer tok-42", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"permissions": ["bordereau_detail.view", "bordereau.edit"],
			"modules": [
				{"id": 1, "name": "Bordereaux", "code": "bordereau", "path": "/bordereaux", "parent_id": null,
				 "permissions": ["bordereau_detail.view"]}
			]
		}`))
	}))
	defer srv.Close()

	ctx := logger.WithRequestID(context.Background(), "req-1")
	grant, err := newTestClient(t, srv).FetchPermissions(ctx, operator)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bordereau_detail.view", "bordereau.edit"}, grant.Permissions)
	require.Len(t, grant.Modules, 1)
	assert.Equal(t, "bordereau", grant.Modules[0].Code)
}

func TestFetchPermissions_IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FetchPermissions(context.Background(), operator)
	assert.ErrorIs(t, err, shared.ErrUpstream)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPermissions_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// module without a code
		_, _ = w.Write([]byte(`{"permissions": [], "modules": [{"id": 1, "name": "Broken"}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FetchPermissions(context.Background(), operator)
	assert.ErrorIs(t, err, shared.ErrUpstream)
}

func TestFetchPermissions_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, shared.ErrUnauthorized},
		{http.StatusForbidden, shared.ErrForbidden},
		{http.StatusNotFound, shared.ErrNotFound},
		{http.StatusTooManyRequests, shared.ErrUpstream},
		{http.StatusInternalServerError, shared.ErrUpstream},
		{http.StatusBadRequest, shared.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).FetchPermissions(context.Background(), operator)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchCurrentStatus_RetriesUpstreamFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": 9, "bpc_status_id": 2, "bpc_status": {"id": 2, "status": "Active"},
			"bordereau_name": "Q3 marine"}`))
	}))
	defer srv.Close()

	record, err := newTestClient(t, srv).FetchCurrentStatus(context.Background(), operator)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(2), record.BpcStatusID)
	assert.Equal(t, "Active", record.BpcStatus.Name)
	assert.Equal(t, "Q3 marine", record.BordereauName)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchCurrentStatus_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FetchCurrentStatus(context.Background(), operator)
	assert.ErrorIs(t, err, shared.ErrUpstream)
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestFetchCurrentStatus_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).FetchCurrentStatus(context.Background(), operator)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchCurrentStatus_Null(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))
	defer srv.Close()

	record, err := newTestClient(t, srv).FetchCurrentStatus(context.Background(), operator)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestFetchCurrentBordereau(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/bpc/7/bordereau/current":
			_, _ = w.Write([]byte(`{"id": 101, "bordereau_name": "Q1 property", "insurer": "Acme Re",
				"total_premium": "125000.50", "currency": "GBP", "row_count": 340}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	b, err := c.FetchCurrentBordereau(context.Background(), operator, 7)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, int64(101), b.ID)
	assert.True(t, decimal.RequireFromString("125000.50").Equal(b.TotalPremium))

	// nothing assigned
	b, err = c.FetchCurrentBordereau(context.Background(), operator, 8)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.FetchPermissions(context.Background(), operator)
	assert.ErrorIs(t, err, shared.ErrUpstreamTimeout)
}
