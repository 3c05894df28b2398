// Package session owns the per-browser-session objects of the console: the
// permission store, the realtime synchronizer and the session's slice of
// the query cache.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appaccess "github.com/bordereau/console/internal/application/access"
	"github.com/bordereau/console/internal/application/realtime"
	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/infrastructure/cache"
	"github.com/bordereau/console/internal/infrastructure/push"
	"go.uber.org/zap"
)

// ErrClosed is returned when a torn-down session is used
var ErrClosed = errors.New("session: closed")

// PermissionsEvent summarizes a permission change for the browser
type PermissionsEvent struct {
	Generation  uint64 `json:"generation"`
	Loading     bool   `json:"loading"`
	Permissions int    `json:"permissions"`
}

// Session is one browser session
type Session struct {
	id        string
	store     *appaccess.Store
	sync      *realtime.Synchronizer
	transport push.Transport
	cache     *cache.Namespaced
	broker    *Broker
	logger    *zap.Logger

	lastSeen atomic.Int64

	mu     sync.Mutex
	closed bool
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Store returns the session's permission store
func (s *Session) Store() *appaccess.Store { return s.store }

// Cache returns the session's view of the query cache
func (s *Session) Cache() cache.QueryCache { return s.cache }

// Broker returns the session's event fan-out
func (s *Session) Broker() *Broker { return s.broker }

// Synchronizer returns the session's realtime synchronizer
func (s *Session) Synchronizer() *realtime.Synchronizer { return s.sync }

// Identity returns the bound user, nil when signed out
func (s *Session) Identity() *access.Identity { return s.store.Identity() }

// Touch marks the session as used now
func (s *Session) Touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the session was last used
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Bind points the session at identity. A different user swaps the
// permission grant (the previous user's grant is dropped at once, the new one
// loads in the background) and empties the session's cached queries. The
// synchronizer follows the identity's work session and role.
func (s *Session) Bind(ctx context.Context, identity *access.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.Touch()

	if !access.SameUser(s.store.Identity(), identity) {
		if err := s.cache.Purge(ctx); err != nil {
			s.logger.Warn("Failed to purge session cache", zap.Error(err))
		}
	}
	s.store.SetIdentityAsync(ctx, identity)
	return s.follow(ctx, identity)
}

func (s *Session) follow(ctx context.Context, identity *access.Identity) error {
	var subscriber *int64
	var role bpc.Role
	if identity != nil {
		subscriber = identity.WorkSessionID
		role = bpc.Role(identity.RoleID)
	}
	s.sync.SetRole(role)
	if err := s.sync.Retarget(ctx, subscriber); err != nil {
		return fmt.Errorf("follow work session: %w", err)
	}
	return nil
}

// SignOut returns the session to the no-user state: empty grant, no
// subscription, no cached queries. Open streams are told and stay open.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.signOutLocked(ctx)
	s.broker.Publish(Event{Name: EventSignedOut, Data: struct{}{}})
	return nil
}

func (s *Session) signOutLocked(ctx context.Context) {
	previous := s.store.Identity()
	s.store.SetIdentity(ctx, nil)
	_ = s.sync.Retarget(ctx, nil)

	if err := s.cache.Purge(ctx); err != nil {
		s.logger.Warn("Failed to purge session cache", zap.Error(err))
	}
	s.forgetToasts(ctx, previous)
}

// forgetToasts drops this session's toast memory of identity's work session
func (s *Session) forgetToasts(ctx context.Context, identity *access.Identity) {
	if identity == nil || identity.WorkSessionID == nil {
		return
	}
	if err := s.sync.ForgetToasts(ctx, *identity.WorkSessionID); err != nil {
		s.logger.Warn("Failed to reset toast ledger", zap.Error(err))
	}
}

// close tears the session down for good
func (s *Session) close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.forgetToasts(ctx, s.store.Identity())
	s.sync.Stop()
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("Failed to close push transport", zap.Error(err))
	}
	s.store.Close()
	if err := s.cache.Purge(ctx); err != nil {
		s.logger.Warn("Failed to purge session cache", zap.Error(err))
	}
	s.broker.Close()
}

// Closed reports whether the session was torn down
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) onPermissions(snap access.Snapshot) {
	s.broker.Publish(Event{Name: EventPermissions, Data: PermissionsEvent{
		Generation:  snap.Generation,
		Loading:     snap.Loading,
		Permissions: snap.Permissions.Len(),
	}})
}

func (s *Session) onStatus(status bpc.Status) {
	s.broker.Publish(Event{Name: EventStatus, Data: status})
}

// onToast reports whether at least one open stream took the toast
func (s *Session) onToast(_ context.Context, toast bpc.Toast) bool {
	return s.broker.Publish(Event{Name: EventToast, Data: toast}) > 0
}
