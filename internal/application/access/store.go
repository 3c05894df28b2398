// Package access owns the per-session permission store and the guard that
// gates content on it.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/domain/shared"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PermissionSource fetches the grant of an identity from the core API
type PermissionSource interface {
	FetchPermissions(ctx context.Context, identity *access.Identity) (*access.Grant, error)
}

// Store is the single source of truth for what the signed-in user may do and
// see. It is created per session, reloads itself when the user changes and
// is discarded on sign-out.
//
// Every identity change bumps a generation counter; a reload whose result
// arrives under a newer generation, or after Close, is dropped.
type Store struct {
	source  PermissionSource
	logger  *zap.Logger
	metrics *telemetry.ConsoleMetrics

	mu         sync.RWMutex
	identity   *access.Identity
	snapshot   access.Snapshot
	generation uint64
	pending    int
	ready      chan struct{}
	readyDone  bool
	lastErr    error
	closed     bool
	listeners  []func(access.Snapshot)
}

// StoreOption is a functional option for configuring the store
type StoreOption func(*Store)

// WithStoreLogger sets the logger for the store
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStoreMetrics records reload outcomes
func WithStoreMetrics(m *telemetry.ConsoleMetrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a store with no user. It is ready immediately.
func NewStore(source PermissionSource, opts ...StoreOption) *Store {
	s := &Store{
		source:   source,
		logger:   zap.NewNop(),
		snapshot: emptySnapshot(0, false),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.markReadyLocked()
	return s
}

func emptySnapshot(generation uint64, loading bool) access.Snapshot {
	return access.Snapshot{
		Loading:     loading,
		Permissions: access.NewPermissionSet(),
		Modules:     access.EmptyModuleTree(),
		Generation:  generation,
	}
}

// SetIdentity binds the store to identity and reloads once when the user
// differs from the current one (sign-in, switch, sign-out). A new token for
// the same user is kept without reloading. It reports whether a reload ran.
func (s *Store) SetIdentity(ctx context.Context, identity *access.Identity) bool {
	if !s.switchIdentity(identity) {
		return false
	}
	s.Reload(ctx)
	return true
}

// SetIdentityAsync is SetIdentity with the reload run in the background. The
// switch itself is visible on return: the previous user's grant is gone and
// Ready stays open until the reload lands.
func (s *Store) SetIdentityAsync(ctx context.Context, identity *access.Identity) bool {
	if !s.switchIdentity(identity) {
		return false
	}
	go s.Reload(context.WithoutCancel(ctx))
	return true
}

func (s *Store) switchIdentity(identity *access.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if access.SameUser(s.identity, identity) {
		s.identity = identity
		return false
	}

	s.identity = identity
	s.generation++
	s.pending = 0
	s.lastErr = nil
	// nothing of the previous user stays visible while the new grant loads
	s.snapshot = emptySnapshot(s.generation, identity != nil)
	s.ready = make(chan struct{})
	s.readyDone = false
	if identity == nil {
		s.markReadyLocked()
	}
	return true
}

// Reload fetches the grant of the current user and replaces the permission
// set and module tree with it. Without a user it clears both and makes no
// call. Failures are logged and leave the previous state in place apart from
// the loading flag; they are available from LastError. Reload is not retried.
func (s *Store) Reload(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	gen := s.generation
	identity := s.identity

	if identity == nil {
		s.snapshot = emptySnapshot(gen, false)
		s.lastErr = nil
		s.markReadyLocked()
		snap := s.snapshot
		s.mu.Unlock()

		s.metrics.RecordReload(ctx, telemetry.OutcomeCleared, 0)
		s.notify(snap)
		return
	}

	s.pending++
	s.snapshot.Loading = true
	s.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "permissions.reload",
		telemetry.WithAttributes(attribute.Int64("user_id", identity.UserID)),
	)
	defer span.End()

	log := logger.Enrich(ctx, s.logger).With(zap.Int64("user_id", identity.UserID))
	start := time.Now()
	grant, err := s.source.FetchPermissions(ctx, identity)
	elapsed := time.Since(start)
	telemetry.RecordError(span, err)

	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		log.Debug("Discarding permission reload for a previous identity",
			zap.Uint64("generation", gen))
		s.metrics.RecordReload(ctx, telemetry.OutcomeDiscarded, elapsed)
		return
	}

	s.pending--
	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = telemetry.OutcomeFailure
		s.lastErr = err
		log.Error("Failed to reload permissions", zap.Error(err))
	} else {
		s.lastErr = nil
		s.snapshot = access.Snapshot{
			UserID:      identity.UserID,
			Permissions: access.NewPermissionSet(grant.Permissions...),
			Modules:     access.NewModuleTree(grant.Modules),
			Generation:  gen,
			LoadedAt:    time.Now(),
		}
		log.Debug("Permissions reloaded",
			zap.Int("permissions", s.snapshot.Permissions.Len()),
			zap.Int("modules", s.snapshot.Modules.Len()))
	}
	s.snapshot.Loading = s.pending > 0
	s.markReadyLocked()
	snap := s.snapshot
	s.mu.Unlock()

	s.metrics.RecordReload(ctx, outcome, elapsed)
	s.notify(snap)
}

// Can reports whether the current permission set holds code. It never
// touches the network.
func (s *Store) Can(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Permissions.Has(code)
}

// Loading reports whether a reload for the current user is in flight
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Loading
}

// Snapshot returns the current permission context
func (s *Store) Snapshot() access.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Identity returns the user the store is bound to, nil when signed out
func (s *Store) Identity() *access.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// LastError returns the error of the last settled reload, nil after a success
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Ready is closed once the first reload for the current user has settled,
// successfully or not.
func (s *Store) Ready() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// WaitReady blocks until Ready or ctx is done
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.Ready():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", shared.ErrNotReady, ctx.Err())
	}
}

// OnChange registers fn to receive every settled snapshot. fn runs on the
// goroutine that completed the reload.
func (s *Store) OnChange(fn func(access.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Close tears the store down. In-flight reloads are dropped when they
// return and waiters on Ready are released.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	s.identity = nil
	s.snapshot = emptySnapshot(s.generation, false)
	s.listeners = nil
	s.markReadyLocked()
}

func (s *Store) markReadyLocked() {
	if !s.readyDone {
		s.readyDone = true
		close(s.ready)
	}
}

func (s *Store) notify(snap access.Snapshot) {
	s.mu.RLock()
	listeners := append([]func(access.Snapshot){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

var _ access.Checker = (*Store)(nil)
