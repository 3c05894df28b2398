package session

import (
	"context"
	"errors"
	"sync"
	"time"

	appaccess "github.com/bordereau/console/internal/application/access"
	"github.com/bordereau/console/internal/application/realtime"
	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/infrastructure/cache"
	"github.com/bordereau/console/internal/infrastructure/push"
	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ErrInvalidID is returned for an empty session id
var ErrInvalidID = errors.New("session: empty id")

// TransportFactory opens one push connection per session
type TransportFactory interface {
	Connect() push.Transport
}

// Config holds session lifetime and realtime settings
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	EventName     string
	RecipientRole bpc.Role
	// EntityTTL bounds how long a pushed bordereau stays cached
	EntityTTL time.Duration
}

// Manager owns every live browser session of this instance
type Manager struct {
	cfg        Config
	source     appaccess.PermissionSource
	transports TransportFactory
	cache      cache.QueryCache
	ledger     bpc.ToastLedger
	logger     *zap.Logger
	metrics    *telemetry.ConsoleMetrics

	mu       sync.Mutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ManagerOption is a functional option for configuring the manager
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager and its sessions
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records session, reload and push metrics
func WithMetrics(metrics *telemetry.ConsoleMetrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a manager. Start runs the idle sweeper.
func NewManager(cfg Config, source appaccess.PermissionSource, transports TransportFactory, queryCache cache.QueryCache, ledger bpc.ToastLedger, opts ...ManagerOption) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	m := &Manager{
		cfg:        cfg,
		source:     source,
		transports: transports,
		cache:      queryCache,
		ledger:     ledger,
		logger:     zap.NewNop(),
		sessions:   make(map[string]*Session),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the session with id, creating it when missing
func (m *Manager) Open(id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Touch()
		return s, nil
	}

	s := m.newSession(id)
	m.sessions[id] = s
	m.metrics.SessionOpened(context.Background())
	m.logger.Debug("Session opened", zap.String("session_id", id))
	return s, nil
}

func (m *Manager) newSession(id string) *Session {
	log := m.logger.With(zap.String("session_id", id))
	s := &Session{
		id:        id,
		transport: m.transports.Connect(),
		cache:     cache.Namespace(m.cache, "session:"+id+":"),
		broker:    NewBroker(log.Named("broker")),
		logger:    log,
	}
	s.Touch()

	s.store = appaccess.NewStore(m.source,
		appaccess.WithStoreLogger(log.Named("permissions")),
		appaccess.WithStoreMetrics(m.metrics),
	)
	s.store.OnChange(s.onPermissions)

	s.sync = realtime.New(realtime.Config{
		RecipientRole: m.cfg.RecipientRole,
		EventName:     m.cfg.EventName,
		OnStatus:      s.onStatus,
		EntityTTL:     m.cfg.EntityTTL,
		LedgerScope:   id,
	}, s.transport, s.cache, m.ledger, realtime.ToastSinkFunc(s.onToast),
		realtime.WithLogger(log.Named("realtime")),
		realtime.WithMetrics(m.metrics),
	)
	return s
}

// Get returns a live session
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// End tears a session down and forgets it. Unknown ids are ignored.
func (m *Manager) End(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.close(ctx)
	m.metrics.SessionClosed(ctx)
	m.logger.Debug("Session ended", zap.String("session_id", id))
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep ends sessions idle since before now minus the idle timeout and
// returns how many it ended.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		m.End(ctx, id)
	}
	if len(idle) > 0 {
		m.logger.Info("Evicted idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Start runs the idle sweeper until Shutdown
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case now := <-ticker.C:
				m.Sweep(context.Background(), now)
			}
		}
	}()
}

// Shutdown stops the sweeper and ends every session
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.End(ctx, id)
	}
}
