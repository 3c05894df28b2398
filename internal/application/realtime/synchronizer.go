// Package realtime keeps a session's query cache in step with push
// notifications for the operator's work session.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/infrastructure/cache"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/bordereau/console/internal/infrastructure/push"
	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultEventName is the broadcast event carrying work-item notifications
const DefaultEventName = "BpcNotification"

// StatusCallback receives every status snapshot after it is merged
type StatusCallback func(bpc.Status)

// ToastSink shows a toast to the operator. It reports whether any screen
// received it.
type ToastSink interface {
	Toast(ctx context.Context, toast bpc.Toast) bool
}

// ToastSinkFunc adapts a function to ToastSink
type ToastSinkFunc func(ctx context.Context, toast bpc.Toast) bool

// Toast implements ToastSink
func (f ToastSinkFunc) Toast(ctx context.Context, toast bpc.Toast) bool { return f(ctx, toast) }

// Config describes what a synchronizer listens to
type Config struct {
	// SubscriberID is the work-session id; nil leaves the synchronizer idle.
	SubscriberID *int64
	// Role is the signed-in user's role.
	Role bpc.Role
	// RecipientRole is the role that gets assignment toasts.
	RecipientRole bpc.Role
	EventName     string
	OnStatus      StatusCallback
	// EntityTTL bounds how long a pushed bordereau stays cached.
	EntityTTL time.Duration
	// LedgerScope keeps this synchronizer's toast memory apart from other
	// sessions following the same subscriber, usually the session id.
	LedgerScope string
}

// Synchronizer subscribes to bpc.<id> and folds each notification into the
// query cache. Message order is whatever the transport delivers: the last
// write wins.
type Synchronizer struct {
	transport push.Transport
	cache     cache.QueryCache
	ledger    bpc.ToastLedger
	sink      ToastSink
	logger    *zap.Logger
	metrics   *telemetry.ConsoleMetrics

	eventName     string
	recipientRole bpc.Role
	entityTTL     time.Duration
	ledgerScope   string

	role     atomic.Int32
	onStatus atomic.Pointer[StatusCallback]

	mu           sync.Mutex
	subscriberID *int64
	channel      string
}

// Option is a functional option for configuring the synchronizer
type Option func(*Synchronizer)

// WithLogger sets the logger for the synchronizer
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithMetrics records handled messages and toasts
func WithMetrics(m *telemetry.ConsoleMetrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// New creates an idle synchronizer; Start subscribes it
func New(cfg Config, transport push.Transport, queryCache cache.QueryCache, ledger bpc.ToastLedger, sink ToastSink, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		transport:     transport,
		cache:         queryCache,
		ledger:        ledger,
		sink:          sink,
		logger:        zap.NewNop(),
		eventName:     cfg.EventName,
		recipientRole: cfg.RecipientRole,
		entityTTL:     cfg.EntityTTL,
		ledgerScope:   cfg.LedgerScope,
		subscriberID:  copyID(cfg.SubscriberID),
	}
	if s.eventName == "" {
		s.eventName = DefaultEventName
	}
	if s.recipientRole == 0 {
		s.recipientRole = bpc.RoleProcessingClerk
	}
	s.role.Store(int32(cfg.Role))
	s.SetStatusCallback(cfg.OnStatus)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// Start subscribes to the channel of the configured subscriber. Without a
// subscriber it does nothing. Starting twice is a no-op.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Synchronizer) startLocked(ctx context.Context) error {
	if s.subscriberID == nil || s.channel != "" {
		return nil
	}

	id := *s.subscriberID
	channel := bpc.ChannelName(id)
	// handlers outlive the request that started the subscription
	handlerCtx := context.WithoutCancel(ctx)

	err := s.transport.Subscribe(ctx, channel, s.eventName, func(data []byte) {
		s.handle(handlerCtx, id, data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	s.channel = channel

	logger.Enrich(ctx, s.logger).Info("Realtime synchronizer subscribed",
		zap.String("channel", channel),
		zap.String("event", s.eventName))
	return nil
}

// Stop leaves the channel. Leave failures are ignored; the channel may
// already be gone.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Synchronizer) stopLocked() {
	if s.channel == "" {
		return
	}
	_ = s.transport.Leave(s.channel)
	s.channel = ""
}

// Retarget follows a new work-session id: it leaves the old channel and
// subscribes to the new one. The same id is a no-op.
func (s *Synchronizer) Retarget(ctx context.Context, subscriberID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sameID(s.subscriberID, subscriberID) {
		if s.channel == "" {
			return s.startLocked(ctx)
		}
		return nil
	}
	s.stopLocked()
	s.subscriberID = copyID(subscriberID)
	return s.startLocked(ctx)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SubscriberID returns the tracked work-session id, nil when idle
func (s *Synchronizer) SubscriberID() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyID(s.subscriberID)
}

// Channel returns the joined channel, empty when not subscribed
func (s *Synchronizer) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// SetStatusCallback swaps the status callback without touching the
// subscription.
func (s *Synchronizer) SetStatusCallback(cb StatusCallback) {
	if cb == nil {
		s.onStatus.Store(nil)
		return
	}
	s.onStatus.Store(&cb)
}

// SetRole updates the signed-in user's role
func (s *Synchronizer) SetRole(role bpc.Role) {
	s.role.Store(int32(role))
}

func (s *Synchronizer) handle(ctx context.Context, subscriberID int64, data []byte) {
	ctx, span := telemetry.StartSpan(ctx, "bpc.notification",
		telemetry.WithAttributes(attribute.Int64("subscriber_id", subscriberID)),
	)
	defer span.End()
	log := logger.Enrich(ctx, s.logger).With(zap.Int64("subscriber_id", subscriberID))

	var env bpc.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		telemetry.RecordError(span, err)
		log.Warn("Dropping malformed notification", zap.Error(err))
		return
	}
	payload := env.Payload
	s.metrics.RecordPushMessage(ctx, s.transport.Name(), payloadKind(payload))

	if payload.Status != nil {
		s.mergeStatus(ctx, log, *payload.Status)
	}

	key := bpc.BordereauCacheKey(subscriberID)
	if payload.Bordereau == nil {
		// no entity reported: refetch on next read, keep the last value
		if err := s.cache.Invalidate(ctx, key); err != nil {
			log.Warn("Failed to invalidate current bordereau", zap.Error(err))
		}
		return
	}
	s.replaceEntity(ctx, log, subscriberID, key, payload.Bordereau)
}

func (s *Synchronizer) mergeStatus(ctx context.Context, log *zap.Logger, status bpc.Status) {
	merged, err := cache.UpdateAs(ctx, s.cache, bpc.StatusCacheKey, func(r *bpc.StatusRecord) error {
		r.MergeStatus(status)
		return nil
	})
	if err != nil {
		log.Warn("Failed to merge status into cache", zap.Int64("status_id", status.ID), zap.Error(err))
	}
	s.metrics.RecordStatusMerge(ctx, merged)

	if cb := s.onStatus.Load(); cb != nil {
		(*cb)(status)
	}
}

func (s *Synchronizer) replaceEntity(ctx context.Context, log *zap.Logger, subscriberID int64, key string, next *bpc.Bordereau) {
	current, _, err := cache.GetAs[bpc.Bordereau](ctx, s.cache, key)
	if err != nil {
		log.Warn("Failed to read current bordereau", zap.Error(err))
	}
	if current == nil || current.ID != next.ID {
		if err := cache.SetAs(ctx, s.cache, key, next, s.entityTTL); err != nil {
			log.Warn("Failed to cache bordereau", zap.Int64("bordereau_id", next.ID), zap.Error(err))
		}
	}

	if bpc.Role(s.role.Load()) != s.recipientRole {
		return
	}
	// a toast nobody saw is not recorded, so the next delivery of the same
	// entity raises it again
	scope := bpc.ToastScope(s.ledgerScope, subscriberID)
	due, err := s.ledger.Due(ctx, scope, next.ID)
	if err != nil {
		log.Warn("Toast ledger unavailable, skipping toast", zap.Error(err))
		return
	}
	if !due {
		return
	}
	if !s.sink.Toast(ctx, bpc.NewAssignmentToast(subscriberID, next)) {
		log.Debug("No open screen for assignment toast", zap.Int64("bordereau_id", next.ID))
		return
	}
	if err := s.ledger.Record(ctx, scope, next.ID); err != nil {
		log.Warn("Failed to record toasted bordereau", zap.Int64("bordereau_id", next.ID), zap.Error(err))
	}
	s.metrics.RecordToast(ctx)
	log.Info("Assignment toast raised", zap.Int64("bordereau_id", next.ID))
}

// ForgetToasts drops the toast memory of subscriberID for this
// synchronizer's scope.
func (s *Synchronizer) ForgetToasts(ctx context.Context, subscriberID int64) error {
	return s.ledger.Forget(ctx, bpc.ToastScope(s.ledgerScope, subscriberID))
}

func payloadKind(p bpc.Payload) string {
	switch {
	case p.Bordereau != nil && p.Status != nil:
		return "both"
	case p.Bordereau != nil:
		return "entity"
	case p.Status != nil:
		return "status"
	default:
		return "empty"
	}
}
