package push

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryHub is an in-process broadcast server. Publish delivers synchronously
// to every transport subscribed to the channel and event.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[string]map[*MemoryTransport]struct{}
	logger *zap.Logger
}

// MemoryHubOption configures a MemoryHub
type MemoryHubOption func(*MemoryHub)

// WithMemoryHubLogger sets the logger for the hub
func WithMemoryHubLogger(logger *zap.Logger) MemoryHubOption {
	return func(h *MemoryHub) {
		h.logger = logger
	}
}

// NewMemoryHub creates an empty hub
func NewMemoryHub(opts ...MemoryHubOption) *MemoryHub {
	h := &MemoryHub{
		subs:   make(map[string]map[*MemoryTransport]struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect opens a transport attached to the hub
func (h *MemoryHub) Connect() *MemoryTransport {
	return &MemoryTransport{
		hub:      h,
		channels: make(map[string]subscription),
	}
}

// Publish delivers data to subscribers of channel listening for event and
// returns how many handlers ran.
func (h *MemoryHub) Publish(ctx context.Context, channel, event string, data []byte) (int, error) {
	if channel == "" || event == "" {
		return 0, ErrInvalidChannel
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*MemoryTransport, 0, len(h.subs[channel]))
	for t := range h.subs[channel] {
		targets = append(targets, t)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if t.dispatch(channel, event, data) {
			delivered++
		}
	}
	return delivered, nil
}

// Subscribers reports how many transports joined channel
func (h *MemoryHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

func (h *MemoryHub) join(channel string, t *MemoryTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*MemoryTransport]struct{})
	}
	h.subs[channel][t] = struct{}{}
}

func (h *MemoryHub) leave(channel string, t *MemoryTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[channel], t)
	if len(h.subs[channel]) == 0 {
		delete(h.subs, channel)
	}
}

// MemoryTransport is one connection to a MemoryHub
type MemoryTransport struct {
	hub *MemoryHub

	mu       sync.Mutex
	channels map[string]subscription
	closed   bool

	// serializes handler calls so concurrent publishers keep per-transport order
	deliverMu sync.Mutex
}

// Subscribe implements Transport
func (t *MemoryTransport) Subscribe(ctx context.Context, channel, event string, handler Handler) error {
	if channel == "" || event == "" || handler == nil {
		return ErrInvalidChannel
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.channels[channel] = subscription{event: event, handler: handler}
	t.mu.Unlock()

	t.hub.join(channel, t)
	return nil
}

// Leave implements Transport
func (t *MemoryTransport) Leave(channel string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, ok := t.channels[channel]; !ok {
		t.mu.Unlock()
		return ErrNotSubscribed
	}
	delete(t.channels, channel)
	t.mu.Unlock()

	t.hub.leave(channel, t)
	return nil
}

// Close implements Transport
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channels := make([]string, 0, len(t.channels))
	for ch := range t.channels {
		channels = append(channels, ch)
	}
	t.channels = map[string]subscription{}
	t.mu.Unlock()

	for _, ch := range channels {
		t.hub.leave(ch, t)
	}
	return nil
}

// Name implements Transport
func (t *MemoryTransport) Name() string { return NameMemory }

func (t *MemoryTransport) dispatch(channel, event string, data []byte) bool {
	t.mu.Lock()
	sub, ok := t.channels[channel]
	closed := t.closed
	t.mu.Unlock()
	if closed || !ok || sub.event != event {
		return false
	}

	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	deliver(t.hub.logger, channel, sub.handler, data)
	return true
}

var _ Transport = (*MemoryTransport)(nil)
