package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event names streamed to the browser
const (
	EventToast       = "toast"
	EventStatus      = "status"
	EventPermissions = "permissions"
	EventSignedOut   = "signed_out"
)

// clientBufferSize lets a slow reader fall behind briefly without blocking
// the push handler
const clientBufferSize = 64

// Event is one message for the browser
type Event struct {
	Name string
	Data any
}

// Client is one open event stream of a session (one browser tab)
type Client struct {
	ID     string
	Events <-chan Event
	Done   <-chan struct{}

	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broker fans session events out to every open stream of the session
type Broker struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewBroker creates an empty broker
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Subscribe registers a new stream. The returned func unregisters it.
// A closed broker returns a client whose Done is already closed.
func (b *Broker) Subscribe() (*Client, func()) {
	events := make(chan Event, clientBufferSize)
	done := make(chan struct{})
	c := &Client{
		ID:     uuid.NewString(),
		Events: events,
		Done:   done,
		events: events,
		done:   done,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		c.close()
		return c, func() {}
	}
	b.clients[c.ID] = c
	b.mu.Unlock()

	return c, func() {
		b.mu.Lock()
		delete(b.clients, c.ID)
		b.mu.Unlock()
		c.close()
	}
}

// Publish sends ev to every stream and returns how many took it. A full
// stream drops the event.
func (b *Broker) Publish(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, c := range b.clients {
		select {
		case c.events <- ev:
			delivered++
		case <-c.done:
		default:
			b.logger.Warn("Stream buffer full, dropping event",
				zap.String("client_id", c.ID),
				zap.String("event", ev.Name))
		}
	}
	return delivered
}

// Len returns the number of open streams
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close ends every stream and rejects new ones
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, c := range b.clients {
		c.close()
		delete(b.clients, id)
	}
}
