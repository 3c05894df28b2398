package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisPrefix  = "console:push:"
	defaultCloseTimeout = 5 * time.Second
)

// redisMessage is the body published on a Redis channel
type redisMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisTransport receives events over Redis Pub/Sub. Each push channel maps
// to the Redis channel prefix+name. The shared client is never closed here.
type RedisTransport struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	mu       sync.Mutex
	pubsub   *redis.PubSub
	channels map[string]subscription
	cancelFn context.CancelFunc
	doneCh   chan struct{}
	doneOnce sync.Once
	closed   bool
}

// RedisTransportOption is a functional option for configuring the transport
type RedisTransportOption func(*RedisTransport)

// WithRedisPrefix sets the Redis channel prefix
func WithRedisPrefix(prefix string) RedisTransportOption {
	return func(t *RedisTransport) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithRedisLogger sets the logger for the transport
func WithRedisLogger(logger *zap.Logger) RedisTransportOption {
	return func(t *RedisTransport) {
		t.logger = logger
	}
}

// NewRedisTransport creates a transport on a shared client. The caller keeps
// ownership of the client.
func NewRedisTransport(client *redis.Client, opts ...RedisTransportOption) *RedisTransport {
	t := &RedisTransport{
		client:   client,
		prefix:   defaultRedisPrefix,
		logger:   zap.NewNop(),
		channels: make(map[string]subscription),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RedisTransport) redisChannel(channel string) string {
	return t.prefix + channel
}

// Subscribe implements Transport. The first subscription opens the Pub/Sub
// connection and waits for the server to confirm it.
func (t *RedisTransport) Subscribe(ctx context.Context, channel, event string, handler Handler) error {
	if channel == "" || event == "" || handler == nil {
		return ErrInvalidChannel
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if t.pubsub == nil {
		pubsub := t.client.Subscribe(ctx, t.redisChannel(channel))
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
		}
		t.pubsub = pubsub
		t.channels[channel] = subscription{event: event, handler: handler}

		loopCtx, cancel := context.WithCancel(context.Background())
		t.cancelFn = cancel
		go t.receiveLoop(loopCtx, pubsub.Channel())

		t.logger.Info("Subscribed to push channel", zap.String("channel", channel))
		return nil
	}

	if _, ok := t.channels[channel]; !ok {
		if err := t.pubsub.Subscribe(ctx, t.redisChannel(channel)); err != nil {
			return fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
		}
	}
	t.channels[channel] = subscription{event: event, handler: handler}
	t.logger.Info("Subscribed to push channel", zap.String("channel", channel))
	return nil
}

// Leave implements Transport
func (t *RedisTransport) Leave(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, ok := t.channels[channel]; !ok {
		return ErrNotSubscribed
	}
	delete(t.channels, channel)

	ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
	defer cancel()
	if err := t.pubsub.Unsubscribe(ctx, t.redisChannel(channel)); err != nil {
		return fmt.Errorf("failed to leave channel %s: %w", channel, err)
	}
	return nil
}

func (t *RedisTransport) receiveLoop(ctx context.Context, ch <-chan *redis.Message) {
	defer t.markDone()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				t.logger.Warn("Push channel closed")
				return
			}
			t.dispatch(msg)
		}
	}
}

func (t *RedisTransport) dispatch(msg *redis.Message) {
	if len(msg.Channel) < len(t.prefix) {
		return
	}
	channel := msg.Channel[len(t.prefix):]

	var body redisMessage
	if err := json.Unmarshal([]byte(msg.Payload), &body); err != nil {
		t.logger.Error("Failed to unmarshal push message",
			zap.String("channel", channel),
			zap.Error(err))
		return
	}

	t.mu.Lock()
	sub, ok := t.channels[channel]
	t.mu.Unlock()
	if !ok || sub.event != body.Event {
		return
	}

	deliver(t.logger, channel, sub.handler, unwrapData(body.Data))
}

// markDone safely marks the receive loop as finished
func (t *RedisTransport) markDone() {
	t.doneOnce.Do(func() {
		close(t.doneCh)
	})
}

// Close implements Transport
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancelFn := t.cancelFn
	pubsub := t.pubsub
	t.channels = map[string]subscription{}
	t.mu.Unlock()

	if pubsub == nil {
		return nil
	}

	err := pubsub.Close()
	if cancelFn != nil {
		cancelFn()
		select {
		case <-t.doneCh:
		case <-time.After(defaultCloseTimeout):
			t.logger.Warn("Timeout waiting for push subscription to stop")
		}
	}
	return err
}

// Name implements Transport
func (t *RedisTransport) Name() string { return NameRedis }

// PublishRedis publishes one event the way the core backend does. Used by
// tooling and tests that stand in for the broadcaster.
func PublishRedis(ctx context.Context, client *redis.Client, prefix, channel, event string, data []byte) error {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	body, err := json.Marshal(redisMessage{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}
	if err := client.Publish(ctx, prefix+channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish push message: %w", err)
	}
	return nil
}

var _ Transport = (*RedisTransport)(nil)
