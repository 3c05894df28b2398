package push

import (
	"fmt"

	"github.com/bordereau/console/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Connector opens one Transport per browser session for the configured
// realtime backend.
type Connector struct {
	cfg    config.RealtimeConfig
	client *redis.Client
	hub    *MemoryHub
	logger *zap.Logger
}

// ConnectorOption is a functional option for configuring the connector
type ConnectorOption func(*Connector)

// WithRedisClient supplies the shared client for the redis transport
func WithRedisClient(client *redis.Client) ConnectorOption {
	return func(c *Connector) {
		c.client = client
	}
}

// WithMemoryHub supplies the hub for the memory transport
func WithMemoryHub(hub *MemoryHub) ConnectorOption {
	return func(c *Connector) {
		c.hub = hub
	}
}

// WithConnectorLogger sets the logger handed to every transport
func WithConnectorLogger(logger *zap.Logger) ConnectorOption {
	return func(c *Connector) {
		c.logger = logger
	}
}

// NewConnector checks that the configured transport has what it needs
func NewConnector(cfg config.RealtimeConfig, opts ...ConnectorOption) (*Connector, error) {
	c := &Connector{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	switch cfg.Transport {
	case config.TransportPusher:
	case config.TransportRedis:
		if c.client == nil {
			return nil, fmt.Errorf("redis push transport requires a redis client")
		}
	case config.TransportMemory:
		if c.hub == nil {
			c.hub = NewMemoryHub(WithMemoryHubLogger(c.logger.Named("memory_hub")))
		}
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Transport)
	}
	return c, nil
}

// Connect opens a transport for one session
func (c *Connector) Connect() Transport {
	switch c.cfg.Transport {
	case config.TransportRedis:
		return NewRedisTransport(c.client,
			WithRedisPrefix(c.cfg.ChannelPrefix),
			WithRedisLogger(c.logger.Named("redis_push")),
		)
	case config.TransportMemory:
		return c.hub.Connect()
	default:
		return NewPusherTransport(c.cfg.Pusher,
			WithPusherLogger(c.logger.Named("pusher")),
		)
	}
}

// Hub returns the in-process hub when the memory transport is configured
func (c *Connector) Hub() *MemoryHub {
	return c.hub
}

// Transport returns the configured transport name
func (c *Connector) Transport() string {
	return c.cfg.Transport
}
