// Package push delivers broadcast events for named channels to the gateway.
//
// A Transport belongs to one browser session, the same way a browser holds
// one broadcast connection. Handlers registered on a transport run one at a
// time on its delivery goroutine in arrival order; nothing is reordered or
// buffered beyond what the underlying connection does.
package push

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Transport names reported in logs and metrics.
const (
	NamePusher = "pusher"
	NameRedis  = "redis"
	NameMemory = "memory"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("push: transport closed")
	// ErrNotSubscribed is returned by Leave for a channel that was never joined.
	ErrNotSubscribed = errors.New("push: not subscribed to channel")
	// ErrInvalidChannel is returned for an empty channel or event name.
	ErrInvalidChannel = errors.New("push: channel and event are required")
)

// Handler receives the raw data of one event.
type Handler func(data []byte)

// Transport is a subscribe/leave abstraction over a broadcast server.
type Transport interface {
	// Subscribe listens for event on channel. Subscribing an already joined
	// channel replaces its handler.
	Subscribe(ctx context.Context, channel, event string, handler Handler) error
	// Leave stops delivery for channel.
	Leave(channel string) error
	// Close leaves every channel and releases the connection.
	Close() error
	// Name identifies the transport kind.
	Name() string
}

type subscription struct {
	event   string
	handler Handler
}

// deliver runs handler and contains a panic to the one message.
func deliver(logger *zap.Logger, channel string, handler Handler, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in push handler",
				zap.String("channel", channel),
				zap.Any("panic", r))
		}
	}()
	handler(data)
}

// unwrapData returns event data as bytes. Broadcast servers send it either
// as embedded JSON or as a JSON string holding JSON.
func unwrapData(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}
