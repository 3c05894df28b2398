package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bordereau/console/internal/infrastructure/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Pusher channels protocol constants
const (
	pusherProtocolVersion = 7
	pusherClientName      = "bordereau-console"
	pusherClientVersion   = "1.0"

	eventConnectionEstablished = "pusher:connection_established"
	eventError                 = "pusher:error"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"

	defaultActivityTimeout = 120 * time.Second
	defaultPongTimeout     = 30 * time.Second
	writeWait              = 10 * time.Second
)

// pusherFrame is one protocol message in either direction
type pusherFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type pusherChannelData struct {
	Channel string `json:"channel"`
}

type pusherEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type pusherError struct {
	Message string `json:"message"`
	Code    *int   `json:"code"`
}

// errRefused marks a pusher:error in the 4000-4099 range; the server asks
// clients not to reconnect with the same parameters.
var errRefused = errors.New("push: connection refused by broadcast server")

// PusherURL builds the websocket URL for the Pusher app key and cluster, or a
// self-hosted server when Host is set.
func PusherURL(cfg config.PusherConfig) string {
	scheme := "ws"
	if cfg.Secure {
		scheme = "wss"
	}
	host := cfg.Host
	if host == "" {
		host = fmt.Sprintf("ws-%s.pusher.com", cfg.Cluster)
	}
	return fmt.Sprintf("%s://%s/app/%s?protocol=%d&client=%s&version=%s",
		scheme, host, url.PathEscape(cfg.Key),
		pusherProtocolVersion, pusherClientName, pusherClientVersion)
}

// PusherTransport speaks the Pusher channels protocol over one websocket. It
// connects on the first Subscribe, reconnects with exponential backoff and
// subscribes every joined channel again once the server re-establishes the
// connection.
type PusherTransport struct {
	url             string
	dialer          *websocket.Dialer
	newBackOff      func() backoff.BackOff
	activityTimeout time.Duration
	pongTimeout     time.Duration
	logger          *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	established bool
	socketID    string
	channels    map[string]subscription
	started     bool
	closed      bool
	cancelFn    context.CancelFunc
	doneCh      chan struct{}

	writeMu sync.Mutex
}

// PusherOption is a functional option for configuring the transport
type PusherOption func(*PusherTransport)

// WithPusherLogger sets the logger for the transport
func WithPusherLogger(logger *zap.Logger) PusherOption {
	return func(p *PusherTransport) {
		p.logger = logger
	}
}

// WithPusherURL dials url instead of the one derived from config
func WithPusherURL(u string) PusherOption {
	return func(p *PusherTransport) {
		p.url = u
	}
}

// WithPusherBackOff sets the reconnect policy
func WithPusherBackOff(newBackOff func() backoff.BackOff) PusherOption {
	return func(p *PusherTransport) {
		p.newBackOff = newBackOff
	}
}

// WithActivityTimeout sets how long the connection may stay silent before
// the client pings, and how long it then waits for the pong.
func WithActivityTimeout(activity, pong time.Duration) PusherOption {
	return func(p *PusherTransport) {
		p.activityTimeout = activity
		p.pongTimeout = pong
	}
}

// NewPusherTransport creates a transport for the configured app. No
// connection is made until the first Subscribe.
func NewPusherTransport(cfg config.PusherConfig, opts ...PusherOption) *PusherTransport {
	p := &PusherTransport{
		url:             PusherURL(cfg),
		dialer:          &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: websocket.DefaultDialer.Proxy},
		newBackOff:      defaultReconnectBackOff,
		activityTimeout: defaultActivityTimeout,
		pongTimeout:     defaultPongTimeout,
		logger:          zap.NewNop(),
		channels:        make(map[string]subscription),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultReconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Subscribe implements Transport. The subscribe frame is sent immediately
// when connected, otherwise as soon as the connection is established.
func (p *PusherTransport) Subscribe(ctx context.Context, channel, event string, handler Handler) error {
	if channel == "" || event == "" || handler == nil {
		return ErrInvalidChannel
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	_, joined := p.channels[channel]
	p.channels[channel] = subscription{event: event, handler: handler}
	if !p.started {
		p.started = true
		runCtx, cancel := context.WithCancel(context.Background())
		p.cancelFn = cancel
		go p.run(runCtx)
	}
	conn, ready := p.conn, p.established
	p.mu.Unlock()

	if ready && !joined {
		if err := p.writeChannelFrame(conn, eventSubscribe, channel); err != nil {
			// the read loop notices the broken connection and resubscribes
			p.logger.Warn("Failed to send subscribe frame",
				zap.String("channel", channel),
				zap.Error(err))
		}
	}
	return nil
}

// Leave implements Transport
func (p *PusherTransport) Leave(channel string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if _, ok := p.channels[channel]; !ok {
		p.mu.Unlock()
		return ErrNotSubscribed
	}
	delete(p.channels, channel)
	conn, ready := p.conn, p.established
	p.mu.Unlock()

	if !ready {
		return nil
	}
	return p.writeChannelFrame(conn, eventUnsubscribe, channel)
}

// Close implements Transport
func (p *PusherTransport) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancelFn := p.cancelFn
	conn := p.conn
	started := p.started
	p.channels = map[string]subscription{}
	p.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	if conn != nil {
		p.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()
		_ = conn.Close()
	}
	if started {
		select {
		case <-p.doneCh:
		case <-time.After(defaultCloseTimeout):
			p.logger.Warn("Timeout waiting for push connection to stop")
		}
	}
	return nil
}

// Name implements Transport
func (p *PusherTransport) Name() string { return NamePusher }

// SocketID returns the id assigned by the server, empty while disconnected
func (p *PusherTransport) SocketID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socketID
}

// run keeps a connection open until ctx is cancelled
func (p *PusherTransport) run(ctx context.Context) {
	defer close(p.doneCh)

	policy := p.newBackOff()
	for {
		established, err := p.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errRefused) {
			p.logger.Error("Broadcast server refused connection, giving up", zap.Error(err))
			return
		}
		if established {
			policy.Reset()
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			p.logger.Error("Giving up reconnecting to broadcast server", zap.Error(err))
			return
		}
		p.logger.Warn("Broadcast connection lost, reconnecting",
			zap.Duration("retry_in", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectOnce dials, serves the connection until it breaks and reports
// whether the server ever established it.
func (p *PusherTransport) connectOnce(ctx context.Context) (bool, error) {
	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", p.url, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return false, ErrClosed
	}
	p.conn = conn
	p.mu.Unlock()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer func() {
		stopPing()
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
			p.established = false
			p.socketID = ""
		}
		p.mu.Unlock()
		_ = conn.Close()
	}()
	go p.keepAlive(pingCtx, conn)

	established := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(p.activityTimeout + p.pongTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return established, err
		}

		var frame pusherFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			p.logger.Warn("Ignoring malformed push frame", zap.Error(err))
			continue
		}

		switch frame.Event {
		case eventConnectionEstablished:
			if err := p.onEstablished(conn, frame); err != nil {
				return established, err
			}
			established = true
		case eventPing:
			if err := p.writeFrame(conn, pusherFrame{Event: eventPong, Data: json.RawMessage(`{}`)}); err != nil {
				return established, err
			}
		case eventPong:
		case eventError:
			if err := p.onError(frame); err != nil {
				return established, err
			}
		case eventSubscriptionSucceeded:
			p.logger.Debug("Push subscription confirmed", zap.String("channel", frame.Channel))
		default:
			p.dispatch(frame)
		}
	}
}

func (p *PusherTransport) onEstablished(conn *websocket.Conn, frame pusherFrame) error {
	var info pusherEstablished
	if err := json.Unmarshal(unwrapData(frame.Data), &info); err != nil {
		return fmt.Errorf("decode connection_established: %w", err)
	}

	p.mu.Lock()
	p.established = true
	p.socketID = info.SocketID
	channels := make([]string, 0, len(p.channels))
	for ch := range p.channels {
		channels = append(channels, ch)
	}
	p.mu.Unlock()

	p.logger.Info("Connected to broadcast server",
		zap.String("socket_id", info.SocketID),
		zap.Int("activity_timeout", info.ActivityTimeout),
		zap.Int("channels", len(channels)))

	for _, ch := range channels {
		if err := p.writeChannelFrame(conn, eventSubscribe, ch); err != nil {
			return err
		}
	}
	return nil
}

func (p *PusherTransport) onError(frame pusherFrame) error {
	var perr pusherError
	_ = json.Unmarshal(unwrapData(frame.Data), &perr)

	code := 0
	if perr.Code != nil {
		code = *perr.Code
	}
	p.logger.Warn("Broadcast server error",
		zap.Int("code", code),
		zap.String("message", perr.Message))

	switch {
	case code >= 4000 && code < 4100:
		return fmt.Errorf("%w: %d %s", errRefused, code, perr.Message)
	case code >= 4100 && code < 4300:
		return fmt.Errorf("broadcast server closed connection: %d %s", code, perr.Message)
	}
	return nil
}

func (p *PusherTransport) dispatch(frame pusherFrame) {
	if frame.Channel == "" {
		return
	}
	p.mu.Lock()
	sub, ok := p.channels[frame.Channel]
	p.mu.Unlock()
	if !ok || sub.event != frame.Event {
		return
	}
	deliver(p.logger, frame.Channel, sub.handler, unwrapData(frame.Data))
}

// keepAlive pings the server after each activity timeout
func (p *PusherTransport) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(p.activityTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.writeFrame(conn, pusherFrame{Event: eventPing, Data: json.RawMessage(`{}`)}); err != nil {
				return
			}
		}
	}
}

func (p *PusherTransport) writeChannelFrame(conn *websocket.Conn, event, channel string) error {
	data, err := json.Marshal(pusherChannelData{Channel: channel})
	if err != nil {
		return err
	}
	return p.writeFrame(conn, pusherFrame{Event: event, Data: data})
}

func (p *PusherTransport) writeFrame(conn *websocket.Conn, frame pusherFrame) error {
	if conn == nil {
		return ErrClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

var _ Transport = (*PusherTransport)(nil)
