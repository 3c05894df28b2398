package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bordereau/console/internal/application/session"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"github.com/bordereau/console/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SSEMessage is one frame written to an event stream
type SSEMessage struct {
	Event string
	Data  string
	ID    string
}

// StreamHandler streams a session's toasts, status changes and permission
// changes to the browser as Server-Sent Events
type StreamHandler struct {
	BaseHandler
	logger     *zap.Logger
	metrics    *telemetry.ConsoleMetrics
	heartbeat  time.Duration
	maxClients int
	clients    atomic.Int64
	ctx        context.Context
	cancel     context.CancelFunc
}

// StreamOption is a functional option for configuring the handler
type StreamOption func(*StreamHandler)

// WithStreamLogger sets the logger for the handler
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(h *StreamHandler) {
		h.logger = logger
	}
}

// WithStreamMetrics records open streams
func WithStreamMetrics(m *telemetry.ConsoleMetrics) StreamOption {
	return func(h *StreamHandler) {
		h.metrics = m
	}
}

// WithHeartbeat sets the heartbeat interval
func WithHeartbeat(interval time.Duration) StreamOption {
	return func(h *StreamHandler) {
		h.heartbeat = interval
	}
}

// WithMaxClients caps concurrent streams on this instance; zero is unbounded
func WithMaxClients(max int) StreamOption {
	return func(h *StreamHandler) {
		h.maxClients = max
	}
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(opts ...StreamOption) *StreamHandler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &StreamHandler{
		logger:     zap.NewNop(),
		heartbeat:  30 * time.Second,
		maxClients: 10000,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stop disconnects every open stream
func (h *StreamHandler) Stop() {
	h.cancel()
}

// ClientCount returns the number of open streams
func (h *StreamHandler) ClientCount() int {
	return int(h.clients.Load())
}

// Stream holds the connection open and forwards the session's events until
// the browser leaves, the session ends or the handler stops
//
// @Summary      Open the session event stream
// @Description  Server-sent events: toast, status, permissions and heartbeat frames
// @Tags         bpc
// @Produce      text/event-stream
// @Success      200 {string} string "event stream"
// @Failure      401 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Security     BearerAuth
// @Router       /api/v1/bpc/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if n := h.clients.Add(1); h.maxClients > 0 && n > int64(h.maxClients) {
		h.clients.Add(-1)
		h.ErrorWithCode(c, dto.ErrCodeMaxStreams, "Maximum number of event streams reached")
		return
	}
	defer h.clients.Add(-1)

	reqCtx := c.Request.Context()
	log := logger.Enrich(reqCtx, h.logger)

	client, unsubscribe := s.Broker().Subscribe()
	defer unsubscribe()

	h.metrics.StreamOpened(reqCtx)
	defer h.metrics.StreamClosed(context.WithoutCancel(reqCtx))

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(200)

	log.Info("Event stream opened", zap.String("client_id", client.ID))

	var seq uint64
	send := func(event string, data any) bool {
		body, err := json.Marshal(data)
		if err != nil {
			log.Error("Failed to marshal stream event", zap.String("event", event), zap.Error(err))
			return true
		}
		seq++
		if err := writeEvent(c.Writer, SSEMessage{Event: event, Data: string(body), ID: strconv.FormatUint(seq, 10)}); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}

	snap := s.Store().Snapshot()
	if !send("connected", gin.H{"client_id": client.ID, "session_id": s.ID(), "timestamp": time.Now().Unix()}) {
		return
	}
	if !send(session.EventPermissions, session.PermissionsEvent{
		Generation:  snap.Generation,
		Loading:     snap.Loading,
		Permissions: snap.Permissions.Len(),
	}) {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-reqCtx.Done():
			log.Info("Event stream closed by client", zap.String("client_id", client.ID))
			return
		case <-client.Done:
			log.Info("Event stream closed with the session", zap.String("client_id", client.ID))
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			s.Touch()
			if !send("heartbeat", gin.H{"timestamp": time.Now().Unix()}) {
				return
			}
		case ev := <-client.Events:
			if !send(ev.Name, ev.Data) {
				return
			}
		}
	}
}

// writeEvent writes one SSE frame
func writeEvent(w io.Writer, msg SSEMessage) error {
	if msg.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", msg.Event); err != nil {
			return err
		}
	}
	if msg.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", msg.ID); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", msg.Data)
	return err
}
