package handler

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SessionCounter reports how many console sessions an instance holds
type SessionCounter interface {
	Len() int
}

// CacheStats reports query cache hits and misses. Only the in-memory cache
// keeps them.
type CacheStats interface {
	GetStats() (hits, misses int64)
}

// HealthOption configures a HealthHandler
type HealthOption func(*HealthHandler)

// WithCacheStats adds the query cache counters to the health body
func WithCacheStats(stats CacheStats) HealthOption {
	return func(h *HealthHandler) {
		h.cache = stats
	}
}

// HealthHandler answers liveness checks
type HealthHandler struct {
	BaseHandler
	name      string
	version   string
	transport string
	sessions  SessionCounter
	streams   *StreamHandler
	cache     CacheStats
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler. streams may be nil.
func NewHealthHandler(name, version, transport string, sessions SessionCounter, streams *StreamHandler, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		name:      name,
		version:   version,
		transport: transport,
		sessions:  sessions,
		streams:   streams,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string         `json:"status"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	GoVersion string         `json:"go_version"`
	Uptime    string         `json:"uptime"`
	Transport string         `json:"transport"`
	Sessions  int            `json:"sessions"`
	Streams   int            `json:"streams"`
	Cache     *CacheCounters `json:"cache,omitempty"`
}

// CacheCounters are the query cache hit and miss totals
type CacheCounters struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Health reports the instance as up with its session and stream counts
//
// @Summary      Instance health
// @Tags         system
// @Produce      json
// @Success      200 {object} dto.Response{data=HealthResponse}
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Transport: h.transport,
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Len()
	}
	if h.streams != nil {
		resp.Streams = h.streams.ClientCount()
	}
	if h.cache != nil {
		hits, misses := h.cache.GetStats()
		resp.Cache = &CacheCounters{Hits: hits, Misses: misses}
	}
	h.Success(c, resp)
}
