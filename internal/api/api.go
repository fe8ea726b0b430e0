// Package api exposes the datafeed over HTTP and websocket.
//
// The HTTP routes follow the UDF datafeed protocol of the charting library. Live bars
// are pushed over the /stream websocket.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/onbonsai/launchpad-sub000/internal/datafeed"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds the registry work of one HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultSearchLimit is the number of /search results when no limit is given.
	DefaultSearchLimit = 30

	// MaxSearchLimit is the largest accepted /search limit.
	MaxSearchLimit = 100

	// ServiceVersion is reported by /health.
	ServiceVersion = "1.0.0"

	// ServiceName is reported by /health.
	ServiceName = "launchpad-datafeed"

	// RequestIDContextKey is the gin context key holding the request id.
	RequestIDContextKey = "request_id"

	// RequestIDHeaderKey is the header carrying the request id in and out.
	RequestIDHeaderKey = "X-Request-ID"
)

// StreamConfig tunes the /stream websocket.
type StreamConfig struct {
	QueueSize    int           // Outbound messages buffered per connection
	PingPeriod   time.Duration // Keepalive ping interval
	WriteTimeout time.Duration // Deadline of a single websocket write
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Handler serves the datafeed routes.
type Handler struct {
	feed     *datafeed.Datafeed
	stream   StreamConfig
	upgrader websocket.Upgrader
	now      func() time.Time
	logger   zerolog.Logger
}

// NewHandler creates a Handler over feed.
func NewHandler(feed *datafeed.Datafeed, stream StreamConfig) *Handler {
	return &Handler{
		feed:   feed,
		stream: stream.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:    time.Now,
		logger: log.With().Str("component", "api").Logger(),
	}
}

// SetupRoutes configures all API routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/config", h.Config)
	router.GET("/time", h.Time)
	router.GET("/search", h.Search)
	router.GET("/symbols", h.Symbols)
	router.GET("/history", h.History)
	router.GET("/health", h.HealthCheck)
	router.GET("/stream", h.Stream)

	return router
}
