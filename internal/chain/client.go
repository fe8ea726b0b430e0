// Package chain provides the push subscription to on-chain Trade events.
//
// A Client owns one JSON-RPC websocket connection with its own read and keepalive
// goroutines. The Watcher opens one Client per market watch, subscribes to the
// market's Trade logs with eth_subscribe and decodes every notification into a
// model.TradeEvent.
package chain

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// defaultPingPeriod defines the default interval for sending websocket pings.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout defines the default timeout for websocket writes.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit defines the maximum size of an incoming message.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultHandshakeTimeout defines the maximum time allowed for the handshake.
	defaultHandshakeTimeout = 10 * time.Second

	// closeWaitTimeout bounds how long Close waits for the goroutines.
	closeWaitTimeout = 5 * time.Second
)

var (
	// ErrClientShuttingDown indicates that the client is in the process of shutting down.
	ErrClientShuttingDown = errors.New("client is shutting down")
)

// ClientConfig defines settings for the RPC websocket client.
type ClientConfig struct {
	// Endpoint is the websocket RPC URL to connect to.
	// Required: This field must be provided and non-empty.
	Endpoint string

	// Handler is called for each incoming message, on the read goroutine.
	// Required: This field must be provided and non-nil.
	Handler func([]byte) error

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between websocket pings.
	PingPeriod time.Duration

	// SendTimeout is the maximum time allowed for a write.
	SendTimeout time.Duration

	// InitMessages are written right after the connection is established,
	// before any message is read.
	InitMessages [][]byte
}

// Client wraps a websocket.Conn with lifecycle and message handling logic.
type Client struct {
	conn       atomic.Pointer[websocket.Conn]
	disconnect chan struct{}
	errChan    chan error
	cfg        ClientConfig
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once
	wg         sync.WaitGroup
}

// NewClient dials cfg.Endpoint, writes the init messages and starts the read and
// keepalive goroutines. The client stays open until Close is called or ctx ends.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("message handler is required")
	}

	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(ctx)

	client := &Client{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
	}

	if err := client.run(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start client: %w", err)
	}

	return client, nil
}

// run establishes the connection and starts the goroutines.
func (c *Client) run() (err error) {
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "rpc").
		Logger()

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}

	defer func() {
		if err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("error closing connection during cleanup")
			}
		}
	}()

	c.conn.Store(conn)

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.PingPeriod * 2)); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})

	for _, msg := range c.cfg.InitMessages {
		if err = conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
			return err
		}
		if err = conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Error().Err(err).Msg("failed to write init message")
			return err
		}
	}

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.pingLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.shutdownListener()
	}()

	return nil
}

// readLoop reads messages until the connection fails or the context ends.
func (c *Client) readLoop() {
	conn := c.conn.Load()
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "readLoop").
		Logger()

	defer func() {
		logger.Debug().Msg("read loop exiting")
		close(c.disconnect)

		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
		}
	}()

	for {
		if c.ctx.Err() != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case c.ctx.Err() != nil:
				logger.Debug().Err(err).Msg("read interrupted by shutdown")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.Info().Err(err).Msg("websocket closed normally")
			case websocket.IsUnexpectedCloseError(err):
				logger.Warn().Err(err).Msg("unexpected websocket closure")
			default:
				logger.Error().Err(err).Msg("read error")
			}

			select {
			case c.errChan <- err:
			default:
			}
			return
		}

		c.handle(data)
	}
}

// handle runs the handler, recovering from panics so one bad message cannot kill the loop.
func (c *Client) handle(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("recover", r).Str("endpoint", c.cfg.Endpoint).Msg("panic in message handler")
		}
	}()

	if err := c.cfg.Handler(data); err != nil {
		log.Warn().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("failed to handle message")
	}
}

// pingLoop keeps the connection alive.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn := c.conn.Load()
			if conn == nil {
				continue
			}
			deadline := time.Now().Add(c.cfg.SendTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("ping error")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// shutdownListener closes the client once the context is cancelled.
func (c *Client) shutdownListener() {
	<-c.ctx.Done()
	c.Close()
}

// Close shuts the client down. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		logger := log.With().
			Str("endpoint", c.cfg.Endpoint).
			Str("component", "close").
			Logger()

		c.cancel()

		if conn := c.conn.Load(); conn != nil {
			if err := conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			); err != nil {
				logger.Debug().Err(err).Msg("failed to send close frame")
			}
			if err := conn.Close(); err != nil {
				logger.Debug().Err(err).Msg("error closing websocket connection")
			}
		}

		// Close may run on the shutdown goroutine itself, so only wait for the other two
		done := make(chan struct{})
		go func() {
			<-c.disconnect
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(closeWaitTimeout):
			logger.Warn().Msg("timeout waiting for read loop to exit")
		}
	})
}

// Done returns a channel closed once the client is cancelled.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// dial establishes the websocket connection.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		event := log.Error().Err(err).Str("endpoint", c.cfg.Endpoint)
		if resp != nil {
			event = event.Int("statusCode", resp.StatusCode).Str("status", resp.Status)
		}
		event.Msg("connection failed")
		return nil, err
	}

	log.Debug().Str("endpoint", c.cfg.Endpoint).Msg("websocket connection established")
	return conn, nil
}

// DisconnectChan returns a channel that is closed when the connection is lost.
func (c *Client) DisconnectChan() <-chan struct{} {
	return c.disconnect
}

// ErrChan returns a channel that emits the terminal read error. The error is sent
// before DisconnectChan is closed.
func (c *Client) ErrChan() <-chan error {
	return c.errChan
}
