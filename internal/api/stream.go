package api

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/onbonsai/launchpad-sub000/internal/candles"
	"github.com/onbonsai/launchpad-sub000/internal/datafeed"
	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/rs/zerolog"
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"

	msgBar          = "bar"
	msgError        = "error"
	msgSubscribed   = "subscribed"
	msgUnsubscribed = "unsubscribed"

	maxStreamRequestSize = 4096
)

// streamRequest is a client operation on /stream.
type streamRequest struct {
	Op         string `json:"op"`
	ID         string `json:"id"`
	Symbol     string `json:"symbol,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// streamMessage is pushed by the server on /stream.
type streamMessage struct {
	Type  string     `json:"type"`
	ID    string     `json:"id,omitempty"`
	Bar   *model.Bar `json:"bar,omitempty"`
	Error string     `json:"error,omitempty"`
}

// outbox is a bounded outbound queue. When full, the oldest message is dropped so a
// slow client always receives the newest bars.
type outbox struct {
	ch chan []byte
}

func newOutbox(size int) *outbox {
	return &outbox{ch: make(chan []byte, size)}
}

// push enqueues msg without blocking and reports how many queued messages it dropped.
func (o *outbox) push(msg []byte) int {
	dropped := 0
	for {
		select {
		case o.ch <- msg:
			return dropped
		default:
		}

		select {
		case <-o.ch:
			dropped++
		default:
		}
	}
}

// streamSession is the state of one /stream connection.
type streamSession struct {
	id       string
	conn     *websocket.Conn
	provider *datafeed.Provider
	out      *outbox
	cfg      StreamConfig
	logger   zerolog.Logger

	mu            sync.Mutex
	subscriptions map[string]struct{} // client ids with an active live subscription
}

// Stream handles GET /stream websocket upgrades.
func (h *Handler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logError(c, err)
		return
	}

	// The session outlives the request context once hijacked.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &streamSession{
		id:            uuid.NewString(),
		conn:          conn,
		provider:      datafeed.NewProvider(ctx, h.feed),
		out:           newOutbox(h.stream.QueueSize),
		cfg:           h.stream,
		subscriptions: make(map[string]struct{}),
	}
	session.logger = h.logger.With().Str("session", session.id).Logger()
	session.logger.Info().Msg("stream opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		session.writeLoop(ctx)
	}()

	session.readLoop()

	session.releaseAll()
	cancel()
	<-writerDone
	conn.Close()

	session.logger.Info().Msg("stream closed")
}

// readLoop processes client operations until the connection fails.
func (s *streamSession) readLoop() {
	s.conn.SetReadLimit(maxStreamRequestSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingPeriod))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingPeriod))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("stream read failed")
			}
			return
		}

		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.send(streamMessage{Type: msgError, Error: "invalid request"})
			continue
		}
		s.handle(req)
	}
}

// writeLoop is the only writer of the connection.
func (s *streamSession) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.logger.Debug().Err(err).Msg("ping failed")
				s.conn.Close()
				return
			}
		case msg := <-s.out.ch:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug().Err(err).Msg("stream write failed")
				s.conn.Close()
				return
			}
		}
	}
}

func (s *streamSession) handle(req streamRequest) {
	if req.ID == "" {
		s.send(streamMessage{Type: msgError, Error: "id is required"})
		return
	}

	switch req.Op {
	case opSubscribe:
		s.subscribe(req)
	case opUnsubscribe:
		s.unsubscribe(req.ID)
	default:
		s.send(streamMessage{Type: msgError, ID: req.ID, Error: "unknown op " + req.Op})
	}
}

func (s *streamSession) subscribe(req streamRequest) {
	resolution, err := candles.ParseResolution(req.Resolution)
	if err != nil {
		s.send(streamMessage{Type: msgError, ID: req.ID, Error: err.Error()})
		return
	}

	s.mu.Lock()
	_, exists := s.subscriptions[req.ID]
	s.mu.Unlock()
	if exists {
		s.send(streamMessage{Type: msgError, ID: req.ID, Error: "subscription id already in use"})
		return
	}

	var info datafeed.SymbolInfo
	resolved := false
	s.provider.ResolveSymbol(req.Symbol,
		func(si datafeed.SymbolInfo) {
			info = si
			resolved = true
		},
		func(msg string) {
			s.send(streamMessage{Type: msgError, ID: req.ID, Error: msg})
		},
	)
	if !resolved {
		return
	}

	clientID := req.ID
	onBar := func(bar model.Bar) {
		s.send(streamMessage{Type: msgBar, ID: clientID, Bar: &bar})
	}
	onLost := func(msg string) {
		s.mu.Lock()
		delete(s.subscriptions, clientID)
		s.mu.Unlock()
		s.send(streamMessage{Type: msgError, ID: clientID, Error: msg})
	}
	if err := s.provider.SubscribeBars(info, resolution, onBar, s.subscriberID(clientID), onLost); err != nil {
		s.send(streamMessage{Type: msgError, ID: clientID, Error: "subscription failed"})
		return
	}

	if resolution.SupportsLive() {
		s.mu.Lock()
		s.subscriptions[clientID] = struct{}{}
		s.mu.Unlock()
	}
	s.send(streamMessage{Type: msgSubscribed, ID: clientID})
}

func (s *streamSession) unsubscribe(clientID string) {
	s.mu.Lock()
	delete(s.subscriptions, clientID)
	s.mu.Unlock()

	if err := s.provider.UnsubscribeBars(s.subscriberID(clientID)); err != nil {
		s.send(streamMessage{Type: msgError, ID: clientID, Error: err.Error()})
		return
	}
	s.send(streamMessage{Type: msgUnsubscribed, ID: clientID})
}

// releaseAll drops every live subscription of the session.
func (s *streamSession) releaseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		ids = append(ids, id)
	}
	s.subscriptions = make(map[string]struct{})
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.provider.UnsubscribeBars(s.subscriberID(id))
	}
}

// subscriberID scopes a client id to its session so ids never collide across connections.
func (s *streamSession) subscriberID(clientID string) string {
	return s.id + "/" + clientID
}

func (s *streamSession) send(msg streamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("type", msg.Type).Msg("failed to encode stream message")
		return
	}
	if dropped := s.out.push(data); dropped > 0 {
		s.logger.Info().Int("dropped", dropped).Msg("client is too slow, dropped oldest buffered messages")
	}
}
