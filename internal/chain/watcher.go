package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	json "github.com/goccy/go-json"
	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidWatcherConfig indicates that the provided WatcherConfig contains invalid values.
	ErrInvalidWatcherConfig = errors.New("invalid watcher configuration")

	// ErrWatchLost is reported when a watch's connection ends before its teardown.
	ErrWatchLost = errors.New("trade watch lost")
)

// WatcherConfig configures the Trade event watcher.
type WatcherConfig struct {
	// Endpoint is the websocket JSON-RPC URL of the chain node.
	Endpoint string

	// Contract is the launchpad contract emitting Trade events.
	Contract common.Address

	// PingPeriod overrides the websocket keepalive interval.
	PingPeriod time.Duration
}

// Watcher opens Trade event watches against a chain node.
type Watcher struct {
	cfg   WatcherConfig
	now   func() time.Time
	reqID atomic.Uint64
}

// NewWatcher creates a Trade event watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint URL is required", ErrInvalidWatcherConfig)
	}
	if cfg.Contract == (common.Address{}) {
		return nil, fmt.Errorf("%w: contract address is required", ErrInvalidWatcherConfig)
	}
	return &Watcher{cfg: cfg, now: time.Now}, nil
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// logFilter is the eth_subscribe "logs" filter object.
type logFilter struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
}

// rpcMessage covers both subscription acknowledgements and notifications.
type rpcMessage struct {
	ID     *uint64          `json:"id,omitempty"`
	Method string           `json:"method,omitempty"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *rpcError        `json:"error,omitempty"`
	Params *rpcNotification `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcNotification struct {
	Subscription string `json:"subscription"`
	Result       rpcLog `json:"result"`
}

// rpcLog is a log object as delivered by eth_subscription.
type rpcLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	Removed     bool           `json:"removed"`
}

// WatchTrades subscribes to the Trade events of marketID and calls onTrade for each one,
// in delivery order, on the watch's read goroutine. The returned teardown releases the
// subscription; it is safe to call more than once.
//
// If the node drops the connection before teardown, onLost (which may be nil) is called
// once with an error wrapping ErrWatchLost. Teardown and ctx cancellation never call it.
func (w *Watcher) WatchTrades(ctx context.Context, marketID *big.Int, onTrade func(model.TradeEvent), onLost func(error)) (func(), error) {
	if marketID == nil {
		return nil, errors.New("market id is required")
	}
	if onTrade == nil {
		return nil, errors.New("trade handler is required")
	}

	subscribe, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      w.reqID.Add(1),
		Method:  "eth_subscribe",
		Params: []any{"logs", logFilter{
			Address: w.cfg.Contract,
			Topics:  []common.Hash{TradeTopic, MarketTopic(marketID)},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscription: %w", err)
	}

	logger := log.With().
		Str("component", "watcher").
		Str("market", marketID.String()).
		Logger()

	client, err := NewClient(ctx, ClientConfig{
		Endpoint:     w.cfg.Endpoint,
		PingPeriod:   w.cfg.PingPeriod,
		InitMessages: [][]byte{subscribe},
		Handler: func(raw []byte) error {
			return w.handleMessage(raw, marketID, onTrade)
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("trade watch opened")

	stopped := make(chan struct{})
	go watchConnection(ctx, client, stopped, logger, onLost)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopped)
			client.Close()
			logger.Info().Msg("trade watch closed")
		})
	}, nil
}

// watchConnection waits for the client to disconnect and reports it through onLost
// unless the watch was stopped or its context ended first.
func watchConnection(ctx context.Context, client *Client, stopped <-chan struct{}, logger zerolog.Logger, onLost func(error)) {
	select {
	case <-stopped:
		return
	case <-client.DisconnectChan():
	}

	select {
	case <-stopped:
		return
	default:
	}
	if ctx.Err() != nil {
		return
	}

	cause := ErrClientShuttingDown
	select {
	case err := <-client.ErrChan():
		cause = err
	default:
	}

	logger.Warn().Err(cause).Msg("trade watch lost")
	client.Close()

	if onLost != nil {
		onLost(fmt.Errorf("%w: %v", ErrWatchLost, cause))
	}
}

// handleMessage decodes one RPC message and forwards Trade events for marketID.
func (w *Watcher) handleMessage(raw []byte, marketID *big.Int, onTrade func(model.TradeEvent)) error {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("invalid rpc message: %w", err)
	}

	if msg.Error != nil {
		return fmt.Errorf("rpc error %d: %s", msg.Error.Code, msg.Error.Message)
	}

	if msg.Method != "eth_subscription" || msg.Params == nil {
		// subscription acknowledgement
		return nil
	}

	entry := msg.Params.Result
	event, err := DecodeTradeLog(entry.Topics, entry.Data)
	if err != nil {
		return err
	}
	if event.MarketID.Cmp(marketID) != 0 {
		return fmt.Errorf("%w: log for market %s on watch for %s", ErrInvalidLog, event.MarketID, marketID)
	}

	event.BlockNumber = uint64(entry.BlockNumber)
	event.TxHash = entry.TxHash
	event.Removed = entry.Removed
	event.ObservedAt = w.now()

	onTrade(event)
	return nil
}
