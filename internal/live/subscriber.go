package live

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/onbonsai/launchpad-sub000/internal/candles"
	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownSubscriber is returned when unsubscribing an id that is not active.
	ErrUnknownSubscriber = errors.New("unknown subscriber")

	// ErrDuplicateSubscriber is returned when subscribing with an id that is already active.
	ErrDuplicateSubscriber = errors.New("subscriber already exists")
)

// TradeWatcher opens push watches on the Trade events of one market. onLost is called
// at most once, when the watch ends before its teardown.
type TradeWatcher interface {
	WatchTrades(ctx context.Context, marketID *big.Int, onTrade func(model.TradeEvent), onLost func(error)) (func(), error)
}

// Subscriber turns Trade events into live bars at the finest resolution.
type Subscriber struct {
	watcher  TradeWatcher
	state    *State
	decimals int32
}

// NewSubscriber creates a Live Subscriber. state is shared with the Historical
// Aggregator so live bars open at the last historical close.
func NewSubscriber(watcher TradeWatcher, state *State, decimals int32) *Subscriber {
	return &Subscriber{
		watcher:  watcher,
		state:    state,
		decimals: decimals,
	}
}

// Subscribe opens a live watch on marketID and calls onBar with one bar per Trade
// event. An empty subscriberID is replaced with a generated one; the id in use is
// returned.
//
// If the watch is lost, the id is released and onLost (which may be nil) is called
// once; the caller may subscribe the same id again.
//
// Only Resolution1S is delivered live. Coarser resolutions subscribe nothing and
// return an empty id with no error.
func (s *Subscriber) Subscribe(ctx context.Context, subscriberID, marketID string, r candles.Resolution, onBar func(model.Bar), onLost func(error)) (string, error) {
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", candles.ErrUnsupportedResolution, string(r))
	}
	if !r.SupportsLive() {
		return "", nil
	}
	if onBar == nil {
		return "", errors.New("bar handler is required")
	}

	id, ok := new(big.Int).SetString(marketID, 10)
	if !ok {
		return "", fmt.Errorf("invalid market id %q", marketID)
	}

	if subscriberID == "" {
		subscriberID = uuid.NewString()
	}
	sub, ok := s.state.reserve(subscriberID)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrDuplicateSubscriber, subscriberID)
	}

	teardown, err := s.watcher.WatchTrades(ctx, id,
		s.barHandler(subscriberID, marketID, onBar),
		s.lostHandler(subscriberID, marketID, sub, onLost),
	)
	if err != nil {
		s.state.releaseIf(subscriberID, sub)
		return "", fmt.Errorf("failed to watch market %s: %w", marketID, err)
	}

	if !s.state.commit(subscriberID, sub, teardown) {
		// unsubscribed while the watch was opening
		teardown()
		return "", fmt.Errorf("%w: %q", ErrUnknownSubscriber, subscriberID)
	}

	log.Info().
		Str("component", "live").
		Str("subscriber", subscriberID).
		Str("market", marketID).
		Msg("live subscription started")

	return subscriberID, nil
}

// barHandler builds the per-event callback of one subscription.
func (s *Subscriber) barHandler(subscriberID, marketID string, onBar func(model.Bar)) func(model.TradeEvent) {
	logger := log.With().
		Str("component", "live").
		Str("subscriber", subscriberID).
		Str("market", marketID).
		Logger()

	return func(ev model.TradeEvent) {
		if ev.Price == nil {
			logger.Warn().Msg("dropping trade event without price")
			return
		}

		prevPrice, _ := s.state.LastClose(marketID)
		trade := model.Trade{
			Price:           ev.Price,
			PrevPrice:       prevPrice,
			CreatedAt:       ev.ObservedAt.Unix(),
			CreatedAtMillis: ev.ObservedAt.UnixMilli(),
		}

		bars, err := candles.Aggregate([]model.Trade{trade}, candles.Resolution1S, s.decimals)
		if err != nil || len(bars) != 1 {
			logger.Error().Err(err).Int("bars", len(bars)).Msg("failed to build live bar")
			return
		}

		s.state.SetLastClose(marketID, ev.Price)

		logger.Debug().
			Uint64("block", ev.BlockNumber).
			Bool("removed", ev.Removed).
			Float64("close", bars[0].Close).
			Msg("live bar")

		onBar(bars[0])
	}
}

// lostHandler builds the callback run when the watch of one subscription dies.
func (s *Subscriber) lostHandler(subscriberID, marketID string, sub *subscription, onLost func(error)) func(error) {
	return func(cause error) {
		if !s.state.releaseIf(subscriberID, sub) {
			return
		}

		log.Warn().
			Err(cause).
			Str("component", "live").
			Str("subscriber", subscriberID).
			Str("market", marketID).
			Msg("live subscription lost")

		if onLost != nil {
			onLost(fmt.Errorf("live feed of market %s lost: %w", marketID, cause))
		}
	}
}

// Unsubscribe tears down the watch of subscriberID. Unknown or already removed ids
// return ErrUnknownSubscriber.
func (s *Subscriber) Unsubscribe(subscriberID string) error {
	teardown, ok := s.state.release(subscriberID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSubscriber, subscriberID)
	}
	if teardown != nil {
		teardown()
	}

	log.Info().
		Str("component", "live").
		Str("subscriber", subscriberID).
		Msg("live subscription stopped")
	return nil
}

// Close tears down every remaining subscription.
func (s *Subscriber) Close() {
	for id, teardown := range s.state.releaseAll() {
		if teardown != nil {
			teardown()
		}
		log.Debug().Str("component", "live").Str("subscriber", id).Msg("live subscription closed")
	}
}
