package datafeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/onbonsai/launchpad-sub000/internal/candles"
	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/onbonsai/launchpad-sub000/internal/symbols"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Provider adapts a Datafeed to the charting library's callback contract.
//
// Failures never escape as panics or unanswered calls: every operation reports
// through one of its callbacks.
type Provider struct {
	feed   *Datafeed
	ctx    context.Context
	logger zerolog.Logger
}

// NewProvider creates a Provider. ctx bounds every registry call and live watch the
// provider starts.
func NewProvider(ctx context.Context, feed *Datafeed) *Provider {
	return &Provider{
		feed:   feed,
		ctx:    ctx,
		logger: log.With().Str("component", "provider").Logger(),
	}
}

// OnReady delivers the configuration asynchronously.
func (p *Provider) OnReady(callback func(Configuration)) {
	go callback(p.feed.OnReady())
}

// SearchSymbols delivers the matching symbols. Registry failures deliver no symbols.
func (p *Provider) SearchSymbols(query, exchange, kind string, callback func([]model.Symbol)) {
	found, err := p.feed.SearchSymbols(p.ctx, query, exchange, kind)
	if err != nil {
		p.logger.Error().Err(err).Str("query", query).Msg("symbol search failed")
		callback([]model.Symbol{})
		return
	}
	callback(found)
}

// ResolveSymbol delivers the resolved symbol or a descriptive error message.
func (p *Provider) ResolveSymbol(name string, onResolved func(SymbolInfo), onError func(string)) {
	info, err := p.feed.ResolveSymbol(p.ctx, name)
	if err != nil {
		if errors.Is(err, symbols.ErrNotFound) {
			onError(fmt.Sprintf("unknown symbol %q", name))
			return
		}
		p.logger.Error().Err(err).Str("symbol", name).Msg("symbol resolution failed")
		onError(fmt.Sprintf("cannot resolve symbol %q: %v", name, err))
		return
	}
	onResolved(info)
}

// GetBars delivers historical bars. An unsupported resolution is reported through
// onError; any other failure is logged and answered with an empty, NoData result so
// the caller never waits forever.
func (p *Provider) GetBars(info SymbolInfo, r candles.Resolution, params PeriodParams, onHistory func(HistoryResult), onError func(string)) {
	result, err := p.feed.GetBars(p.ctx, info, r, params)
	switch {
	case errors.Is(err, candles.ErrUnsupportedResolution):
		onError(err.Error())
	case err != nil:
		p.logger.Error().
			Err(err).
			Str("symbol", info.FullName).
			Str("resolution", string(r)).
			Int64("from", params.From).
			Int64("to", params.To).
			Msg("history request failed")
		onHistory(HistoryResult{Bars: []model.Bar{}, NoData: true})
	default:
		onHistory(result)
	}
}

// SubscribeBars starts live delivery. Failures are logged and returned. onLost, which
// may be nil, receives a message when the live feed ends without an unsubscribe.
func (p *Provider) SubscribeBars(info SymbolInfo, r candles.Resolution, onRealtime func(model.Bar), subscriberID string, onLost func(string)) error {
	var lost func(error)
	if onLost != nil {
		lost = func(err error) { onLost(err.Error()) }
	}
	err := p.feed.SubscribeBars(p.ctx, info, r, onRealtime, subscriberID, lost)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("symbol", info.FullName).
			Str("subscriber", subscriberID).
			Msg("live subscription failed")
	}
	return err
}

// UnsubscribeBars stops live delivery. Unknown subscribers are logged and returned as
// live.ErrUnknownSubscriber.
func (p *Provider) UnsubscribeBars(subscriberID string) error {
	err := p.feed.UnsubscribeBars(subscriberID)
	if err != nil {
		p.logger.Warn().Err(err).Str("subscriber", subscriberID).Msg("unsubscribe failed")
	}
	return err
}
