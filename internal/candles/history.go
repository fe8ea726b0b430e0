package candles

import (
	"context"
	"fmt"
	"math/big"

	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/rs/zerolog/log"
)

// TradeSource is the paginated trade registry the backfill loop reads from.
type TradeSource interface {
	// TradesPage returns up to PageSize trades matching q, newest first.
	// A page shorter than PageSize means no further pages exist.
	TradesPage(ctx context.Context, q model.TradeQuery) ([]model.Trade, error)

	// PageSize is the registry's fixed page limit.
	PageSize() int
}

// CloseRecorder receives the latest raw close of every market whose history was fetched.
type CloseRecorder interface {
	SetLastClose(marketID string, price *big.Int)
}

// History is the Historical Aggregator: it backfills trades for a window and reduces
// them into bars.
type History struct {
	source   TradeSource
	recorder CloseRecorder
	decimals int32
}

// NewHistory creates a Historical Aggregator over source. recorder may be nil.
func NewHistory(source TradeSource, decimals int32, recorder CloseRecorder) *History {
	return &History{
		source:   source,
		recorder: recorder,
		decimals: decimals,
	}
}

// GetBars returns the bars of marketID for [windowStart, windowEnd] (Unix seconds).
//
// Pages are fetched until at least targetCount trades are collected, the registry
// returns a short page, or a page reaches past the requested window. A negative
// window bound means no range is defined yet and yields no bars.
//
// latest marks the most recent window of a chart. Only such a window records its
// newest trade as the market's last close; older windows leave the live state alone.
func (h *History) GetBars(ctx context.Context, marketID string, r Resolution, windowStart, windowEnd int64, targetCount int, latest bool) ([]model.Bar, error) {
	if windowStart < 0 || windowEnd < 0 {
		return []model.Bar{}, nil
	}
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedResolution, string(r))
	}

	logger := log.With().
		Str("component", "history").
		Str("market", marketID).
		Str("resolution", string(r)).
		Logger()

	trades, err := h.backfill(ctx, marketID, windowStart, windowEnd, targetCount)
	if err != nil {
		return nil, err
	}

	bars, err := Aggregate(trades, r, h.decimals)
	if err != nil {
		return nil, err
	}

	if latest && len(trades) > 0 && h.recorder != nil {
		h.recorder.SetLastClose(marketID, trades[0].Price)
	}

	logger.Debug().
		Bool("latest", latest).
		Int("trades", len(trades)).
		Int("bars", len(bars)).
		Msg("history aggregated")

	return bars, nil
}

// backfill runs the pagination loop and returns the accumulated trades, newest first.
// Trades outside [from, to] are dropped.
func (h *History) backfill(ctx context.Context, marketID string, from, to int64, targetCount int) ([]model.Trade, error) {
	pageSize := h.source.PageSize()
	var trades []model.Trade
	fetched := 0

	for {
		query := model.TradeQuery{
			MarketID: marketID,
			From:     from,
			To:       to,
			Offset:   fetched,
		}
		page, err := h.source.TradesPage(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch trades at offset %d: %w", query.Offset, err)
		}
		fetched += len(page)
		for _, trade := range page {
			if trade.CreatedAt >= from && trade.CreatedAt <= to {
				trades = append(trades, trade)
			}
		}

		log.Debug().
			Str("component", "history").
			Str("market", marketID).
			Int("offset", query.Offset).
			Int("page", len(page)).
			Msg("fetched trades page")

		switch {
		case len(trades) >= targetCount:
			return trades, nil
		case len(page) == 0 || len(page) < pageSize:
			return trades, nil
		case outsideWindow(page, from, to):
			return trades, nil
		}
	}
}

// outsideWindow reports whether a newest-first page reaches past either window bound.
// The registry filters by window itself; this guards against drifting pagination.
func outsideWindow(page []model.Trade, from, to int64) bool {
	newest, oldest := page[0].CreatedAt, page[len(page)-1].CreatedAt
	return newest > to || oldest < from
}
