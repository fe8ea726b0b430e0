// Package symbols builds the tradable symbol list from the market registry.
//
// Symbols are derived, never stored: every call pages through the registry again.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onbonsai/launchpad-sub000/internal/chain"
	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultQuoteAsset is the asset every market is priced in.
	DefaultQuoteAsset = "USDC"

	// KindCrypto is the only symbol kind the launchpad lists.
	KindCrypto = "crypto"
)

// ErrNotFound is returned when a symbol name does not resolve to any market.
var ErrNotFound = errors.New("symbol not found")

// MarketSource is the paginated market registry.
type MarketSource interface {
	// MarketsPage returns up to PageSize markets starting at offset.
	MarketsPage(ctx context.Context, offset int) ([]model.Market, error)

	// PageSize is the registry's fixed page limit.
	PageSize() int
}

// Directory lists, searches and resolves symbols.
type Directory struct {
	source     MarketSource
	quoteAsset string
}

// NewDirectory creates a symbol directory over source. An empty quoteAsset selects
// DefaultQuoteAsset.
func NewDirectory(source MarketSource, quoteAsset string) *Directory {
	if quoteAsset == "" {
		quoteAsset = DefaultQuoteAsset
	}
	return &Directory{source: source, quoteAsset: quoteAsset}
}

// ListSymbols pages through every registered market and returns its symbols.
// Paging continues while the previous page was full.
func (d *Directory) ListSymbols(ctx context.Context) ([]model.Symbol, error) {
	pageSize := d.source.PageSize()
	var symbols []model.Symbol

	for offset := 0; ; {
		page, err := d.source.MarketsPage(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list markets at offset %d: %w", offset, err)
		}

		for _, market := range page {
			symbol, err := d.toSymbol(market)
			if err != nil {
				log.Warn().
					Err(err).
					Str("component", "symbols").
					Str("market", market.ID).
					Msg("skipping market without usable metadata")
				continue
			}
			symbols = append(symbols, symbol)
		}

		if len(page) == 0 || len(page) < pageSize {
			return symbols, nil
		}
		offset += len(page)
	}
}

// Search filters the symbol list by venue and by a case-insensitive substring of
// "<exchange>:<ticker>". An empty exchange matches every venue.
func (d *Directory) Search(ctx context.Context, query, exchange string) ([]model.Symbol, error) {
	all, err := d.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	matches := make([]model.Symbol, 0, len(all))
	for _, symbol := range all {
		if exchange != "" && !strings.EqualFold(symbol.Venue.String(), exchange) {
			continue
		}
		if !strings.Contains(strings.ToLower(symbol.FullName), query) {
			continue
		}
		matches = append(matches, symbol)
	}

	return matches, nil
}

// Resolve returns the symbol whose full name equals name exactly, or ErrNotFound.
func (d *Directory) Resolve(ctx context.Context, name string) (model.Symbol, error) {
	all, err := d.ListSymbols(ctx)
	if err != nil {
		return model.Symbol{}, err
	}

	for _, symbol := range all {
		if symbol.FullName == name {
			return symbol, nil
		}
	}

	return model.Symbol{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// toSymbol derives the display symbol of a market, decoding the packed metadata of
// legacy markets that carry no symbol field.
func (d *Directory) toSymbol(market model.Market) (model.Symbol, error) {
	if market.MarketID == nil {
		return model.Symbol{}, errors.New("market has no id")
	}

	name, ticker := market.Name, market.Symbol
	if ticker == "" {
		decodedName, decodedSymbol, _, err := chain.DecodeTokenInfo(market.TokenInfo)
		if err != nil {
			return model.Symbol{}, err
		}
		name, ticker = decodedName, decodedSymbol
	}
	if ticker == "" {
		return model.Symbol{}, errors.New("market has an empty symbol")
	}
	if name == "" {
		name = ticker
	}

	marketID := market.MarketID.String()
	pair := ticker + "/" + d.quoteAsset
	exchange := ExchangeID(market.Venue, marketID)

	return model.Symbol{
		Ticker:      pair,
		FullName:    exchange + ":" + pair,
		Description: name,
		Exchange:    exchange,
		Kind:        KindCrypto,
		Venue:       market.Venue,
		MarketID:    marketID,
	}, nil
}

// ExchangeID builds the composite "<venue>-<marketId>" exchange identifier.
func ExchangeID(venue model.Venue, marketID string) string {
	return venue.String() + "-" + marketID
}
