// Package datafeed is the provider surface consumed by the charting front-end.
//
// Datafeed orchestrates the Symbol Directory, the Historical Aggregator and the Live
// Subscriber behind the six provider operations. Provider wraps it in the callback
// shape the charting library calls.
package datafeed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onbonsai/launchpad-sub000/internal/candles"
	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/onbonsai/launchpad-sub000/internal/symbols"
	"github.com/shopspring/decimal"
)

const (
	// DefaultCountBack is the number of trades backfilled when a request names none.
	DefaultCountBack = 300

	sessionAllDay = "24x7"
	timezoneUTC   = "Etc/UTC"
)

// SymbolDirectory lists and resolves symbols.
type SymbolDirectory interface {
	Search(ctx context.Context, query, exchange string) ([]model.Symbol, error)
	Resolve(ctx context.Context, name string) (model.Symbol, error)
}

// BarHistory serves historical bars for a window. latest marks the most recent
// window of a chart.
type BarHistory interface {
	GetBars(ctx context.Context, marketID string, r candles.Resolution, windowStart, windowEnd int64, targetCount int, latest bool) ([]model.Bar, error)
}

// LiveSubscriber pushes live bars. onLost is called once if the watch ends without
// an unsubscribe.
type LiveSubscriber interface {
	Subscribe(ctx context.Context, subscriberID, marketID string, r candles.Resolution, onBar func(model.Bar), onLost func(error)) (string, error)
	Unsubscribe(subscriberID string) error
}

// Exchange is a venue advertised in the configuration.
type Exchange struct {
	Value string `json:"value"`
	Name  string `json:"name"`
	Desc  string `json:"desc"`
}

// SymbolType is a symbol kind advertised in the configuration.
type SymbolType struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Configuration is the static capability metadata returned by OnReady.
type Configuration struct {
	SupportedResolutions []string     `json:"supported_resolutions"`
	Exchanges            []Exchange   `json:"exchanges"`
	SymbolsTypes         []SymbolType `json:"symbols_types"`
	SupportsSearch       bool         `json:"supports_search"`
	SupportsGroupRequest bool         `json:"supports_group_request"`
	SupportsMarks        bool         `json:"supports_marks"`
	SupportsTime         bool         `json:"supports_time"`
}

// SymbolInfo is a resolved symbol with its charting metadata.
type SymbolInfo struct {
	Name                 string   `json:"name"`
	Ticker               string   `json:"ticker"`
	FullName             string   `json:"full_name"`
	Description          string   `json:"description"`
	Type                 string   `json:"type"`
	Session              string   `json:"session"`
	Timezone             string   `json:"timezone"`
	Exchange             string   `json:"exchange"`
	ListedExchange       string   `json:"listed_exchange"`
	Format               string   `json:"format"`
	MinMov               int      `json:"minmov"`
	PriceScale           int64    `json:"pricescale"`
	HasIntraday          bool     `json:"has_intraday"`
	HasSeconds           bool     `json:"has_seconds"`
	HasDaily             bool     `json:"has_daily"`
	HasWeekly            bool     `json:"has_weekly_and_monthly"`
	SupportedResolutions []string `json:"supported_resolutions"`
	DataStatus           string   `json:"data_status"`

	MarketID string      `json:"-"`
	Venue    model.Venue `json:"-"`
}

// PeriodParams bounds one history request. From and To are Unix seconds.
// FirstDataRequest is set for the most recent window of a chart, the only one whose
// newest trade seeds live bars.
type PeriodParams struct {
	From             int64
	To               int64
	CountBack        int
	FirstDataRequest bool
}

// HistoryResult is the answer to a history request. NoData is set when Bars is empty.
type HistoryResult struct {
	Bars   []model.Bar
	NoData bool
}

// Datafeed is the value-returning provider core.
type Datafeed struct {
	symbols  SymbolDirectory
	history  BarHistory
	live     LiveSubscriber
	decimals int32
}

// New creates a Datafeed. decimals is the fixed-point scale of market prices.
func New(directory SymbolDirectory, history BarHistory, live LiveSubscriber, decimals int32) *Datafeed {
	return &Datafeed{
		symbols:  directory,
		history:  history,
		live:     live,
		decimals: decimals,
	}
}

// OnReady returns the static capability metadata.
func (d *Datafeed) OnReady() Configuration {
	exchanges := make([]Exchange, 0, len(model.Venues()))
	for _, venue := range model.Venues() {
		exchanges = append(exchanges, Exchange{Value: venue.String(), Name: venue.String(), Desc: venue.String()})
	}

	return Configuration{
		SupportedResolutions: resolutionNames(),
		Exchanges:            exchanges,
		SymbolsTypes:         []SymbolType{{Name: symbols.KindCrypto, Value: symbols.KindCrypto}},
		SupportsSearch:       true,
		SupportsTime:         true,
	}
}

// SearchSymbols searches the directory. A non-empty kind keeps only symbols of that kind.
func (d *Datafeed) SearchSymbols(ctx context.Context, query, exchange, kind string) ([]model.Symbol, error) {
	found, err := d.symbols.Search(ctx, query, exchange)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return found, nil
	}

	filtered := make([]model.Symbol, 0, len(found))
	for _, symbol := range found {
		if strings.EqualFold(symbol.Kind, kind) {
			filtered = append(filtered, symbol)
		}
	}
	return filtered, nil
}

// ResolveSymbol resolves name to its SymbolInfo. Unknown names return symbols.ErrNotFound.
func (d *Datafeed) ResolveSymbol(ctx context.Context, name string) (SymbolInfo, error) {
	symbol, err := d.symbols.Resolve(ctx, name)
	if err != nil {
		return SymbolInfo{}, err
	}

	return SymbolInfo{
		Name:                 symbol.Ticker,
		Ticker:               symbol.FullName,
		FullName:             symbol.FullName,
		Description:          symbol.Description,
		Type:                 symbol.Kind,
		Session:              sessionAllDay,
		Timezone:             timezoneUTC,
		Exchange:             symbol.Exchange,
		ListedExchange:       symbol.Exchange,
		Format:               "price",
		MinMov:               1,
		PriceScale:           decimal.New(1, d.decimals).IntPart(),
		HasIntraday:          true,
		HasSeconds:           true,
		HasDaily:             true,
		HasWeekly:            true,
		SupportedResolutions: resolutionNames(),
		DataStatus:           "streaming",
		MarketID:             symbol.MarketID,
		Venue:                symbol.Venue,
	}, nil
}

// GetBars returns the historical bars of info for params.
func (d *Datafeed) GetBars(ctx context.Context, info SymbolInfo, r candles.Resolution, params PeriodParams) (HistoryResult, error) {
	if !r.Valid() {
		return HistoryResult{}, fmt.Errorf("%w: %q", candles.ErrUnsupportedResolution, string(r))
	}
	if info.MarketID == "" {
		return HistoryResult{}, errors.New("symbol info has no market id")
	}

	countBack := params.CountBack
	if countBack <= 0 {
		countBack = DefaultCountBack
	}

	bars, err := d.history.GetBars(ctx, info.MarketID, r, params.From, params.To, countBack, params.FirstDataRequest)
	if err != nil {
		return HistoryResult{}, err
	}

	return HistoryResult{Bars: bars, NoData: len(bars) == 0}, nil
}

// SubscribeBars starts live delivery of info's bars to onRealtime. onLost, which may
// be nil, reports a live feed that ended on its own; the subscription is gone by then.
// Resolutions without live support return nil without subscribing.
func (d *Datafeed) SubscribeBars(ctx context.Context, info SymbolInfo, r candles.Resolution, onRealtime func(model.Bar), subscriberID string, onLost func(error)) error {
	if r.Valid() && !r.SupportsLive() {
		return nil
	}
	_, err := d.live.Subscribe(ctx, subscriberID, info.MarketID, r, onRealtime, onLost)
	return err
}

// UnsubscribeBars stops the live delivery of subscriberID.
func (d *Datafeed) UnsubscribeBars(subscriberID string) error {
	return d.live.Unsubscribe(subscriberID)
}

func resolutionNames() []string {
	supported := candles.SupportedResolutions()
	names := make([]string, len(supported))
	for i, r := range supported {
		names[i] = string(r)
	}
	return names
}
