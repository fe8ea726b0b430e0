// Package model defines core data types for the launchpad market-data engine.
//
// This package contains the records shared by every other component: raw trades as
// observed from the registry or decoded from on-chain logs, the OHLC bars built from
// them, and the markets and symbols the charting front-end discovers.
//
// Amounts observed on-chain are fixed-point integers and are kept as *big.Int until
// the aggregation step converts them into display units.
package model

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Venue identifies where a market's liquidity lives.
type Venue int

const (
	// VenueBondingCurve is a market still trading on the launchpad bonding curve
	VenueBondingCurve Venue = iota

	// VenueExternalPool is a market that graduated to an external liquidity pool
	VenueExternalPool
)

// venueNames are the exchange names advertised to the charting front-end.
var venueNames = map[Venue]string{
	VenueBondingCurve: "Bonsai",
	VenueExternalPool: "Uni",
}

// Venues lists every known venue in display order.
func Venues() []Venue {
	return []Venue{VenueBondingCurve, VenueExternalPool}
}

func (v Venue) String() string {
	if name, ok := venueNames[v]; ok {
		return name
	}
	return "unknown"
}

// ParseVenue returns the venue whose name matches s case-insensitively.
func ParseVenue(s string) (Venue, bool) {
	for v, name := range venueNames {
		if strings.EqualFold(name, s) {
			return v, true
		}
	}
	return 0, false
}

// Trade is a single raw trade observation.
//
// Price is the curve price after the trade and PrevPrice the price immediately before it;
// both are integers scaled by the quote asset's decimals. A nil PrevPrice means the
// previous price is unknown, which happens for the first live trade of a cold process.
type Trade struct {
	Price     *big.Int // Resulting price (fixed-point integer)
	PrevPrice *big.Int // Price before the trade (fixed-point integer, may be nil)
	CreatedAt int64    // Unix seconds

	// CreatedAtMillis overrides CreatedAt with millisecond precision when non-zero.
	// Live trades carry their observation time here.
	CreatedAtMillis int64
}

// TimestampMillis returns the trade time in Unix milliseconds.
func (t Trade) TimestampMillis() int64 {
	if t.CreatedAtMillis != 0 {
		return t.CreatedAtMillis
	}
	return t.CreatedAt * 1000
}

// Bar is an OHLC candle.
//
// Time is the bucket start in Unix milliseconds, or the trade's own timestamp for the
// finest resolution. For every bar Low <= Open, Close <= High.
type Bar struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Market is a market record as listed by the market registry.
type Market struct {
	ID        string   // Registry entity id
	MarketID  *big.Int // On-chain market identifier
	Name      string   // Human readable name, empty for legacy markets
	Symbol    string   // Human readable symbol, empty for legacy markets
	TokenInfo []byte   // ABI packed (name, symbol, uri) metadata
	Venue     Venue
}

// Symbol is a tradable symbol derived from a market.
//
// Fields:
//   - Ticker: display ticker, "<symbol>/<quote>"
//   - Exchange: composite id, "<venue>-<marketId>"
//   - FullName: "<Exchange>:<Ticker>", the name symbol resolution matches against
type Symbol struct {
	Ticker      string `json:"symbol"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Kind        string `json:"type"`
	Venue       Venue  `json:"-"`
	MarketID    string `json:"-"`
}

// TradeEvent is an on-chain Trade log decoded from the chain event stream.
type TradeEvent struct {
	MarketID    *big.Int
	Amount      *big.Int
	Price       *big.Int
	Fee         *big.Int
	IsBuy       bool
	Actor       common.Address
	BlockNumber uint64
	TxHash      common.Hash
	Removed     bool      // Set when the log was dropped by a reorg
	ObservedAt  time.Time // Local time the event was received
}

// TradeQuery selects one page of trades from the trade registry.
// From and To are inclusive Unix second bounds.
type TradeQuery struct {
	MarketID string
	From     int64
	To       int64
	Offset   int
}
