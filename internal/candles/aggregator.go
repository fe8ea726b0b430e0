// Package candles turns raw trade observations into OHLC candlesticks.
//
// The package holds the resolution table, the bucketing function shared by history and
// live delivery, and the Historical Aggregator that backfills trades from the registry.
//
// Ordering:
//   - Aggregate expects trades newest first, the order the registry returns them
//   - A bucket's open is overwritten by every trade processed after the first, so the
//     oldest trade in the bucket decides it
//   - A bucket's close is written once, by the first (newest) trade processed
package candles

import (
	"math/big"
	"slices"

	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/shopspring/decimal"
)

// Aggregate reduces trades into bars for resolution r.
//
// Trades must be ordered newest first. The returned bars are sorted ascending by Time
// and carry unique Time keys. decimals is the fixed-point scale of the trade amounts.
func Aggregate(trades []model.Trade, r Resolution, decimals int32) ([]model.Bar, error) {
	bucketStart, ok := bucketFuncs[r]
	if !ok {
		return nil, ErrUnsupportedResolution
	}

	buckets := make(map[int64]*model.Bar, len(trades))
	for _, trade := range trades {
		key := bucketStart(trade.TimestampMillis())

		price := ToDisplay(trade.Price, decimals)
		open := price
		if trade.PrevPrice != nil {
			open = ToDisplay(trade.PrevPrice, decimals)
		}

		bar, found := buckets[key]
		if !found {
			buckets[key] = &model.Bar{
				Time:  key,
				Open:  open,
				High:  max(open, price),
				Low:   min(open, price),
				Close: price,
			}
			continue
		}

		// Older trade in an existing bucket: it owns the open, close stays put
		bar.Open = open
		bar.High = max(bar.High, open, price)
		bar.Low = min(bar.Low, open, price)
	}

	bars := make([]model.Bar, 0, len(buckets))
	for _, bar := range buckets {
		bars = append(bars, *bar)
	}
	slices.SortFunc(bars, func(a, b model.Bar) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})

	return bars, nil
}

// ToDisplay converts a fixed-point integer amount into display units.
// A nil amount converts to zero.
func ToDisplay(amount *big.Int, decimals int32) float64 {
	if amount == nil {
		return 0
	}
	return decimal.NewFromBigInt(amount, -decimals).InexactFloat64()
}
