package registry

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/onbonsai/launchpad-sub000/internal/model"
)

const tradesQuery = `query Trades($club: BigInt!, $from: BigInt!, $to: BigInt!, $first: Int!, $skip: Int!) {
  trades(
    where: { club_: { clubId: $club }, createdAt_gte: $from, createdAt_lte: $to }
    orderBy: createdAt
    orderDirection: desc
    first: $first
    skip: $skip
  ) {
    price
    prevPrice
    createdAt
  }
}`

// tradeRecord is a trade as returned by the registry. BigInt fields arrive as strings.
type tradeRecord struct {
	Price     string `json:"price" validate:"required,numeric"`
	PrevPrice string `json:"prevPrice" validate:"required,numeric"`
	CreatedAt string `json:"createdAt" validate:"required,numeric"`
}

type tradesData struct {
	Trades []tradeRecord `json:"trades"`
}

// TradesPage returns one page of trades for q, newest first.
func (c *Client) TradesPage(ctx context.Context, q model.TradeQuery) ([]model.Trade, error) {
	vars := map[string]any{
		"club":  q.MarketID,
		"from":  strconv.FormatInt(q.From, 10),
		"to":    strconv.FormatInt(q.To, 10),
		"first": c.cfg.PageSize,
		"skip":  q.Offset,
	}

	var data tradesData
	if err := c.query(ctx, tradesQuery, vars, &data); err != nil {
		return nil, err
	}

	trades := make([]model.Trade, 0, len(data.Trades))
	for i := range data.Trades {
		trade, err := c.toTrade(&data.Trades[i])
		if err != nil {
			return nil, fmt.Errorf("%w: trade %d of page at offset %d: %v", ErrRegistryUnavailable, i, q.Offset, err)
		}
		trades = append(trades, trade)
	}

	return trades, nil
}

func (c *Client) toTrade(r *tradeRecord) (model.Trade, error) {
	if err := c.validate.Struct(r); err != nil {
		return model.Trade{}, err
	}

	price, err := parseBigInt(r.Price)
	if err != nil {
		return model.Trade{}, fmt.Errorf("price: %w", err)
	}
	prevPrice, err := parseBigInt(r.PrevPrice)
	if err != nil {
		return model.Trade{}, fmt.Errorf("prevPrice: %w", err)
	}
	createdAt, err := strconv.ParseInt(r.CreatedAt, 10, 64)
	if err != nil {
		return model.Trade{}, fmt.Errorf("createdAt: %w", err)
	}

	return model.Trade{
		Price:     price,
		PrevPrice: prevPrice,
		CreatedAt: createdAt,
	}, nil
}

func parseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
