package registry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/onbonsai/launchpad-sub000/internal/model"
)

const marketsQuery = `query Clubs($first: Int!, $skip: Int!) {
  clubs(first: $first, skip: $skip, orderBy: createdAt, orderDirection: desc) {
    id
    clubId
    name
    symbol
    tokenInfo
    complete
  }
}`

// marketRecord is a market (club) as returned by the registry.
// Legacy markets carry no name or symbol, only the packed tokenInfo blob.
type marketRecord struct {
	ID        string `json:"id" validate:"required"`
	ClubID    string `json:"clubId" validate:"required,numeric"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	TokenInfo string `json:"tokenInfo" validate:"omitempty,hexadecimal"`
	Complete  bool   `json:"complete"`
}

type marketsData struct {
	Clubs []marketRecord `json:"clubs"`
}

// MarketsPage returns one page of registered markets starting at offset.
func (c *Client) MarketsPage(ctx context.Context, offset int) ([]model.Market, error) {
	vars := map[string]any{
		"first": c.cfg.PageSize,
		"skip":  offset,
	}

	var data marketsData
	if err := c.query(ctx, marketsQuery, vars, &data); err != nil {
		return nil, err
	}

	markets := make([]model.Market, 0, len(data.Clubs))
	for i := range data.Clubs {
		market, err := c.toMarket(&data.Clubs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: market %d of page at offset %d: %v", ErrRegistryUnavailable, i, offset, err)
		}
		markets = append(markets, market)
	}

	return markets, nil
}

func (c *Client) toMarket(r *marketRecord) (model.Market, error) {
	if r.TokenInfo == "0x" {
		r.TokenInfo = ""
	}
	if err := c.validate.Struct(r); err != nil {
		return model.Market{}, err
	}

	marketID, err := parseBigInt(r.ClubID)
	if err != nil {
		return model.Market{}, fmt.Errorf("clubId: %w", err)
	}

	var tokenInfo []byte
	if r.TokenInfo != "" {
		tokenInfo, err = hexutil.Decode(r.TokenInfo)
		if err != nil {
			return model.Market{}, fmt.Errorf("tokenInfo: %w", err)
		}
	}

	venue := model.VenueBondingCurve
	if r.Complete {
		venue = model.VenueExternalPool
	}

	return model.Market{
		ID:        r.ID,
		MarketID:  marketID,
		Name:      r.Name,
		Symbol:    r.Symbol,
		TokenInfo: tokenInfo,
		Venue:     venue,
	}, nil
}
