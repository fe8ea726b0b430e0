package symbols

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/onbonsai/launchpad-sub000/internal/chain"
	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockMarketSource is a mock implementation of MarketSource for testing.
type MockMarketSource struct {
	mock.Mock
	pageSize int
}

func NewMockMarketSource(pageSize int) *MockMarketSource {
	return &MockMarketSource{pageSize: pageSize}
}

func (m *MockMarketSource) MarketsPage(ctx context.Context, offset int) ([]model.Market, error) {
	args := m.Called(ctx, offset)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).([]model.Market), nil
}

func (m *MockMarketSource) PageSize() int {
	return m.pageSize
}

func createTestMarket(id int64, symbol string, venue model.Venue) model.Market {
	return model.Market{
		ID:       fmt.Sprintf("0x%x", id),
		MarketID: big.NewInt(id),
		Name:     symbol + " token",
		Symbol:   symbol,
		Venue:    venue,
	}
}

func Test_ListSymbols(t *testing.T) {
	source := NewMockMarketSource(3)
	source.On("MarketsPage", mock.Anything, 0).Return([]model.Market{
		createTestMarket(1, "BONSAI", model.VenueBondingCurve),
		createTestMarket(2, "TREE", model.VenueBondingCurve),
		createTestMarket(3, "LEAF", model.VenueExternalPool),
	}, nil).Once()
	source.On("MarketsPage", mock.Anything, 3).Return([]model.Market{
		createTestMarket(4, "ROOT", model.VenueBondingCurve),
	}, nil).Once()

	symbols, err := NewDirectory(source, "").ListSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, symbols, 4)
	source.AssertExpectations(t)

	assert.Equal(t, model.Symbol{
		Ticker:      "BONSAI/USDC",
		FullName:    "Bonsai-1:BONSAI/USDC",
		Description: "BONSAI token",
		Exchange:    "Bonsai-1",
		Kind:        KindCrypto,
		Venue:       model.VenueBondingCurve,
		MarketID:    "1",
	}, symbols[0])
	assert.Equal(t, "Uni-3:LEAF/USDC", symbols[2].FullName)
	assert.Equal(t, "ROOT/USDC", symbols[3].Ticker)
}

func Test_ListSymbols_Pagination(t *testing.T) {
	tests := []struct {
		name          string
		description   string
		pages         []int
		expectedCalls int
	}{
		{name: "Empty registry", description: "single empty page", pages: []int{0}, expectedCalls: 1},
		{name: "Short first page", description: "stops after a short page", pages: []int{2}, expectedCalls: 1},
		{name: "Exact multiple", description: "full pages then an empty one", pages: []int{2, 2, 0}, expectedCalls: 3},
		{name: "Full then short", description: "stops on the short page", pages: []int{2, 1}, expectedCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := NewMockMarketSource(2)
			offset, total := 0, 0
			for _, n := range tt.pages {
				page := make([]model.Market, n)
				for i := range page {
					page[i] = createTestMarket(int64(offset+i+1), fmt.Sprintf("T%d", offset+i), model.VenueBondingCurve)
				}
				source.On("MarketsPage", mock.Anything, offset).Return(page, nil).Once()
				offset += n
				total += n
			}

			symbols, err := NewDirectory(source, "").ListSymbols(context.Background())
			require.NoError(t, err, tt.description)
			assert.Len(t, symbols, total, tt.description)
			source.AssertNumberOfCalls(t, "MarketsPage", tt.expectedCalls)
		})
	}
}

func Test_ListSymbols_TokenInfoFallback(t *testing.T) {
	blob, err := chain.EncodeTokenInfo("Legacy Club", "OLD", "ipfs://legacy")
	require.NoError(t, err)

	source := NewMockMarketSource(10)
	source.On("MarketsPage", mock.Anything, 0).Return([]model.Market{
		{ID: "0x5", MarketID: big.NewInt(5), TokenInfo: blob},
		{ID: "0x6", MarketID: big.NewInt(6), TokenInfo: []byte{0x01, 0x02}},
		{ID: "0x7"},
		createTestMarket(8, "NEW", model.VenueBondingCurve),
	}, nil).Once()

	symbols, err := NewDirectory(source, "").ListSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, symbols, 2, "undecodable markets are skipped")

	assert.Equal(t, "OLD/USDC", symbols[0].Ticker)
	assert.Equal(t, "Legacy Club", symbols[0].Description)
	assert.Equal(t, "Bonsai-8:NEW/USDC", symbols[1].FullName)
}

func Test_ListSymbols_RegistryError(t *testing.T) {
	registryErr := errors.New("registry down")

	source := NewMockMarketSource(10)
	source.On("MarketsPage", mock.Anything, 0).Return(nil, registryErr).Once()

	symbols, err := NewDirectory(source, "").ListSymbols(context.Background())
	assert.Nil(t, symbols)
	assert.ErrorIs(t, err, registryErr)
}

func Test_NewDirectory_QuoteAsset(t *testing.T) {
	source := NewMockMarketSource(10)
	source.On("MarketsPage", mock.Anything, 0).Return([]model.Market{
		createTestMarket(1, "BONSAI", model.VenueBondingCurve),
	}, nil)

	symbols, err := NewDirectory(source, "WETH").ListSymbols(context.Background())
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "BONSAI/WETH", symbols[0].Ticker)
}

func Test_Search(t *testing.T) {
	markets := []model.Market{
		createTestMarket(1, "BONSAI", model.VenueBondingCurve),
		createTestMarket(2, "TREE", model.VenueBondingCurve),
		createTestMarket(3, "BONK", model.VenueExternalPool),
	}

	tests := []struct {
		name     string
		query    string
		exchange string
		expected []string
	}{
		{name: "Empty query matches all", query: "", expected: []string{"Bonsai-1:BONSAI/USDC", "Bonsai-2:TREE/USDC", "Uni-3:BONK/USDC"}},
		{name: "Case insensitive substring", query: "bon", expected: []string{"Bonsai-1:BONSAI/USDC", "Bonsai-2:TREE/USDC", "Uni-3:BONK/USDC"}},
		{name: "Ticker substring", query: "bonk", expected: []string{"Uni-3:BONK/USDC"}},
		{name: "Exchange id substring", query: "uni-3", expected: []string{"Uni-3:BONK/USDC"}},
		{name: "Venue filter", query: "", exchange: "Uni", expected: []string{"Uni-3:BONK/USDC"}},
		{name: "Venue filter case insensitive", query: "tree", exchange: "bonsai", expected: []string{"Bonsai-2:TREE/USDC"}},
		{name: "Venue mismatch", query: "tree", exchange: "Uni", expected: []string{}},
		{name: "No match", query: "zzz", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := NewMockMarketSource(10)
			source.On("MarketsPage", mock.Anything, 0).Return(markets, nil)

			results, err := NewDirectory(source, "").Search(context.Background(), tt.query, tt.exchange)
			require.NoError(t, err)

			names := make([]string, 0, len(results))
			for _, s := range results {
				names = append(names, s.FullName)
			}
			assert.Equal(t, tt.expected, names)
		})
	}
}

func Test_Resolve(t *testing.T) {
	source := NewMockMarketSource(10)
	source.On("MarketsPage", mock.Anything, 0).Return([]model.Market{
		createTestMarket(1, "BONSAI", model.VenueBondingCurve),
		createTestMarket(2, "TREE", model.VenueExternalPool),
	}, nil)

	directory := NewDirectory(source, "")

	symbol, err := directory.Resolve(context.Background(), "Uni-2:TREE/USDC")
	require.NoError(t, err)
	assert.Equal(t, "2", symbol.MarketID)
	assert.Equal(t, model.VenueExternalPool, symbol.Venue)

	tests := []struct {
		name  string
		input string
	}{
		{name: "Unknown symbol", input: "Bonsai-9:NOPE/USDC"},
		{name: "Ticker only", input: "TREE/USDC"},
		{name: "Wrong case", input: "uni-2:tree/usdc"},
		{name: "Empty", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := directory.Resolve(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
