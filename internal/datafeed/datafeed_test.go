package datafeed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/onbonsai/launchpad-sub000/internal/candles"
	"github.com/onbonsai/launchpad-sub000/internal/live"
	"github.com/onbonsai/launchpad-sub000/internal/model"
	"github.com/onbonsai/launchpad-sub000/internal/symbols"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSymbolDirectory is a mock implementation of SymbolDirectory for testing.
type MockSymbolDirectory struct {
	mock.Mock
}

func (m *MockSymbolDirectory) Search(ctx context.Context, query, exchange string) ([]model.Symbol, error) {
	args := m.Called(ctx, query, exchange)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).([]model.Symbol), nil
}

func (m *MockSymbolDirectory) Resolve(ctx context.Context, name string) (model.Symbol, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(model.Symbol), args.Error(1)
}

// MockBarHistory is a mock implementation of BarHistory for testing.
type MockBarHistory struct {
	mock.Mock
}

func (m *MockBarHistory) GetBars(ctx context.Context, marketID string, r candles.Resolution, windowStart, windowEnd int64, targetCount int, latest bool) ([]model.Bar, error) {
	args := m.Called(ctx, marketID, r, windowStart, windowEnd, targetCount, latest)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	return args.Get(0).([]model.Bar), nil
}

// MockLiveSubscriber is a mock implementation of LiveSubscriber for testing.
type MockLiveSubscriber struct {
	mock.Mock
}

func (m *MockLiveSubscriber) Subscribe(ctx context.Context, subscriberID, marketID string, r candles.Resolution, onBar func(model.Bar), onLost func(error)) (string, error) {
	args := m.Called(ctx, subscriberID, marketID, r, onBar, onLost)
	return args.String(0), args.Error(1)
}

func (m *MockLiveSubscriber) Unsubscribe(subscriberID string) error {
	args := m.Called(subscriberID)
	return args.Error(0)
}

type fixture struct {
	directory *MockSymbolDirectory
	history   *MockBarHistory
	live      *MockLiveSubscriber
	feed      *Datafeed
}

func newFixture() *fixture {
	f := &fixture{
		directory: &MockSymbolDirectory{},
		history:   &MockBarHistory{},
		live:      &MockLiveSubscriber{},
	}
	f.feed = New(f.directory, f.history, f.live, 6)
	return f
}

func createTestSymbol(id int, ticker string) model.Symbol {
	exchange := fmt.Sprintf("Bonsai-%d", id)
	return model.Symbol{
		Ticker:      ticker + "/USDC",
		FullName:    exchange + ":" + ticker + "/USDC",
		Description: ticker,
		Exchange:    exchange,
		Kind:        symbols.KindCrypto,
		Venue:       model.VenueBondingCurve,
		MarketID:    fmt.Sprint(id),
	}
}

func Test_OnReady(t *testing.T) {
	config := newFixture().feed.OnReady()

	assert.Equal(t, []string{"1S", "1", "5", "15", "30", "60", "240", "1D", "1W", "1M"}, config.SupportedResolutions)
	require.Len(t, config.Exchanges, 2)
	assert.Equal(t, "Bonsai", config.Exchanges[0].Value)
	assert.Equal(t, "Uni", config.Exchanges[1].Value)
	assert.Equal(t, []SymbolType{{Name: "crypto", Value: "crypto"}}, config.SymbolsTypes)
	assert.True(t, config.SupportsSearch)
	assert.True(t, config.SupportsTime)
}

func Test_SearchSymbols(t *testing.T) {
	other := createTestSymbol(3, "NFT")
	other.Kind = "nft"

	tests := []struct {
		name     string
		kind     string
		expected int
	}{
		{name: "No kind filter", kind: "", expected: 3},
		{name: "Crypto only", kind: "crypto", expected: 2},
		{name: "Case insensitive kind", kind: "CRYPTO", expected: 2},
		{name: "Unknown kind", kind: "stock", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.directory.On("Search", mock.Anything, "bon", "Bonsai").Return([]model.Symbol{
				createTestSymbol(1, "BONSAI"),
				createTestSymbol(2, "BONK"),
				other,
			}, nil)

			found, err := f.feed.SearchSymbols(context.Background(), "bon", "Bonsai", tt.kind)
			require.NoError(t, err)
			assert.Len(t, found, tt.expected)
		})
	}
}

func Test_ResolveSymbol(t *testing.T) {
	f := newFixture()
	symbol := createTestSymbol(7, "BONSAI")
	f.directory.On("Resolve", mock.Anything, symbol.FullName).Return(symbol, nil)

	info, err := f.feed.ResolveSymbol(context.Background(), symbol.FullName)
	require.NoError(t, err)

	assert.Equal(t, "BONSAI/USDC", info.Name)
	assert.Equal(t, "Bonsai-7:BONSAI/USDC", info.FullName)
	assert.Equal(t, "24x7", info.Session)
	assert.Equal(t, "Etc/UTC", info.Timezone)
	assert.Equal(t, int64(1_000_000), info.PriceScale)
	assert.True(t, info.HasSeconds)
	assert.True(t, info.HasIntraday)
	assert.Equal(t, "7", info.MarketID)
	assert.Equal(t, "Bonsai-7", info.Exchange)
}

func Test_ResolveSymbol_NotFound(t *testing.T) {
	f := newFixture()
	f.directory.On("Resolve", mock.Anything, "missing").
		Return(model.Symbol{}, fmt.Errorf("%w: %q", symbols.ErrNotFound, "missing"))

	_, err := f.feed.ResolveSymbol(context.Background(), "missing")
	assert.ErrorIs(t, err, symbols.ErrNotFound)
}

func Test_GetBars(t *testing.T) {
	info := SymbolInfo{FullName: "Bonsai-7:BONSAI/USDC", MarketID: "7"}
	bars := []model.Bar{{Time: 60_000, Open: 1, High: 2, Low: 1, Close: 2}}

	tests := []struct {
		name          string
		params        PeriodParams
		bars          []model.Bar
		expectedCount int
		expectNoData  bool
	}{
		{name: "With bars", params: PeriodParams{From: 0, To: 100, CountBack: 50}, bars: bars, expectedCount: 50},
		{name: "Default count back", params: PeriodParams{From: 0, To: 100}, bars: bars, expectedCount: DefaultCountBack},
		{name: "Empty result", params: PeriodParams{From: 0, To: 100, CountBack: 10}, bars: []model.Bar{}, expectedCount: 10, expectNoData: true},
		{name: "Negative window", params: PeriodParams{From: -1, To: 100, CountBack: 10}, bars: []model.Bar{}, expectedCount: 10, expectNoData: true},
		{name: "First data request", params: PeriodParams{From: 0, To: 100, CountBack: 10, FirstDataRequest: true}, bars: bars, expectedCount: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.history.On("GetBars", mock.Anything, "7", candles.Resolution5Min, tt.params.From, tt.params.To, tt.expectedCount, tt.params.FirstDataRequest).
				Return(tt.bars, nil).Once()

			result, err := f.feed.GetBars(context.Background(), info, candles.Resolution5Min, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.expectNoData, result.NoData)
			assert.Len(t, result.Bars, len(tt.bars))
			f.history.AssertExpectations(t)
		})
	}
}

func Test_GetBars_Errors(t *testing.T) {
	f := newFixture()
	info := SymbolInfo{MarketID: "7"}

	_, err := f.feed.GetBars(context.Background(), info, candles.Resolution("2H"), PeriodParams{})
	assert.ErrorIs(t, err, candles.ErrUnsupportedResolution)

	_, err = f.feed.GetBars(context.Background(), SymbolInfo{}, candles.Resolution1Min, PeriodParams{})
	assert.Error(t, err)

	registryErr := errors.New("registry down")
	f.history.On("GetBars", mock.Anything, "7", candles.Resolution1Min, int64(0), int64(10), DefaultCountBack, false).
		Return(nil, registryErr)
	_, err = f.feed.GetBars(context.Background(), info, candles.Resolution1Min, PeriodParams{To: 10})
	assert.ErrorIs(t, err, registryErr)
}

func Test_SubscribeBars(t *testing.T) {
	info := SymbolInfo{MarketID: "7"}

	t.Run("Live resolution delegates", func(t *testing.T) {
		f := newFixture()
		f.live.On("Subscribe", mock.Anything, "sub", "7", candles.Resolution1S, mock.Anything, mock.Anything).Return("sub", nil).Once()

		require.NoError(t, f.feed.SubscribeBars(context.Background(), info, candles.Resolution1S, func(model.Bar) {}, "sub", nil))
		f.live.AssertExpectations(t)
	})

	t.Run("Coarse resolution is silent", func(t *testing.T) {
		f := newFixture()
		require.NoError(t, f.feed.SubscribeBars(context.Background(), info, candles.Resolution1Hour, func(model.Bar) {}, "sub", nil))
		f.live.AssertNotCalled(t, "Subscribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Subscriber errors propagate", func(t *testing.T) {
		f := newFixture()
		f.live.On("Subscribe", mock.Anything, "sub", "7", candles.Resolution1S, mock.Anything, mock.Anything).
			Return("", live.ErrDuplicateSubscriber)

		err := f.feed.SubscribeBars(context.Background(), info, candles.Resolution1S, func(model.Bar) {}, "sub", nil)
		assert.ErrorIs(t, err, live.ErrDuplicateSubscriber)
	})
}

func Test_UnsubscribeBars(t *testing.T) {
	f := newFixture()
	f.live.On("Unsubscribe", "sub").Return(nil).Once()
	f.live.On("Unsubscribe", "gone").Return(live.ErrUnknownSubscriber).Once()

	assert.NoError(t, f.feed.UnsubscribeBars("sub"))
	assert.ErrorIs(t, f.feed.UnsubscribeBars("gone"), live.ErrUnknownSubscriber)
}

func Test_Provider_OnReady(t *testing.T) {
	provider := NewProvider(context.Background(), newFixture().feed)

	done := make(chan Configuration, 1)
	provider.OnReady(func(config Configuration) { done <- config })

	select {
	case config := <-done:
		assert.NotEmpty(t, config.SupportedResolutions)
	case <-time.After(2 * time.Second):
		t.Fatal("OnReady callback was never called")
	}
}

func Test_Provider_ResolveSymbol(t *testing.T) {
	f := newFixture()
	symbol := createTestSymbol(1, "BONSAI")
	f.directory.On("Resolve", mock.Anything, symbol.FullName).Return(symbol, nil)
	f.directory.On("Resolve", mock.Anything, "missing").
		Return(model.Symbol{}, fmt.Errorf("%w: %q", symbols.ErrNotFound, "missing"))
	f.directory.On("Resolve", mock.Anything, "broken").Return(model.Symbol{}, errors.New("registry down"))
	provider := NewProvider(context.Background(), f.feed)

	tests := []struct {
		name          string
		input         string
		expectResolve bool
		expectMessage string
	}{
		{name: "Found", input: symbol.FullName, expectResolve: true},
		{name: "Not found", input: "missing", expectMessage: `unknown symbol "missing"`},
		{name: "Registry failure", input: "broken", expectMessage: `cannot resolve symbol "broken": registry down`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resolved *SymbolInfo
			var message string
			provider.ResolveSymbol(tt.input,
				func(info SymbolInfo) { resolved = &info },
				func(msg string) { message = msg },
			)

			if tt.expectResolve {
				require.NotNil(t, resolved)
				assert.Equal(t, tt.input, resolved.FullName)
				assert.Empty(t, message)
				return
			}
			assert.Nil(t, resolved)
			assert.Equal(t, tt.expectMessage, message)
		})
	}
}

func Test_Provider_SearchSymbols(t *testing.T) {
	f := newFixture()
	f.directory.On("Search", mock.Anything, "ok", "").Return([]model.Symbol{createTestSymbol(1, "OK")}, nil)
	f.directory.On("Search", mock.Anything, "fail", "").Return(nil, errors.New("registry down"))
	provider := NewProvider(context.Background(), f.feed)

	var found []model.Symbol
	provider.SearchSymbols("ok", "", "", func(s []model.Symbol) { found = s })
	assert.Len(t, found, 1)

	found = nil
	provider.SearchSymbols("fail", "", "", func(s []model.Symbol) { found = s })
	assert.NotNil(t, found, "failures still answer")
	assert.Empty(t, found)
}

// Test_Provider_GetBars_AlwaysAnswers checks that every outcome reaches exactly one callback.
func Test_Provider_GetBars_AlwaysAnswers(t *testing.T) {
	info := SymbolInfo{FullName: "Bonsai-7:BONSAI/USDC", MarketID: "7"}

	tests := []struct {
		name          string
		resolution    candles.Resolution
		historyBars   []model.Bar
		historyErr    error
		expectHistory bool
		expectNoData  bool
		expectError   bool
	}{
		{name: "Bars", resolution: candles.Resolution1Min, historyBars: []model.Bar{{Time: 1, Open: 1, High: 1, Low: 1, Close: 1}}, expectHistory: true},
		{name: "No bars", resolution: candles.Resolution1Min, historyBars: []model.Bar{}, expectHistory: true, expectNoData: true},
		{name: "Registry failure", resolution: candles.Resolution1Min, historyErr: errors.New("registry down"), expectHistory: true, expectNoData: true},
		{name: "Unsupported resolution", resolution: candles.Resolution("2H"), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.history.On("GetBars", mock.Anything, "7", tt.resolution, int64(0), int64(100), 10, false).
				Return(tt.historyBars, tt.historyErr).Maybe()
			provider := NewProvider(context.Background(), f.feed)

			historyCalls, errorCalls := 0, 0
			var result HistoryResult
			provider.GetBars(info, tt.resolution, PeriodParams{From: 0, To: 100, CountBack: 10},
				func(r HistoryResult) {
					historyCalls++
					result = r
				},
				func(string) { errorCalls++ },
			)

			assert.Equal(t, 1, historyCalls+errorCalls, "exactly one callback fires")
			if tt.expectError {
				assert.Equal(t, 1, errorCalls)
				return
			}
			assert.Equal(t, 1, historyCalls)
			assert.Equal(t, tt.expectNoData, result.NoData)
			assert.Len(t, result.Bars, len(tt.historyBars))
		})
	}
}

func Test_Provider_Subscriptions(t *testing.T) {
	f := newFixture()
	f.live.On("Subscribe", mock.Anything, "sub", "7", candles.Resolution1S, mock.Anything, mock.Anything).Return("sub", nil)
	f.live.On("Unsubscribe", "sub").Return(nil).Once()
	f.live.On("Unsubscribe", "sub").Return(live.ErrUnknownSubscriber).Once()
	provider := NewProvider(context.Background(), f.feed)

	info := SymbolInfo{MarketID: "7"}
	require.NoError(t, provider.SubscribeBars(info, candles.Resolution1S, func(model.Bar) {}, "sub", nil))
	require.NoError(t, provider.UnsubscribeBars("sub"))
	assert.ErrorIs(t, provider.UnsubscribeBars("sub"), live.ErrUnknownSubscriber)
}

func Test_Provider_SubscribeBars_ReportsLostFeed(t *testing.T) {
	f := newFixture()
	var onLost func(error)
	f.live.On("Subscribe", mock.Anything, "sub", "7", candles.Resolution1S, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { onLost = args.Get(5).(func(error)) }).
		Return("sub", nil).Once()
	provider := NewProvider(context.Background(), f.feed)

	var messages []string
	err := provider.SubscribeBars(SymbolInfo{MarketID: "7"}, candles.Resolution1S, func(model.Bar) {}, "sub",
		func(msg string) { messages = append(messages, msg) })
	require.NoError(t, err)
	require.NotNil(t, onLost)

	onLost(errors.New("node went away"))
	assert.Equal(t, []string{"node went away"}, messages)
}
