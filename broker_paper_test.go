package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePriceSource is a minimal Broker stub used only to drive PaperBroker's
// price lookups in tests.
type fakePriceSource struct {
	ask, bid map[string]decimal.Decimal
}

func (f *fakePriceSource) Name() string { return "fake" }
func (f *fakePriceSource) GetAccount(ctx context.Context) (*Account, error) { return nil, nil }
func (f *fakePriceSource) GetHoldings(ctx context.Context) ([]Holding, error) { return nil, nil }
func (f *fakePriceSource) GetTradingPairs(ctx context.Context) ([]TradingPair, error) { return nil, nil }
func (f *fakePriceSource) GetOrders(ctx context.Context, symbol string) ([]Order, error) { return nil, nil }
func (f *fakePriceSource) GetPrice(ctx context.Context, symbols []string) (map[string]decimal.Decimal, map[string]decimal.Decimal, []string) {
	ask, bid, valid := map[string]decimal.Decimal{}, map[string]decimal.Decimal{}, []string{}
	for _, s := range symbols {
		if a, ok := f.ask[s]; ok {
			ask[s] = a
			bid[s] = f.bid[s]
			valid = append(valid, s)
		}
	}
	return ask, bid, valid
}
func (f *fakePriceSource) PlaceBuy(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, quoteAmount decimal.Decimal) (*Order, error) {
	return nil, nil
}
func (f *fakePriceSource) PlaceSell(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, baseQuantity decimal.Decimal) (*Order, error) {
	return nil, nil
}
func (f *fakePriceSource) GetCandles(ctx context.Context, symbol string, granularity string, limit int) ([]Candle, error) {
	return nil, nil
}

func newTestPaperBroker(t *testing.T, ask, bid decimal.Decimal) *PaperBroker {
	t.Helper()
	src := &fakePriceSource{
		ask: map[string]decimal.Decimal{"BTC-USD": ask},
		bid: map[string]decimal.Decimal{"BTC-USD": bid},
	}
	return NewPaperBroker(src, t.TempDir()+"/paper_state.json", "USD", decimal.NewFromInt(1000), zerolog.Nop())
}

func TestPaperBrokerPlaceBuyUpdatesBalanceAndHolding(t *testing.T) {
	pb := newTestPaperBroker(t, decimal.NewFromInt(100), decimal.NewFromInt(99))
	order, err := pb.PlaceBuy(context.Background(), "id1", OrderMarket, "BTC-USD", decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NotNil(t, order)

	acct, _ := pb.GetAccount(context.Background())
	assert.True(t, acct.BuyingPower.Equal(decimal.NewFromInt(900)), "got %s", acct.BuyingPower)

	holdings, _ := pb.GetHoldings(context.Background())
	require.Len(t, holdings, 1)
	assert.Equal(t, "BTC", holdings[0].Asset)
	assert.True(t, holdings[0].Quantity.Equal(decimal.NewFromInt(1)), "got %s", holdings[0].Quantity)
}

func TestPaperBrokerPlaceBuyRejectsInsufficientBalance(t *testing.T) {
	pb := newTestPaperBroker(t, decimal.NewFromInt(100), decimal.NewFromInt(99))
	order, err := pb.PlaceBuy(context.Background(), "id1", OrderMarket, "BTC-USD", decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestPaperBrokerWeightedAverageCostAcrossBuys(t *testing.T) {
	pb := newTestPaperBroker(t, decimal.NewFromInt(100), decimal.NewFromInt(99))
	_, err := pb.PlaceBuy(context.Background(), "id1", OrderMarket, "BTC-USD", decimal.NewFromInt(100))
	require.NoError(t, err)

	pb.state.Balance = decimal.NewFromInt(1000) // top up so the second buy clears
	pb.priceSource.(*fakePriceSource).ask["BTC-USD"] = decimal.NewFromInt(200)
	_, err = pb.PlaceBuy(context.Background(), "id2", OrderMarket, "BTC-USD", decimal.NewFromInt(200))
	require.NoError(t, err)

	holdings, _ := pb.GetHoldings(context.Background())
	require.Len(t, holdings, 1)
	// 1 unit @100 + 1 unit @200 => 2 units @ avg cost 150
	assert.True(t, holdings[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, pb.state.Holdings["BTC"].AvgCost.Equal(decimal.NewFromInt(150)))
}

func TestPaperBrokerPlaceSellDeletesHoldingBelowDustThreshold(t *testing.T) {
	pb := newTestPaperBroker(t, decimal.NewFromInt(100), decimal.NewFromInt(100))
	_, err := pb.PlaceBuy(context.Background(), "id1", OrderMarket, "BTC-USD", decimal.NewFromInt(100))
	require.NoError(t, err)

	order, err := pb.PlaceSell(context.Background(), "id2", OrderMarket, "BTC-USD", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NotNil(t, order)

	holdings, _ := pb.GetHoldings(context.Background())
	assert.Len(t, holdings, 0)

	acct, _ := pb.GetAccount(context.Background())
	assert.True(t, acct.BuyingPower.Equal(decimal.NewFromInt(1000)), "got %s", acct.BuyingPower)
}

func TestPaperBrokerPlaceSellRejectsInsufficientHolding(t *testing.T) {
	pb := newTestPaperBroker(t, decimal.NewFromInt(100), decimal.NewFromInt(100))
	order, err := pb.PlaceSell(context.Background(), "id1", OrderMarket, "BTC-USD", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestPaperBrokerStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	src := &fakePriceSource{
		ask: map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(100)},
		bid: map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(100)},
	}
	statePath := dir + "/paper_state.json"
	pb1 := NewPaperBroker(src, statePath, "USD", decimal.NewFromInt(1000), zerolog.Nop())
	_, err := pb1.PlaceBuy(context.Background(), "id1", OrderMarket, "BTC-USD", decimal.NewFromInt(100))
	require.NoError(t, err)

	pb2 := NewPaperBroker(src, statePath, "USD", decimal.NewFromInt(1000), zerolog.Nop())
	holdings, _ := pb2.GetHoldings(context.Background())
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].Quantity.Equal(decimal.NewFromInt(1)))
}
