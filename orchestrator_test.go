package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is a fully in-memory Broker used to drive orchestrator tick
// tests without any network access.
type fakeBroker struct {
	mu       sync.Mutex
	account  *Account
	holdings []Holding
	ask, bid map[string]decimal.Decimal
	orders   map[string][]Order

	buys  []decimal.Decimal
	sells []decimal.Decimal
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		account: &Account{BuyingPower: decimal.NewFromInt(1000), QuoteCurrency: "USD"},
		ask:     map[string]decimal.Decimal{},
		bid:     map[string]decimal.Decimal{},
		orders:  map[string][]Order{},
	}
}

func (f *fakeBroker) Name() string { return "fake" }
func (f *fakeBroker) GetAccount(ctx context.Context) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, nil
}
func (f *fakeBroker) GetHoldings(ctx context.Context) ([]Holding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holdings, nil
}
func (f *fakeBroker) GetTradingPairs(ctx context.Context) ([]TradingPair, error) { return nil, nil }
func (f *fakeBroker) GetOrders(ctx context.Context, symbol string) ([]Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[symbol], nil
}
func (f *fakeBroker) GetPrice(ctx context.Context, symbols []string) (map[string]decimal.Decimal, map[string]decimal.Decimal, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
func (f *fakeBroker) PlaceBuy(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, quoteAmount decimal.Decimal) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, quoteAmount)
	price := f.ask[symbol]
	qty := quoteAmount.Div(price)
	order := Order{ID: clientOrderID, Side: SideBuy, State: OrderFilled, CreatedAt: float64(time.Now().Unix()),
		Executions: []Execution{{Quantity: qty, EffectivePrice: price}}}
	f.orders[symbol] = append(f.orders[symbol], order)
	return &order, nil
}
func (f *fakeBroker) PlaceSell(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, baseQuantity decimal.Decimal) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, baseQuantity)
	price := f.bid[symbol]
	order := Order{ID: clientOrderID, Side: SideSell, State: OrderFilled, CreatedAt: float64(time.Now().Unix()),
		Executions: []Execution{{Quantity: baseQuantity, EffectivePrice: price}}}
	f.orders[symbol] = append(f.orders[symbol], order)
	return &order, nil
}
func (f *fakeBroker) GetCandles(ctx context.Context, symbol string, granularity string, limit int) ([]Candle, error) {
	return nil, nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		QuoteAsset:            "USD",
		HubDir:                t.TempDir(),
		NeuralDir:             t.TempDir(),
		Coins:                 []string{"BTC"},
		Strategy:              StrategySettings{Mode: "selector", Indicators: map[string]bool{}},
		DCALevels:             parseDCALevels(),
		MaxDCABuysPer24h:      2,
		DCAWindowSeconds:      86400,
		PmStartPctNoDCA:       decimal.NewFromFloat(5),
		PmStartPctWithDCA:     decimal.NewFromFloat(2.5),
		TrailingGapPct:        decimal.NewFromFloat(0.5),
		EntryAllocationFactor: 0.1,
		EntryAllocationFloor:  decimal.NewFromFloat(10),
		TickInterval:          50 * time.Millisecond,
	}
}

func writeSignalFiles(t *testing.T, neuralDir, asset string, long, short int) {
	t.Helper()
	dir := filepath.Join(neuralDir, asset)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "long_dca_signal.txt"), []byte(itoa(long)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "short_dca_signal.txt"), []byte(itoa(short)), 0o644))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestAssetFromSymbol(t *testing.T) {
	assert.Equal(t, "BTC", assetFromSymbol("BTC-USD"))
	assert.Equal(t, "ETH", assetFromSymbol("ETH-USDT"))
	assert.Equal(t, "NOQUOTE", assetFromSymbol("NOQUOTE"))
}

func TestTickEntersOnStrongNeuralSignal(t *testing.T) {
	cfg := testConfig(t)
	writeSignalFiles(t, cfg.NeuralDir, "BTC", 5, 0)

	broker := newFakeBroker()
	broker.ask["BTC-USD"] = decimal.NewFromInt(100)
	broker.bid["BTC-USD"] = decimal.NewFromInt(99)

	hub := NewHub(cfg.HubDir)
	orch := NewOrchestrator(cfg, broker, hub, zerolog.Nop())
	orch.Bootstrap(context.Background())
	orch.Tick(context.Background())

	assert.Len(t, broker.buys, 1, "a fresh strong long signal with no holding must trigger an entry buy")
}

func TestTickSkipsEntryWithoutSignalFolder(t *testing.T) {
	cfg := testConfig(t)
	// BTC reads the neural root itself; any other coin needs its own folder.
	cfg.Coins = []string{"ETH"}
	broker := newFakeBroker()
	broker.ask["ETH-USD"] = decimal.NewFromInt(100)
	broker.bid["ETH-USD"] = decimal.NewFromInt(99)

	hub := NewHub(cfg.HubDir)
	orch := NewOrchestrator(cfg, broker, hub, zerolog.Nop())
	orch.Tick(context.Background())

	assert.Empty(t, broker.buys, "no neural signal folder means no entry")
}

func TestTickFallsBackToLastGoodSnapshotOnPartialPriceFailure(t *testing.T) {
	cfg := testConfig(t)
	broker := newFakeBroker()
	broker.holdings = []Holding{{Asset: "BTC", Quantity: decimal.NewFromInt(1), Available: decimal.NewFromInt(1)}}
	broker.orders["BTC-USD"] = []Order{filledOrder(SideBuy, "1", "90", float64(time.Now().Unix()-1000))}
	broker.ask["BTC-USD"] = decimal.NewFromInt(100)
	broker.bid["BTC-USD"] = decimal.NewFromInt(99)

	hub := NewHub(cfg.HubDir)
	orch := NewOrchestrator(cfg, broker, hub, zerolog.Nop())
	orch.Bootstrap(context.Background())
	orch.Tick(context.Background())
	assert.True(t, orch.haveLastGood)
	firstSnap := orch.lastGoodSnapshot

	// Now the price feed goes dark for the held asset entirely.
	delete(broker.ask, "BTC-USD")
	delete(broker.bid, "BTC-USD")
	orch.Tick(context.Background())

	assert.Equal(t, firstSnap.ask["BTC-USD"], orch.lastGoodSnapshot.ask["BTC-USD"], "fallback snapshot must be retained unchanged")
}

func TestSellRealizesProfitIntoPnlLedgerAndTradeHistory(t *testing.T) {
	cfg := testConfig(t)
	broker := newFakeBroker()
	broker.ask["BTC-USD"] = decimal.NewFromInt(100)
	broker.bid["BTC-USD"] = decimal.NewFromInt(110)

	hub := NewHub(cfg.HubDir)
	orch := NewOrchestrator(cfg, broker, hub, zerolog.Nop())
	orch.Bootstrap(context.Background())

	orch.sell(context.Background(), "BTC-USD", decimal.NewFromInt(2), "TPM", decimal.NewFromInt(100), 10.0)

	ledger, err := hub.LoadPnlLedger()
	require.NoError(t, err)
	assert.Equal(t, 20.0, ledger.TotalRealizedProfitUSD, "(bid 110 - avgCost 100) * qty 2 = 20")

	records, err := hub.LoadTradeHistory()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, SideSell, records[0].Side)
	assert.Equal(t, "TPM", records[0].Tag)
}

func TestSellAccumulatesRealizedProfitAcrossCalls(t *testing.T) {
	cfg := testConfig(t)
	broker := newFakeBroker()
	broker.ask["BTC-USD"] = decimal.NewFromInt(100)
	broker.bid["BTC-USD"] = decimal.NewFromInt(105)

	hub := NewHub(cfg.HubDir)
	orch := NewOrchestrator(cfg, broker, hub, zerolog.Nop())
	orch.Bootstrap(context.Background())

	orch.sell(context.Background(), "BTC-USD", decimal.NewFromInt(1), "TPM", decimal.NewFromInt(100), 5.0)
	orch.sell(context.Background(), "BTC-USD", decimal.NewFromInt(1), "TPM", decimal.NewFromInt(100), 5.0)

	ledger, err := hub.LoadPnlLedger()
	require.NoError(t, err)
	assert.Equal(t, 10.0, ledger.TotalRealizedProfitUSD)
}

func TestBootstrapRestoresPriorRealizedProfit(t *testing.T) {
	cfg := testConfig(t)
	hub := NewHub(cfg.HubDir)
	require.NoError(t, hub.WritePnlLedger(PnlLedger{TotalRealizedProfitUSD: 42, LastUpdatedTs: 1000}))

	broker := newFakeBroker()
	orch := NewOrchestrator(cfg, broker, hub, zerolog.Nop())
	orch.Bootstrap(context.Background())

	assert.True(t, orch.realizedProfit.Equal(decimal.NewFromInt(42)))
}

func TestTickWritesAccountAndPositionsSchema(t *testing.T) {
	cfg := testConfig(t)
	broker := newFakeBroker()
	broker.holdings = []Holding{{Asset: "BTC", Quantity: decimal.NewFromInt(1), Available: decimal.NewFromInt(1)}}
	broker.orders["BTC-USD"] = []Order{filledOrder(SideBuy, "1", "90", float64(time.Now().Unix()-1000))}
	broker.ask["BTC-USD"] = decimal.NewFromInt(100)
	broker.bid["BTC-USD"] = decimal.NewFromInt(99)

	hub := NewHub(cfg.HubDir)
	orch := NewOrchestrator(cfg, broker, hub, zerolog.Nop())
	orch.Bootstrap(context.Background())
	orch.Tick(context.Background())

	bs, err := os.ReadFile(filepath.Join(cfg.HubDir, "trader_status.json"))
	require.NoError(t, err)
	var status TraderStatus
	require.NoError(t, json.Unmarshal(bs, &status))

	assert.NotEmpty(t, status.Account.TotalAccountValue)
	pos, ok := status.Positions["BTC"]
	require.True(t, ok, "positions must be keyed by asset")
	assert.Equal(t, "1", pos.Quantity)
	assert.Equal(t, "90", pos.AvgCostBasis)
}

func TestBootstrapSeedsDCAStageFromOrderHistory(t *testing.T) {
	cfg := testConfig(t)
	broker := newFakeBroker()
	broker.holdings = []Holding{{Asset: "BTC", Quantity: decimal.NewFromInt(2), Available: decimal.NewFromInt(2)}}
	broker.orders["BTC-USD"] = []Order{
		filledOrder(SideBuy, "1", "100", 100),
		filledOrder(SideBuy, "1", "90", 200),
	}

	hub := NewHub(cfg.HubDir)
	orch := NewOrchestrator(cfg, broker, hub, zerolog.Nop())
	orch.Bootstrap(context.Background())

	assert.Equal(t, 1, orch.dcaStage["BTC"])
}
