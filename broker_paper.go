// FILE: broker_paper.go
// Package main – paper trading simulator (§4.4).
//
// Grounded on _examples/original_source/brokers/paper.py: the balance,
// holdings and orders (no separate trade list is kept) live in a single
// JSON document persisted via
// write-temp+os.Rename after every mutation. Buys compute quantity=amount/
// price and update a weighted-average cost; sells credit quantity*price
// and drop the holding once its remainder is at or below the dust
// threshold. Prices/candles are never simulated here — they come from a
// wrapped real Broker acting purely as a price source (§4.4 "wraps a real
// price source").
package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type paperHolding struct {
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

type paperState struct {
	Balance  decimal.Decimal         `json:"balance"`
	Holdings map[string]paperHolding `json:"holdings"` // keyed by base asset
	Orders   []Order                 `json:"orders"`   // keyed implicitly by symbol in OrdersBySymbol
}

// PaperBroker simulates fills against a real price source, persisting its
// book to statePath so a restart resumes the same simulated portfolio.
type PaperBroker struct {
	priceSource Broker // real broker used only for GetPrice/GetCandles/GetTradingPairs
	statePath   string
	quote       string
	log         zerolog.Logger

	mu    sync.Mutex
	state paperState
}

func NewPaperBroker(priceSource Broker, statePath, quote string, startingBalance decimal.Decimal, log zerolog.Logger) *PaperBroker {
	pb := &PaperBroker{
		priceSource: priceSource,
		statePath:   statePath,
		quote:       quote,
		log:         log.With().Str("broker", "paper").Logger(),
		state: paperState{
			Balance:  startingBalance,
			Holdings: map[string]paperHolding{},
		},
	}
	pb.load()
	return pb
}

func (p *PaperBroker) Name() string { return "paper" }

func (p *PaperBroker) load() {
	bs, err := os.ReadFile(p.statePath)
	if err != nil {
		return
	}
	var s paperState
	if json.Unmarshal(bs, &s) != nil {
		return
	}
	if s.Holdings == nil {
		s.Holdings = map[string]paperHolding{}
	}
	p.state = s
}

// save writes the state atomically via temp-file+rename, mirroring
// paper.py's _save_state.
func (p *PaperBroker) save() {
	bs, err := json.MarshalIndent(p.state, "", "  ")
	if err != nil {
		return
	}
	tmp := p.statePath + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err != nil {
		p.log.Warn().Err(err).Msg("paper state write failed")
		return
	}
	if err := os.Rename(tmp, p.statePath); err != nil {
		p.log.Warn().Err(err).Msg("paper state rename failed")
	}
}

func (p *PaperBroker) GetAccount(ctx context.Context) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Account{BuyingPower: p.state.Balance, QuoteCurrency: p.quote}, nil
}

func (p *PaperBroker) GetHoldings(ctx context.Context) ([]Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Holding, 0, len(p.state.Holdings))
	for asset, h := range p.state.Holdings {
		if h.Quantity.LessThanOrEqual(QtyEpsilon) {
			continue
		}
		out = append(out, Holding{Asset: asset, Quantity: h.Quantity, Available: h.Quantity})
	}
	return out, nil
}

func (p *PaperBroker) GetTradingPairs(ctx context.Context) ([]TradingPair, error) {
	return p.priceSource.GetTradingPairs(ctx)
}

func (p *PaperBroker) GetOrders(ctx context.Context, symbol string) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range p.state.Orders {
		out = append(out, o)
	}
	return out, nil
}

func (p *PaperBroker) GetPrice(ctx context.Context, symbols []string) (map[string]decimal.Decimal, map[string]decimal.Decimal, []string) {
	return p.priceSource.GetPrice(ctx, symbols)
}

func (p *PaperBroker) GetCandles(ctx context.Context, symbol string, granularity string, limit int) ([]Candle, error) {
	return p.priceSource.GetCandles(ctx, symbol, granularity, limit)
}

// PlaceBuy simulates a market buy: rejects if amount exceeds balance,
// otherwise debits balance and folds the fill into a weighted-average cost
// exactly as paper.py's place_buy_order does.
func (p *PaperBroker) PlaceBuy(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, quoteAmount decimal.Decimal) (*Order, error) {
	ask, _, valid := p.priceSource.GetPrice(ctx, []string{symbol})
	if len(valid) == 0 {
		return nil, nil
	}
	price := ask[symbol]
	if !price.IsPositive() {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if quoteAmount.GreaterThan(p.state.Balance) {
		p.log.Warn().Str("symbol", symbol).Msg("paper buy rejected: insufficient balance")
		return nil, nil
	}
	qty := quoteAmount.Div(price)
	asset := assetFromSymbol(symbol)

	existing := p.state.Holdings[asset]
	newQty := existing.Quantity.Add(qty)
	newAvgCost := existing.AvgCost
	if newQty.IsPositive() {
		newAvgCost = existing.Quantity.Mul(existing.AvgCost).Add(qty.Mul(price)).Div(newQty)
	}
	p.state.Holdings[asset] = paperHolding{Quantity: newQty, AvgCost: newAvgCost}
	p.state.Balance = p.state.Balance.Sub(quoteAmount)

	order := Order{
		ID: clientOrderID, Side: SideBuy, State: OrderFilled,
		CreatedAt:  float64(time.Now().Unix()),
		Executions: []Execution{{Quantity: qty, EffectivePrice: price}},
	}
	p.state.Orders = append(p.state.Orders, order)
	p.save()
	return &order, nil
}

// PlaceSell simulates a market sell: rejects if quantity exceeds the
// holding, otherwise credits balance and deletes the holding once the
// remainder is at or below the dust threshold, per paper.py.
func (p *PaperBroker) PlaceSell(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, baseQuantity decimal.Decimal) (*Order, error) {
	_, bid, valid := p.priceSource.GetPrice(ctx, []string{symbol})
	if len(valid) == 0 {
		return nil, nil
	}
	price := bid[symbol]
	if !price.IsPositive() {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	asset := assetFromSymbol(symbol)
	existing := p.state.Holdings[asset]
	if baseQuantity.GreaterThan(existing.Quantity) {
		p.log.Warn().Str("symbol", symbol).Msg("paper sell rejected: insufficient holding")
		return nil, nil
	}

	amount := baseQuantity.Mul(price)
	p.state.Balance = p.state.Balance.Add(amount)

	remaining := existing.Quantity.Sub(baseQuantity)
	if remaining.LessThanOrEqual(QtyEpsilon) {
		delete(p.state.Holdings, asset)
	} else {
		p.state.Holdings[asset] = paperHolding{Quantity: remaining, AvgCost: existing.AvgCost}
	}

	order := Order{
		ID: clientOrderID, Side: SideSell, State: OrderFilled,
		CreatedAt:  float64(time.Now().Unix()),
		Executions: []Execution{{Quantity: baseQuantity, EffectivePrice: price}},
	}
	p.state.Orders = append(p.state.Orders, order)
	p.save()
	return &order, nil
}
