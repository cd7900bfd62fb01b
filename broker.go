// FILE: broker.go
// Package main – Broker abstractions shared by all execution backends.
//
// This file defines the capability interface the trading loop needs to talk
// to an exchange (or a paper simulator standing in for one):
//   - Broker interface: account/holdings/orders/price/buy/sell
//   - Common types: Account, Holding, Order, Execution, ExFilters
//
// Three concrete implementations live in separate files:
//   - broker_robinhood.go – Ed25519-signed REST driver
//   - broker_binance.go   – HMAC-SHA256 signed REST driver with exchange-info rounding
//   - broker_paper.go     – in-process paper simulator wrapping a price source
package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType selects market vs. resting limit execution.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderState is the lifecycle state of an order as reported by a venue.
type OrderState string

const (
	OrderFilled   OrderState = "filled"
	OrderOpen     OrderState = "open"
	OrderCanceled OrderState = "canceled"
)

// QtyEpsilon is the dust threshold below which a holding is considered closed.
var QtyEpsilon = decimal.New(1, -8) // 1e-8

// Execution is one fill belonging to an order.
type Execution struct {
	Quantity       decimal.Decimal `json:"quantity"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
}

// Order is a normalized view of a placed or historical order.
type Order struct {
	ID         string      `json:"id"`
	Side       OrderSide   `json:"side"`
	State      OrderState  `json:"state"`
	CreatedAt  float64     `json:"created_at"` // epoch seconds
	Executions []Execution `json:"executions"`
}

// Account is the quote-currency buying power snapshot of a venue.
type Account struct {
	BuyingPower   decimal.Decimal
	QuoteCurrency string
}

// Holding is a non-zero asset balance. A holding with Quantity <= QtyEpsilon
// must not be returned by a driver; callers treat it as closed.
type Holding struct {
	Asset     string
	Quantity  decimal.Decimal
	Available decimal.Decimal
}

// TradingPair describes one symbol a venue supports.
type TradingPair struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
}

// ExFilters holds venue rounding/minimum rules for a symbol. No driver reads
// it; the HMAC driver's order rounder works from its own cached filters.
type ExFilters struct {
	StepSize    decimal.Decimal // LOT_SIZE.stepSize
	MinQty      decimal.Decimal
	TickSize    decimal.Decimal // PRICE_FILTER.tickSize
	MinPrice    decimal.Decimal
	MinNotional decimal.Decimal
}

// ErrKind classifies a broker failure per the error taxonomy in SPEC_FULL §7.
type ErrKind string

const (
	ErrTransient      ErrKind = "transient"
	ErrRateLimit      ErrKind = "rate_limit"
	ErrAuth           ErrKind = "auth"
	ErrValidation     ErrKind = "validation"
	ErrStateIntegrity ErrKind = "state_integrity"
	ErrFatalConfig    ErrKind = "fatal_config"
)

// BrokerError is the one typed failure value drivers construct internally
// for logging and tests. Drivers never return this to the orchestrator —
// per SPEC_FULL §5.3 they swallow it and return nil/zero. Kind records the
// failure class for logging.
type BrokerError struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// Broker is the uniform capability set every exchange driver exposes. Every
// method is synchronous and returns a nil/zero value on unrecoverable
// error — drivers never panic or bubble transient failures up as Go errors
// the orchestrator must branch on; the returned error is for logging only.
type Broker interface {
	Name() string
	GetAccount(ctx context.Context) (*Account, error)
	GetHoldings(ctx context.Context) ([]Holding, error)
	GetTradingPairs(ctx context.Context) ([]TradingPair, error)
	GetOrders(ctx context.Context, symbol string) ([]Order, error)

	// GetPrice returns ask/bid maps keyed by symbol and the subset of
	// symbols for which a usable (positive) price was obtained this call.
	GetPrice(ctx context.Context, symbols []string) (ask, bid map[string]decimal.Decimal, valid []string)

	PlaceBuy(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, quoteAmount decimal.Decimal) (*Order, error)
	PlaceSell(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, baseQuantity decimal.Decimal) (*Order, error)

	// GetCandles returns up to limit recent OHLCV bars for symbol at the
	// given granularity (e.g. "1m", "5m", "1h"), oldest first. Used by the
	// strategy evaluator (§4.6); drivers return nil on any failure.
	GetCandles(ctx context.Context, symbol string, granularity string, limit int) ([]Candle, error)
}
