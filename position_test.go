package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledOrder(side OrderSide, qty, price string, ts float64) Order {
	q, _ := decimal.NewFromString(qty)
	p, _ := decimal.NewFromString(price)
	return Order{
		Side: side, State: OrderFilled, CreatedAt: ts,
		Executions: []Execution{{Quantity: q, EffectivePrice: p}},
	}
}

func TestOrdersToFillsSortsOldestFirstAndSkipsUnfilled(t *testing.T) {
	orders := []Order{
		filledOrder(SideBuy, "1", "100", 300),
		filledOrder(SideBuy, "1", "90", 100),
		{Side: SideBuy, State: OrderOpen, CreatedAt: 200, Executions: []Execution{{Quantity: decimal.NewFromInt(1), EffectivePrice: decimal.NewFromInt(95)}}},
		filledOrder(SideSell, "1", "110", 400),
	}
	buys, sells := ordersToFills(orders)
	require.Len(t, buys, 2)
	require.Len(t, sells, 1)
	assert.Equal(t, 100.0, buys[0].Timestamp)
	assert.Equal(t, 300.0, buys[1].Timestamp)
}

func TestCalculateCostBasisWeightsNewestFirst(t *testing.T) {
	buys := []FilledBuy{
		{Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Timestamp: 1},
		{Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(200), Timestamp: 2},
	}
	// Current quantity of 1 should attribute cost to the most recent (newest)
	// buy only: the 200-priced fill, not an average of both.
	basis := CalculateCostBasis(decimal.NewFromInt(1), buys)
	assert.True(t, basis.Equal(decimal.NewFromInt(200)), "got %s", basis)
}

func TestCalculateCostBasisSpansMultipleBuys(t *testing.T) {
	buys := []FilledBuy{
		{Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Timestamp: 1},
		{Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(200), Timestamp: 2},
	}
	basis := CalculateCostBasis(decimal.NewFromInt(2), buys)
	assert.True(t, basis.Equal(decimal.NewFromInt(150)), "got %s", basis)
}

func TestCalculateCostBasisZeroQuantityOrNoBuys(t *testing.T) {
	assert.True(t, CalculateCostBasis(decimal.Zero, nil).IsZero())
	assert.True(t, CalculateCostBasis(decimal.NewFromInt(1), nil).IsZero())
}

func TestRecomputeStagesExcludesEntryBuy(t *testing.T) {
	orders := []Order{
		filledOrder(SideBuy, "1", "100", 100), // entry
		filledOrder(SideBuy, "1", "90", 200),  // DCA stage 1
		filledOrder(SideBuy, "1", "80", 300),  // DCA stage 2
	}
	assert.Equal(t, 2, RecomputeStages(orders))
}

func TestRecomputeStagesBoundedByLastSell(t *testing.T) {
	orders := []Order{
		filledOrder(SideBuy, "1", "100", 100),
		filledOrder(SideBuy, "1", "90", 200),
		filledOrder(SideSell, "2", "120", 300),
		filledOrder(SideBuy, "1", "95", 400), // new entry after sell
	}
	assert.Equal(t, 0, RecomputeStages(orders))
}

func TestRecomputeStagesNoBuysIsZero(t *testing.T) {
	assert.Equal(t, 0, RecomputeStages(nil))
}

func TestLastSellTimestamp(t *testing.T) {
	assert.Equal(t, -1.0, LastSellTimestamp(nil))
	orders := []Order{
		filledOrder(SideSell, "1", "100", 100),
		filledOrder(SideSell, "1", "100", 250),
	}
	assert.Equal(t, 250.0, LastSellTimestamp(orders))
}
