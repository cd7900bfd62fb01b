// FILE: position.go
// Package main – position tracker: cost basis and DCA-stage bootstrap (§4.7).
//
// Grounded on _examples/original_source/pt_trader.py's calculate_cost_basis
// and initialize_dca_levels: cost basis is a pure function of (current
// quantity, filled buy history) — no running state is persisted across
// ticks, it is recomputed from order history whenever needed. DCA-stage
// bootstrap counts buys since the most recent sell (or all buys if none),
// and the entry (first) buy does not itself count as a DCA stage.
package main

import (
	"sort"

	"github.com/shopspring/decimal"
)

// FilledBuy is the subset of order history the cost-basis/DCA bootstrap
// logic needs: quantity, price and timestamp of one filled buy execution.
type FilledBuy struct {
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Timestamp float64
}

// FilledSell is a filled sell execution's timestamp, used only to bound
// the buy history considered by cost-basis/DCA bootstrap to "since the
// most recent sell."
type FilledSell struct {
	Timestamp float64
}

// ordersToFills splits an order history into filled buys/sells, sorted
// oldest-first by CreatedAt, flattening each order's executions.
func ordersToFills(orders []Order) ([]FilledBuy, []FilledSell) {
	buys := make([]FilledBuy, 0, len(orders))
	sells := make([]FilledSell, 0, len(orders))
	for _, o := range orders {
		if o.State != OrderFilled {
			continue
		}
		for _, ex := range o.Executions {
			switch o.Side {
			case SideBuy:
				buys = append(buys, FilledBuy{Quantity: ex.Quantity, Price: ex.EffectivePrice, Timestamp: o.CreatedAt})
			case SideSell:
				sells = append(sells, FilledSell{Timestamp: o.CreatedAt})
			}
		}
	}
	sort.Slice(buys, func(i, j int) bool { return buys[i].Timestamp < buys[j].Timestamp })
	sort.Slice(sells, func(i, j int) bool { return sells[i].Timestamp < sells[j].Timestamp })
	return buys, sells
}

// CalculateCostBasis recomputes the weighted average cost of `currentQty`
// units by walking the filled buy history newest-to-oldest, accumulating
// quantity until it reaches currentQty, and averaging cost over that
// accumulated quantity. Matches pt_trader.py's calculate_cost_basis.
func CalculateCostBasis(currentQty decimal.Decimal, buys []FilledBuy) decimal.Decimal {
	if currentQty.LessThanOrEqual(decimal.Zero) || len(buys) == 0 {
		return decimal.Zero
	}
	accumQty := decimal.Zero
	totalCost := decimal.Zero
	for i := len(buys) - 1; i >= 0; i-- {
		b := buys[i]
		remaining := currentQty.Sub(accumQty)
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := b.Quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		totalCost = totalCost.Add(take.Mul(b.Price))
		accumQty = accumQty.Add(take)
	}
	if accumQty.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return totalCost.Div(accumQty)
}

// RecomputeStages bootstraps the DCA-stage-triggered count from order
// history: it counts filled buys after the most recent filled sell (or all
// buys if there has been no sell), then subtracts one for the initial entry
// buy which is never itself a DCA stage. Negative results clamp to zero.
func RecomputeStages(orders []Order) int {
	buys, sells := ordersToFills(orders)
	if len(buys) == 0 {
		return 0
	}
	var lastSellTs float64 = -1
	for _, s := range sells {
		if s.Timestamp > lastSellTs {
			lastSellTs = s.Timestamp
		}
	}
	count := 0
	for _, b := range buys {
		if lastSellTs < 0 || b.Timestamp > lastSellTs {
			count++
		}
	}
	stages := count - 1
	if stages < 0 {
		stages = 0
	}
	return stages
}

// LastSellTimestamp returns the most recent filled sell's timestamp across
// the order history, or -1 if there has never been one. The rolling DCA
// window does not call it; DCAWindow keeps its own last-sell timestamps.
func LastSellTimestamp(orders []Order) float64 {
	_, sells := ordersToFills(orders)
	last := -1.0
	for _, s := range sells {
		if s.Timestamp > last {
			last = s.Timestamp
		}
	}
	return last
}
