// FILE: dca.go
// Package main – DCA (dollar-cost-average) engine (§4.8).
//
// Grounded on _examples/original_source/pt_trader.py: a hard-coded ladder of
// drawdown thresholds on buy_pnl, optionally pulled forward by the neural
// long-level signal, gated by a rolling 24h per-symbol buy-count window
// seeded at startup from trade_history.jsonl and bounded to the current
// trade (buys strictly after the most recent sell).
package main

import (
	"sync"

	"github.com/shopspring/decimal"
)

// TradeRecord is one logged fill read back from trade_history.jsonl to seed
// the rolling DCA window at startup.
type TradeRecord struct {
	Symbol    string
	Side      OrderSide
	Tag       string // "DCA" | "ENTRY" | "TPM" | ...
	Timestamp float64
}

// DCAWindow tracks, per symbol, the timestamps of DCA buys within the
// trailing window, bounded to the current trade (buys after the last sell).
// Single-writer per orchestrator instance; guarded defensively by mu since
// hub snapshot writers may read it concurrently with the tick goroutine.
type DCAWindow struct {
	mu          sync.Mutex
	windowSecs  int64
	buyTimes    map[string][]float64
	lastSellTs  map[string]float64
}

func NewDCAWindow(windowSecs int64) *DCAWindow {
	return &DCAWindow{
		windowSecs: windowSecs,
		buyTimes:   map[string][]float64{},
		lastSellTs: map[string]float64{},
	}
}

// SeedFromHistory replays trade_history.jsonl records to reconstruct the
// in-memory window exactly as pt_trader.py's _seed_dca_window_from_history
// does: only "DCA"-tagged buys after the most recent sell for that symbol,
// within windowSecs of "now" (Bootstrap passes the wall-clock startup time).
func (w *DCAWindow) SeedFromHistory(records []TradeRecord, now float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lastSell := map[string]float64{}
	for _, r := range records {
		if r.Side == SideSell {
			if r.Timestamp > lastSell[r.Symbol] {
				lastSell[r.Symbol] = r.Timestamp
			}
		}
	}
	for sym, ts := range lastSell {
		w.lastSellTs[sym] = ts
	}
	for _, r := range records {
		if r.Side != SideBuy || r.Tag != "DCA" {
			continue
		}
		sellTs, hasSell := w.lastSellTs[r.Symbol]
		if hasSell && r.Timestamp <= sellTs {
			continue
		}
		if now-r.Timestamp > float64(w.windowSecs) {
			continue
		}
		w.buyTimes[r.Symbol] = append(w.buyTimes[r.Symbol], r.Timestamp)
	}
}

// Count returns the number of DCA buys recorded for symbol within the
// trailing window as of `now`.
func (w *DCAWindow) Count(symbol string, now float64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(symbol, now)
	return len(w.buyTimes[symbol])
}

func (w *DCAWindow) pruneLocked(symbol string, now float64) {
	times := w.buyTimes[symbol]
	if len(times) == 0 {
		return
	}
	kept := times[:0]
	for _, t := range times {
		if now-t <= float64(w.windowSecs) {
			kept = append(kept, t)
		}
	}
	w.buyTimes[symbol] = kept
}

// NoteBuy records a new DCA fill for symbol at timestamp ts.
func (w *DCAWindow) NoteBuy(symbol string, ts float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buyTimes[symbol] = append(w.buyTimes[symbol], ts)
}

// ResetForNewTrade clears the window for symbol on a sell, recording the
// sell timestamp so a subsequent re-entry's DCA buys are bounded correctly.
func (w *DCAWindow) ResetForNewTrade(symbol string, sellTs float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buyTimes[symbol] = nil
	w.lastSellTs[symbol] = sellTs
}

// dcaLevelPct returns the ladder's drawdown percentage for `stage`
// (0-indexed), repeating the last rung for any stage beyond the ladder.
func dcaLevelPct(levels []decimal.Decimal, stage int) decimal.Decimal {
	if len(levels) == 0 {
		return decimal.Zero
	}
	if stage >= len(levels) {
		return levels[len(levels)-1]
	}
	if stage < 0 {
		stage = 0
	}
	return levels[stage]
}

// NextDCALine reports the drawdown percentage and triggering rule that would
// fire the next DCA buy for a held asset at its current stage, without
// consuming the rolling window — used to populate trader_status.json's
// dca_line_pct/dca_line_source display fields (§6). Mirrors the hard/neural
// predicate in EvaluateDCA.
func NextDCALine(levels []decimal.Decimal, stage, longLevel int, buyPnl float64) (pct float64, source string) {
	pct, _ = dcaLevelPct(levels, stage).Float64()
	source = "hard_level"
	if stage < 4 && longLevel >= stage+4 && buyPnl < 0 {
		source = "neural_assisted"
	}
	return pct, source
}

// DCADecision is the outcome of one EvaluateDCA call.
type DCADecision struct {
	Trigger bool
	Amount  decimal.Decimal
	Reason  string
}

// EvaluateDCA decides whether to fire a DCA buy for a held asset this tick.
// stage is the number of DCA buys already triggered for the current trade
// (from RecomputeStages, persisted across ticks by the caller); buyPnl is
// (ask-avgCost)/avgCost; longLevel is the neural long signal (0-7).
func EvaluateDCA(
	levels []decimal.Decimal, maxPer24h int,
	stage int, buyPnl float64, longLevel int,
	marketValue, buyingPower decimal.Decimal,
	window *DCAWindow, symbol string, now float64,
) DCADecision {
	hardLevelPct, _ := dcaLevelPct(levels, stage).Float64()
	hardHit := buyPnl*100.0 <= hardLevelPct

	neuralHit := false
	if stage < 4 {
		neuralHit = longLevel >= stage+4 && buyPnl < 0
	}

	if !hardHit && !neuralHit {
		return DCADecision{Reason: "no_trigger"}
	}

	if window.Count(symbol, now) >= maxPer24h {
		return DCADecision{Reason: "window_exhausted"}
	}

	amount := marketValue.Mul(decimal.NewFromInt(2))
	if amount.GreaterThan(buyingPower) {
		return DCADecision{Reason: "insufficient_buying_power"}
	}

	reason := "hard_level"
	if neuralHit && !hardHit {
		reason = "neural_assisted"
	} else if neuralHit && hardHit {
		reason = "hard_level_and_neural"
	}
	return DCADecision{Trigger: true, Amount: amount, Reason: reason}
}
