// FILE: orchestrator.go
// Package main – control loop orchestrator (§4.10).
//
// Grounded on _examples/original_source/pt_trader.py's manage_trades(): a
// single-threaded cooperative tick loop (§5) that, each cycle, reloads
// hot-reloadable config, fetches account/holdings/prices, evaluates exits
// (Pine stop, TPM, DCA) on held assets, evaluates entries on tracked but
// unheld assets, and persists a snapshot to the hub. A snapshot-incomplete
// tick (any held asset missing a price) falls back to the previous
// complete tick's account-value snapshot as a whole, not per-asset.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Orchestrator wires every component together and drives the tick loop.
type Orchestrator struct {
	cfg    *Config
	broker Broker
	hub    *Hub
	pine   *PineFeed
	window *DCAWindow
	log    zerolog.Logger

	tpmState map[string]*TPMState
	dcaStage map[string]int

	realizedProfit decimal.Decimal

	lastGoodSnapshot accountSnapshot
	haveLastGood     bool
}

type accountSnapshot struct {
	account  *Account
	holdings []Holding
	ask, bid map[string]decimal.Decimal
}

func NewOrchestrator(cfg *Config, broker Broker, hub *Hub, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		broker:   broker,
		hub:      hub,
		pine:     NewPineFeed(),
		window:   NewDCAWindow(cfg.DCAWindowSeconds),
		log:      log.With().Str("component", "orchestrator").Logger(),
		tpmState: map[string]*TPMState{},
		dcaStage: map[string]int{},
	}
}

// Bootstrap seeds the DCA window from trade history, the running realized
// profit from the pnl ledger, and per-asset stage counters from order
// history, run once at startup before the tick loop begins.
func (o *Orchestrator) Bootstrap(ctx context.Context) {
	records, err := o.hub.LoadTradeHistory()
	if err != nil {
		o.log.Warn().Err(err).Msg("load trade history failed")
	}
	now := float64(time.Now().Unix())
	o.window.SeedFromHistory(records, now)

	if ledger, err := o.hub.LoadPnlLedger(); err != nil {
		o.log.Warn().Err(err).Msg("load pnl ledger failed")
	} else {
		o.realizedProfit = decimal.NewFromFloat(ledger.TotalRealizedProfitUSD)
	}

	account, err := o.broker.GetAccount(ctx)
	if err != nil || account == nil {
		return
	}
	holdings, err := o.broker.GetHoldings(ctx)
	if err != nil || holdings == nil {
		return
	}
	for _, h := range holdings {
		orders, err := o.broker.GetOrders(ctx, h.Asset+"-"+account.QuoteCurrency)
		if err != nil || orders == nil {
			continue
		}
		o.dcaStage[h.Asset] = RecomputeStages(orders)
	}
}

// Run drives the tick loop until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs exactly one control-loop cycle.
func (o *Orchestrator) Tick(ctx context.Context) {
	defer IncTick()
	o.cfg.ReloadGUISettings()
	if o.cfg.PineSignalEnabled {
		o.pine.ReadAll(o.cfg.PineSignalFile)
	}

	account, err := o.broker.GetAccount(ctx)
	if err != nil || account == nil {
		o.log.Warn().Msg("get_account failed; skipping tick")
		return
	}
	holdings, err := o.broker.GetHoldings(ctx)
	if err != nil {
		holdings = nil
	}

	held := map[string]Holding{}
	for _, h := range holdings {
		held[h.Asset] = h
	}

	symbols := make([]string, 0, len(held)+len(o.cfg.Coins))
	seen := map[string]bool{}
	for asset := range held {
		sym := asset + "-" + account.QuoteCurrency
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	for _, coin := range o.cfg.Coins {
		sym := coin + "-" + account.QuoteCurrency
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}

	ask, bid, valid := o.broker.GetPrice(ctx, symbols)
	validSet := map[string]bool{}
	for _, s := range valid {
		validSet[s] = true
	}

	snapshotComplete := true
	for asset := range held {
		sym := asset + "-" + account.QuoteCurrency
		if !validSet[sym] {
			snapshotComplete = false
			break
		}
	}

	var snap accountSnapshot
	if snapshotComplete {
		snap = accountSnapshot{account: account, holdings: holdings, ask: ask, bid: bid}
		o.lastGoodSnapshot = snap
		o.haveLastGood = true
	} else if o.haveLastGood {
		snap = o.lastGoodSnapshot
		IncSnapshotFallback()
		o.log.Warn().Msg("incomplete price snapshot; falling back to last-good account snapshot")
	} else {
		o.log.Warn().Msg("incomplete price snapshot and no last-good snapshot available; skipping tick")
		return
	}

	now := float64(time.Now().Unix())
	tradesFired := false
	positions := make(map[string]PositionStatus, len(snap.holdings))

	// total_account_value = buying_power + Σ holdings·ask (§4.10 step 6);
	// holdings_sell_value additionally reports the Σ holdings·bid a reader
	// would realize by liquidating now (§6).
	accountValue := snap.account.BuyingPower
	holdingsBuyValue := decimal.Zero
	holdingsSellValue := decimal.Zero
	for _, h := range snap.holdings {
		sym := h.Asset + "-" + account.QuoteCurrency
		if a, ok := snap.ask[sym]; ok {
			accountValue = accountValue.Add(h.Quantity.Mul(a))
			holdingsBuyValue = holdingsBuyValue.Add(h.Quantity.Mul(a))
		}
		if b, ok := snap.bid[sym]; ok {
			holdingsSellValue = holdingsSellValue.Add(h.Quantity.Mul(b))
		}
	}
	percentInTrade := 0.0
	if accountValue.GreaterThan(decimal.Zero) {
		percentInTrade, _ = holdingsSellValue.Div(accountValue).Mul(decimal.NewFromInt(100)).Float64()
	}
	pmNoDCA, _ := o.cfg.PmStartPctNoDCA.Float64()
	pmWithDCA, _ := o.cfg.PmStartPctWithDCA.Float64()
	trailGap, _ := o.cfg.TrailingGapPct.Float64()

	for _, h := range snap.holdings {
		sym := h.Asset + "-" + account.QuoteCurrency
		a, hasAsk := snap.ask[sym]
		b, hasBid := snap.bid[sym]
		if !hasAsk || !hasBid {
			continue
		}

		orders, _ := o.broker.GetOrders(ctx, sym)
		buys, _ := ordersToFills(orders)
		avgCost := CalculateCostBasis(h.Quantity, buys)
		if avgCost.LessThanOrEqual(decimal.Zero) {
			continue
		}

		buyPnl, _ := a.Sub(avgCost).Div(avgCost).Float64()
		sellPnl, _ := b.Sub(avgCost).Div(avgCost).Float64()
		stage := o.dcaStage[h.Asset]

		longLevel := 0
		if sig, ok := ReadAssetSignal(o.cfg.NeuralDir, h.Asset); ok {
			longLevel = sig.LongLevel
		}

		fired := o.evaluateExitsAndEntriesForHeld(ctx, sym, h, a, b, avgCost, buyPnl, stage, longLevel, account, now)
		tradesFired = tradesFired || fired

		st := o.tpmState[sym]
		phase := "DISARMED"
		trailActive := false
		trailLine, trailPeak := decimal.Zero, decimal.Zero
		distToTrailPct := 0.0
		if st != nil {
			switch st.Phase {
			case TPMArmed:
				phase = "ARMED"
				trailActive = true
			case TPMTriggered:
				phase = "TRIGGERED"
			}
			trailLine, trailPeak = st.Line, st.Peak
			if trailLine.GreaterThan(decimal.Zero) {
				distToTrailPct, _ = b.Sub(trailLine).Div(trailLine).Mul(decimal.NewFromInt(100)).Float64()
			}
		}

		dcaLinePct, dcaLineSource := NextDCALine(o.cfg.DCALevels, stage, longLevel, buyPnl)
		dcaLinePrice := avgCost.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(dcaLinePct).Div(decimal.NewFromInt(100))))

		positions[h.Asset] = PositionStatus{
			Quantity: h.Quantity.String(), AvgCostBasis: avgCost.String(),
			CurrentBuyPrice: a.String(), CurrentSellPrice: b.String(),
			GainLossPctBuy: buyPnl * 100, GainLossPctSell: sellPnl * 100,
			ValueUSD: h.Quantity.Mul(b).String(),

			DCATriggeredStages: stage,
			NextDCADisplay:     fmt.Sprintf("%.2f%% drawdown (stage %d, %s)", dcaLinePct, stage+1, dcaLineSource),
			DCALinePrice:       dcaLinePrice.String(),
			DCALineSource:      dcaLineSource,
			DCALinePct:         dcaLinePct,

			TrailActive:    trailActive,
			TrailLine:      trailLine.String(),
			TrailPeak:      trailPeak.String(),
			DistToTrailPct: distToTrailPct,
		}
		SetDCAStage(sym, stage)
		if st != nil {
			SetTPMPhase(sym, st.Phase)
		}
		_ = o.hub.WriteCurrentPrice(sym, b)
	}

	for _, coin := range o.cfg.Coins {
		if _, isHeld := held[coin]; isHeld {
			continue
		}
		sym := coin + "-" + account.QuoteCurrency
		a, hasAsk := snap.ask[sym]
		if !hasAsk {
			continue
		}
		fired := o.evaluateEntry(ctx, coin, sym, a, account, now, accountValue)
		tradesFired = tradesFired || fired
		_ = o.hub.WriteCurrentPrice(sym, a)
	}

	accountValueF, _ := accountValue.Float64()
	SetAccountValue(accountValueF)
	_ = o.hub.WriteTraderStatus(TraderStatus{
		Timestamp: now,
		Account: AccountStatus{
			TotalAccountValue: accountValue.String(),
			BuyingPower:       snap.account.BuyingPower.String(),
			HoldingsSellValue: holdingsSellValue.String(),
			HoldingsBuyValue:  holdingsBuyValue.String(),
			PercentInTrade:    percentInTrade,
			PmStartPctNoDCA:   pmNoDCA,
			PmStartPctWithDCA: pmWithDCA,
			TrailingGapPct:    trailGap,
		},
		Positions: positions,
	})
	_ = o.hub.AppendAccountValue(AccountValueSample{Timestamp: now, AccountValue: accountValue.String()})

	if tradesFired {
		time.Sleep(2 * time.Second)
	}
}

// evaluateExitsAndEntriesForHeld runs the Pine-exit, TPM, and DCA checks
// for one held asset, firing at most one order per tick per asset.
// longLevel is the neural long signal for h.Asset, read once by the caller
// so it can also be reused for the trader_status.json DCA-line display.
func (o *Orchestrator) evaluateExitsAndEntriesForHeld(
	ctx context.Context, sym string, h Holding, ask, bid, avgCost decimal.Decimal,
	buyPnl float64, stage, longLevel int, account *Account, now float64,
) bool {
	if ExitSignal(o.cfg, o.pine, sym, now) {
		o.sell(ctx, sym, h.Available, "PINE", avgCost, buyPnl*100)
		return true
	}

	st := o.tpmState[sym]
	if st == nil {
		st = &TPMState{}
		o.tpmState[sym] = st
	}
	if EvaluateTPM(st, bid, avgCost, stage, o.cfg.PmStartPctNoDCA, o.cfg.PmStartPctWithDCA, o.cfg.TrailingGapPct) {
		o.sell(ctx, sym, h.Available, "TPM", avgCost, buyPnl*100)
		return true
	}

	marketValue := h.Quantity.Mul(bid)
	decision := EvaluateDCA(o.cfg.DCALevels, o.cfg.MaxDCABuysPer24h, stage, buyPnl, longLevel, marketValue, account.BuyingPower, o.window, sym, now)
	if decision.Trigger {
		o.buy(ctx, sym, decision.Amount, "DCA", avgCost, buyPnl*100)
		o.dcaStage[assetFromSymbol(sym)] = stage + 1
		o.window.NoteBuy(sym, now)
		st.Reset()
		return true
	}
	return false
}

// evaluateEntry runs the signal+strategy gate for an unheld tracked asset
// and, if it passes, places the sized entry buy. totalAccountValue is the
// current tick's buying_power + Σ holdings·ask, computed once by Tick.
func (o *Orchestrator) evaluateEntry(ctx context.Context, coin, sym string, ask decimal.Decimal, account *Account, now float64, totalAccountValue decimal.Decimal) bool {
	sig, ok := ReadAssetSignal(o.cfg.NeuralDir, coin)
	if !ok {
		return false
	}
	candles, _ := o.broker.GetCandles(ctx, sym, "1h", 200)
	goCandles := toStrategyCandles(candles)

	strategyOK, _ := EvaluateEntry(sig.LongLevel, sig.ShortLevel, goCandles, o.cfg.Strategy)
	entryOK := GateEntry(o.cfg, o.pine, sym, now, strategyOK)
	if !entryOK {
		return false
	}

	nCoins := len(o.cfg.Coins)
	if nCoins == 0 {
		nCoins = 1
	}
	accountValueF, _ := totalAccountValue.Float64()
	allocation := o.cfg.EntryAllocationFactor * accountValueF / float64(nCoins)
	allocDec := decimal.NewFromFloat(allocation)
	if allocDec.LessThan(o.cfg.EntryAllocationFloor) {
		allocDec = o.cfg.EntryAllocationFloor
	}
	if allocDec.GreaterThan(account.BuyingPower) {
		return false
	}

	o.buy(ctx, sym, allocDec, "ENTRY", decimal.Zero, 0)
	return true
}

func toStrategyCandles(candles []Candle) []Candle {
	return candles
}

func assetFromSymbol(sym string) string {
	for i, r := range sym {
		if r == '-' {
			return sym[:i]
		}
	}
	return sym
}

// buy places a market buy and logs it to trade_history.jsonl. avgCostBefore
// and pnlPct are the cost basis and gain/loss at the moment of the decision
// (zero for a fresh entry, where neither yet applies) — carried through to
// the ledger entry per §3's trade ledger entry schema.
func (o *Orchestrator) buy(ctx context.Context, sym string, amount decimal.Decimal, tag string, avgCostBefore decimal.Decimal, pnlPct float64) {
	order, err := o.broker.PlaceBuy(ctx, uuid.NewString(), OrderMarket, sym, amount)
	if err != nil || order == nil {
		o.log.Warn().Str("symbol", sym).Str("tag", tag).Msg("buy failed")
		return
	}
	IncOrder(string(SideBuy), tag)
	for _, ex := range order.Executions {
		_ = o.hub.AppendTrade(TradeHistoryEntry{
			Ts: order.CreatedAt, Side: string(SideBuy), Tag: tag, Symbol: sym,
			Qty: ex.Quantity.String(), Price: ex.EffectivePrice.String(),
			AvgCostBasis: avgCostBefore.String(), PnlPct: pnlPct,
			RealizedProfit: "0", OrderID: order.ID,
		})
	}
}

// sell places a market sell, logs it, and — since price and cost basis are
// both known — realizes the P&L into the running total and persists
// pnl_ledger.json (§3: "updated atomically... on every sell whose price and
// cost basis are both known").
func (o *Orchestrator) sell(ctx context.Context, sym string, qty decimal.Decimal, tag string, avgCost decimal.Decimal, pnlPct float64) {
	order, err := o.broker.PlaceSell(ctx, uuid.NewString(), OrderMarket, sym, qty)
	if err != nil || order == nil {
		o.log.Warn().Str("symbol", sym).Str("tag", tag).Msg("sell failed")
		return
	}
	IncOrder(string(SideSell), tag)
	for _, ex := range order.Executions {
		realized := ex.Quantity.Mul(ex.EffectivePrice.Sub(avgCost))
		o.realizedProfit = o.realizedProfit.Add(realized)
		_ = o.hub.AppendTrade(TradeHistoryEntry{
			Ts: order.CreatedAt, Side: string(SideSell), Tag: tag, Symbol: sym,
			Qty: ex.Quantity.String(), Price: ex.EffectivePrice.String(),
			AvgCostBasis: avgCost.String(), PnlPct: pnlPct,
			RealizedProfit: realized.String(), OrderID: order.ID,
		})
	}
	realizedF, _ := o.realizedProfit.Float64()
	_ = o.hub.WritePnlLedger(PnlLedger{TotalRealizedProfitUSD: realizedF, LastUpdatedTs: order.CreatedAt})

	o.window.ResetForNewTrade(sym, order.CreatedAt)
	if st := o.tpmState[sym]; st != nil {
		st.Reset()
	}
	o.dcaStage[assetFromSymbol(sym)] = 0
}
