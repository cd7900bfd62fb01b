// FILE: hub.go
// Package main – hub persistence: the files the control loop's dashboard
// and any companion tooling read (§3/§6).
//
// Grounded on _examples/original_source/brokers/paper.py's atomic
// write-temp+rename idiom and pt_trader.py's hub-status/trade-history
// writers. JSON documents (trader_status.json, pnl_ledger.json) are
// replaced atomically via a temp file + os.Rename; JSONL logs
// (trade_history.jsonl, account_value_history.jsonl) are appended with a
// flush after every line so a crash never loses a partially-written entry.
package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
)

// Hub owns the on-disk files written by the control loop each tick.
type Hub struct {
	dir string
}

func NewHub(dir string) *Hub {
	return &Hub{dir: dir}
}

func (h *Hub) path(name string) string { return filepath.Join(h.dir, name) }

// writeAtomicJSON marshals v and replaces name's contents via a temp file
// + rename so readers never observe a partially-written document.
func (h *Hub) writeAtomicJSON(name string, v interface{}) error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return err
	}
	bs, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	target := h.path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, bs, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (h *Hub) appendJSONLine(name string, v interface{}) error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return err
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(h.path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := w.Write(bs); err != nil {
		return err
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

// AccountStatus is the account-level section of trader_status.json (§6).
type AccountStatus struct {
	TotalAccountValue string  `json:"total_account_value"`
	BuyingPower       string  `json:"buying_power"`
	HoldingsSellValue string  `json:"holdings_sell_value"`
	HoldingsBuyValue  string  `json:"holdings_buy_value"`
	PercentInTrade    float64 `json:"percent_in_trade"`
	PmStartPctNoDCA   float64 `json:"pm_start_pct_no_dca"`
	PmStartPctWithDCA float64 `json:"pm_start_pct_with_dca"`
	TrailingGapPct    float64 `json:"trailing_gap_pct"`
}

// PositionStatus is one held asset's entry in trader_status.json's
// positions map, keyed by asset (§6).
type PositionStatus struct {
	Quantity         string  `json:"quantity"`
	AvgCostBasis     string  `json:"avg_cost_basis"`
	CurrentBuyPrice  string  `json:"current_buy_price"`
	CurrentSellPrice string  `json:"current_sell_price"`
	GainLossPctBuy   float64 `json:"gain_loss_pct_buy"`
	GainLossPctSell  float64 `json:"gain_loss_pct_sell"`
	ValueUSD         string  `json:"value_usd"`

	DCATriggeredStages int     `json:"dca_triggered_stages"`
	NextDCADisplay     string  `json:"next_dca_display"`
	DCALinePrice       string  `json:"dca_line_price"`
	DCALineSource      string  `json:"dca_line_source"`
	DCALinePct         float64 `json:"dca_line_pct"`

	TrailActive    bool    `json:"trail_active"`
	TrailLine      string  `json:"trail_line"`
	TrailPeak      string  `json:"trail_peak"`
	DistToTrailPct float64 `json:"dist_to_trail_pct"`
}

// TraderStatus is the full snapshot written to trader_status.json each
// tick — the dashboard's primary read surface (§6, §8).
type TraderStatus struct {
	Timestamp float64                   `json:"timestamp"`
	Account   AccountStatus             `json:"account"`
	Positions map[string]PositionStatus `json:"positions"`
}

func (h *Hub) WriteTraderStatus(s TraderStatus) error {
	return h.writeAtomicJSON("trader_status.json", s)
}

// TradeHistoryEntry is one fill logged to trade_history.jsonl (§3).
type TradeHistoryEntry struct {
	Ts             float64 `json:"ts"`
	Side           string  `json:"side"`
	Tag            string  `json:"tag"` // "ENTRY" | "DCA" | "TPM" | "PINE"
	Symbol         string  `json:"symbol"`
	Qty            string  `json:"qty"`
	Price          string  `json:"price"`
	AvgCostBasis   string  `json:"avg_cost_basis"`
	PnlPct         float64 `json:"pnl_pct"`
	RealizedProfit string  `json:"realized_profit"`
	OrderID        string  `json:"order_id"`
}

func (h *Hub) AppendTrade(e TradeHistoryEntry) error {
	return h.appendJSONLine("trade_history.jsonl", e)
}

// LoadTradeHistory reads back trade_history.jsonl for startup bootstrap
// (DCA window seeding, cost-basis recomputation inputs). Missing file
// yields an empty slice, not an error.
func (h *Hub) LoadTradeHistory() ([]TradeRecord, error) {
	bs, err := os.ReadFile(h.path("trade_history.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []TradeRecord
	for _, line := range splitLines(bs) {
		if len(line) == 0 {
			continue
		}
		var e TradeHistoryEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, TradeRecord{
			Symbol:    e.Symbol,
			Side:      OrderSide(e.Side),
			Tag:       e.Tag,
			Timestamp: e.Ts,
		})
	}
	return out, nil
}

func splitLines(bs []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range bs {
		if b == '\n' {
			lines = append(lines, bs[start:i])
			start = i + 1
		}
	}
	if start < len(bs) {
		lines = append(lines, bs[start:])
	}
	return lines
}

// PnlLedger is the cumulative realized P&L ledger (pnl_ledger.json, §3),
// updated atomically on every sell whose price and cost basis are known.
type PnlLedger struct {
	TotalRealizedProfitUSD float64 `json:"total_realized_profit_usd"`
	LastUpdatedTs          float64 `json:"last_updated_ts"`
}

func (h *Hub) WritePnlLedger(l PnlLedger) error {
	return h.writeAtomicJSON("pnl_ledger.json", l)
}

// LoadPnlLedger reads back pnl_ledger.json at startup so the running
// realized-profit total survives a restart. A missing file yields a
// zero-value ledger, not an error.
func (h *Hub) LoadPnlLedger() (PnlLedger, error) {
	bs, err := os.ReadFile(h.path("pnl_ledger.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return PnlLedger{}, nil
		}
		return PnlLedger{}, err
	}
	var l PnlLedger
	if err := json.Unmarshal(bs, &l); err != nil {
		return PnlLedger{}, err
	}
	return l, nil
}

// AccountValueSample is one row of account_value_history.jsonl.
type AccountValueSample struct {
	Timestamp    float64 `json:"timestamp"`
	AccountValue string  `json:"account_value"`
}

func (h *Hub) AppendAccountValue(s AccountValueSample) error {
	return h.appendJSONLine("account_value_history.jsonl", s)
}

// WriteCurrentPrice writes the <symbol>_current_price.txt file a companion
// dashboard polls for a lightweight last-price readout.
func (h *Hub) WriteCurrentPrice(symbol string, price decimal.Decimal) error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return err
	}
	target := h.path(symbol + "_current_price.txt")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(price.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}
