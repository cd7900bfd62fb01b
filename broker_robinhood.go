// FILE: broker_robinhood.go
// Package main — Ed25519-signed REST broker (Robinhood Crypto API shape).
//
// Grounded on _examples/original_source/brokers/robinhood.py: every request
// is signed over `api_key || timestamp_seconds || path || method || body`
// with an Ed25519 key seed decoded from base64, and attached as
// x-api-key / x-signature / x-timestamp headers. Buys carry a bounded
// precision-repair retry loop driven by the venue's own error text.
//
// Required env:
//
//	ROBINHOOD_API_KEY=<key>
//	ROBINHOOD_PRIVATE_KEY_B64=<base64 ed25519 seed>
//
// Optional:
//
//	ROBINHOOD_API_BASE=https://trading.robinhood.com
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type bidAsk struct {
	ask decimal.Decimal
	bid decimal.Decimal
}

// RobinhoodBroker is the Ed25519-signed direct-REST driver.
type RobinhoodBroker struct {
	apiKey     string
	privateKey ed25519.PrivateKey
	baseURL    string
	hc         *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	lastGoodBBO map[string]bidAsk // single-writer, owned by this driver instance
}

// NewRobinhoodBroker builds a driver from ROBINHOOD_* env vars. It exits the
// process via the caller's fatal-config path if credentials are missing —
// callers should check apiKey/privateKey before use in tests.
func NewRobinhoodBroker(cfg *Config, log zerolog.Logger) (*RobinhoodBroker, error) {
	apiKey := getEnv("ROBINHOOD_API_KEY", "")
	seedB64 := getEnv("ROBINHOOD_PRIVATE_KEY_B64", "")
	if apiKey == "" || seedB64 == "" {
		return nil, &BrokerError{Kind: ErrFatalConfig, Op: "NewRobinhoodBroker", Err: fmt.Errorf("ROBINHOOD_API_KEY/ROBINHOOD_PRIVATE_KEY_B64 required")}
	}
	seed, err := base64.StdEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, &BrokerError{Kind: ErrFatalConfig, Op: "NewRobinhoodBroker", Err: err}
	}
	var priv ed25519.PrivateKey
	switch len(seed) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(seed)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(seed)
	default:
		return nil, &BrokerError{Kind: ErrFatalConfig, Op: "NewRobinhoodBroker", Err: fmt.Errorf("invalid ed25519 key length %d", len(seed))}
	}
	base := getEnv("ROBINHOOD_API_BASE", "https://trading.robinhood.com")
	return &RobinhoodBroker{
		apiKey:      apiKey,
		privateKey:  priv,
		baseURL:     strings.TrimRight(base, "/"),
		hc:          &http.Client{Timeout: 10 * time.Second},
		log:         log.With().Str("broker", "robinhood").Logger(),
		lastGoodBBO: map[string]bidAsk{},
	}, nil
}

func (rb *RobinhoodBroker) Name() string { return "robinhood" }

// authHeaders builds the signed headers for one request per §4.2.
func (rb *RobinhoodBroker) authHeaders(path, method, body string) (http.Header, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := rb.apiKey + ts + path + method + body
	sig := ed25519.Sign(rb.privateKey, []byte(msg))
	h := http.Header{}
	h.Set("x-api-key", rb.apiKey)
	h.Set("x-signature", base64.StdEncoding.EncodeToString(sig))
	h.Set("x-timestamp", ts)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (rb *RobinhoodBroker) request(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var bodyStr string
	if len(body) > 0 {
		bodyStr = string(body)
	}
	h, err := rb.authHeaders(path, method, bodyStr)
	if err != nil {
		return nil, 0, err
	}
	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(bodyStr)
	}
	req, err := http.NewRequestWithContext(ctx, method, rb.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header = h
	res, err := rb.hc.Do(req)
	if err != nil {
		return nil, 0, &BrokerError{Kind: ErrTransient, Op: path, Err: err}
	}
	defer res.Body.Close()
	bs, _ := io.ReadAll(res.Body)
	return bs, res.StatusCode, nil
}

func (rb *RobinhoodBroker) GetAccount(ctx context.Context) (*Account, error) {
	bs, status, err := rb.request(ctx, http.MethodGet, "/api/v1/crypto/trading/accounts/", nil)
	if err != nil || status/100 != 2 {
		rb.log.Warn().Err(err).Int("status", status).Msg("get_account failed")
		return nil, nil
	}
	var out struct {
		BuyingPower string `json:"buying_power"`
		Currency    string `json:"buying_power_currency"`
	}
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil, nil
	}
	bp, _ := decimal.NewFromString(out.BuyingPower)
	return &Account{BuyingPower: bp, QuoteCurrency: out.Currency}, nil
}

func (rb *RobinhoodBroker) GetHoldings(ctx context.Context) ([]Holding, error) {
	bs, status, err := rb.request(ctx, http.MethodGet, "/api/v1/crypto/trading/holdings/", nil)
	if err != nil || status/100 != 2 {
		rb.log.Warn().Err(err).Int("status", status).Msg("get_holdings failed")
		return nil, nil
	}
	var out struct {
		Results []struct {
			AssetCode string `json:"asset_code"`
			Total     string `json:"total_quantity"`
			Available string `json:"available_quantity"`
		} `json:"results"`
	}
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil, nil
	}
	holdings := make([]Holding, 0, len(out.Results))
	for _, r := range out.Results {
		qty, _ := decimal.NewFromString(r.Total)
		avail, _ := decimal.NewFromString(r.Available)
		if qty.LessThanOrEqual(QtyEpsilon) {
			continue
		}
		holdings = append(holdings, Holding{Asset: r.AssetCode, Quantity: qty, Available: avail})
	}
	return holdings, nil
}

func (rb *RobinhoodBroker) GetTradingPairs(ctx context.Context) ([]TradingPair, error) {
	bs, status, err := rb.request(ctx, http.MethodGet, "/api/v1/crypto/trading/trading_pairs/", nil)
	if err != nil || status/100 != 2 {
		return nil, nil
	}
	var out struct {
		Results []struct {
			Symbol string `json:"symbol"`
			Asset  string `json:"asset_code"`
			Quote  string `json:"quote_code"`
		} `json:"results"`
	}
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil, nil
	}
	pairs := make([]TradingPair, 0, len(out.Results))
	for _, r := range out.Results {
		pairs = append(pairs, TradingPair{Symbol: r.Symbol, BaseAsset: r.Asset, QuoteAsset: r.Quote})
	}
	return pairs, nil
}

func (rb *RobinhoodBroker) GetOrders(ctx context.Context, symbol string) ([]Order, error) {
	path := "/api/v1/crypto/trading/orders/?symbol=" + symbol
	bs, status, err := rb.request(ctx, http.MethodGet, path, nil)
	if err != nil || status/100 != 2 {
		return nil, nil
	}
	var out struct {
		Results []struct {
			ID        string `json:"id"`
			Side      string `json:"side"`
			State     string `json:"state"`
			CreatedAt string `json:"created_at"`
			Execs     []struct {
				Quantity string `json:"quantity"`
				Price    string `json:"effective_price"`
			} `json:"executions"`
		} `json:"results"`
	}
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil, nil
	}
	orders := make([]Order, 0, len(out.Results))
	for _, r := range out.Results {
		ts, _ := time.Parse(time.RFC3339, r.CreatedAt)
		execs := make([]Execution, 0, len(r.Execs))
		for _, e := range r.Execs {
			q, _ := decimal.NewFromString(e.Quantity)
			p, _ := decimal.NewFromString(e.Price)
			execs = append(execs, Execution{Quantity: q, EffectivePrice: p})
		}
		orders = append(orders, Order{
			ID:         r.ID,
			Side:       OrderSide(strings.ToLower(r.Side)),
			State:      OrderState(strings.ToLower(r.State)),
			CreatedAt:  float64(ts.Unix()),
			Executions: execs,
		})
	}
	return orders, nil
}

// GetPrice fetches best bid/ask per symbol, falling back to the last-good
// cache on a failed lookup (§4.1 "last-good cache" invariant). Per the
// original source, "USDC-USD" is skipped — it is not a tradable pair.
func (rb *RobinhoodBroker) GetPrice(ctx context.Context, symbols []string) (map[string]decimal.Decimal, map[string]decimal.Decimal, []string) {
	ask := map[string]decimal.Decimal{}
	bid := map[string]decimal.Decimal{}
	valid := make([]string, 0, len(symbols))

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, sym := range symbols {
		if sym == "USDC-USD" {
			continue
		}
		a, b, ok := rb.fetchOne(ctx, sym)
		if !ok {
			if cached, found := rb.lastGoodBBO[sym]; found && cached.ask.IsPositive() && cached.bid.IsPositive() {
				a, b, ok = cached.ask, cached.bid, true
			}
		} else {
			rb.lastGoodBBO[sym] = bidAsk{ask: a, bid: b}
		}
		if ok {
			ask[sym] = a
			bid[sym] = b
			valid = append(valid, sym)
		}
	}
	return ask, bid, valid
}

func (rb *RobinhoodBroker) fetchOne(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, bool) {
	path := "/api/v1/crypto/marketdata/best_bid_ask/?symbol=" + symbol
	bs, status, err := rb.request(ctx, http.MethodGet, path, nil)
	if err != nil || status/100 != 2 {
		return decimal.Zero, decimal.Zero, false
	}
	var out struct {
		Results []struct {
			AskInclusiveOfFees string `json:"ask_inclusive_of_sell_spread"`
			BidInclusiveOfFees string `json:"bid_inclusive_of_buy_spread"`
		} `json:"results"`
	}
	if err := json.Unmarshal(bs, &out); err != nil || len(out.Results) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	a, errA := decimal.NewFromString(out.Results[0].AskInclusiveOfFees)
	b, errB := decimal.NewFromString(out.Results[0].BidInclusiveOfFees)
	if errA != nil || errB != nil || !a.IsPositive() || !b.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	return a, b, true
}

// GetCandles fetches recent OHLCV bars from the historicals endpoint.
func (rb *RobinhoodBroker) GetCandles(ctx context.Context, symbol string, granularity string, limit int) ([]Candle, error) {
	path := fmt.Sprintf("/api/v1/crypto/marketdata/historicals/?symbol=%s&interval=%s&limit=%d", symbol, granularity, limit)
	bs, status, err := rb.request(ctx, http.MethodGet, path, nil)
	if err != nil || status/100 != 2 {
		rb.log.Warn().Err(err).Int("status", status).Msg("get_candles failed")
		return nil, nil
	}
	var out struct {
		Results []struct {
			BeginsAt string `json:"begins_at"`
			Open     string `json:"open_price"`
			High     string `json:"high_price"`
			Low      string `json:"low_price"`
			Close    string `json:"close_price"`
			Volume   string `json:"volume"`
		} `json:"results"`
	}
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil, nil
	}
	candles := make([]Candle, 0, len(out.Results))
	for _, r := range out.Results {
		t, _ := time.Parse(time.RFC3339, r.BeginsAt)
		o, _ := strconv.ParseFloat(r.Open, 64)
		h, _ := strconv.ParseFloat(r.High, 64)
		l, _ := strconv.ParseFloat(r.Low, 64)
		c, _ := strconv.ParseFloat(r.Close, 64)
		v, _ := strconv.ParseFloat(r.Volume, 64)
		candles = append(candles, Candle{Time: t, Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	return candles, nil
}

// precisionFromErr extracts the decimal-place count from a
// "has too much precision; nearest <value>" venue error message.
func precisionFromErr(msg string) (int, bool) {
	const marker = "nearest"
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(msg[idx+len(marker):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	tok := strings.TrimRight(fields[0], ".,")
	if dot := strings.IndexByte(tok, '.'); dot >= 0 {
		return len(tok) - dot - 1, true
	}
	return 0, true
}

// PlaceBuy places a market/limit buy, retrying up to 5 times on a
// too-much-precision error by re-rounding the submitted quantity; a
// "must be greater than or equal to" error aborts immediately (§4.2).
func (rb *RobinhoodBroker) PlaceBuy(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, quoteAmount decimal.Decimal) (*Order, error) {
	ask, _, valid := rb.GetPrice(ctx, []string{symbol})
	if len(valid) == 0 {
		return nil, nil
	}
	price := ask[symbol]
	if !price.IsPositive() {
		return nil, nil
	}
	qty := quoteAmount.Div(price)

	for attempt := 0; attempt < 5; attempt++ {
		body := map[string]interface{}{
			"client_order_id": clientOrderID,
			"side":            "buy",
			"type":            string(orderType),
			"symbol":          symbol,
			"market_order_config": map[string]string{
				"asset_quantity": qty.String(),
			},
		}
		bs, _ := json.Marshal(body)
		res, status, err := rb.request(ctx, http.MethodPost, "/api/v1/crypto/trading/orders/", bs)
		if err != nil {
			return nil, nil
		}
		if status/100 == 2 {
			return rb.parsePlacedOrder(res)
		}
		msg := string(res)
		if strings.Contains(msg, "must be greater than or equal to") {
			rb.log.Warn().Str("symbol", symbol).Msg("buy rejected below minimum; aborting")
			return nil, nil
		}
		if strings.Contains(msg, "has too much precision") {
			if digits, ok := precisionFromErr(msg); ok {
				qty = qty.Round(int32(digits))
				continue
			}
		}
		rb.log.Warn().Int("status", status).Str("body", msg).Msg("buy order failed")
		return nil, nil
	}
	return nil, nil
}

func (rb *RobinhoodBroker) PlaceSell(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, baseQuantity decimal.Decimal) (*Order, error) {
	body := map[string]interface{}{
		"client_order_id": clientOrderID,
		"side":            "sell",
		"type":            string(orderType),
		"symbol":          symbol,
		"market_order_config": map[string]string{
			"asset_quantity": baseQuantity.String(),
		},
	}
	bs, _ := json.Marshal(body)
	res, status, err := rb.request(ctx, http.MethodPost, "/api/v1/crypto/trading/orders/", bs)
	if err != nil || status/100 != 2 {
		rb.log.Warn().Int("status", status).Msg("sell order failed")
		return nil, nil
	}
	return rb.parsePlacedOrder(res)
}

func (rb *RobinhoodBroker) parsePlacedOrder(bs []byte) (*Order, error) {
	var out struct {
		ID    string `json:"id"`
		Side  string `json:"side"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(bs, &out); err != nil {
		return nil, nil
	}
	return &Order{
		ID:        out.ID,
		Side:      OrderSide(strings.ToLower(out.Side)),
		State:     OrderState(strings.ToLower(out.State)),
		CreatedAt: float64(time.Now().Unix()),
	}, nil
}
