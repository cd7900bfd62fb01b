// FILE: broker_binance.go
// Package main — HMAC-SHA256 signed REST broker (Binance Spot API shape).
//
// Grounded on the teacher's former direct-REST Binance driver (exchangeInfo
// filter cache, quantity rounding to LOT_SIZE and MIN_NOTIONAL; orders are
// market orders, so PRICE_FILTER is cached but no price is rounded) generalized to
// the new Broker interface and §4.3's retry/backoff rules: requests go
// through hashicorp/go-retryablehttp so transient network failures retry
// transparently, while the -1021/-1022 timestamp-skew and 429/418
// rate-limit cases are handled explicitly with a resync or the
// cenkalti/backoff/v4 curve since retryablehttp's generic policy does not
// know Binance's specific semantics for those codes.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type bnSymbolFilters struct {
	baseAsset, quoteAsset string
	stepSize, minQty      decimal.Decimal
	tickSize, minPrice    decimal.Decimal
	minNotional           decimal.Decimal
	fetchedAt             time.Time
}

// BinanceBroker is the HMAC-signed direct-REST driver.
type BinanceBroker struct {
	apiKey, apiSecret string
	baseURL           string
	recvWindowMs      int64
	hc                *retryablehttp.Client
	log               zerolog.Logger

	mu             sync.Mutex
	filters        map[string]*bnSymbolFilters
	serverTimeSkew time.Duration
	lastResync     time.Time
	lastGoodBBO    map[string]bidAsk
}

func NewBinanceBroker(log zerolog.Logger) (*BinanceBroker, error) {
	apiKey := getEnv("BINANCE_API_KEY", "")
	secret := getEnv("BINANCE_API_SECRET", "")
	if apiKey == "" || secret == "" {
		return nil, &BrokerError{Kind: ErrFatalConfig, Op: "NewBinanceBroker", Err: fmt.Errorf("BINANCE_API_KEY/BINANCE_API_SECRET required")}
	}
	rh := retryablehttp.NewClient()
	rh.RetryMax = 4
	rh.Logger = nil
	rh.HTTPClient.Timeout = 10 * time.Second

	return &BinanceBroker{
		apiKey:       apiKey,
		apiSecret:    secret,
		baseURL:      strings.TrimRight(getEnv("BINANCE_API_BASE", "https://api.binance.com"), "/"),
		recvWindowMs: int64(getEnvInt("BINANCE_RECV_WINDOW_MS", 5000)),
		hc:           rh,
		log:          log.With().Str("broker", "binance").Logger(),
		filters:      map[string]*bnSymbolFilters{},
		lastGoodBBO:  map[string]bidAsk{},
	}, nil
}

func (bb *BinanceBroker) Name() string { return "binance" }

func (bb *BinanceBroker) now() time.Time { return time.Now().Add(bb.serverTimeSkew) }

// resyncServerTime is called at most once per 60s, or immediately after a
// -1021/-1022 timestamp error, per §4.3.
func (bb *BinanceBroker) resyncServerTime(ctx context.Context) {
	bb.mu.Lock()
	stale := time.Since(bb.lastResync) < 60*time.Second
	bb.mu.Unlock()
	if stale {
		return
	}
	bs, _, err := bb.rawGet(ctx, "/api/v3/time", nil, false)
	if err != nil {
		return
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if json.Unmarshal(bs, &out) != nil {
		return
	}
	bb.mu.Lock()
	bb.serverTimeSkew = time.UnixMilli(out.ServerTime).Sub(time.Now())
	bb.lastResync = time.Now()
	bb.mu.Unlock()
}

func (bb *BinanceBroker) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(bb.apiSecret))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

func (bb *BinanceBroker) rawGet(ctx context.Context, path string, q url.Values, signed bool) ([]byte, int, error) {
	if q == nil {
		q = url.Values{}
	}
	if signed {
		q.Set("timestamp", strconv.FormatInt(bb.now().UnixMilli(), 10))
		if bb.recvWindowMs > 0 {
			q.Set("recvWindow", strconv.FormatInt(bb.recvWindowMs, 10))
		}
		q.Set("signature", bb.sign(q))
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, bb.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	if bb.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", bb.apiKey)
	}
	res, err := bb.hc.Do(req)
	if err != nil {
		return nil, 0, &BrokerError{Kind: ErrTransient, Op: path, Err: err}
	}
	defer res.Body.Close()
	bs, _ := io.ReadAll(res.Body)
	return bs, res.StatusCode, nil
}

// get wraps rawGet with the -1021/-1022 resync-and-retry rule and a
// 429/418 backoff curve per §4.3.
func (bb *BinanceBroker) get(ctx context.Context, path string, q url.Values, signed bool) ([]byte, error) {
	var bs []byte
	var status int
	var err error

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 500 * time.Millisecond
	boff.MaxInterval = 10 * time.Second
	boff.Multiplier = 2
	boff.RandomizationFactor = 0

	for attempt := 0; attempt < 4; attempt++ {
		bs, status, err = bb.rawGet(ctx, path, cloneValues(q), signed)
		if err != nil {
			return nil, err
		}
		if status/100 == 2 {
			return bs, nil
		}
		if status == 429 || status == 418 {
			delay := boff.NextBackOff()
			jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
			time.Sleep(delay + jitter)
			continue
		}
		if isTimestampError(bs) {
			bb.lastResync = time.Time{}
			bb.resyncServerTime(ctx)
			continue
		}
		return nil, &BrokerError{Kind: ErrValidation, Op: path, Err: fmt.Errorf("status %d: %s", status, string(bs))}
	}
	return nil, &BrokerError{Kind: ErrRateLimit, Op: path, Err: fmt.Errorf("exhausted retries")}
}

func isTimestampError(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "-1021") || strings.Contains(s, "-1022")
}

func cloneValues(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = append([]string{}, v...)
	}
	return out
}

func (bb *BinanceBroker) post(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("timestamp", strconv.FormatInt(bb.now().UnixMilli(), 10))
	if bb.recvWindowMs > 0 {
		q.Set("recvWindow", strconv.FormatInt(bb.recvWindowMs, 10))
	}
	q.Set("signature", bb.sign(q))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, bb.baseURL+path, strings.NewReader(q.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", bb.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := bb.hc.Do(req)
	if err != nil {
		return nil, &BrokerError{Kind: ErrTransient, Op: path, Err: err}
	}
	defer res.Body.Close()
	bs, _ := io.ReadAll(res.Body)
	if res.StatusCode/100 != 2 {
		return nil, &BrokerError{Kind: ErrValidation, Op: path, Err: fmt.Errorf("status %d: %s", res.StatusCode, string(bs))}
	}
	return bs, nil
}

// ensureSymbol returns cached exchange filters, refetching every 15 minutes.
func (bb *BinanceBroker) ensureSymbol(ctx context.Context, symbol string) (*bnSymbolFilters, error) {
	bb.mu.Lock()
	if f, ok := bb.filters[symbol]; ok && time.Since(f.fetchedAt) < 15*time.Minute {
		bb.mu.Unlock()
		return f, nil
	}
	bb.mu.Unlock()

	q := url.Values{}
	q.Set("symbol", symbol)
	bs, err := bb.get(ctx, "/api/v3/exchangeInfo", q, false)
	if err != nil {
		return nil, err
	}
	var ex struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				TickSize    string `json:"tickSize"`
				MinPrice    string `json:"minPrice"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(bs, &ex); err != nil || len(ex.Symbols) == 0 {
		return nil, &BrokerError{Kind: ErrValidation, Op: "exchangeInfo", Err: fmt.Errorf("symbol %s not found", symbol)}
	}
	e := ex.Symbols[0]
	f := &bnSymbolFilters{baseAsset: e.BaseAsset, quoteAsset: e.QuoteAsset, fetchedAt: time.Now()}
	for _, flt := range e.Filters {
		switch flt.FilterType {
		case "LOT_SIZE":
			f.stepSize, _ = decimal.NewFromString(flt.StepSize)
			f.minQty, _ = decimal.NewFromString(flt.MinQty)
		case "PRICE_FILTER":
			f.tickSize, _ = decimal.NewFromString(flt.TickSize)
			f.minPrice, _ = decimal.NewFromString(flt.MinPrice)
		case "MIN_NOTIONAL", "NOTIONAL":
			f.minNotional, _ = decimal.NewFromString(flt.MinNotional)
		}
	}
	bb.mu.Lock()
	bb.filters[symbol] = f
	bb.mu.Unlock()
	return f, nil
}

// roundQty floors qty to stepSize and validates minQty/minNotional.
func roundQty(qty, price decimal.Decimal, f *bnSymbolFilters) (decimal.Decimal, bool) {
	if f.stepSize.IsPositive() {
		qty = qty.Div(f.stepSize).Floor().Mul(f.stepSize)
	}
	if f.minQty.IsPositive() && qty.LessThan(f.minQty) {
		return decimal.Zero, false
	}
	if f.minNotional.IsPositive() && qty.Mul(price).LessThan(f.minNotional) {
		return decimal.Zero, false
	}
	return qty, true
}

func (bb *BinanceBroker) GetAccount(ctx context.Context) (*Account, error) {
	bs, err := bb.get(ctx, "/api/v3/account", url.Values{}, true)
	if err != nil {
		bb.log.Warn().Err(err).Msg("get_account failed")
		return nil, nil
	}
	var a struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if json.Unmarshal(bs, &a) != nil {
		return nil, nil
	}
	quote := getEnv("BINANCE_QUOTE_ASSET", "USDT")
	for _, b := range a.Balances {
		if strings.EqualFold(b.Asset, quote) {
			bp, _ := decimal.NewFromString(b.Free)
			return &Account{BuyingPower: bp, QuoteCurrency: quote}, nil
		}
	}
	return &Account{BuyingPower: decimal.Zero, QuoteCurrency: quote}, nil
}

func (bb *BinanceBroker) GetHoldings(ctx context.Context) ([]Holding, error) {
	bs, err := bb.get(ctx, "/api/v3/account", url.Values{}, true)
	if err != nil {
		bb.log.Warn().Err(err).Msg("get_holdings failed")
		return nil, nil
	}
	var a struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if json.Unmarshal(bs, &a) != nil {
		return nil, nil
	}
	quote := getEnv("BINANCE_QUOTE_ASSET", "USDT")
	holdings := make([]Holding, 0, len(a.Balances))
	for _, b := range a.Balances {
		if strings.EqualFold(b.Asset, quote) {
			continue
		}
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		total := free.Add(locked)
		if total.LessThanOrEqual(QtyEpsilon) {
			continue
		}
		holdings = append(holdings, Holding{Asset: b.Asset, Quantity: total, Available: free})
	}
	return holdings, nil
}

func (bb *BinanceBroker) GetTradingPairs(ctx context.Context) ([]TradingPair, error) {
	bs, err := bb.get(ctx, "/api/v3/exchangeInfo", nil, false)
	if err != nil {
		return nil, nil
	}
	var ex struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Status     string `json:"status"`
		} `json:"symbols"`
	}
	if json.Unmarshal(bs, &ex) != nil {
		return nil, nil
	}
	out := make([]TradingPair, 0, len(ex.Symbols))
	for _, s := range ex.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		out = append(out, TradingPair{Symbol: s.Symbol, BaseAsset: s.BaseAsset, QuoteAsset: s.QuoteAsset})
	}
	return out, nil
}

func (bb *BinanceBroker) GetOrders(ctx context.Context, symbol string) ([]Order, error) {
	q := url.Values{}
	q.Set("symbol", strings.ReplaceAll(symbol, "-", ""))
	q.Set("limit", "200")
	bs, err := bb.get(ctx, "/api/v3/allOrders", q, true)
	if err != nil {
		return nil, nil
	}
	var raw []struct {
		OrderID          int64  `json:"orderId"`
		Side             string `json:"side"`
		Status           string `json:"status"`
		Time             int64  `json:"time"`
		ExecutedQty      string `json:"executedQty"`
		CummulativeQuote string `json:"cummulativeQuoteQty"`
	}
	if json.Unmarshal(bs, &raw) != nil {
		return nil, nil
	}
	out := make([]Order, 0, len(raw))
	for _, r := range raw {
		state := OrderOpen
		switch r.Status {
		case "FILLED":
			state = OrderFilled
		case "CANCELED", "EXPIRED", "REJECTED":
			state = OrderCanceled
		}
		qty, _ := decimal.NewFromString(r.ExecutedQty)
		quote, _ := decimal.NewFromString(r.CummulativeQuote)
		var execs []Execution
		if qty.IsPositive() {
			execs = []Execution{{Quantity: qty, EffectivePrice: quote.Div(qty)}}
		}
		out = append(out, Order{
			ID:         strconv.FormatInt(r.OrderID, 10),
			Side:       OrderSide(strings.ToLower(r.Side)),
			State:      state,
			CreatedAt:  float64(r.Time) / 1000.0,
			Executions: execs,
		})
	}
	return out, nil
}

func (bb *BinanceBroker) GetPrice(ctx context.Context, symbols []string) (map[string]decimal.Decimal, map[string]decimal.Decimal, []string) {
	ask := map[string]decimal.Decimal{}
	bid := map[string]decimal.Decimal{}
	valid := make([]string, 0, len(symbols))

	bb.mu.Lock()
	defer bb.mu.Unlock()

	for _, sym := range symbols {
		bnSym := strings.ReplaceAll(sym, "-", "")
		q := url.Values{}
		q.Set("symbol", bnSym)
		bs, err := bb.get(ctx, "/api/v3/ticker/bookTicker", q, false)
		ok := false
		var a, b decimal.Decimal
		if err == nil {
			var out struct {
				BidPrice string `json:"bidPrice"`
				AskPrice string `json:"askPrice"`
			}
			if json.Unmarshal(bs, &out) == nil {
				a, _ = decimal.NewFromString(out.AskPrice)
				b, _ = decimal.NewFromString(out.BidPrice)
				ok = a.IsPositive() && b.IsPositive()
			}
		}
		if !ok {
			if cached, found := bb.lastGoodBBO[sym]; found {
				a, b, ok = cached.ask, cached.bid, true
			}
		} else {
			bb.lastGoodBBO[sym] = bidAsk{ask: a, bid: b}
		}
		if ok {
			ask[sym] = a
			bid[sym] = b
			valid = append(valid, sym)
		}
	}
	return ask, bid, valid
}

func (bb *BinanceBroker) GetCandles(ctx context.Context, symbol string, granularity string, limit int) ([]Candle, error) {
	bnSym := strings.ReplaceAll(symbol, "-", "")
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	q := url.Values{}
	q.Set("symbol", bnSym)
	q.Set("interval", granularity)
	q.Set("limit", strconv.Itoa(limit))
	bs, err := bb.get(ctx, "/api/v3/klines", q, false)
	if err != nil {
		return nil, nil
	}
	var raw [][]interface{}
	if json.Unmarshal(bs, &raw) != nil {
		return nil, nil
	}
	out := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime := time.UnixMilli(int64(row[0].(float64))).UTC()
		o, _ := strconv.ParseFloat(fmt.Sprint(row[1]), 64)
		h, _ := strconv.ParseFloat(fmt.Sprint(row[2]), 64)
		l, _ := strconv.ParseFloat(fmt.Sprint(row[3]), 64)
		c, _ := strconv.ParseFloat(fmt.Sprint(row[4]), 64)
		v, _ := strconv.ParseFloat(fmt.Sprint(row[5]), 64)
		out = append(out, Candle{Time: openTime, Open: o, High: h, Low: l, Close: c, Volume: v})
	}
	return out, nil
}

func (bb *BinanceBroker) PlaceBuy(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, quoteAmount decimal.Decimal) (*Order, error) {
	bnSym := strings.ReplaceAll(symbol, "-", "")
	if _, err := bb.ensureSymbol(ctx, bnSym); err != nil {
		bb.log.Warn().Err(err).Msg("ensure_symbol failed")
		return nil, nil
	}
	q := url.Values{}
	q.Set("symbol", bnSym)
	q.Set("side", "BUY")
	q.Set("type", "MARKET")
	q.Set("newClientOrderId", clientOrderID)
	q.Set("quoteOrderQty", quoteAmount.String())
	q.Set("newOrderRespType", "FULL")

	bs, err := bb.post(ctx, "/api/v3/order", q)
	if err != nil {
		bb.log.Warn().Err(err).Msg("place buy failed")
		return nil, nil
	}
	return bb.parseOrderResponse(bs)
}

func (bb *BinanceBroker) PlaceSell(ctx context.Context, clientOrderID string, orderType OrderType, symbol string, baseQuantity decimal.Decimal) (*Order, error) {
	bnSym := strings.ReplaceAll(symbol, "-", "")
	f, err := bb.ensureSymbol(ctx, bnSym)
	if err != nil {
		bb.log.Warn().Err(err).Msg("ensure_symbol failed")
		return nil, nil
	}
	ask, _, valid := bb.GetPrice(ctx, []string{symbol})
	if len(valid) == 0 {
		return nil, nil
	}
	qty, ok := roundQty(baseQuantity, ask[symbol], f)
	if !ok {
		bb.log.Warn().Str("symbol", symbol).Msg("sell below min qty/notional after rounding")
		return nil, nil
	}
	q := url.Values{}
	q.Set("symbol", bnSym)
	q.Set("side", "SELL")
	q.Set("type", "MARKET")
	q.Set("newClientOrderId", clientOrderID)
	q.Set("quantity", qty.String())
	q.Set("newOrderRespType", "FULL")

	bs, err := bb.post(ctx, "/api/v3/order", q)
	if err != nil {
		bb.log.Warn().Err(err).Msg("place sell failed")
		return nil, nil
	}
	return bb.parseOrderResponse(bs)
}

func (bb *BinanceBroker) parseOrderResponse(bs []byte) (*Order, error) {
	var ord struct {
		OrderID      int64  `json:"orderId"`
		Side         string `json:"side"`
		Status       string `json:"status"`
		TransactTime int64  `json:"transactTime"`
		Fills        []struct {
			Qty   string `json:"qty"`
			Price string `json:"price"`
		} `json:"fills"`
	}
	if json.Unmarshal(bs, &ord) != nil {
		return nil, nil
	}
	state := OrderOpen
	if ord.Status == "FILLED" {
		state = OrderFilled
	}
	execs := make([]Execution, 0, len(ord.Fills))
	for _, f := range ord.Fills {
		q, _ := decimal.NewFromString(f.Qty)
		p, _ := decimal.NewFromString(f.Price)
		execs = append(execs, Execution{Quantity: q, EffectivePrice: p})
	}
	return &Order{
		ID:         strconv.FormatInt(ord.OrderID, 10),
		Side:       OrderSide(strings.ToLower(ord.Side)),
		State:      state,
		CreatedAt:  float64(ord.TransactTime) / 1000.0,
		Executions: execs,
	}, nil
}
