// FILE: strategy.go
// Package main – strategy evaluator: combines the neural entry-permission
// gate with user-selected indicator conditions (§4.6).
//
// Grounded on the teacher's decide()/Candle/Signal shapes in the original
// strategy.go, generalised from a binary ML gate into the selector/super
// combiner over the indicator table in SPEC_FULL §4 (itself carried
// verbatim from spec.md). Per-indicator enter-long conditions are grounded
// on _examples/original_source/pt_trader.py's _indicator_condition_score.
package main

import "time"

// Candle is the normalized OHLCV row used throughout the strategy layer.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Signal is the high-level intent a strategy evaluation produces.
type Signal int

const (
	Flat Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "FLAT"
	}
}

// Decision carries the outcome of one strategy evaluation for logging.
type Decision struct {
	Signal Signal
	Score  float64
	Reason string
}

func (d Decision) SignalToSide() OrderSide {
	if d.Signal == Sell {
		return SideSell
	}
	return SideBuy
}

func closesOf(c []Candle) []float64 {
	out := make([]float64, len(c))
	for i, k := range c {
		out[i] = k.Close
	}
	return out
}
func highsOf(c []Candle) []float64 {
	out := make([]float64, len(c))
	for i, k := range c {
		out[i] = k.High
	}
	return out
}
func lowsOf(c []Candle) []float64 {
	out := make([]float64, len(c))
	for i, k := range c {
		out[i] = k.Low
	}
	return out
}
func volumesOf(c []Candle) []float64 {
	out := make([]float64, len(c))
	for i, k := range c {
		out[i] = k.Volume
	}
	return out
}

// indicatorCondition evaluates one named enter-long condition, returning
// (truthy, score in [0,1]). Unknown indicator names are never truthy.
func indicatorCondition(name string, c []Candle) (bool, float64) {
	closes, highs, lows, volumes := closesOf(c), highsOf(c), lowsOf(c), volumesOf(c)
	n := len(closes)

	switch name {
	case "rsi":
		v, ok := RSI(closes, 14)
		if !ok {
			return false, 0
		}
		return v < 30, clamp01((30 - v) / 30)

	case "macd":
		prevLine, prevSig, line, sig, ok := MACDCross(closes, 12, 26, 9)
		if !ok {
			return false, 0
		}
		crossed := prevLine <= prevSig && line > sig
		score := 0.0
		if crossed {
			score = 1.0
		}
		return crossed, score

	case "stochastic":
		k, d, ok := Stochastic(highs, lows, closes, 14, 3)
		if !ok {
			return false, 0
		}
		// %K below 20 and crossing above %D on the latest bar.
		kp, dp, okp := Stochastic(highs[:n-1], lows[:n-1], closes[:n-1], 14, 3)
		crossedUp := k < 20 && k > d && okp && kp <= dp
		score := clamp01((20 - k) / 20)
		return crossedUp, score

	case "momentum":
		v, ok := Momentum(closes, 10)
		if !ok {
			return false, 0
		}
		return v > 0, clamp01(v/(closes[n-1]*0.01 + 1e-9))

	case "obv":
		full, ok1 := OBV(closes, volumes)
		prev, ok2 := OBV(closes[:n-1], volumes[:n-1])
		if !ok1 || !ok2 {
			return false, 0
		}
		return full > prev, boolScore(full > prev)

	case "bollinger":
		_, _, lower, ok := BollingerBands(closes, 20, 2.0)
		if !ok {
			return false, 0
		}
		return closes[n-1] <= lower, boolScore(closes[n-1] <= lower)

	case "ema":
		e8, ok1 := EMA(closes, 8)
		e21, ok2 := EMA(closes, 21)
		if !ok1 || !ok2 {
			return false, 0
		}
		cond := e8 > e21 || closes[n-1] > e21
		return cond, boolScore(cond)

	case "atr":
		_, ok := ATR(highs, lows, closes, 14)
		return ok, 0.5

	case "volume_profile":
		v, ok := VolumeProfile(volumes, 20)
		if !ok {
			return false, 0
		}
		return v > 1.0, clamp01(v - 1.0)

	case "adx":
		v, ok := ADX(highs, lows, closes, 14)
		if !ok {
			return false, 0
		}
		return v > 20, clamp01(v / 50)

	case "pivots":
		p, ok := Pivots(highs, lows, closes)
		if !ok || p.S1 == 0 {
			return false, 0
		}
		dist := (closes[n-1] - p.S1) / p.S1
		within := dist >= -0.01 && dist <= 0.01
		return within, boolScore(within)

	case "ichimoku":
		ich, ok := Ichimoku(highs, lows)
		if !ok {
			return false, 0
		}
		cloudTop := ich.SenkouA
		if ich.SenkouB > cloudTop {
			cloudTop = ich.SenkouB
		}
		cond := closes[n-1] > cloudTop && ich.Tenkan > ich.Kijun
		return cond, boolScore(cond)

	default:
		return false, 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// EvaluateEntry runs the strategy evaluator for one asset's candidate entry
// per §4.6: neural baseline combined with the configured indicator set.
// Returns whether entry is allowed and a diagnostic reason.
func EvaluateEntry(longLevel, shortLevel int, candles []Candle, cfg StrategySettings) (bool, string) {
	neuralOK := longLevel >= 3 && shortLevel == 0
	neuralScore := 0.0
	if shortLevel == 0 {
		neuralScore = float64(longLevel) / 7.0
	}

	indicators := cfg.Indicators
	if cfg.CheckAll {
		indicators = map[string]bool{
			"rsi": true, "macd": true, "stochastic": true, "momentum": true,
			"obv": true, "bollinger": true, "ema": true, "atr": true,
			"volume_profile": true, "adx": true, "pivots": true, "ichimoku": true,
		}
	}
	mode := cfg.Mode
	if cfg.CheckAll {
		mode = "super"
	}

	enabled := make([]string, 0, len(indicators))
	for name, on := range indicators {
		if on {
			enabled = append(enabled, name)
		}
	}

	if len(enabled) == 0 && !cfg.ReplaceNeural {
		if neuralOK {
			return true, "neural_baseline"
		}
		return false, "neural_baseline_blocked"
	}

	if len(closesOf(candles)) < 30 {
		if cfg.ReplaceNeural {
			return false, "insufficient_candles"
		}
		if neuralOK {
			return true, "neural_baseline_fallback"
		}
		return false, "neural_baseline_fallback_blocked"
	}

	switch mode {
	case "super":
		scores := make([]float64, 0, len(enabled)+1)
		if !cfg.ReplaceNeural {
			scores = append(scores, neuralScore)
		}
		for _, name := range enabled {
			_, score := indicatorCondition(name, candles)
			scores = append(scores, score)
		}
		if len(scores) == 0 {
			return neuralOK, "super_no_scores"
		}
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		mean := sum / float64(len(scores))
		threshold := cfg.SuperThreshold
		if threshold <= 0 {
			threshold = 0.6
		}
		return mean >= threshold, "super_combiner"

	default: // "selector"
		allTrue := true
		for _, name := range enabled {
			ok, _ := indicatorCondition(name, candles)
			if !ok {
				allTrue = false
				break
			}
		}
		if cfg.ReplaceNeural {
			return allTrue, "selector_replace_neural"
		}
		return neuralOK && allTrue, "selector_and_neural"
	}
}
