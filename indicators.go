// FILE: indicators.go
// Package main – technical indicator library.
//
// Pure functions over OHLCV series; deterministic numeric outputs for fixed
// inputs, no state, no I/O. Grounded on _examples/original_source/indicators.py
// (SMA/EMA/RSI/MACD/Stochastic/Momentum/OBV/Bollinger/ATR/VolumeProfile/ADX/
// Pivots/Ichimoku) — formulas and lookback windows match exactly, translated
// from Python lists into Go slices indexed oldest-candle-first.
package main

import "math"

// SMA is the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(period), true
}

// emaSeries returns the full EMA series starting once `period` values have
// accumulated into the seed SMA, mirroring original_source's _ema_series.
func emaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)
	ema := seed
	for _, v := range values[period:] {
		ema = v*k + ema*(1.0-k)
		out = append(out, ema)
	}
	return out
}

// EMA returns the latest exponential moving average value.
func EMA(values []float64, period int) (float64, bool) {
	series := emaSeries(values, period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// RSI is Wilder's relative strength index over the last `period` closes.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	var gain, loss float64
	n := len(closes)
	for i := n - period; i < n; i++ {
		diff := closes[i] - closes[i-1]
		if diff >= 0 {
			gain += diff
		} else {
			loss += -diff
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100.0, true
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs)), true
}

// MACD returns the MACD line, signal line, and histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist float64, ok bool) {
	if len(closes) < slow {
		return 0, 0, 0, false
	}
	emaFast := emaSeries(closes, fast)
	emaSlow := emaSeries(closes, slow)
	if len(emaFast) == 0 || len(emaSlow) == 0 {
		return 0, 0, 0, false
	}
	if len(emaFast) > len(emaSlow) {
		emaFast = emaFast[len(emaFast)-len(emaSlow):]
	}
	macdSeries := make([]float64, len(emaSlow))
	for i := range emaSlow {
		macdSeries[i] = emaFast[i] - emaSlow[i]
	}
	sigSeries := emaSeries(macdSeries, signal)
	if len(sigSeries) == 0 {
		return 0, 0, 0, false
	}
	line = macdSeries[len(macdSeries)-1]
	sig = sigSeries[len(sigSeries)-1]
	return line, sig, line - sig, true
}

// MACDCross returns the (macd, signal) pair one bar back and the latest
// pair, used by the strategy evaluator's cross-above-on-last-two-bars rule.
func MACDCross(closes []float64, fast, slow, signal int) (macdPrev, sigPrev, macdLast, sigLast float64, ok bool) {
	if len(closes) < slow+1 {
		return 0, 0, 0, 0, false
	}
	lineLast, sigLastV, _, ok1 := MACD(closes, fast, slow, signal)
	linePrev, sigPrevV, _, ok2 := MACD(closes[:len(closes)-1], fast, slow, signal)
	if !ok1 || !ok2 {
		return 0, 0, 0, 0, false
	}
	return linePrev, sigPrevV, lineLast, sigLastV, true
}

// Stochastic returns %K and %D over kPeriod/dPeriod.
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d float64, ok bool) {
	n := len(closes)
	if n < kPeriod || len(highs) < kPeriod || len(lows) < kPeriod {
		return 0, 0, false
	}
	hh := maxOf(highs[n-kPeriod:])
	ll := minOf(lows[n-kPeriod:])
	if hh == ll {
		return 50.0, 50.0, true
	}
	k = ((closes[n-1] - ll) / (hh - ll)) * 100.0

	kSeries := make([]float64, 0, kPeriod)
	for i := n - kPeriod; i < n; i++ {
		start := i - kPeriod + 1
		if start < 0 {
			start = 0
		}
		h := maxOf(highs[start : i+1])
		l := minOf(lows[start : i+1])
		if h == l {
			kSeries = append(kSeries, 50.0)
		} else {
			kSeries = append(kSeries, ((closes[i]-l)/(h-l))*100.0)
		}
	}
	dv, dok := SMA(kSeries, dPeriod)
	if !dok {
		return k, 0, true
	}
	return k, dv, true
}

// Momentum is close[-1] - close[-1-period].
func Momentum(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	n := len(closes)
	return closes[n-1] - closes[n-1-period], true
}

// OBV is the on-balance-volume accumulator over the whole series.
func OBV(closes, volumes []float64) (float64, bool) {
	n := len(closes)
	if n < 2 || len(volumes) < 2 {
		return 0, false
	}
	if len(volumes) < n {
		n = len(volumes)
	}
	obv := 0.0
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > closes[i-1]:
			obv += volumes[i]
		case closes[i] < closes[i-1]:
			obv -= volumes[i]
		}
	}
	return obv, true
}

// BollingerBands returns upper, mean, lower over period closes.
func BollingerBands(closes []float64, period int, stdMult float64) (upper, mean, lower float64, ok bool) {
	if len(closes) < period {
		return 0, 0, 0, false
	}
	window := closes[len(closes)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mean = sum / float64(period)
	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(period)
	std := math.Sqrt(variance)
	return mean + stdMult*std, mean, mean - stdMult*std, true
}

// ATR is the average true range over `period` bars.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if n < period+1 || len(highs) < period+1 || len(lows) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := n - period; i < n; i++ {
		tr := math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		sum += tr
	}
	return sum / float64(period), true
}

// VolumeProfile is the ratio of the latest volume to its SMA(period).
func VolumeProfile(volumes []float64, period int) (float64, bool) {
	if len(volumes) < period {
		return 0, false
	}
	avg, ok := SMA(volumes, period)
	if !ok || avg == 0 {
		return 0, ok
	}
	return volumes[len(volumes)-1] / avg, true
}

// ADX is the directional movement index over `period` bars. Matches the
// original's single-pass +DI/-DI/DX computation (no Wilder smoothing chain).
func ADX(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if n < period+1 {
		return 0, false
	}
	var plusDMSum, minusDMSum, trSum float64
	for i := n - period; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDMSum += upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDMSum += downMove
		}
		tr := math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		trSum += tr
	}
	if trSum == 0 {
		return 0, true
	}
	plusDI := 100.0 * (plusDMSum / trSum)
	minusDI := 100.0 * (minusDMSum / trSum)
	denom := plusDI + minusDI
	if denom == 0 {
		return 0, true
	}
	return (math.Abs(plusDI-minusDI) / denom) * 100.0, true
}

// PivotLevels is the classic floor-trader pivot set.
type PivotLevels struct {
	Pivot, R1, S1, R2, S2 float64
}

// Pivots computes levels from the most recent bar only — preserved
// verbatim per SPEC_FULL §9's open-question note on the original's behavior.
func Pivots(highs, lows, closes []float64) (PivotLevels, bool) {
	if len(highs) == 0 || len(lows) == 0 || len(closes) == 0 {
		return PivotLevels{}, false
	}
	h := highs[len(highs)-1]
	l := lows[len(lows)-1]
	c := closes[len(closes)-1]
	p := (h + l + c) / 3.0
	return PivotLevels{
		Pivot: p,
		R1:    2*p - l,
		S1:    2*p - h,
		R2:    p + (h - l),
		S2:    p - (h - l),
	}, true
}

// IchimokuLevels holds the subset of the cloud used by the strategy gate.
type IchimokuLevels struct {
	Tenkan, Kijun, SenkouA, SenkouB float64
}

// Ichimoku computes tenkan/kijun/senkou A/B from the tail of the series.
func Ichimoku(highs, lows []float64) (IchimokuLevels, bool) {
	if len(highs) < 52 || len(lows) < 52 {
		return IchimokuLevels{}, false
	}
	tenkan := (maxOf(highs[len(highs)-9:]) + minOf(lows[len(lows)-9:])) / 2.0
	kijun := (maxOf(highs[len(highs)-26:]) + minOf(lows[len(lows)-26:])) / 2.0
	senkouA := (tenkan + kijun) / 2.0
	senkouB := (maxOf(highs[len(highs)-52:]) + minOf(lows[len(lows)-52:])) / 2.0
	return IchimokuLevels{Tenkan: tenkan, Kijun: kijun, SenkouA: senkouA, SenkouB: senkouB}, true
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, v := range xs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, v := range xs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
