package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestSMA(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4, 5}, 5)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = SMA([]float64{1, 2}, 5)
	assert.False(t, ok)
}

func TestEMAConvergesTowardRisingSeries(t *testing.T) {
	closes := seqCloses(30, 100, 1)
	v, ok := EMA(closes, 10)
	require.True(t, ok)
	assert.Greater(t, v, closes[len(closes)-11])
	assert.LessOrEqual(t, v, closes[len(closes)-1])
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	closes := seqCloses(20, 100, 1) // strictly increasing
	v, ok := RSI(closes, 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
}

func TestRSIAllLossesIsZero(t *testing.T) {
	closes := seqCloses(20, 100, -1) // strictly decreasing
	v, ok := RSI(closes, 14)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestRSIInsufficientData(t *testing.T) {
	_, ok := RSI([]float64{1, 2, 3}, 14)
	assert.False(t, ok)
}

func TestMACDCrossDetectsCrossover(t *testing.T) {
	// A falling series, two steeper drops, then one sharp rise pushes the
	// MACD line up through the signal line on the final bar.
	closes := append(seqCloses(40, 100, -0.5), 75, 70, 130)
	macdPrev, sigPrev, macdLast, sigLast, ok := MACDCross(closes, 12, 26, 9)
	require.True(t, ok)
	assert.LessOrEqual(t, macdPrev, sigPrev)
	assert.Greater(t, macdLast, sigLast)
}

func TestStochasticFlatRangeReturnsFifty(t *testing.T) {
	closes := make([]float64, 20)
	highs := make([]float64, 20)
	lows := make([]float64, 20)
	for i := range closes {
		closes[i], highs[i], lows[i] = 50, 50, 50
	}
	k, d, ok := Stochastic(highs, lows, closes, 14, 3)
	require.True(t, ok)
	assert.Equal(t, 50.0, k)
	assert.Equal(t, 50.0, d)
}

func TestMomentum(t *testing.T) {
	closes := seqCloses(20, 100, 1)
	v, ok := Momentum(closes, 10)
	require.True(t, ok)
	assert.Equal(t, 10.0, v)
}

func TestOBVAccumulatesOnRises(t *testing.T) {
	closes := []float64{10, 11, 10, 12}
	volumes := []float64{1, 2, 3, 4}
	v, ok := OBV(closes, volumes)
	require.True(t, ok)
	// +2 (10->11), -3 (11->10), +4 (10->12) = 3
	assert.Equal(t, 3.0, v)
}

func TestBollingerBandsSymmetricAroundMean(t *testing.T) {
	closes := seqCloses(20, 100, 0) // constant series, zero variance
	upper, mean, lower, ok := BollingerBands(closes, 20, 2.0)
	require.True(t, ok)
	assert.Equal(t, mean, upper)
	assert.Equal(t, mean, lower)
}

func TestATRNonNegative(t *testing.T) {
	highs := seqCloses(20, 105, 1)
	lows := seqCloses(20, 95, 1)
	closes := seqCloses(20, 100, 1)
	v, ok := ATR(highs, lows, closes, 14)
	require.True(t, ok)
	assert.Greater(t, v, 0.0)
}

func TestVolumeProfileRatio(t *testing.T) {
	volumes := append(seqCloses(19, 100, 0), 200)
	v, ok := VolumeProfile(volumes, 20)
	require.True(t, ok)
	assert.InDelta(t, 200.0/((19*100.0+200.0)/20.0), v, 1e-9)
}

func TestADXZeroRangeIsZero(t *testing.T) {
	highs := seqCloses(20, 100, 0)
	lows := seqCloses(20, 100, 0)
	closes := seqCloses(20, 100, 0)
	v, ok := ADX(highs, lows, closes, 14)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestPivotsUsesLastBarOnly(t *testing.T) {
	highs := []float64{10, 20}
	lows := []float64{5, 10}
	closes := []float64{8, 15}
	p, ok := Pivots(highs, lows, closes)
	require.True(t, ok)
	assert.InDelta(t, 15.0, p.Pivot, 1e-9) // (20+10+15)/3
}

func TestIchimokuRequiresFiftyTwoBars(t *testing.T) {
	_, ok := Ichimoku(seqCloses(51, 100, 1), seqCloses(51, 90, 1))
	assert.False(t, ok)

	ich, ok := Ichimoku(seqCloses(52, 100, 1), seqCloses(52, 90, 1))
	require.True(t, ok)
	assert.Greater(t, ich.SenkouB, 0.0)
}
