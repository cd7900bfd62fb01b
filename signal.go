// FILE: signal.go
// Package main – neural signal source (§4.5).
//
// Reads the external neural-network's opaque per-asset output files:
// long_dca_signal.txt, short_dca_signal.txt (integers 0-7) and
// low_bound_prices.html (a whitespace/comma/pipe separated list of floats).
// Grounded on _examples/original_source/pt_trader.py's signal-file readers
// (get_long_short_levels / get_low_bound_prices) — BTC falls back to the
// neural dir itself when its own subfolder is absent; any other asset
// missing its folder is simply skipped for that tick.
package main

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// AssetSignal is one tick's neural output for a single asset.
type AssetSignal struct {
	LongLevel      int
	ShortLevel     int
	LowBoundPrices []float64 // index 0 = highest (N1) ... index 6 = lowest (N7)
}

// assetSignalDir resolves the per-asset signal folder, applying the BTC
// fallback-to-neuralDir rule when <neuralDir>/<asset> does not exist.
func assetSignalDir(neuralDir, asset string) (string, bool) {
	dir := filepath.Join(neuralDir, asset)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir, true
	}
	if asset == "BTC" {
		if info, err := os.Stat(neuralDir); err == nil && info.IsDir() {
			return neuralDir, true
		}
	}
	return "", false
}

// ReadAssetSignal loads long/short levels and low-bound prices for asset.
// The second return is false when the asset's signal folder is missing
// (the caller must skip the asset entirely for this tick).
func ReadAssetSignal(neuralDir, asset string) (AssetSignal, bool) {
	dir, ok := assetSignalDir(neuralDir, asset)
	if !ok {
		return AssetSignal{}, false
	}
	sig := AssetSignal{
		LongLevel:  readLevelFile(filepath.Join(dir, "long_dca_signal.txt")),
		ShortLevel: readLevelFile(filepath.Join(dir, "short_dca_signal.txt")),
	}
	sig.LowBoundPrices = readLowBoundPrices(filepath.Join(dir, "low_bound_prices.html"))
	return sig, true
}

// readLevelFile parses a single integer 0-7 from a signal file, defaulting
// to 0 on any read/parse failure (opaque external producer, best effort).
func readLevelFile(path string) int {
	bs, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(bs)))
	if err != nil {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 7 {
		return 7
	}
	return v
}

// readLowBoundPrices parses whitespace/comma/pipe-separated floats,
// de-duplicates, and sorts descending so index 0 is the highest bound (N1)
// and the last populated index is the lowest (N7).
func readLowBoundPrices(path string) []float64 {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	fields := strings.FieldsFunc(string(bs), func(r rune) bool {
		return r == ',' || r == '|' || r == '\n' || r == '\r' || r == '\t' || r == ' '
	})
	seen := map[float64]bool{}
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	if len(out) > 7 {
		out = out[:7]
	}
	return out
}
