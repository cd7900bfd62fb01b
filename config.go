// FILE: config.go
// Package main – immutable per-tick runtime configuration.
//
// Per SPEC_FULL §9 ("global configuration"), the original threads mutable
// module-level state (base_paths, crypto_symbols, main_dir). Here that
// becomes a Config value rebuilt once at startup from the environment and
// refreshed at the top of every tick by reloading GUISettings (hot-reloaded
// by mtime, swapped in whole — never partially). Components receive Config
// explicitly; there is no package-level mutable configuration.
package main

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StrategySettings is the user-selected indicator combiner config (§4.6).
type StrategySettings struct {
	Mode           string          `json:"mode"` // "selector" | "super"
	Indicators     map[string]bool `json:"indicators"`
	CheckAll       bool            `json:"check_all"`
	ReplaceNeural  bool            `json:"replace_neural"`
	SuperThreshold float64         `json:"super_threshold"`
}

// GUISettings is the hot-reloaded `{coins, neural_dir, strategy}` snapshot
// read from gui_settings.json (§6). It is swapped in whole on mtime change.
type GUISettings struct {
	Coins         []string         `json:"coins"`
	MainNeuralDir string           `json:"main_neural_dir"`
	Timeframe     string           `json:"default_timeframe"`
	CandlesLimit  int              `json:"candles_limit"`
	Strategy      StrategySettings `json:"strategy"`
}

// Config is the immutable value rebuilt at startup and refreshed (via
// ReloadGUISettings) at the top of every orchestrator tick.
type Config struct {
	ExchangeProvider string // "robinhood" | "binance" | "paper"
	QuoteAsset       string // e.g. "USDT" for the HMAC driver

	HubDir          string
	GUISettingsPath string
	EnvPath         string
	NeuralDir       string
	PineSignalFile  string

	Coins    []string
	Strategy StrategySettings

	// DCA ladder (§4.8)
	DCALevels        []decimal.Decimal // [-2.5%, -5%, -10%, -20%, -30%, -40%, -50%]
	MaxDCABuysPer24h int
	DCAWindowSeconds int64

	// Trailing profit margin (§4.9)
	PmStartPctNoDCA   decimal.Decimal
	PmStartPctWithDCA decimal.Decimal
	TrailingGapPct    decimal.Decimal

	// Entry allocation: max(EntryAllocationFloorUSD, EntryAllocationFactor * account_value / n_coins)
	// — the original's literal (and intentionally tiny) sizing policy, see SPEC_FULL §9/§10.
	EntryAllocationFactor float64
	EntryAllocationFloor  decimal.Decimal

	// Pine signal feed overrides (SPEC_FULL §10)
	PineSignalEnabled      bool
	PineSignalMode         string // "filter" | "replace" | "off"
	PineSignalUseExit      bool
	PineSignalMaxAgeSecs   int64

	TickInterval time.Duration

	guiMu       sync.Mutex
	guiMTime    time.Time
	guiSettings *GUISettings
}

func parseDCALevels() []decimal.Decimal {
	raw := getEnv("DCA_LEVELS_PCT", "-2.5,-5,-10,-20,-30,-40,-50")
	parts := strings.Split(raw, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := decimal.NewFromString(p)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		out = []decimal.Decimal{
			decimal.NewFromFloat(-2.5), decimal.NewFromFloat(-5), decimal.NewFromFloat(-10),
			decimal.NewFromFloat(-20), decimal.NewFromFloat(-30), decimal.NewFromFloat(-40), decimal.NewFromFloat(-50),
		}
	}
	return out
}

// LoadConfigFromEnv builds the immutable startup Config. .env must already
// be loaded (see main.go: loadDotEnv before this call).
func LoadConfigFromEnv() *Config {
	coins := strings.Split(getEnv("COINS", "BTC,ETH"), ",")
	for i := range coins {
		coins[i] = strings.ToUpper(strings.TrimSpace(coins[i]))
	}
	cfg := &Config{
		ExchangeProvider: strings.ToLower(getEnv("EXCHANGE_PROVIDER", "robinhood")),
		QuoteAsset:       getEnv("BINANCE_QUOTE_ASSET", "USDT"),

		HubDir:          getEnv("POWERTRADER_HUB_DIR", "hub_data"),
		GUISettingsPath: getEnv("POWERTRADER_GUI_SETTINGS", "gui_settings.json"),
		EnvPath:         getEnv("POWERTRADER_ENV", ".env"),
		NeuralDir:       getEnv("NEURAL_DIR", "neural"),
		PineSignalFile:  getEnv("PINE_SIGNAL_FILE", "pine_signals.jsonl"),

		Coins: coins,
		Strategy: StrategySettings{
			Mode:           "selector",
			Indicators:     map[string]bool{},
			SuperThreshold: 0.6,
		},

		DCALevels:        parseDCALevels(),
		MaxDCABuysPer24h: getEnvInt("MAX_DCA_BUYS_PER_24H", 2),
		DCAWindowSeconds: int64(getEnvInt("DCA_WINDOW_SECONDS", 86400)),

		PmStartPctNoDCA:   decimal.NewFromFloat(getEnvFloat("PM_START_PCT_NO_DCA", 5.0)),
		PmStartPctWithDCA: decimal.NewFromFloat(getEnvFloat("PM_START_PCT_WITH_DCA", 2.5)),
		TrailingGapPct:    decimal.NewFromFloat(getEnvFloat("TRAILING_GAP_PCT", 0.5)),

		EntryAllocationFactor: getEnvFloat("ENTRY_ALLOCATION_FACTOR", 0.00005),
		EntryAllocationFloor:  decimal.NewFromFloat(getEnvFloat("ENTRY_ALLOCATION_FLOOR_USD", 0.5)),

		PineSignalEnabled:    getEnvBool("PINE_SIGNAL_ENABLED", false),
		PineSignalMode:       strings.ToLower(getEnv("PINE_SIGNAL_MODE", "off")),
		PineSignalUseExit:    getEnvBool("PINE_SIGNAL_USE_EXIT", false),
		PineSignalMaxAgeSecs: int64(getEnvInt("PINE_SIGNAL_MAX_AGE_SECONDS", 300)),

		TickInterval: time.Duration(getEnvFloat("TICK_INTERVAL_SECONDS", 0.5) * float64(time.Second)),
	}
	cfg.ReloadGUISettings()
	return cfg
}

// ReloadGUISettings re-reads GUISettingsPath only if its mtime changed,
// swapping the cached value in whole. Missing file or parse failure leaves
// the previous snapshot (or the env-derived defaults) untouched.
func (c *Config) ReloadGUISettings() {
	c.guiMu.Lock()
	defer c.guiMu.Unlock()

	info, err := os.Stat(c.GUISettingsPath)
	if err != nil {
		return
	}
	if c.guiSettings != nil && !info.ModTime().After(c.guiMTime) {
		return
	}
	bs, err := os.ReadFile(c.GUISettingsPath)
	if err != nil {
		return
	}
	var gs GUISettings
	if err := json.Unmarshal(bs, &gs); err != nil {
		return
	}
	c.guiMTime = info.ModTime()
	c.guiSettings = &gs

	if len(gs.Coins) > 0 {
		coins := make([]string, 0, len(gs.Coins))
		for _, s := range gs.Coins {
			coins = append(coins, strings.ToUpper(strings.TrimSpace(s)))
		}
		c.Coins = coins
	}
	if gs.MainNeuralDir != "" {
		c.NeuralDir = gs.MainNeuralDir
	}
	if gs.Strategy.Mode != "" || len(gs.Strategy.Indicators) > 0 || gs.Strategy.CheckAll {
		c.Strategy = gs.Strategy
		if c.Strategy.SuperThreshold <= 0 {
			c.Strategy.SuperThreshold = 0.6
		}
	}
}
