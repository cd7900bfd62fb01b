package main

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDCALevelsDefault(t *testing.T) {
	os.Unsetenv("DCA_LEVELS_PCT")
	levels := parseDCALevels()
	require.Len(t, levels, 7)
	assert.True(t, levels[0].Equal(decimal.NewFromFloat(-2.5)))
	assert.True(t, levels[6].Equal(decimal.NewFromFloat(-50)))
}

func TestParseDCALevelsFromEnv(t *testing.T) {
	t.Setenv("DCA_LEVELS_PCT", "-1, -3,bogus, -9")
	levels := parseDCALevels()
	require.Len(t, levels, 3)
	assert.True(t, levels[0].Equal(decimal.NewFromFloat(-1)))
	assert.True(t, levels[1].Equal(decimal.NewFromFloat(-3)))
	assert.True(t, levels[2].Equal(decimal.NewFromFloat(-9)))
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	os.Unsetenv("EXCHANGE_PROVIDER")
	os.Unsetenv("COINS")
	os.Unsetenv("POWERTRADER_GUI_SETTINGS")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, "robinhood", cfg.ExchangeProvider)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Coins)
	assert.Equal(t, 2, cfg.MaxDCABuysPer24h)
}

func TestReloadGUISettingsSwapsWholeSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/gui_settings.json"
	t.Setenv("POWERTRADER_GUI_SETTINGS", path)
	t.Setenv("COINS", "BTC")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, []string{"BTC"}, cfg.Coins)

	require.NoError(t, os.WriteFile(path, []byte(`{"coins":["BTC","SOL"],"main_neural_dir":"/tmp/neural"}`), 0o644))
	cfg.ReloadGUISettings()
	assert.Equal(t, []string{"BTC", "SOL"}, cfg.Coins)
	assert.Equal(t, "/tmp/neural", cfg.NeuralDir)
}

func TestReloadGUISettingsIgnoresMissingFile(t *testing.T) {
	t.Setenv("POWERTRADER_GUI_SETTINGS", t.TempDir()+"/does_not_exist.json")
	cfg := LoadConfigFromEnv()
	originalCoins := cfg.Coins
	cfg.ReloadGUISettings()
	assert.Equal(t, originalCoins, cfg.Coins)
}

func TestReloadGUISettingsIgnoresUnchangedMTime(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/gui_settings.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"coins":["ETH"]}`), 0o644))
	t.Setenv("POWERTRADER_GUI_SETTINGS", path)

	cfg := LoadConfigFromEnv()
	assert.Equal(t, []string{"ETH"}, cfg.Coins)

	// Mutate the in-memory config directly; since the file's mtime hasn't
	// changed, a reload must not clobber it.
	cfg.Coins = []string{"ETH", "BTC"}
	cfg.ReloadGUISettings()
	assert.Equal(t, []string{"ETH", "BTC"}, cfg.Coins)
}
