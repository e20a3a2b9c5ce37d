package types

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBool(t *testing.T) {
	truthy := []string{"true", "TRUE", "yes", "on", "1", " Yes "}
	for _, raw := range truthy {
		got, err := ParseBool(raw)
		require.NoError(t, err, raw)
		assert.True(t, got, raw)
	}

	falsy := []string{"false", "no", "off", "0", "No"}
	for _, raw := range falsy {
		got, err := ParseBool(raw)
		require.NoError(t, err, raw)
		assert.False(t, got, raw)
	}

	for _, raw := range []string{"", "maybe", "2", "enabled"} {
		_, err := ParseBool(raw)
		assert.Error(t, err, raw)
	}
}

func TestLoadRuntimeConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadRuntimeConfig(filepath.Join(t.TempDir(), "config_state.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRuntimeConfig(), cfg)
}

func TestSaveAndLoadRuntimeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "simulation", "config_state.json")

	cfg := DefaultRuntimeConfig()
	cfg.Strategy = "rsi"
	cfg.AutoTrade = true
	cfg.MaxDailyTrades = 9
	cfg.Watchlist = []string{"AAPL", "TSLA"}
	cfg.StopLossPct = 0.07

	require.NoError(t, SaveRuntimeConfig(path, cfg))

	loaded, err := LoadRuntimeConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "rsi", loaded.Strategy)
	assert.True(t, loaded.AutoTrade)
	assert.Equal(t, 9, loaded.MaxDailyTrades)
	assert.Equal(t, []string{"AAPL", "TSLA"}, loaded.Watchlist)
	assert.InDelta(t, 0.07, loaded.StopLossPct, 1e-9)
}

func TestLoadRuntimeConfigLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config_state.json")
	require.NoError(t, SaveRuntimeConfig(path, DefaultRuntimeConfig()))

	loaded, err := LoadRuntimeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRuntimeConfig().MarketTimezone, loaded.MarketTimezone)
	assert.NotEmpty(t, loaded.MarketIndexSymbols)
}
