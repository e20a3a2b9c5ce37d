package types

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// RuntimeConfig is the mutable runtime configuration carried by the
// Coordinator and threaded into agents at construction. It is persisted to a
// universe-scoped config_state.json.
type RuntimeConfig struct {
	Strategy string `mapstructure:"strategy" json:"strategy"`

	Watchlist          []string `mapstructure:"watchlist" json:"watchlist"`
	WatchlistMode      string   `mapstructure:"watchlist_mode" json:"watchlist_mode"` // "static" or "top_gainers"
	TopGainersCount    int      `mapstructure:"top_gainers_count" json:"top_gainers_count"`
	TopGainersUniverse string   `mapstructure:"top_gainers_universe" json:"top_gainers_universe"`
	TopGainersMinPrice float64  `mapstructure:"top_gainers_min_price" json:"top_gainers_min_price"`
	TopGainersMinVol   float64  `mapstructure:"top_gainers_min_volume" json:"top_gainers_min_volume"`
	MarketIndexSymbols []string `mapstructure:"market_index_symbols" json:"market_index_symbols"`

	LookbackDays      int     `mapstructure:"lookback_days" json:"lookback_days"`
	MomentumThreshold float64 `mapstructure:"momentum_threshold" json:"momentum_threshold"`
	SellThreshold     float64 `mapstructure:"sell_threshold" json:"sell_threshold"`

	StopLossPct     float64 `mapstructure:"stop_loss_pct" json:"stop_loss_pct"`
	MaxPositionPct  float64 `mapstructure:"max_position_pct" json:"max_position_pct"`
	MinTradeValue   float64 `mapstructure:"min_trade_value" json:"min_trade_value"`
	MaxDailyTrades  int     `mapstructure:"max_daily_trades" json:"max_daily_trades"`
	MaxOpenPositions int    `mapstructure:"max_open_positions" json:"max_open_positions"`

	DailyLossLimitPct float64 `mapstructure:"daily_loss_limit_pct" json:"daily_loss_limit_pct"`
	MaxDrawdownPct    float64 `mapstructure:"max_drawdown_pct" json:"max_drawdown_pct"`

	MaxSectorExposurePct     float64 `mapstructure:"max_sector_exposure_pct" json:"max_sector_exposure_pct"`
	MaxCorrelatedExposurePct float64 `mapstructure:"max_correlated_exposure_pct" json:"max_correlated_exposure_pct"`
	CorrelationThreshold     float64 `mapstructure:"correlation_threshold" json:"correlation_threshold"`
	CorrelationLookbackDays  int     `mapstructure:"correlation_lookback_days" json:"correlation_lookback_days"`
	SectorMapPath            string  `mapstructure:"sector_map_path" json:"sector_map_path"`
	SectorMapJSON            string  `mapstructure:"sector_map_json" json:"sector_map_json"`

	SizerScaleByStrength bool    `mapstructure:"sizer_scale_by_strength" json:"sizer_scale_by_strength"`
	SizerMinStrength     float64 `mapstructure:"sizer_min_strength" json:"sizer_min_strength"`
	SizerMaxStrength     float64 `mapstructure:"sizer_max_strength" json:"sizer_max_strength"`

	TradeIntervalMinutes   int    `mapstructure:"trade_interval" json:"trade_interval"`
	MonitorIntervalSeconds int    `mapstructure:"monitor_interval_seconds" json:"monitor_interval_seconds"`
	AutoTrade              bool   `mapstructure:"auto_trade" json:"auto_trade"`
	MarketTimezone         string `mapstructure:"market_timezone" json:"market_timezone"`

	SimJiggleFactor  float64 `mapstructure:"sim_jiggle_factor" json:"sim_jiggle_factor"`
	SimReplayEnabled bool    `mapstructure:"sim_replay_enabled" json:"sim_replay_enabled"`
	SimReplayDate    string  `mapstructure:"sim_replay_date" json:"sim_replay_date"` // YYYYMMDD

	ObservabilityEnabled bool    `mapstructure:"observability_enabled" json:"observability_enabled"`
	ObservabilityMaxMB   float64 `mapstructure:"observability_max_log_mb" json:"observability_max_log_mb"`
	AnalyticsEnabled     bool    `mapstructure:"analytics_enabled" json:"analytics_enabled"`

	SessionLoggerIntervalMinutes int `mapstructure:"session_logger_interval_minutes" json:"session_logger_interval_minutes"`

	ReplayRecorderEnabled         bool     `mapstructure:"replay_recorder_enabled" json:"replay_recorder_enabled"`
	ReplayRecorderIntervalMinutes int      `mapstructure:"replay_recorder_interval_minutes" json:"replay_recorder_interval_minutes"`
	ReplayRecorderSymbols         []string `mapstructure:"replay_recorder_symbols" json:"replay_recorder_symbols"`

	TestAgentEnabled         bool `mapstructure:"test_agent_enabled" json:"test_agent_enabled"`
	TestAgentIntervalMinutes int  `mapstructure:"test_agent_interval_minutes" json:"test_agent_interval_minutes"`

	UICheckEnabled         bool   `mapstructure:"ui_check_enabled" json:"ui_check_enabled"`
	UICheckIntervalMinutes int    `mapstructure:"ui_check_interval_minutes" json:"ui_check_interval_minutes"`
	UICheckURL             string `mapstructure:"ui_check_url" json:"ui_check_url"`
}

// DefaultRuntimeConfig returns the stock configuration.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Strategy: "momentum",

		Watchlist:          []string{"SPY", "QQQ", "AAPL", "MSFT", "NVDA"},
		WatchlistMode:      "top_gainers",
		TopGainersCount:    20,
		TopGainersUniverse: "large_cap",
		TopGainersMinPrice: 5,
		TopGainersMinVol:   1_000_000,
		MarketIndexSymbols: []string{"SPY", "QQQ", "DIA", "IWM", "SMH", "XLF", "XLK", "XLE", "XLV"},

		LookbackDays:      20,
		MomentumThreshold: 0.02,
		SellThreshold:     -0.01,

		StopLossPct:      0.05,
		MaxPositionPct:   0.5,
		MinTradeValue:    1.0,
		MaxDailyTrades:   5,
		MaxOpenPositions: 20,

		DailyLossLimitPct: 0.03,
		MaxDrawdownPct:    0.15,

		MaxSectorExposurePct:     1.0,
		MaxCorrelatedExposurePct: 1.0,
		CorrelationThreshold:     0.8,
		CorrelationLookbackDays:  30,
		SectorMapPath:            "data/shared/sector_map.json",

		SizerScaleByStrength: true,
		SizerMinStrength:     0.0,
		SizerMaxStrength:     1.0,

		TradeIntervalMinutes:   5,
		MonitorIntervalSeconds: 120,
		AutoTrade:              false,
		MarketTimezone:         "America/New_York",

		SimJiggleFactor: 0.001,

		ObservabilityEnabled: true,
		ObservabilityMaxMB:   5.0,
		AnalyticsEnabled:     true,

		SessionLoggerIntervalMinutes: 10,

		ReplayRecorderIntervalMinutes: 5,
		TestAgentIntervalMinutes:      30,

		UICheckIntervalMinutes: 30,
		UICheckURL:             "http://127.0.0.1:8080",
	}
}

// ParseBool parses the accepted boolean spellings strictly: true/false,
// yes/no, on/off, 1/0. Anything else is an error, never a silent true.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q: use true/false, yes/no, on/off or 1/0", value)
	}
}

// LoadRuntimeConfig reads a persisted config from path, layered over the
// defaults. A missing file yields the defaults.
func LoadRuntimeConfig(path string) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveRuntimeConfig persists cfg as JSON at path, creating parent
// directories as needed.
func SaveRuntimeConfig(path string, cfg RuntimeConfig) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("json")
	var flat map[string]any
	if err := mapstructureRoundTrip(cfg, &flat); err != nil {
		return err
	}
	for key, value := range flat {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// mapstructureRoundTrip converts the typed config into the flat key map
// viper persists, using the same json tags used on disk.
func mapstructureRoundTrip(cfg RuntimeConfig, out *map[string]any) error {
	v := viper.New()
	v.SetConfigType("json")
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := v.ReadConfig(strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	*out = v.AllSettings()
	return nil
}
