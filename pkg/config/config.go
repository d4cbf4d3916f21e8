// Package config loads and validates the engine configuration from
// YAML, with environment variables overriding secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// StopHunt holds thresholds for the stop-hunt entry signal.
type StopHunt struct {
	Enabled       bool    `yaml:"enabled"`
	EntryStartSec int     `yaml:"entry_start_sec"` // earliest entry, seconds to end
	EntryEndSec   int     `yaml:"entry_end_sec"`   // latest entry, seconds to end
	MaxRangePct   float64 `yaml:"max_range_pct"`   // skip trending windows
	MaxFirstLeg   float64 `yaml:"max_first_leg"`   // "cheap" ask threshold; 0 derives (1-min_edge)/2
}

// MeanReversion holds thresholds for the mean-reversion entry signal.
type MeanReversion struct {
	Enabled            bool    `yaml:"enabled"`
	DeviationThreshold float64 `yaml:"deviation_threshold"` // |deviation| trigger
	MaxFirstLeg        float64 `yaml:"max_first_leg"`
}

// Config is the full engine configuration. Numeric money fields are
// float64 at this boundary and converted to decimals where they are
// consumed.
type Config struct {
	// Bankroll and sizing.
	BankrollUSD              float64 `yaml:"bankroll_usd"`
	MaxTotalBankrollFraction float64 `yaml:"max_total_bankroll_fraction"`
	MaxOrderBankrollFraction float64 `yaml:"max_order_bankroll_fraction"`
	MinEdge                  float64 `yaml:"min_edge"`
	Compound                 bool    `yaml:"compound"`
	CompoundIntervalSec      int     `yaml:"compound_interval_sec"`

	// Merge and redeem.
	MinMergeShares    float64 `yaml:"min_merge_shares"`
	MinMergeProfitUSD float64 `yaml:"min_merge_profit_usd"`
	MergeCooldownSec  int     `yaml:"merge_cooldown_sec"`
	RedeemDelaySec    int     `yaml:"redeem_delay_sec"`
	RedeemMaxAttempts int     `yaml:"redeem_max_attempts"`

	// Window timing.
	NoNewOrdersSec  int `yaml:"no_new_orders_sec"`
	MinSecondsToEnd int `yaml:"min_seconds_to_end"`
	MaxSecondsToEnd int `yaml:"max_seconds_to_end"`

	// Entry bounds and hedging behaviour.
	MaxEntryPrice        float64 `yaml:"max_entry_price"`
	MinEntryPrice        float64 `yaml:"min_entry_price"`
	MaxHedgeChaseCents   int     `yaml:"max_hedge_chase_cents"`
	AbandonEdgeThreshold float64 `yaml:"abandon_edge_threshold"`

	// Reference feed.
	MinBTCTicks     int `yaml:"min_btc_ticks"`
	VolumeShortSec  int `yaml:"volume_short_sec"`
	VolumeMediumSec int `yaml:"volume_medium_sec"`

	// Engine loop.
	RefreshMillis int      `yaml:"refresh_millis"`
	DryRun        bool     `yaml:"dry_run"`
	Assets        []string `yaml:"assets"` // e.g. ["btc"]

	// Chain.
	MaxGasPriceGwei float64 `yaml:"max_gas_price_gwei"`
	MaticPriceUSD   float64 `yaml:"matic_price_usd"`
	ChainID         int64   `yaml:"chain_id"`

	// Grids: shares per asset per timeframe, e.g. grid_sizes: {btc: {15m: 100}}.
	GridStep  float64                   `yaml:"grid_step"`
	GridSizes map[string]map[string]int `yaml:"grid_sizes"`

	// Signals.
	StopHunt      StopHunt      `yaml:"stop_hunt"`
	MeanReversion MeanReversion `yaml:"mean_reversion"`

	// Endpoints. Env overrides: CLOB_HOST, GAMMA_HOST, RPC_URL, BINANCE_WS_URL.
	ClobHost     string `yaml:"clob_host"`
	GammaHost    string `yaml:"gamma_host"`
	RPCURL       string `yaml:"rpc_url"`
	BinanceWSURL string `yaml:"binance_ws_url"`

	// Wallet. ProxyWallet is the Safe-style proxy owning positions.
	ProxyWallet string `yaml:"proxy_wallet"`

	// Persistence and dashboard.
	DatabasePath    string `yaml:"database_path"`
	RetentionDays   int    `yaml:"retention_days"`
	DashboardListen string `yaml:"dashboard_listen"` // empty disables
	EventQueueSize  int    `yaml:"event_queue_size"`

	// Logging.
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default returns the baseline configuration before YAML overlay.
func Default() *Config {
	return &Config{
		BankrollUSD:              500,
		MaxTotalBankrollFraction: 0.9,
		MaxOrderBankrollFraction: 0.2,
		MinEdge:                  0.01,
		MinMergeShares:           5,
		MinMergeProfitUSD:        0,
		MergeCooldownSec:         15,
		RedeemDelaySec:           120,
		RedeemMaxAttempts:        3,
		NoNewOrdersSec:           90,
		MinSecondsToEnd:          60,
		MaxSecondsToEnd:          900,
		MaxEntryPrice:            0.45,
		MinEntryPrice:            0.10,
		MaxHedgeChaseCents:       3,
		AbandonEdgeThreshold:     -0.10,
		MinBTCTicks:              10,
		VolumeShortSec:           30,
		VolumeMediumSec:          120,
		RefreshMillis:            500,
		Assets:                   []string{"btc"},
		MaxGasPriceGwei:          200,
		MaticPriceUSD:            0.5,
		ChainID:                  137,
		GridSizes:                map[string]map[string]int{"btc": {"15m": 1}},
		StopHunt: StopHunt{
			Enabled:       true,
			EntryStartSec: 720,
			EntryEndSec:   240,
			MaxRangePct:   0.002,
		},
		MeanReversion: MeanReversion{
			Enabled:            true,
			DeviationThreshold: 0.0010,
		},
		ClobHost:        "https://clob.polymarket.com",
		GammaHost:       "https://gamma-api.polymarket.com",
		BinanceWSURL:    "wss://fstream.binance.com",
		DatabasePath:    "data/engine.db",
		RetentionDays:   30,
		EventQueueSize:  1024,
		LogLevel:        "info",
		LogFile:         "logs/engine.log",
	}
}

// Load reads YAML from path over the defaults, then applies env
// overrides for endpoints. Validation is the caller's step so it can
// decide how to report.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLOB_HOST"); v != "" {
		cfg.ClobHost = v
	}
	if v := os.Getenv("GAMMA_HOST"); v != "" {
		cfg.GammaHost = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("BINANCE_WS_URL"); v != "" {
		cfg.BinanceWSURL = v
	}
	if v := os.Getenv("PROXY_WALLET"); v != "" {
		cfg.ProxyWallet = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}
}

// Validate checks every configured bound and returns all violations in
// one error so the operator fixes them in one pass.
func (c *Config) Validate() error {
	var issues []string

	if c.BankrollUSD < 0 {
		issues = append(issues, "bankroll_usd must not be negative")
	}
	if c.MaxTotalBankrollFraction <= 0 || c.MaxTotalBankrollFraction > 1 {
		issues = append(issues, "max_total_bankroll_fraction must be in (0,1]")
	}
	if c.MaxOrderBankrollFraction <= 0 || c.MaxOrderBankrollFraction > 1 {
		issues = append(issues, "max_order_bankroll_fraction must be in (0,1]")
	}
	if c.MinEdge <= 0 || c.MinEdge >= 1 {
		issues = append(issues, "min_edge must be in (0,1)")
	}
	if c.MinSecondsToEnd > c.MaxSecondsToEnd {
		issues = append(issues, fmt.Sprintf(
			"time window inverted: min_seconds_to_end %d > max_seconds_to_end %d",
			c.MinSecondsToEnd, c.MaxSecondsToEnd))
	}
	if len(c.GridSizes) == 0 {
		issues = append(issues, "grid_sizes must not be empty")
	} else {
		for asset, byTF := range c.GridSizes {
			if len(byTF) == 0 {
				issues = append(issues, fmt.Sprintf("grid_sizes.%s must not be empty", asset))
			}
		}
	}
	if c.RefreshMillis < 100 {
		issues = append(issues, fmt.Sprintf("refresh_millis %d below 100ms floor", c.RefreshMillis))
	}
	if !(c.MinEntryPrice > 0 && c.MinEntryPrice < c.MaxEntryPrice && c.MaxEntryPrice <= 1) {
		issues = append(issues, fmt.Sprintf(
			"entry price bounds must satisfy 0 < min < max <= 1, got min=%v max=%v",
			c.MinEntryPrice, c.MaxEntryPrice))
	}
	if len(c.Assets) == 0 {
		issues = append(issues, "assets must not be empty")
	}
	if c.MaxGasPriceGwei <= 0 {
		issues = append(issues, "max_gas_price_gwei must be positive")
	}
	if c.RedeemMaxAttempts <= 0 {
		issues = append(issues, "redeem_max_attempts must be positive")
	}
	if c.EventQueueSize <= 0 {
		issues = append(issues, "event_queue_size must be positive")
	}

	if len(issues) > 0 {
		return errors.Errorf("invalid config:\n  - %s", strings.Join(issues, "\n  - "))
	}
	return nil
}

// TickPeriodSeconds converts refresh_millis for callers that work in
// seconds.
func (c *Config) TickPeriodSeconds() float64 {
	return float64(c.RefreshMillis) / 1000.0
}

// GridSize looks up the configured share grid for asset/timeframe,
// falling back to 1.
func (c *Config) GridSize(asset, timeframe string) int {
	if byTF, ok := c.GridSizes[asset]; ok {
		if n, ok := byTF[timeframe]; ok && n > 0 {
			return n
		}
	}
	return 1
}

// StopHuntMaxFirstLeg resolves the stop-hunt cheap threshold, deriving
// (1-min_edge)/2 when unset.
func (c *Config) StopHuntMaxFirstLeg() float64 {
	if c.StopHunt.MaxFirstLeg > 0 {
		return c.StopHunt.MaxFirstLeg
	}
	return (1 - c.MinEdge) / 2
}
