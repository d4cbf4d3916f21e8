package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := Default()
	cfg.BankrollUSD = -1
	cfg.MinSecondsToEnd = 500
	cfg.MaxSecondsToEnd = 100
	cfg.GridSizes = nil
	cfg.MinEdge = 1.5
	cfg.RefreshMillis = 50
	cfg.MinEntryPrice = 0.6
	cfg.MaxEntryPrice = 0.4

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	msg := err.Error()
	for _, want := range []string{
		"bankroll_usd",
		"time window inverted",
		"grid_sizes",
		"min_edge",
		"refresh_millis",
		"entry price bounds",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("validation error missing %q:\n%s", want, msg)
		}
	}
}

func TestLoadAppliesYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
bankroll_usd: 1200
min_edge: 0.02
assets: [btc, eth]
grid_sizes:
  btc: {15m: 50}
  eth: {15m: 25}
stop_hunt:
  enabled: true
  entry_start_sec: 700
  entry_end_sec: 250
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CLOB_HOST", "https://clob.example.test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BankrollUSD != 1200 {
		t.Fatalf("BankrollUSD = %v", cfg.BankrollUSD)
	}
	if cfg.MinEdge != 0.02 {
		t.Fatalf("MinEdge = %v", cfg.MinEdge)
	}
	if cfg.ClobHost != "https://clob.example.test" {
		t.Fatalf("ClobHost = %v", cfg.ClobHost)
	}
	// Defaults survive partial overlay.
	if cfg.RefreshMillis != 500 {
		t.Fatalf("RefreshMillis = %v", cfg.RefreshMillis)
	}
	if got := cfg.GridSize("btc", "15m"); got != 50 {
		t.Fatalf("GridSize(btc,15m) = %d", got)
	}
	if got := cfg.GridSize("sol", "15m"); got != 1 {
		t.Fatalf("GridSize fallback = %d", got)
	}
}

func TestStopHuntMaxFirstLegDerived(t *testing.T) {
	cfg := Default()
	cfg.MinEdge = 0.02
	cfg.StopHunt.MaxFirstLeg = 0
	if got, want := cfg.StopHuntMaxFirstLeg(), (1-0.02)/2; got != want {
		t.Fatalf("derived threshold = %v, want %v", got, want)
	}
	cfg.StopHunt.MaxFirstLeg = 0.4
	if got := cfg.StopHuntMaxFirstLeg(); got != 0.4 {
		t.Fatalf("explicit threshold = %v", got)
	}
}
