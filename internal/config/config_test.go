package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{
			Mode:     "paper",
			LogLevel: "info",
		},
		Broker: BrokerConfig{
			APIToken:    "test-token",
			APIEndpoint: "https://api.cert.tastyworks.com",
			AccountID:   "5WX00000",
		},
		Schedule: ScheduleConfig{
			Timezone:     "America/New_York",
			SessionEnd:   "16:00",
			PollInterval: "10s",
		},
		Strategy: StrategyConfig{
			Underlying: "SPX",
			Entry: EntryConfig{
				Time:              "10:10",
				Tolerance:         "5m",
				DeltaMin:          0.16,
				DeltaMax:          0.25,
				PutTargetCredit:   5.0,
				CallTargetCredit:  5.0,
				PutWingMaxCost:    0.15,
				CallWingMaxCost:   0.05,
				MinCreditFraction: 0.5,
			},
			Exit: ExitConfig{
				Threshold:        0.90,
				Confirmation:     "120s",
				MaxCloseFailures: 5,
			},
			Risk: RiskConfig{
				Budget:              100000,
				MaxContracts:        6,
				RecoveredPutCredit:  5.0,
				RecoveredCallCredit: 5.0,
			},
		},
		Storage: StorageConfig{Path: "data/trades.json"},
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "prod" }},
		{"missing token", func(c *Config) { c.Broker.APIToken = "" }},
		{"missing account", func(c *Config) { c.Broker.AccountID = "" }},
		{"missing underlying", func(c *Config) { c.Strategy.Underlying = "" }},
		{"bad entry time", func(c *Config) { c.Strategy.Entry.Time = "25:99" }},
		{"inverted delta band", func(c *Config) { c.Strategy.Entry.DeltaMin = 0.30 }},
		{"zero target credit", func(c *Config) { c.Strategy.Entry.PutTargetCredit = 0 }},
		{"zero wing ceiling", func(c *Config) { c.Strategy.Entry.CallWingMaxCost = 0 }},
		{"credit fraction above 1", func(c *Config) { c.Strategy.Entry.MinCreditFraction = 1.5 }},
		{"zero exit threshold", func(c *Config) { c.Strategy.Exit.Threshold = 0 }},
		{"bad confirmation", func(c *Config) { c.Strategy.Exit.Confirmation = "soon" }},
		{"zero budget", func(c *Config) { c.Strategy.Risk.Budget = 0 }},
		{"zero contract cap", func(c *Config) { c.Strategy.Risk.MaxContracts = 0 }},
		{"negative recovered credit", func(c *Config) { c.Strategy.Risk.RecoveredPutCredit = -1 }},
		{"sub-second poll interval", func(c *Config) { c.Schedule.PollInterval = "100ms" }},
		{"entry after session end", func(c *Config) { c.Strategy.Entry.Time = "16:30" }},
		{"dashboard enabled without addr", func(c *Config) { c.Dashboard.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Entry.Tolerance = ""
	cfg.Strategy.Entry.MinCreditFraction = 0
	cfg.Strategy.Exit.Confirmation = ""
	cfg.Strategy.Exit.MaxCloseFailures = 0
	cfg.Schedule.PollInterval = ""
	cfg.Schedule.SessionEnd = ""
	cfg.Storage.Path = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should satisfy validation: %v", err)
	}
	if got := cfg.GetEntryTolerance(); got != 5*time.Minute {
		t.Errorf("default tolerance = %v, want 5m", got)
	}
	if got := cfg.GetExitConfirmation(); got != 120*time.Second {
		t.Errorf("default confirmation = %v, want 120s", got)
	}
	if got := cfg.GetPollInterval(); got != 10*time.Second {
		t.Errorf("default poll interval = %v, want 10s", got)
	}
	if cfg.Storage.Path == "" {
		t.Error("storage path default not applied")
	}
}

func TestLoad(t *testing.T) {
	yamlDoc := `
environment:
  mode: paper
  log_level: info
broker:
  api_token: ${CONDOR_TEST_TOKEN}
  api_endpoint: https://api.cert.tastyworks.com
  account_id: 5WX00000
schedule:
  timezone: America/New_York
  session_end: "16:00"
  poll_interval: 10s
strategy:
  underlying: SPX
  entry:
    time: "10:10"
    tolerance: 5m
    delta_min: 0.16
    delta_max: 0.25
    put_target_credit: 5.0
    call_target_credit: 5.0
    put_wing_max_cost: 0.15
    call_wing_max_cost: 0.05
  exit:
    threshold: 0.90
    confirmation: 120s
  risk:
    budget: 100000
    max_contracts: 6
storage:
  path: data/trades.json
`
	t.Setenv("CONDOR_TEST_TOKEN", "secret-token")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Broker.APIToken != "secret-token" {
		t.Errorf("env expansion failed, token = %q", cfg.Broker.APIToken)
	}
	if cfg.Strategy.Entry.DeltaMax != 0.25 {
		t.Errorf("delta_max = %v, want 0.25", cfg.Strategy.Entry.DeltaMax)
	}
	if cfg.Strategy.Risk.Budget != 100000 {
		t.Errorf("budget = %v, want 100000", cfg.Strategy.Risk.Budget)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	yamlDoc := `
environment:
  mode: paper
  shenanigans: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("unknown fields should be rejected")
	}
}

func TestEntryWindow(t *testing.T) {
	cfg := validConfig()
	loc := cfg.Location()

	// Friday 2026-03-06
	within := time.Date(2026, 3, 6, 10, 12, 0, 0, loc)
	if !cfg.IsWithinEntryWindow(within) {
		t.Error("10:12 should fall inside the 10:10 +/- 5m window")
	}
	early := time.Date(2026, 3, 6, 10, 4, 0, 0, loc)
	if cfg.IsWithinEntryWindow(early) {
		t.Error("10:04 should fall outside the window")
	}
	late := time.Date(2026, 3, 6, 10, 16, 0, 0, loc)
	if cfg.IsWithinEntryWindow(late) {
		t.Error("10:16 should fall outside the window")
	}

	end := cfg.SessionEndFor(within)
	if end.Hour() != 16 || end.Minute() != 0 {
		t.Errorf("session end = %v, want 16:00", end)
	}

	if !cfg.IsTradingDay(within) {
		t.Error("Friday should be a trading day")
	}
	saturday := time.Date(2026, 3, 7, 10, 12, 0, 0, loc)
	if cfg.IsTradingDay(saturday) {
		t.Error("Saturday should not be a trading day")
	}
}
