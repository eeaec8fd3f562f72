// Package config provides configuration management for the condor service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultEntryTolerance is used when strategy.entry.tolerance is unset
	defaultEntryTolerance = "5m"
	// defaultExitConfirmation is used when strategy.exit.confirmation is unset
	defaultExitConfirmation = "120s"
	// defaultPollInterval is used when schedule.poll_interval is unset
	defaultPollInterval = "10s"
	// defaultMaxCloseFailures bounds consecutive failed close attempts per side
	defaultMaxCloseFailures = 5
	// defaultMinCreditFraction is the floor on wing net credit relative to target
	defaultMinCreditFraction = 0.5
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	APIToken    string `yaml:"api_token"`
	APIEndpoint string `yaml:"api_endpoint"`
	StreamURL   string `yaml:"stream_url"`
	AccountID   string `yaml:"account_id"`
	// PreviewOrders runs a dry-run validation pass before live submission
	PreviewOrders bool `yaml:"preview_orders"`
}

// StrategyConfig defines condor strategy parameters.
type StrategyConfig struct {
	Underlying string      `yaml:"underlying"`
	Entry      EntryConfig `yaml:"entry"`
	Exit       ExitConfig  `yaml:"exit"`
	Risk       RiskConfig  `yaml:"risk"`
}

// EntryConfig defines strike selection and entry timing.
type EntryConfig struct {
	Time              string  `yaml:"time"`      // "HH:MM" in schedule timezone
	Tolerance         string  `yaml:"tolerance"` // half-width of the entry window, e.g. "5m"
	DeltaMin          float64 `yaml:"delta_min"`
	DeltaMax          float64 `yaml:"delta_max"`
	PutTargetCredit   float64 `yaml:"put_target_credit"`
	CallTargetCredit  float64 `yaml:"call_target_credit"`
	PutWingMaxCost    float64 `yaml:"put_wing_max_cost"`
	CallWingMaxCost   float64 `yaml:"call_wing_max_cost"`
	MinCreditFraction float64 `yaml:"min_credit_fraction"`
}

// ExitConfig defines per-side exit monitoring parameters.
type ExitConfig struct {
	Threshold        float64 `yaml:"threshold"`    // fraction of entry credit
	Confirmation     string  `yaml:"confirmation"` // continuous breach duration, e.g. "120s"
	MaxCloseFailures int     `yaml:"max_close_failures"`
}

// RiskConfig defines capital limits and recovery fallbacks.
type RiskConfig struct {
	Budget              float64 `yaml:"budget"`
	MaxContracts        int     `yaml:"max_contracts"`
	RecoveredPutCredit  float64 `yaml:"recovered_put_credit"`
	RecoveredCallCredit float64 `yaml:"recovered_call_credit"`
}

// ScheduleConfig defines the session timing.
type ScheduleConfig struct {
	Timezone     string `yaml:"timezone"`    // e.g., "America/New_York"
	SessionEnd   string `yaml:"session_end"` // "HH:MM", expiry sweep cutoff
	PollInterval string `yaml:"poll_interval"`
}

// StorageConfig defines storage settings for trade data.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the read-only status server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation
	if c.Broker.APIToken == "" {
		return fmt.Errorf("broker.api_token is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}

	// Strategy validation
	if c.Strategy.Underlying == "" {
		return fmt.Errorf("strategy.underlying is required")
	}

	entry := c.Strategy.Entry
	loc := c.Location()
	if _, err := time.ParseInLocation("15:04", entry.Time, loc); err != nil {
		return fmt.Errorf("strategy.entry.time invalid: %w", err)
	}
	if d, err := time.ParseDuration(entry.Tolerance); err != nil || d <= 0 {
		return fmt.Errorf("strategy.entry.tolerance must be a positive duration")
	}
	if entry.DeltaMin <= 0 || entry.DeltaMax >= 1 || entry.DeltaMin >= entry.DeltaMax {
		return fmt.Errorf("strategy.entry delta band must satisfy 0 < delta_min < delta_max < 1")
	}
	if entry.PutTargetCredit <= 0 || entry.CallTargetCredit <= 0 {
		return fmt.Errorf("strategy.entry per-side target credits must be > 0")
	}
	if entry.PutWingMaxCost <= 0 || entry.CallWingMaxCost <= 0 {
		return fmt.Errorf("strategy.entry wing cost ceilings must be > 0")
	}
	if entry.MinCreditFraction <= 0 || entry.MinCreditFraction > 1 {
		return fmt.Errorf("strategy.entry.min_credit_fraction must be in (0,1]")
	}

	exit := c.Strategy.Exit
	if exit.Threshold <= 0 {
		return fmt.Errorf("strategy.exit.threshold must be > 0")
	}
	if d, err := time.ParseDuration(exit.Confirmation); err != nil || d <= 0 {
		return fmt.Errorf("strategy.exit.confirmation must be a positive duration")
	}
	if exit.MaxCloseFailures <= 0 {
		return fmt.Errorf("strategy.exit.max_close_failures must be > 0")
	}

	risk := c.Strategy.Risk
	if risk.Budget <= 0 {
		return fmt.Errorf("strategy.risk.budget must be > 0")
	}
	if risk.MaxContracts <= 0 {
		return fmt.Errorf("strategy.risk.max_contracts must be > 0")
	}
	if risk.RecoveredPutCredit < 0 || risk.RecoveredCallCredit < 0 {
		return fmt.Errorf("strategy.risk recovered credit estimates cannot be negative")
	}

	// Schedule validation
	if d, err := time.ParseDuration(c.Schedule.PollInterval); err != nil || d < time.Second {
		return fmt.Errorf("schedule.poll_interval must be a duration >= 1s")
	}
	sessionEnd, err := time.ParseInLocation("15:04", c.Schedule.SessionEnd, loc)
	if err != nil {
		return fmt.Errorf("schedule.session_end invalid: %w", err)
	}
	entryClock, _ := time.ParseInLocation("15:04", entry.Time, loc)
	if !entryClock.Before(sessionEnd) {
		return fmt.Errorf("strategy.entry.time (%s) must be before schedule.session_end (%s)",
			entry.Time, c.Schedule.SessionEnd)
	}

	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		return fmt.Errorf("dashboard.addr is required when dashboard.enabled")
	}

	return nil
}

// normalize fills defaults for optional settings.
func (c *Config) normalize() {
	if c.Strategy.Entry.Tolerance == "" {
		c.Strategy.Entry.Tolerance = defaultEntryTolerance
	}
	if c.Strategy.Entry.MinCreditFraction == 0 {
		c.Strategy.Entry.MinCreditFraction = defaultMinCreditFraction
	}
	if c.Strategy.Exit.Confirmation == "" {
		c.Strategy.Exit.Confirmation = defaultExitConfirmation
	}
	if c.Strategy.Exit.MaxCloseFailures == 0 {
		c.Strategy.Exit.MaxCloseFailures = defaultMaxCloseFailures
	}
	if c.Schedule.PollInterval == "" {
		c.Schedule.PollInterval = defaultPollInterval
	}
	if c.Schedule.SessionEnd == "" {
		c.Schedule.SessionEnd = "16:00"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/trades.json"
	}
}

// IsPaperTrading returns true if the service is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetEntryTolerance returns the entry window half-width.
func (c *Config) GetEntryTolerance() time.Duration {
	d, err := time.ParseDuration(c.Strategy.Entry.Tolerance)
	if err != nil {
		return 5 * time.Minute // default
	}
	return d
}

// GetExitConfirmation returns the continuous-breach confirmation duration.
func (c *Config) GetExitConfirmation() time.Duration {
	d, err := time.ParseDuration(c.Strategy.Exit.Confirmation)
	if err != nil {
		return 2 * time.Minute // default
	}
	return d
}

// GetPollInterval returns the strategy loop cadence.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.PollInterval)
	if err != nil {
		return 10 * time.Second // default
	}
	return d
}

// Location resolves the schedule timezone with a fixed-offset fallback for
// minimal containers without tzdata.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// EntryWindow returns the entry window [start, end] for the given day.
func (c *Config) EntryWindow(now time.Time) (time.Time, time.Time) {
	loc := c.Location()
	today := now.In(loc)
	clock, err := time.ParseInLocation("15:04", c.Strategy.Entry.Time, loc)
	if err != nil {
		// Validate rejects this; keep a safe default for direct construction.
		clock = time.Date(0, 1, 1, 10, 10, 0, 0, loc)
	}
	center := time.Date(today.Year(), today.Month(), today.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc)
	tol := c.GetEntryTolerance()
	return center.Add(-tol), center.Add(tol)
}

// IsWithinEntryWindow checks whether now falls inside the configured entry window.
func (c *Config) IsWithinEntryWindow(now time.Time) bool {
	start, end := c.EntryWindow(now)
	return !now.Before(start) && !now.After(end)
}

// SessionEndFor returns the expiry-sweep cutoff for the given day.
func (c *Config) SessionEndFor(now time.Time) time.Time {
	loc := c.Location()
	today := now.In(loc)
	clock, err := time.ParseInLocation("15:04", c.Schedule.SessionEnd, loc)
	if err != nil {
		clock = time.Date(0, 1, 1, 16, 0, 0, 0, loc)
	}
	return time.Date(today.Year(), today.Month(), today.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc)
}

// IsTradingDay reports whether the given time falls on a weekday.
func (c *Config) IsTradingDay(now time.Time) bool {
	wd := now.In(c.Location()).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
