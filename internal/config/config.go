// Package config provides configuration management for the fly exit service.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Execution modes
const (
	ModeBacktest = "backtest"
	ModePaper    = "paper"
	ModeLive     = "live"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Risk        RiskConfig        `yaml:"risk"`
	Exit        ExitConfig        `yaml:"exit"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Retry       RetryConfig       `yaml:"retry"`
	Manager     ManagerConfig     `yaml:"manager"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // backtest | paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// RiskConfig holds the execution guardrails applied to every split-vertical exit.
type RiskConfig struct {
	MaxSlippagePerSpreadPct float64 `yaml:"max_slippage_per_spread_pct"` // fraction of theo mid
	MaxSlippagePerSpreadAbs float64 `yaml:"max_slippage_per_spread_abs"` // dollars
	MaxTimeBetweenSpreadsMs float64 `yaml:"max_time_between_spreads_ms"`
	MaxTotalTimeMs          float64 `yaml:"max_total_time_ms"`
	// ExecutorTimeoutMs bounds each executor call; 0 disables the deadline.
	ExecutorTimeoutMs float64 `yaml:"executor_timeout_ms"`
}

// ExitConfig holds the decision engine thresholds.
type ExitConfig struct {
	BaseProfitTarget         float64 `yaml:"base_profit_target"`
	MaxLossFraction          float64 `yaml:"max_loss_fraction"`
	MinCreditBeforeFinalDays float64 `yaml:"min_credit_before_final_days"`
	PinZoneFraction          float64 `yaml:"pin_zone_fraction"`
	FarZoneFraction          float64 `yaml:"far_zone_fraction"`
	PinProfitMultiple        float64 `yaml:"pin_profit_multiple"`
	RailBufferFraction       float64 `yaml:"rail_buffer_fraction"`
	WingCloseThreshold       float64 `yaml:"wing_close_threshold"` // dollars per share
}

// ExecutorConfig tunes the simulated fill model.
type ExecutorConfig struct {
	SlippageMinPct float64 `yaml:"slippage_min_pct"`
	SlippageMaxPct float64 `yaml:"slippage_max_pct"`
	MinLatencyMs   float64 `yaml:"min_latency_ms"`
	MaxLatencyMs   float64 `yaml:"max_latency_ms"`
}

// BreakerConfig configures the circuit breaker around the executor.
type BreakerConfig struct {
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	FailureRatio float64 `yaml:"failure_ratio"`
	MaxRequests  uint32  `yaml:"max_requests"`
	MinRequests  uint32  `yaml:"min_requests"`
}

// RetryConfig configures retries of failed exit attempts.
type RetryConfig struct {
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	Timeout        string `yaml:"timeout"`
	MaxRetries     int    `yaml:"max_retries"`
}

// ManagerConfig configures the exit manager.
type ManagerConfig struct {
	Workers int `yaml:"workers"`
}

// StorageConfig defines storage settings for position data.
type StorageConfig struct {
	Path        string `yaml:"path"`
	JournalPath string `yaml:"journal_path"` // empty disables the sqlite journal
}

// LoggingConfig defines the optional rotating log file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig defines the metrics/API listener.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"` // empty leaves /api open
}

// DefaultRiskConfig returns the router guardrail defaults.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxSlippagePerSpreadPct: 0.02,
		MaxSlippagePerSpreadAbs: 50.0,
		MaxTimeBetweenSpreadsMs: 500,
		MaxTotalTimeMs:          2000,
	}
}

// DefaultExitConfig returns the decision engine defaults.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		BaseProfitTarget:         0.60,
		MaxLossFraction:          0.50,
		MinCreditBeforeFinalDays: 0.30,
		PinZoneFraction:          0.30,
		FarZoneFraction:          0.75,
		PinProfitMultiple:        2.0,
		RailBufferFraction:       0.10,
		WingCloseThreshold:       0.05,
	}
}

// DefaultExecutorConfig returns the backtest fill model defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		SlippageMinPct: 0.001,
		SlippageMaxPct: 0.020,
		MinLatencyMs:   10,
		MaxLatencyMs:   150,
	}
}

// DefaultConfig returns a complete, valid backtest configuration.
func DefaultConfig() *Config {
	c := &Config{
		Environment: EnvironmentConfig{Mode: ModeBacktest, LogLevel: "info"},
		Risk:        DefaultRiskConfig(),
		Exit:        DefaultExitConfig(),
		Executor:    DefaultExecutorConfig(),
	}
	c.normalize()
	return c
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

	return Parse(data)
}

// Parse decodes YAML config bytes, expanding ${ENV} references first. Unset sections keep
// their defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	config := Config{
		Risk:     DefaultRiskConfig(),
		Exit:     DefaultExitConfig(),
		Executor: DefaultExecutorConfig(),
	}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
// Every violation is reported.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Environment.Mode {
	case ModeBacktest, ModePaper, ModeLive:
	default:
		fail("environment.mode must be 'backtest', 'paper' or 'live'")
	}
	switch strings.ToLower(c.Environment.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		fail("environment.log_level must be one of debug, info, warn, error")
	}

	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Exit.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Executor validation
	if c.Executor.SlippageMinPct < 0 || c.Executor.SlippageMaxPct < c.Executor.SlippageMinPct {
		fail("executor.slippage_min_pct must be >= 0 and <= executor.slippage_max_pct")
	}
	if c.Executor.SlippageMaxPct >= 1 {
		fail("executor.slippage_max_pct must be < 1")
	}
	if c.Executor.MinLatencyMs < 0 || c.Executor.MaxLatencyMs < c.Executor.MinLatencyMs {
		fail("executor.min_latency_ms must be >= 0 and <= executor.max_latency_ms")
	}

	// Breaker validation
	if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
		fail("breaker.failure_ratio must be in (0,1]")
	}
	if _, err := time.ParseDuration(c.Breaker.Interval); err != nil {
		fail("breaker.interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Breaker.Timeout); err != nil {
		fail("breaker.timeout invalid: %w", err)
	}

	// Retry validation
	if c.Retry.MaxRetries < 0 {
		fail("retry.max_retries must be >= 0")
	}
	for name, v := range map[string]string{
		"retry.initial_backoff": c.Retry.InitialBackoff,
		"retry.max_backoff":     c.Retry.MaxBackoff,
		"retry.timeout":         c.Retry.Timeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			fail("%s must be a positive duration", name)
		}
	}

	if c.Manager.Workers <= 0 {
		fail("manager.workers must be > 0")
	}
	if c.Storage.Path == "" {
		fail("storage.path is required")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		fail("logging.max_size_mb must be > 0 when logging.file is set")
	}

	return errors.Join(errs...)
}

// Validate checks the risk fields.
func (r RiskConfig) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if r.MaxSlippagePerSpreadPct <= 0 || r.MaxSlippagePerSpreadPct >= 1 {
		fail("risk.max_slippage_per_spread_pct must be in (0,1)")
	}
	if r.MaxSlippagePerSpreadAbs <= 0 {
		fail("risk.max_slippage_per_spread_abs must be > 0")
	}
	if r.MaxTimeBetweenSpreadsMs <= 0 {
		fail("risk.max_time_between_spreads_ms must be > 0")
	}
	if r.MaxTotalTimeMs <= 0 {
		fail("risk.max_total_time_ms must be > 0")
	}
	if r.MaxTimeBetweenSpreadsMs > r.MaxTotalTimeMs {
		fail("risk.max_time_between_spreads_ms (%.0f) must be <= risk.max_total_time_ms (%.0f)",
			r.MaxTimeBetweenSpreadsMs, r.MaxTotalTimeMs)
	}
	if r.ExecutorTimeoutMs < 0 {
		fail("risk.executor_timeout_ms must be >= 0")
	}

	return errors.Join(errs...)
}

// Validate checks the exit fields.
func (e ExitConfig) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if e.BaseProfitTarget <= 0 || e.BaseProfitTarget > 1 {
		fail("exit.base_profit_target must be in (0,1]")
	}
	if e.MaxLossFraction <= 0 || e.MaxLossFraction > 1 {
		fail("exit.max_loss_fraction must be in (0,1]")
	}
	if e.MinCreditBeforeFinalDays < 0 || e.MinCreditBeforeFinalDays > 1 {
		fail("exit.min_credit_before_final_days must be between 0 and 1")
	}
	if e.PinZoneFraction <= 0 {
		fail("exit.pin_zone_fraction must be > 0")
	}
	if e.FarZoneFraction <= e.PinZoneFraction {
		fail("exit.far_zone_fraction (%.2f) must be > exit.pin_zone_fraction (%.2f)",
			e.FarZoneFraction, e.PinZoneFraction)
	}
	if e.PinProfitMultiple <= 0 {
		fail("exit.pin_profit_multiple must be > 0")
	}
	if e.RailBufferFraction < 0 {
		fail("exit.rail_buffer_fraction must be >= 0")
	}
	if e.WingCloseThreshold < 0 {
		fail("exit.wing_close_threshold must be >= 0")
	}

	return errors.Join(errs...)
}

// normalize fills zero values with defaults
func (c *Config) normalize() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = ModeBacktest
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = 3
	}
	if c.Breaker.Interval == "" {
		c.Breaker.Interval = "60s"
	}
	if c.Breaker.Timeout == "" {
		c.Breaker.Timeout = "30s"
	}
	if c.Breaker.MinRequests == 0 {
		c.Breaker.MinRequests = 5
	}
	if c.Breaker.FailureRatio == 0 {
		c.Breaker.FailureRatio = 0.6
	}
	if c.Retry.InitialBackoff == "" {
		c.Retry.InitialBackoff = "250ms"
	}
	if c.Retry.MaxBackoff == "" {
		c.Retry.MaxBackoff = "5s"
	}
	if c.Retry.Timeout == "" {
		c.Retry.Timeout = "30s"
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 2
	}
	if c.Manager.Workers == 0 {
		c.Manager.Workers = 4
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "positions.json"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// IsBacktest returns true when fills are simulated.
func (c *Config) IsBacktest() bool {
	return c.Environment.Mode == ModeBacktest
}

// GetBreakerInterval returns the breaker count reset interval.
func (c *Config) GetBreakerInterval() time.Duration {
	return durationOr(c.Breaker.Interval, 60*time.Second)
}

// GetBreakerTimeout returns how long the breaker stays open.
func (c *Config) GetBreakerTimeout() time.Duration {
	return durationOr(c.Breaker.Timeout, 30*time.Second)
}

// GetRetryInitialBackoff returns the first retry delay.
func (c *Config) GetRetryInitialBackoff() time.Duration {
	return durationOr(c.Retry.InitialBackoff, 250*time.Millisecond)
}

// GetRetryMaxBackoff returns the retry delay cap.
func (c *Config) GetRetryMaxBackoff() time.Duration {
	return durationOr(c.Retry.MaxBackoff, 5*time.Second)
}

// GetRetryTimeout returns the overall retry budget.
func (c *Config) GetRetryTimeout() time.Duration {
	return durationOr(c.Retry.Timeout, 30*time.Second)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
