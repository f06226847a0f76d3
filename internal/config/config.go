// Package config loads the meridian YAML configuration, applies environment
// overrides and fills defaults for unset values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when MERIDIAN_CONFIG is unset.
const DefaultPath = "config/meridian.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for meridian.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Strategy StrategyConfig `yaml:"strategy"`
	Sync     SyncConfig     `yaml:"sync"`
	Trading  TradingConfig  `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns the gRPC listen address.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// Alpaca holds credentials and endpoints for the Alpaca trading and market
// data APIs.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig holds the defaults of batch backtests.
type BacktestConfig struct {
	Strategy     string  `yaml:"strategy"`
	Timeframe    string  `yaml:"timeframe"`
	StartDate    string  `yaml:"start_date"`
	EndDate      string  `yaml:"end_date"`
	StartingCash float64 `yaml:"starting_cash"`
	FeeRate      float64 `yaml:"fee_rate"`
	Slippage     float64 `yaml:"slippage"`
	FastWindow   int     `yaml:"fast_window"`
	SlowWindow   int     `yaml:"slow_window"`
	MaxWorkers   int     `yaml:"max_workers"`
}

// Dates parses StartDate and EndDate. The end date is inclusive, so the
// returned end is the last instant of that day.
func (b BacktestConfig) Dates() (start, end time.Time, err error) {
	start, err = time.Parse(time.DateOnly, b.StartDate)
	if err != nil {
		return start, end, fmt.Errorf("backtest start_date: %w", err)
	}
	end, err = time.Parse(time.DateOnly, b.EndDate)
	if err != nil {
		return start, end, fmt.Errorf("backtest end_date: %w", err)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("backtest end_date %s is before start_date %s", b.EndDate, b.StartDate)
	}
	return start, end.Add(24*time.Hour - time.Nanosecond), nil
}

// StrategyConfig configures the live long-short strategy.
type StrategyConfig struct {
	Universe      []string      `yaml:"universe"`
	Interval      time.Duration `yaml:"interval"`
	RankLookback  time.Duration `yaml:"rank_lookback"`
	PriceLookback time.Duration `yaml:"price_lookback"`
	ShortPct      float64       `yaml:"short_pct"`
	CloseBuffer   time.Duration `yaml:"close_buffer"`
}

// SyncConfig controls the historical bar sync job.
type SyncConfig struct {
	Timeframe   string `yaml:"timeframe"`
	StartDate   string `yaml:"start_date"`
	SymbolsFile string `yaml:"symbols_file"`
	BatchSize   int    `yaml:"batch_size"`
	MaxWorkers  int    `yaml:"max_workers"`
}

// TradingConfig defines risk and execution parameters.
type TradingConfig struct {
	// Broker is "alpaca" or "simulator".
	Broker          string  `yaml:"broker"`
	SimulatorCash   float64 `yaml:"simulator_cash"`
	MaxPositionPct  float64 `yaml:"max_position_pct"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns MERIDIAN_CONFIG, or DefaultPath when it is unset.
func Path() string {
	if v := os.Getenv("MERIDIAN_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at path, applies environment
// variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		applyEnvOverrides(cfg)
		applyDefaults(cfg)
		return cfg, nil
	}
	return cfg, err
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"DATA_DIR", &cfg.Storage.DataDir},
		{"SQLITE_PATH", &cfg.Storage.SQLitePath},
		{"ALPACA_API_KEY", &cfg.Alpaca.APIKey},
		{"ALPACA_API_SECRET", &cfg.Alpaca.APISecret},
		{"ALPACA_BASE_URL", &cfg.Alpaca.BaseURL},
		{"ALPACA_DATA_URL", &cfg.Alpaca.DataURL},
		{"LOG_LEVEL", &cfg.Logging.Level},
		// Canonical SDK names win over the ones above.
		{"APCA_API_KEY_ID", &cfg.Alpaca.APIKey},
		{"APCA_API_SECRET_KEY", &cfg.Alpaca.APISecret},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

func applyDefaults(cfg *Config) {
	setString(&cfg.Storage.DataDir, "data")
	setString(&cfg.Storage.SQLitePath, "data/meridian.db")

	setString(&cfg.Server.Host, "0.0.0.0")
	setInt(&cfg.Server.Port, 8080)
	setInt(&cfg.Server.GRPCPort, 9090)

	setString(&cfg.Alpaca.BaseURL, "https://paper-api.alpaca.markets")
	setString(&cfg.Alpaca.Feed, "iex")
	setInt(&cfg.Alpaca.RateLimitPerMin, 200)

	setString(&cfg.Logging.Level, "info")
	setString(&cfg.Logging.Format, "json")

	b := &cfg.Backtest
	setString(&b.Strategy, "sma-cross")
	setString(&b.Timeframe, "DAILY")
	setString(&b.StartDate, "2023-01-01")
	setString(&b.EndDate, "2023-12-31")
	setFloat(&b.StartingCash, 100000)
	setFloat(&b.FeeRate, 0.001)
	setFloat(&b.Slippage, 0.001)
	setInt(&b.FastWindow, 20)
	setInt(&b.SlowWindow, 50)
	setInt(&b.MaxWorkers, 8)

	s := &cfg.Strategy
	if len(s.Universe) == 0 {
		s.Universe = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META", "TSLA", "NVDA", "JPM", "V", "WMT"}
	}
	setDuration(&s.Interval, time.Minute)
	setDuration(&s.RankLookback, 10*time.Minute)
	setDuration(&s.PriceLookback, time.Minute)
	setFloat(&s.ShortPct, 0.30)
	setDuration(&s.CloseBuffer, 15*time.Minute)

	setString(&cfg.Sync.Timeframe, "1Day")
	setString(&cfg.Sync.StartDate, "2020-01-01")
	setInt(&cfg.Sync.BatchSize, 100)
	setInt(&cfg.Sync.MaxWorkers, 4)

	setString(&cfg.Trading.Broker, "alpaca")
	setFloat(&cfg.Trading.SimulatorCash, 100000)
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if *dst == 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}
