package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when BANDWAGON_CONFIG is not set.
const DefaultPath = "config/bandwagon.yaml"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// DefaultSymbols is the instrument universe the backtest and the gatherer
// use when none is configured.
var DefaultSymbols = []string{"AAPL", "MSFT", "AMZN", "GOOGL", "NVDA", "TSLA", "META"}

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for bandwagon.
type Config struct {
	Storage    Storage      `yaml:"storage"`
	Server     Server       `yaml:"server"`
	Alpaca     Alpaca       `yaml:"alpaca"`
	Logging    Logging      `yaml:"logging"`
	Gather     GatherConfig `yaml:"gather"`
	Backtest   Backtest     `yaml:"backtest"`
	Evaluation Evaluation   `yaml:"evaluation"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir      string `yaml:"data_dir"`
	SQLitePath   string `yaml:"sqlite_path"`
	OutputDir    string `yaml:"output_dir"`
	OutputFormat string `yaml:"output_format"` // csv | parquet
}

// Server holds the run report API listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port for net/http.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls daily bar retrieval.
type GatherConfig struct {
	StartDate       string   `yaml:"start_date"`
	EndDate         string   `yaml:"end_date"`
	Symbols         []string `yaml:"symbols"`
	Adjustment      string   `yaml:"adjustment"`
	BatchSize       int      `yaml:"batch_size"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	MaxAttempts     int      `yaml:"max_attempts"`
	// Schedule is a six-field cron spec (seconds first) in New York time.
	// When set, bandwagon-data keeps running and gathers on every tick.
	Schedule string `yaml:"schedule"`
}

// Backtest holds the parameters of one simulation run.
type Backtest struct {
	Symbols        []string   `yaml:"symbols"`
	BeginningValue float64    `yaml:"beginning_value"`
	StartDate      string     `yaml:"start_date"`
	EndDate        string     `yaml:"end_date"`
	WarmupDays     int        `yaml:"warmup_days"`
	SignalMode     string     `yaml:"signal_mode"`
	Sizing         Sizing     `yaml:"sizing"`
	Indicators     Indicators `yaml:"indicators"`
	Thresholds     Thresholds `yaml:"thresholds"`
	Source         string     `yaml:"source"` // csv | parquet
	CSVDir         string     `yaml:"csv_dir"`
	Workers        int        `yaml:"workers"`
}

// Sizing selects the position sizing policy.
type Sizing struct {
	Mode       string  `yaml:"mode"` // fixed | risk
	RiskFactor float64 `yaml:"risk_factor"`
	FixedBuy   int64   `yaml:"fixed_buy"`
	FixedSell  int64   `yaml:"fixed_sell"`
}

// Indicators holds indicator windows.
type Indicators struct {
	Bollinger Bollinger `yaml:"bollinger"`
	RSIWindow int       `yaml:"rsi_window"`
	ATRWindow int       `yaml:"atr_window"`
	MACD      MACD      `yaml:"macd"`
}

// Bollinger configures the band window and width.
type Bollinger struct {
	Window int     `yaml:"window"`
	K      float64 `yaml:"k"`
}

// MACD configures the EMA spans.
type MACD struct {
	Short  int `yaml:"short"`
	Long   int `yaml:"long"`
	Signal int `yaml:"signal"`
}

// Thresholds are the RSI confirmation levels.
type Thresholds struct {
	RSIBuy  float64 `yaml:"rsi_buy"`
	RSISell float64 `yaml:"rsi_sell"`
}

// Evaluation configures post-hoc metrics.
type Evaluation struct {
	RiskFreeRate float64 `yaml:"risk_free_rate"` // daily
}

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	return &Config{
		Storage: Storage{
			DataDir:      "data",
			SQLitePath:   "data/bandwagon.db",
			OutputDir:    "portfolio_versions",
			OutputFormat: "csv",
		},
		Server: Server{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
			Feed:    "iex",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Gather: GatherConfig{
			Adjustment:      "all",
			BatchSize:       100,
			MaxWorkers:      2,
			RateLimitPerMin: 200,
			MaxAttempts:     3,
		},
		Backtest: Backtest{
			Symbols:        append([]string(nil), DefaultSymbols...),
			BeginningValue: 10000,
			StartDate:      "2013-01-01",
			EndDate:        "2023-12-31",
			WarmupDays:     60,
			SignalMode:     "none",
			Sizing: Sizing{
				Mode:       "risk",
				RiskFactor: 0.0035,
				FixedBuy:   100,
				FixedSell:  100,
			},
			Indicators: Indicators{
				Bollinger: Bollinger{Window: 20, K: 2},
				RSIWindow: 20,
				ATRWindow: 14,
				MACD:      MACD{Short: 12, Long: 26, Signal: 9},
			},
			Thresholds: Thresholds{RSIBuy: 40, RSISell: 70},
			Source:     "csv",
			CSVDir:     "data",
			Workers:    4,
		},
		Evaluation: Evaluation{RiskFreeRate: 0.02},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file path from BANDWAGON_CONFIG, or DefaultPath.
func Path() string {
	if p := os.Getenv("BANDWAGON_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the
// defaults, applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	cfg = Defaults()
	applyEnvOverrides(cfg)
	return cfg, cfg.Validate()
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars win over the ALPACA_* ones.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports the first configuration error, wrapped in ErrInvalid.
// The signal mode and sizing names are resolved by the packages that own
// them.
func (c *Config) Validate() error {
	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Storage.OutputFormat) {
	case "", "csv", "parquet":
	default:
		return invalid("storage.output_format %q", c.Storage.OutputFormat)
	}
	if c.Gather.StartDate != "" {
		if _, err := parseDate(c.Gather.StartDate); err != nil {
			return invalid("gather.start_date: %v", err)
		}
	}
	if c.Gather.EndDate != "" && !strings.EqualFold(c.Gather.EndDate, "latest") {
		if _, err := parseDate(c.Gather.EndDate); err != nil {
			return invalid("gather.end_date: %v", err)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Gather.BatchSize < 0 || c.Gather.MaxAttempts < 0 {
		return invalid("gather batch_size and max_attempts must not be negative")
	}
	return nil
}

// Validate checks the backtest section on its own.
func (b *Backtest) Validate() error {
	start, err := parseDate(b.StartDate)
	if err != nil {
		return invalid("backtest.start_date: %v", err)
	}
	end, err := parseDate(b.EndDate)
	if err != nil {
		return invalid("backtest.end_date: %v", err)
	}
	if start.After(end) {
		return invalid("backtest.start_date %s is after end_date %s", b.StartDate, b.EndDate)
	}
	if b.BeginningValue <= 0 {
		return invalid("backtest.beginning_value must be positive, got %v", b.BeginningValue)
	}
	if b.WarmupDays < 0 {
		return invalid("backtest.warmup_days must not be negative, got %d", b.WarmupDays)
	}
	if len(b.Symbols) == 0 {
		return invalid("backtest.symbols is empty")
	}
	switch strings.ToLower(b.Source) {
	case "", "csv", "parquet":
	default:
		return invalid("backtest.source %q", b.Source)
	}
	if b.Thresholds.RSIBuy < 0 || b.Thresholds.RSISell > 100 {
		return invalid("backtest.thresholds must lie within [0, 100]")
	}
	return nil
}

// Start returns the parsed start date.
func (b *Backtest) Start() time.Time {
	t, _ := parseDate(b.StartDate)
	return t
}

// End returns the parsed end date.
func (b *Backtest) End() time.Time {
	t, _ := parseDate(b.EndDate)
	return t
}

// GatherStart returns the first day to retrieve bars for: gather.start_date
// when set, otherwise early enough before the backtest start to cover the
// warm-up and at least one month.
func (c *Config) GatherStart() time.Time {
	if t, err := parseDate(c.Gather.StartDate); err == nil {
		return t
	}
	start := c.Backtest.Start()
	oneMonth := start.AddDate(0, -1, 0)
	warmup := start.AddDate(0, 0, -c.Backtest.WarmupDays)
	if warmup.Before(oneMonth) {
		return warmup
	}
	return oneMonth
}

// GatherEnd returns gather.end_date, falling back to the backtest end. The
// second result is true when end_date is "latest", meaning the caller should
// resolve the latest finished trading day.
func (c *Config) GatherEnd() (time.Time, bool) {
	if strings.EqualFold(c.Gather.EndDate, "latest") {
		return time.Time{}, true
	}
	if t, err := parseDate(c.Gather.EndDate); err == nil {
		return t, false
	}
	return c.Backtest.End(), false
}

// GatherSymbols returns gather.symbols, falling back to the backtest
// universe.
func (c *Config) GatherSymbols() []string {
	if len(c.Gather.Symbols) > 0 {
		return c.Gather.Symbols
	}
	return c.Backtest.Symbols
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(s))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
