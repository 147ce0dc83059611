package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ma-breach-backtester/internal/backtest"
)

// DateLayout is the layout of every date in the configuration.
const DateLayout = "2006-01-02"

// Config holds all configuration for the application.
type Config struct {
	Market   Market   `mapstructure:"market"`
	Backtest Backtest `mapstructure:"backtest"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Market holds the configuration for the price data provider.
type Market struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
}

// Backtest holds the default run parameters and the trading policy.
type Backtest struct {
	Ticker         string  `mapstructure:"ticker"`
	Start          string  `mapstructure:"start"`
	End            string  `mapstructure:"end"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	LotSize        int64   `mapstructure:"lot_size"`
	WarmUp         int     `mapstructure:"warm_up"`
	Rules          []Rule  `mapstructure:"rules"`
}

// Rule is one entry of the priority table. Side is "buy" or "sell".
type Rule struct {
	Window           int     `mapstructure:"window"`
	Side             string  `mapstructure:"side"`
	Fraction         float64 `mapstructure:"fraction"`
	RequiresPosition bool    `mapstructure:"requires_position"`
	Action           string  `mapstructure:"action"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
// A missing config.yml is not an error, defaults and environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("market.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market.rate_limit", 2) // requests per second
	v.SetDefault("market.rate_limit_burst", 2)
	v.SetDefault("market.timeout_seconds", 30)
	v.SetDefault("market.max_retries", 3)
	v.SetDefault("backtest.ticker", "2330.TW")
	v.SetDefault("backtest.start", "2020-01-01")
	v.SetDefault("backtest.end", "") // today
	v.SetDefault("backtest.initial_capital", 1000000)
	v.SetDefault("backtest.lot_size", backtest.DefaultLotSize)
	v.SetDefault("backtest.warm_up", backtest.DefaultWarmUp)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "backtests.db")

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

// StartDate parses the configured start date.
func (b Backtest) StartDate() (time.Time, error) {
	return time.Parse(DateLayout, b.Start)
}

// EndDate parses the configured end date. An empty end means now.
func (b Backtest) EndDate(now time.Time) (time.Time, error) {
	if b.End == "" {
		return now, nil
	}
	return time.Parse(DateLayout, b.End)
}

// EngineConfig converts the backtest section into the engine policy.
// An empty rule list selects the default priority table.
func (c Config) EngineConfig() (backtest.Config, error) {
	cfg := backtest.DefaultConfig()
	if c.Backtest.LotSize != 0 {
		cfg.LotSize = c.Backtest.LotSize
	}
	if c.Backtest.WarmUp != 0 {
		cfg.WarmUp = c.Backtest.WarmUp
	}
	if len(c.Backtest.Rules) > 0 {
		cfg.Rules = make([]backtest.Rule, 0, len(c.Backtest.Rules))
		for i, r := range c.Backtest.Rules {
			var side backtest.Side
			switch strings.ToLower(r.Side) {
			case "buy":
				side = backtest.SideBuy
			case "sell":
				side = backtest.SideSell
			default:
				return backtest.Config{}, fmt.Errorf("%w: rule %d has unknown side %q", backtest.ErrInvalidConfig, i, r.Side)
			}
			cfg.Rules = append(cfg.Rules, backtest.Rule{
				Window:           r.Window,
				Side:             side,
				Fraction:         r.Fraction,
				RequiresPosition: r.RequiresPosition,
				Action:           backtest.Action(r.Action),
			})
		}
	}
	if err := cfg.Validate(); err != nil {
		return backtest.Config{}, err
	}
	return cfg, nil
}
