// Package config defines the top-level configuration for the KIS trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KISBOT_* environment variables.
type Config struct {
	KIS      KISConfig      `toml:"kis"`
	Feed     FeedConfig     `toml:"feed"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Exit     ExitConfig     `toml:"exit"`
	Market   MarketConfig   `toml:"market"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// KISConfig holds Korea Investment & Securities API credentials.
type KISConfig struct {
	AppKey              string `toml:"app_key"`
	AppSecret           string `toml:"app_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	AccountNo           string `toml:"account_no"` // "CANO-ACNT_PRDT_CD" or the 10 digits joined
	Paper               bool   `toml:"paper"`
}

// FeedConfig holds real-time market data feed parameters.
type FeedConfig struct {
	URL               string   `toml:"url"` // override; derived from paper flag when empty
	MaxSubscriptions  int      `toml:"max_subscriptions"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
}

// GatewayConfig holds order gateway parameters.
type GatewayConfig struct {
	BaseURL         string   `toml:"base_url"` // override; derived from paper flag when empty
	Timeout         duration `toml:"timeout"`
	MinCallInterval duration `toml:"min_call_interval"`
	MaxRetries      int      `toml:"max_retries"`
	RetryBackoff    duration `toml:"retry_backoff"`
}

// ExitConfig holds the exit-rule thresholds. Rates are fractional, for
// example 0.05 for 5%.
type ExitConfig struct {
	EvalInterval duration `toml:"eval_interval"`

	StopLossRate float64 `toml:"stop_loss_rate"`

	TakeProfit1Rate  float64 `toml:"take_profit_1_rate"`
	TakeProfit2Rate  float64 `toml:"take_profit_2_rate"`
	TakeProfit3Rate  float64 `toml:"take_profit_3_rate"`
	TakeProfit1Ratio float64 `toml:"take_profit_1_ratio"`
	TakeProfit2Ratio float64 `toml:"take_profit_2_ratio"`

	TrailActivateRate float64 `toml:"trail_activate_rate"`
	TrailLevel2Rate   float64 `toml:"trail_level_2_rate"`
	TrailLevel3Rate   float64 `toml:"trail_level_3_rate"`
	TrailLevel1Gap    float64 `toml:"trail_level_1_gap"`
	TrailLevel2Gap    float64 `toml:"trail_level_2_gap"`
	TrailLevel3Gap    float64 `toml:"trail_level_3_gap"`

	MaxHoldDaysProfit int     `toml:"max_hold_days_profit"`
	MaxHoldDaysLoss   int     `toml:"max_hold_days_loss"`
	LongHoldMinProfit float64 `toml:"long_hold_min_profit"`
}

// MarketConfig holds session hours for the exchange.
type MarketConfig struct {
	Timezone string `toml:"timezone"`
	Open     string `toml:"open"`  // "HH:MM"
	Close    string `toml:"close"` // "HH:MM"
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the exit-record
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "1s", "110ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		KIS: KISConfig{
			Paper: true,
		},
		Feed: FeedConfig{
			MaxSubscriptions:  40,
			ReconnectAttempts: 5,
			ReconnectDelay:    duration{5 * time.Second},
		},
		Gateway: GatewayConfig{
			Timeout:         duration{10 * time.Second},
			MinCallInterval: duration{110 * time.Millisecond},
			MaxRetries:      3,
			RetryBackoff:    duration{time.Second},
		},
		Exit: ExitConfig{
			EvalInterval: duration{time.Second},

			StopLossRate: 0.05,

			TakeProfit1Rate:  0.10,
			TakeProfit2Rate:  0.15,
			TakeProfit3Rate:  0.20,
			TakeProfit1Ratio: 0.30,
			TakeProfit2Ratio: 0.30,

			TrailActivateRate: 0.08,
			TrailLevel2Rate:   0.15,
			TrailLevel3Rate:   0.25,
			TrailLevel1Gap:    0.05,
			TrailLevel2Gap:    0.03,
			TrailLevel3Gap:    0.02,

			MaxHoldDaysProfit: 14,
			MaxHoldDaysLoss:   7,
			LongHoldMinProfit: 0.05,
		},
		Market: MarketConfig{
			Timezone: "Asia/Seoul",
			Open:     "09:00",
			Close:    "15:30",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "kisbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "ap-northeast-2",
			Bucket:         "kisbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"stop_loss", "take_profit", "trailing_stop", "hold_expiry", "exit_failed", "error"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "monitor" trades
// against the real (or paper) KIS endpoints; "sim" swaps the gateway for an
// in-process fill simulator.
var validModes = map[string]bool{
	"monitor": true,
	"sim":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, sim)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// KIS credentials are only dispensable in sim mode.
	if strings.ToLower(c.Mode) != "sim" {
		if c.KIS.AppKey == "" {
			errs = append(errs, "kis: app_key must not be empty")
		}
		if c.KIS.AppSecret == "" && c.KIS.EncryptedSecretPath == "" {
			errs = append(errs, "kis: either app_secret or encrypted_secret_path must be set")
		}
		if c.KIS.EncryptedSecretPath != "" && c.KIS.SecretPassword == "" {
			errs = append(errs, "kis: secret_password is required when encrypted_secret_path is set")
		}
		if c.KIS.AccountNo == "" {
			errs = append(errs, "kis: account_no must not be empty")
		}
	}

	// Feed
	if c.Feed.MaxSubscriptions < 1 || c.Feed.MaxSubscriptions > 40 {
		errs = append(errs, fmt.Sprintf("feed: max_subscriptions must be 1-40, got %d", c.Feed.MaxSubscriptions))
	}
	if c.Feed.ReconnectAttempts < 0 {
		errs = append(errs, "feed: reconnect_attempts must be >= 0")
	}

	// Gateway
	if c.Gateway.MaxRetries < 0 {
		errs = append(errs, "gateway: max_retries must be >= 0")
	}
	if c.Gateway.Timeout.Duration <= 0 {
		errs = append(errs, "gateway: timeout must be > 0")
	}

	// Exit thresholds
	if c.Exit.EvalInterval.Duration <= 0 {
		errs = append(errs, "exit: eval_interval must be > 0")
	}
	if c.Exit.StopLossRate <= 0 || c.Exit.StopLossRate >= 1 {
		errs = append(errs, "exit: stop_loss_rate must be in (0, 1)")
	}
	if !(c.Exit.TakeProfit1Rate < c.Exit.TakeProfit2Rate && c.Exit.TakeProfit2Rate < c.Exit.TakeProfit3Rate) {
		errs = append(errs, "exit: take-profit rates must be strictly increasing")
	}
	if c.Exit.TakeProfit1Ratio <= 0 || c.Exit.TakeProfit1Ratio >= 1 {
		errs = append(errs, "exit: take_profit_1_ratio must be in (0, 1)")
	}
	if c.Exit.TakeProfit2Ratio <= 0 || c.Exit.TakeProfit2Ratio >= 1 {
		errs = append(errs, "exit: take_profit_2_ratio must be in (0, 1)")
	}
	if c.Exit.TakeProfit1Ratio+c.Exit.TakeProfit2Ratio >= 1 {
		errs = append(errs, "exit: take_profit_1_ratio + take_profit_2_ratio must leave shares for stage 3")
	}
	if !(c.Exit.TrailActivateRate < c.Exit.TrailLevel2Rate && c.Exit.TrailLevel2Rate < c.Exit.TrailLevel3Rate) {
		errs = append(errs, "exit: trailing activation rates must be strictly increasing")
	}
	if !(c.Exit.TrailLevel1Gap > c.Exit.TrailLevel2Gap && c.Exit.TrailLevel2Gap > c.Exit.TrailLevel3Gap) {
		errs = append(errs, "exit: trailing gaps must tighten as levels rise")
	}
	if c.Exit.MaxHoldDaysLoss < 1 || c.Exit.MaxHoldDaysProfit < c.Exit.MaxHoldDaysLoss {
		errs = append(errs, "exit: max_hold_days_profit must be >= max_hold_days_loss >= 1")
	}

	// Market hours
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("market: invalid timezone %q", c.Market.Timezone))
	}
	for _, hhmm := range []string{c.Market.Open, c.Market.Close} {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			errs = append(errs, fmt.Sprintf("market: invalid time %q (want HH:MM)", hhmm))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
