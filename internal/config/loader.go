package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KISBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KISBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── KIS ──
	setStr(&cfg.KIS.AppKey, "KISBOT_KIS_APP_KEY")
	setStr(&cfg.KIS.AppSecret, "KISBOT_KIS_APP_SECRET")
	setStr(&cfg.KIS.EncryptedSecretPath, "KISBOT_KIS_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.KIS.SecretPassword, "KISBOT_KIS_SECRET_PASSWORD")
	setStr(&cfg.KIS.AccountNo, "KISBOT_KIS_ACCOUNT_NO")
	setBool(&cfg.KIS.Paper, "KISBOT_KIS_PAPER")

	// ── Feed ──
	setStr(&cfg.Feed.URL, "KISBOT_FEED_URL")
	setInt(&cfg.Feed.MaxSubscriptions, "KISBOT_FEED_MAX_SUBSCRIPTIONS")
	setInt(&cfg.Feed.ReconnectAttempts, "KISBOT_FEED_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Feed.ReconnectDelay, "KISBOT_FEED_RECONNECT_DELAY")

	// ── Gateway ──
	setStr(&cfg.Gateway.BaseURL, "KISBOT_GATEWAY_BASE_URL")
	setDuration(&cfg.Gateway.Timeout, "KISBOT_GATEWAY_TIMEOUT")
	setDuration(&cfg.Gateway.MinCallInterval, "KISBOT_GATEWAY_MIN_CALL_INTERVAL")
	setInt(&cfg.Gateway.MaxRetries, "KISBOT_GATEWAY_MAX_RETRIES")
	setDuration(&cfg.Gateway.RetryBackoff, "KISBOT_GATEWAY_RETRY_BACKOFF")

	// ── Exit ──
	setDuration(&cfg.Exit.EvalInterval, "KISBOT_EXIT_EVAL_INTERVAL")
	setFloat64(&cfg.Exit.StopLossRate, "KISBOT_EXIT_STOP_LOSS_RATE")
	setFloat64(&cfg.Exit.TakeProfit1Rate, "KISBOT_EXIT_TAKE_PROFIT_1_RATE")
	setFloat64(&cfg.Exit.TakeProfit2Rate, "KISBOT_EXIT_TAKE_PROFIT_2_RATE")
	setFloat64(&cfg.Exit.TakeProfit3Rate, "KISBOT_EXIT_TAKE_PROFIT_3_RATE")
	setFloat64(&cfg.Exit.TakeProfit1Ratio, "KISBOT_EXIT_TAKE_PROFIT_1_RATIO")
	setFloat64(&cfg.Exit.TakeProfit2Ratio, "KISBOT_EXIT_TAKE_PROFIT_2_RATIO")
	setFloat64(&cfg.Exit.TrailActivateRate, "KISBOT_EXIT_TRAIL_ACTIVATE_RATE")
	setFloat64(&cfg.Exit.TrailLevel2Rate, "KISBOT_EXIT_TRAIL_LEVEL_2_RATE")
	setFloat64(&cfg.Exit.TrailLevel3Rate, "KISBOT_EXIT_TRAIL_LEVEL_3_RATE")
	setInt(&cfg.Exit.MaxHoldDaysProfit, "KISBOT_EXIT_MAX_HOLD_DAYS_PROFIT")
	setInt(&cfg.Exit.MaxHoldDaysLoss, "KISBOT_EXIT_MAX_HOLD_DAYS_LOSS")
	setFloat64(&cfg.Exit.LongHoldMinProfit, "KISBOT_EXIT_LONG_HOLD_MIN_PROFIT")

	// ── Market ──
	setStr(&cfg.Market.Timezone, "KISBOT_MARKET_TIMEZONE")
	setStr(&cfg.Market.Open, "KISBOT_MARKET_OPEN")
	setStr(&cfg.Market.Close, "KISBOT_MARKET_CLOSE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "KISBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "KISBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KISBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KISBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KISBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KISBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KISBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KISBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KISBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KISBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KISBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "KISBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "KISBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KISBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KISBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KISBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KISBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KISBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "KISBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "KISBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KISBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "KISBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KISBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KISBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KISBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KISBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KISBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KISBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KISBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KISBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "KISBOT_MODE")
	setStr(&cfg.LogLevel, "KISBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
