package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/seojin-dev/kisbot/internal/blob/s3"
	"github.com/seojin-dev/kisbot/internal/cache/redis"
	"github.com/seojin-dev/kisbot/internal/config"
	"github.com/seojin-dev/kisbot/internal/crypto"
	"github.com/seojin-dev/kisbot/internal/domain"
	"github.com/seojin-dev/kisbot/internal/notify"
	"github.com/seojin-dev/kisbot/internal/platform/kis"
	"github.com/seojin-dev/kisbot/internal/store/postgres"
)

// simStartingCash is the simulated account's opening balance in KRW.
const simStartingCash = 10_000_000

// Dependencies bundles every concrete dependency the application modes need.
// Optional backends (Postgres, Redis, S3) are nil when disabled in config.
type Dependencies struct {
	// KISClient is the live REST gateway and WS approval-key source. It is
	// nil only in sim mode without credentials.
	KISClient *kis.Client

	// SimGateway replaces the live gateway in sim mode.
	SimGateway *kis.SimulatedGateway

	// Persistence
	PositionStore domain.PositionStore
	ExitJournal   domain.ExitJournal

	// Caches
	Ticks domain.TickCache

	// Blob storage
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	// --- KIS gateway ---
	if cfg.KIS.AppKey != "" {
		appSecret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:     cfg.KIS.AppSecret,
			EncryptedPath: cfg.KIS.EncryptedSecretPath,
			Password:      cfg.KIS.SecretPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kis secret: %w", err)
		}

		client, err := kis.NewClient(kis.ClientConfig{
			BaseURL:         cfg.Gateway.BaseURL,
			AppKey:          cfg.KIS.AppKey,
			AppSecret:       appSecret,
			AccountNo:       cfg.KIS.AccountNo,
			Paper:           cfg.KIS.Paper,
			Timeout:         cfg.Gateway.Timeout.Duration,
			MinCallInterval: cfg.Gateway.MinCallInterval.Duration,
			Retry: kis.RetryPolicy{
				MaxAttempts: cfg.Gateway.MaxRetries,
				BaseDelay:   cfg.Gateway.RetryBackoff.Duration,
			},
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kis client: %w", err)
		}
		deps.KISClient = client
	} else if mode != "sim" {
		cleanup()
		return nil, nil, fmt.Errorf("wire: mode %q requires KIS credentials", cfg.Mode)
	}

	if mode == "sim" {
		deps.SimGateway = kis.NewSimulatedGateway(simStartingCash, logger)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.ExitJournal = postgres.NewExitStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Ticks = redis.NewTickCache(redisClient)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
