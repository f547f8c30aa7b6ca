package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/ledgersync/internal/blob/s3"
	"github.com/alanyoungcy/ledgersync/internal/cache/redis"
	"github.com/alanyoungcy/ledgersync/internal/config"
	"github.com/alanyoungcy/ledgersync/internal/directory"
	"github.com/alanyoungcy/ledgersync/internal/domain"
	"github.com/alanyoungcy/ledgersync/internal/feed"
	"github.com/alanyoungcy/ledgersync/internal/notify"
	"github.com/alanyoungcy/ledgersync/internal/platform/horizon"
	"github.com/alanyoungcy/ledgersync/internal/server/handler"
	"github.com/alanyoungcy/ledgersync/internal/service"
	"github.com/alanyoungcy/ledgersync/internal/store/postgres"
)

// Dependencies bundles what the modes need. It is built by Wire and torn
// down by the returned cleanup function. Optional parts are nil when their
// backend is disabled.
type Dependencies struct {
	Session   *service.Session
	Publisher *service.Publisher

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	ViewCache   domain.ViewCache

	// Postgres
	AuditStore domain.AuditStore
	TradeStore *postgres.TradeStore

	Notifier *notify.Notifier

	// Health lists the backends the health endpoint pings.
	Health map[string]handler.Pinger
}

// Wire constructs every dependency from cfg. The cleanup function releases
// them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.ViewCache = redis.NewViewCache(redisClient, cfg.Redis.ViewTTL.Duration)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- PostgreSQL ---
	if cfg.Audit.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Audit.DSN,
			Host:     cfg.Audit.Host,
			Port:     cfg.Audit.Port,
			Database: cfg.Audit.Database,
			User:     cfg.Audit.User,
			Password: cfg.Audit.Password,
			SSLMode:  cfg.Audit.SSLMode,
			MaxConns: cfg.Audit.PoolMaxConns,
			MinConns: cfg.Audit.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Audit.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		if cfg.Audit.StoreTrades {
			deps.TradeStore = postgres.NewTradeStore(pool)
		}
		deps.Health["postgres"] = pool.Ping
	}

	// --- Trade archive ---
	var archivers fanoutArchiver
	if deps.TradeStore != nil {
		archivers = append(archivers, deps.TradeStore)
	}
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
			Prefix:         cfg.Archive.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		archivers = append(archivers, s3blob.NewTradeArchiver(s3blob.NewWriter(s3Client)))
		deps.Health["s3"] = s3Client.Health
	}

	// --- Ledger service ---
	source := horizon.NewClient(horizon.Config{
		BaseURL:           cfg.Horizon.ServerURL,
		Timeout:           cfg.Horizon.HTTPTimeout.Duration,
		RequestsPerSecond: cfg.Horizon.RequestsPerSecond,
		Limiter:           deps.RateLimiter,
	})
	wsClient := horizon.NewWSClient(cfg.Horizon.StreamURL, logger)
	if err := wsClient.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger stream: %w", err)
	}
	closers = append(closers, func() { _ = wsClient.Close() })

	entries := make([]directory.Entry, 0, len(cfg.Directory.Assets))
	for _, a := range cfg.Directory.Assets {
		entries = append(entries, directory.Entry{Code: a.Code, Issuer: a.Issuer, Domain: a.Domain, Name: a.Name})
	}

	sessDeps := service.SessionDeps{
		Source:    source,
		Stream:    feed.NewLedgerStream(wsClient, logger),
		Directory: directory.NewStatic(entries),
		Locks:     deps.LockManager,
		Limiter:   deps.RateLimiter,
		Audit:     deps.AuditStore,
		Logger:    logger,
	}
	if len(archivers) > 0 {
		sessDeps.Archiver = archivers
	}

	deps.Session = service.NewSession(service.SessionConfig{
		UnfundedRetryDelay:   cfg.Session.UnfundedRetryDelay.Duration,
		RetryTimeout:         cfg.Session.RetryTimeout.Duration,
		InflationAllowList:   cfg.Session.InflationAllowList,
		InflationDestination: cfg.Session.InflationDestination,
		EnrichConcurrency:    cfg.Session.EnrichConcurrency,
		SubmitLockTTL:        cfg.Session.SubmitLockTTL.Duration,
		SubmitsPerMinute:     cfg.Session.SubmitsPerMinute,
	}, sessDeps)
	closers = append(closers, deps.Session.Close)

	// --- Notifications ---
	deps.Notifier = buildNotifier(cfg.Notify, logger)
	var alerts service.Alerter
	if deps.Notifier.Enabled() {
		alerts = deps.Notifier
	}

	deps.Publisher = service.NewPublisher(deps.Session, deps.SignalBus, deps.ViewCache, alerts, logger)

	return deps, cleanup, nil
}

func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramAPI, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger, notify.WithCooldown(cfg.Cooldown.Duration))
}

// fanoutArchiver hands every series to each archiver and joins failures.
type fanoutArchiver []service.TradeArchiver

func (f fanoutArchiver) ArchiveTrades(ctx context.Context, pair domain.AssetPair, points []domain.TradePoint) error {
	var errs []error
	for _, a := range f {
		if err := a.ArchiveTrades(ctx, pair, points); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
