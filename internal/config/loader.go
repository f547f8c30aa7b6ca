package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults(), loads .env if present
// and applies LEDGERSYNC_* overrides. An empty path skips the file. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// wallet
	setStr(&cfg.Wallet.Secret, "LEDGERSYNC_WALLET_SECRET")
	setStr(&cfg.Wallet.PublicKey, "LEDGERSYNC_WALLET_PUBLIC_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LEDGERSYNC_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LEDGERSYNC_WALLET_KEY_PASSWORD")

	// horizon
	setStr(&cfg.Horizon.ServerURL, "LEDGERSYNC_HORIZON_SERVER_URL")
	setStr(&cfg.Horizon.StreamURL, "LEDGERSYNC_HORIZON_STREAM_URL")
	setDuration(&cfg.Horizon.HTTPTimeout, "LEDGERSYNC_HORIZON_HTTP_TIMEOUT")
	setInt(&cfg.Horizon.RequestsPerSecond, "LEDGERSYNC_HORIZON_REQUESTS_PER_SECOND")

	// session
	setDuration(&cfg.Session.UnfundedRetryDelay, "LEDGERSYNC_SESSION_UNFUNDED_RETRY_DELAY")
	setDuration(&cfg.Session.RetryTimeout, "LEDGERSYNC_SESSION_RETRY_TIMEOUT")
	setStringSlice(&cfg.Session.InflationAllowList, "LEDGERSYNC_SESSION_INFLATION_ALLOW_LIST")
	setStr(&cfg.Session.InflationDestination, "LEDGERSYNC_SESSION_INFLATION_DESTINATION")
	setInt(&cfg.Session.EnrichConcurrency, "LEDGERSYNC_SESSION_ENRICH_CONCURRENCY")
	setDuration(&cfg.Session.SubmitLockTTL, "LEDGERSYNC_SESSION_SUBMIT_LOCK_TTL")
	setInt(&cfg.Session.SubmitsPerMinute, "LEDGERSYNC_SESSION_SUBMITS_PER_MINUTE")

	// orderbook
	setStr(&cfg.Orderbook.Base, "LEDGERSYNC_ORDERBOOK_BASE")
	setStr(&cfg.Orderbook.Counter, "LEDGERSYNC_ORDERBOOK_COUNTER")

	// redis
	setBool(&cfg.Redis.Enabled, "LEDGERSYNC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LEDGERSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEDGERSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEDGERSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEDGERSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEDGERSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEDGERSYNC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "LEDGERSYNC_REDIS_NAMESPACE")
	setDuration(&cfg.Redis.ViewTTL, "LEDGERSYNC_REDIS_VIEW_TTL")

	// audit
	setBool(&cfg.Audit.Enabled, "LEDGERSYNC_AUDIT_ENABLED")
	setStr(&cfg.Audit.DSN, "LEDGERSYNC_AUDIT_DSN")
	setStr(&cfg.Audit.DSN, "DATABASE_URL")
	setStr(&cfg.Audit.Host, "LEDGERSYNC_AUDIT_HOST")
	setInt(&cfg.Audit.Port, "LEDGERSYNC_AUDIT_PORT")
	setStr(&cfg.Audit.Database, "LEDGERSYNC_AUDIT_DATABASE")
	setStr(&cfg.Audit.User, "LEDGERSYNC_AUDIT_USER")
	setStr(&cfg.Audit.Password, "LEDGERSYNC_AUDIT_PASSWORD")
	setStr(&cfg.Audit.SSLMode, "LEDGERSYNC_AUDIT_SSL_MODE")
	setInt(&cfg.Audit.PoolMaxConns, "LEDGERSYNC_AUDIT_POOL_MAX_CONNS")
	setInt(&cfg.Audit.PoolMinConns, "LEDGERSYNC_AUDIT_POOL_MIN_CONNS")
	setBool(&cfg.Audit.RunMigrations, "LEDGERSYNC_AUDIT_RUN_MIGRATIONS")
	setBool(&cfg.Audit.StoreTrades, "LEDGERSYNC_AUDIT_STORE_TRADES")

	// archive
	setBool(&cfg.Archive.Enabled, "LEDGERSYNC_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "LEDGERSYNC_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "LEDGERSYNC_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "LEDGERSYNC_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "LEDGERSYNC_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "LEDGERSYNC_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "LEDGERSYNC_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "LEDGERSYNC_ARCHIVE_FORCE_PATH_STYLE")
	setStr(&cfg.Archive.Prefix, "LEDGERSYNC_ARCHIVE_PREFIX")

	// server
	setInt(&cfg.Server.Port, "LEDGERSYNC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LEDGERSYNC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LEDGERSYNC_SERVER_API_KEY")
	setInt(&cfg.Server.RequestsPerMinute, "LEDGERSYNC_SERVER_REQUESTS_PER_MINUTE")

	// notify
	setStr(&cfg.Notify.TelegramToken, "LEDGERSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEDGERSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPI, "LEDGERSYNC_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEDGERSYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEDGERSYNC_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "LEDGERSYNC_NOTIFY_COOLDOWN")

	setStr(&cfg.Mode, "LEDGERSYNC_MODE")
	setStr(&cfg.LogLevel, "LEDGERSYNC_LOG_LEVEL")
}

// Each helper only touches dst when the variable is set, non-empty and
// parses.

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	cleaned := make([]string, 0)
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
