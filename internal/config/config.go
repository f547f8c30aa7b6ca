// Package config defines the ledgersync configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by LEDGERSYNC_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Horizon   HorizonConfig   `toml:"horizon"`
	Session   SessionConfig   `toml:"session"`
	Orderbook OrderbookConfig `toml:"orderbook"`
	Directory DirectoryConfig `toml:"directory"`
	Redis     RedisConfig     `toml:"redis"`
	Audit     AuditConfig     `toml:"audit"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig names the credential to log in with at startup. Secret wins
// over EncryptedKeyPath, which wins over PublicKey.
type WalletConfig struct {
	Secret           string `toml:"secret"`
	PublicKey        string `toml:"public_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasCredential reports whether any credential source is configured.
func (w WalletConfig) HasCredential() bool {
	return w.Secret != "" || w.PublicKey != "" || w.EncryptedKeyPath != ""
}

// HorizonConfig points at the ledger REST API and its stream endpoint.
type HorizonConfig struct {
	ServerURL         string   `toml:"server_url"`
	StreamURL         string   `toml:"stream_url"`
	HTTPTimeout       duration `toml:"http_timeout"`
	RequestsPerSecond int      `toml:"requests_per_second"`
}

// SessionConfig tunes the session controller.
type SessionConfig struct {
	UnfundedRetryDelay   duration `toml:"unfunded_retry_delay"`
	RetryTimeout         duration `toml:"retry_timeout"`
	InflationAllowList   []string `toml:"inflation_allow_list"`
	InflationDestination string   `toml:"inflation_destination"`
	EnrichConcurrency    int      `toml:"enrich_concurrency"`
	SubmitLockTTL        duration `toml:"submit_lock_ttl"`
	SubmitsPerMinute     int      `toml:"submits_per_minute"`
}

// OrderbookConfig selects the pair watched at startup. Assets are
// "native" or "CODE:ISSUER". Both empty means no pair.
type OrderbookConfig struct {
	Base    string `toml:"base"`
	Counter string `toml:"counter"`
}

// Enabled reports whether a startup pair is configured.
func (o OrderbookConfig) Enabled() bool {
	return o.Base != "" || o.Counter != ""
}

// Pair parses the configured pair.
func (o OrderbookConfig) Pair() (domain.AssetPair, error) {
	base, err := domain.ParseAsset(o.Base)
	if err != nil {
		return domain.AssetPair{}, fmt.Errorf("orderbook: base: %w", err)
	}
	counter, err := domain.ParseAsset(o.Counter)
	if err != nil {
		return domain.AssetPair{}, fmt.Errorf("orderbook: counter: %w", err)
	}
	if base.Equal(counter) {
		return domain.AssetPair{}, fmt.Errorf("orderbook: base and counter are both %s: %w", base, domain.ErrInvalidArgument)
	}
	return domain.AssetPair{Base: base, Counter: counter}, nil
}

// DirectoryConfig lists the assets treated as known.
type DirectoryConfig struct {
	Assets []AssetEntry `toml:"assets"`
}

// AssetEntry is one known asset.
type AssetEntry struct {
	Code   string `toml:"code"`
	Issuer string `toml:"issuer"`
	Domain string `toml:"domain"`
	Name   string `toml:"name"`
}

// RedisConfig holds Redis connection parameters. Redis backs submit locks,
// rate limits, the update bus and the view cache.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Namespace  string   `toml:"namespace"`
	ViewTTL    duration `toml:"view_ttl"`
}

// AuditConfig holds the PostgreSQL connection for the submission audit log.
type AuditConfig struct {
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
	// StoreTrades also keeps derived trade series in Postgres.
	StoreTrades bool `toml:"store_trades"`
}

// ArchiveConfig holds S3-compatible storage for trade series.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// duration decodes TOML strings such as "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with every default filled in.
func Defaults() Config {
	return Config{
		Horizon: HorizonConfig{
			ServerURL:         "https://horizon.example.org",
			StreamURL:         "wss://horizon.example.org/stream",
			HTTPTimeout:       duration{30 * time.Second},
			RequestsPerSecond: 20,
		},
		Session: SessionConfig{
			UnfundedRetryDelay: duration{2 * time.Second},
			RetryTimeout:       duration{30 * time.Second},
			InflationAllowList: []string{},
			EnrichConcurrency:  8,
			SubmitLockTTL:      duration{30 * time.Second},
			SubmitsPerMinute:   30,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "ledgersync",
			ViewTTL:    duration{10 * time.Minute},
		},
		Audit: AuditConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ledgersync",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Archive: ArchiveConfig{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ledgersync",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerMinute: 600,
		},
		Notify: NotifyConfig{
			Events:   []string{"funding_detected", "payment_received", "setup_error"},
			Cooldown: duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"watch":  true,
	"server": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every problem found as one joined error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: watch, server)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if mode == "watch" && !c.Wallet.HasCredential() {
		add("wallet: secret, public_key or encrypted_key_path must be set for mode watch")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Horizon.ServerURL == "" {
		add("horizon: server_url must not be empty")
	}
	if c.Horizon.StreamURL == "" {
		add("horizon: stream_url must not be empty")
	}
	if c.Horizon.RequestsPerSecond < 0 {
		add("horizon: requests_per_second must be >= 0")
	}

	if c.Session.UnfundedRetryDelay.Duration <= 0 {
		add("session: unfunded_retry_delay must be > 0")
	}
	if c.Session.EnrichConcurrency < 1 {
		add("session: enrich_concurrency must be >= 1")
	}
	if c.Session.SubmitsPerMinute < 0 {
		add("session: submits_per_minute must be >= 0")
	}

	if c.Orderbook.Enabled() {
		if _, err := c.Orderbook.Pair(); err != nil {
			errs = append(errs, err)
		}
	}

	for i, a := range c.Directory.Assets {
		if a.Code == "" || a.Issuer == "" {
			add("directory: assets[%d] needs code and issuer", i)
		}
	}

	if mode == "server" && !c.Redis.Enabled {
		add("redis: must be enabled for mode server (websocket updates)")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Audit.Enabled {
		if strings.TrimSpace(c.Audit.DSN) == "" {
			if c.Audit.Host == "" {
				add("audit: host must not be empty (or set audit.dsn)")
			}
			if c.Audit.Port <= 0 || c.Audit.Port > 65535 {
				add("audit: port must be 1-65535, got %d", c.Audit.Port)
			}
			if c.Audit.Database == "" {
				add("audit: database must not be empty")
			}
		}
		if c.Audit.PoolMaxConns < 1 {
			add("audit: pool_max_conns must be >= 1")
		}
		if c.Audit.PoolMinConns > c.Audit.PoolMaxConns {
			add("audit: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Audit.StoreTrades && !c.Audit.Enabled {
		add("audit: store_trades requires audit.enabled")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			add("archive: bucket must not be empty")
		}
		if c.Archive.Region == "" {
			add("archive: region must not be empty")
		}
	}

	if mode == "server" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
