// Package config defines the daemon configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NFTMARKET_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Wallet   WalletConfig   `toml:"wallet"`
	Metadata MetadataConfig `toml:"metadata"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig locates the chain and the two contracts.
type LedgerConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	ChainID            int64    `toml:"chain_id"`
	MarketplaceAddress string   `toml:"marketplace_address"`
	NFTAddress         string   `toml:"nft_address"`
	ConfirmPoll        duration `toml:"confirm_poll"`
	// ActionLockTTL bounds how long one action may hold an item.
	ActionLockTTL duration `toml:"action_lock_ttl"`
}

// WalletConfig holds the signing key. Without one the daemon is read-only.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// MetadataConfig controls token metadata resolution.
type MetadataConfig struct {
	IPFSGateway string   `toml:"ipfs_gateway"`
	Timeout     duration `toml:"timeout"`
	CacheTTL    duration `toml:"cache_ttl"`
}

// CatalogConfig controls catalog loads and auction clocks.
type CatalogConfig struct {
	RefreshInterval     duration `toml:"refresh_interval"`
	MetadataConcurrency int      `toml:"metadata_concurrency"`
	ClockInterval       duration `toml:"clock_interval"`
}

// PostgresConfig holds sales history database parameters.
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
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
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

// PipelineConfig holds background job cadences. A zero interval disables the
// job; an empty archive_cron disables monthly sales export.
type PipelineConfig struct {
	SalesInterval    duration `toml:"sales_interval"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	ArchiveCron      string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config for a local development chain.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:        "http://127.0.0.1:8545",
			ChainID:       31337,
			ConfirmPoll:   duration{2 * time.Second},
			ActionLockTTL: duration{2 * time.Minute},
		},
		Metadata: MetadataConfig{
			IPFSGateway: "https://ipfs.io/ipfs/",
			Timeout:     duration{10 * time.Second},
			CacheTTL:    duration{24 * time.Hour},
		},
		Catalog: CatalogConfig{
			RefreshInterval:     duration{30 * time.Second},
			MetadataConcurrency: 16,
			ClockInterval:       duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "nftmarket",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftmarket-data",
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			SalesInterval:    duration{time.Minute},
			SnapshotInterval: duration{15 * time.Minute},
			ArchiveCron:      "0 3 1 * *",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"auction_ended", "action_failed", "catalog_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve": true,
	"sync":  true,
	"full":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvents = map[string]bool{
	"auction_ended":  true,
	"action_success": true,
	"action_failed":  true,
	"catalog_failed": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sync, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, "ledger: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Ledger.MarketplaceAddress) {
		errs = append(errs, fmt.Sprintf("ledger: marketplace_address %q is not a hex address", c.Ledger.MarketplaceAddress))
	}
	if !common.IsHexAddress(c.Ledger.NFTAddress) {
		errs = append(errs, fmt.Sprintf("ledger: nft_address %q is not a hex address", c.Ledger.NFTAddress))
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Metadata
	if u, err := url.Parse(c.Metadata.IPFSGateway); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("metadata: ipfs_gateway %q must be an absolute URL", c.Metadata.IPFSGateway))
	}
	if c.Metadata.Timeout.Duration <= 0 {
		errs = append(errs, "metadata: timeout must be > 0")
	}

	// Catalog
	if c.Catalog.MetadataConcurrency < 1 {
		errs = append(errs, "catalog: metadata_concurrency must be >= 1")
	}
	if c.Catalog.ClockInterval.Duration <= 0 {
		errs = append(errs, "catalog: clock_interval must be > 0")
	}
	if c.Catalog.RefreshInterval.Duration < 0 {
		errs = append(errs, "catalog: refresh_interval must not be negative")
	}

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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Pipeline
	if c.Pipeline.SalesInterval.Duration < 0 || c.Pipeline.SnapshotInterval.Duration < 0 {
		errs = append(errs, "pipeline: intervals must not be negative")
	}
	if c.Pipeline.ArchiveCron != "" {
		if err := pipeline.ValidateCron(c.Pipeline.ArchiveCron); err != nil {
			errs = append(errs, fmt.Sprintf("pipeline: archive_cron: %v", err))
		}
	}

	// Server
	if c.Mode != "sync" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validEvents[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
