package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/nftmarket/internal/blob/s3"
	"github.com/alanyoungcy/nftmarket/internal/cache/redis"
	"github.com/alanyoungcy/nftmarket/internal/config"
	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/notify"
	"github.com/alanyoungcy/nftmarket/internal/platform/ipfs"
	"github.com/alanyoungcy/nftmarket/internal/platform/ledger"
	"github.com/alanyoungcy/nftmarket/internal/platform/metadata"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/service"
	"github.com/alanyoungcy/nftmarket/internal/store/postgres"
)

// Dependencies bundles the concrete backends the modes run on. Optional
// backends are nil when disabled in the configuration.
type Dependencies struct {
	Ledger   *ledger.Client
	Resolver *ipfs.Resolver
	Metadata domain.MetadataFetcher

	// Postgres
	SaleStore  domain.SaleStore
	AuditStore domain.AuditStore

	// Redis, or in-process fallbacks
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// S3
	Snapshots     domain.SnapshotArchive
	SalesArchiver *s3blob.SalesArchiver

	Notifier *notify.Notifier

	// Checks probe each connected backend for the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs every backend enabled in cfg and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- Wallet and ledger ---
	var signer ledger.TxSigner
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if keyCfg.Configured() {
		key, err := crypto.LoadKey(keyCfg)
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
		s, err := crypto.NewTxSigner(key, big.NewInt(cfg.Ledger.ChainID))
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
		signer = s
		logger.Info("wallet loaded", slog.String("address", s.Address().Hex()))
	} else {
		logger.Warn("no wallet configured, marketplace actions are disabled")
	}

	lc, err := ledger.Dial(ctx, cfg.Ledger.RPCURL, ledger.Config{
		Marketplace: common.HexToAddress(cfg.Ledger.MarketplaceAddress),
		NFT:         common.HexToAddress(cfg.Ledger.NFTAddress),
		ConfirmPoll: cfg.Ledger.ConfirmPoll.Duration,
	}, signer, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, lc.Close)
	deps.Ledger = lc
	deps.Resolver = ipfs.NewResolver(cfg.Metadata.IPFSGateway)

	fetcher := metadata.NewFetcher(cfg.Metadata.Timeout.Duration)
	deps.Metadata = fetcher

	// --- Postgres ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: %w", err))
			}
		}
		deps.SaleStore = postgres.NewSaleStore(pg.Pool())
		deps.AuditStore = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Metadata = metadata.NewCachedFetcher(fetcher, redis.NewMetadataCache(rc, cfg.Metadata.CacheTTL.Duration), logger)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.LockManager = service.NewLocalLocks()
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		writer, reader := s3blob.NewWriter(sc), s3blob.NewReader(sc)
		deps.Snapshots = s3blob.NewSnapshotStore(writer, reader)
		if deps.SaleStore != nil {
			deps.SalesArchiver = s3blob.NewSalesArchiver(writer, reader, deps.SaleStore, deps.AuditStore)
		}
		deps.Checks["s3"] = sc.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
