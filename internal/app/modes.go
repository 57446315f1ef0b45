package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftmarket/internal/auction"
	"github.com/alanyoungcy/nftmarket/internal/catalog"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/pipeline"
	"github.com/alanyoungcy/nftmarket/internal/server"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	notifyTimeout   = 15 * time.Second
)

// runtime is the set of components shared by every mode.
type runtime struct {
	session   *catalog.Session
	clocks    *auction.Registry
	pipeline  *pipeline.Orchestrator
	hub       *ws.Hub
	server    *server.Server
	publisher domain.Publisher
}

type catalogEvent struct {
	Generation uint64    `json:"generation"`
	Items      int       `json:"items"`
	LoadedAt   time.Time `json:"loadedAt"`
}

type clockEvent struct {
	AuctionID uint64 `json:"auctionId"`
	auction.State
}

// ServeMode runs the HTTP API and WebSocket hub with live auction clocks and
// a catalog refresh loop.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	return a.run(ctx, a.build(ctx, deps, true, false))
}

// SyncMode runs the background pipeline: catalog refresh, sales ingestion,
// snapshots, the monthly export and auction-ended notifications.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")
	return a.run(ctx, a.build(ctx, deps, false, true))
}

// FullMode runs serve and sync in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, a.build(ctx, deps, true, true))
}

func (a *App) build(ctx context.Context, deps *Dependencies, serve, jobs bool) *runtime {
	rt := &runtime{}

	aggregator := catalog.NewAggregator(deps.Ledger, deps.Metadata, deps.Resolver, a.cfg.Catalog.MetadataConcurrency, a.logger)
	rt.session = catalog.NewSession(aggregator, a.logger)
	rt.clocks = auction.NewRegistry(a.cfg.Catalog.ClockInterval.Duration, nil, a.logger)
	a.closers = append(a.closers, rt.clocks.Close)

	if serve {
		rt.hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode: a.cfg.Mode,
			Status: func() map[string]any {
				c := rt.session.Current()
				return map[string]any{
					"catalogGeneration": c.Generation,
					"items":             len(c.Items),
					"readOnly":          deps.Ledger.Account() == (common.Address{}),
				}
			},
		})
	}
	switch {
	case deps.SignalBus != nil:
		rt.publisher = deps.SignalBus
	case rt.hub != nil:
		rt.publisher = rt.hub
	}

	rt.session.OnCommit(func(c domain.Catalog) {
		rt.clocks.Reset(c)
		a.publish(ctx, rt.publisher, domain.ChannelCatalog, catalogEvent{
			Generation: c.Generation,
			Items:      len(c.Items),
			LoadedAt:   c.LoadedAt,
		})
	})
	rt.clocks.OnTick = func(id uint64, s auction.State) {
		a.publish(ctx, rt.publisher, domain.ChannelAuctionClock, clockEvent{AuctionID: id, State: s})
	}
	rt.clocks.OnEnded = func(item domain.MarketItem) {
		a.publish(ctx, rt.publisher, domain.ChannelAuctionEnded, item)
		// Only the process running jobs notifies, so a split serve/sync
		// deployment sends one message per auction.
		if !jobs {
			return
		}
		nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := deps.Notifier.AuctionEnded(nctx, item); err != nil {
			a.logger.Warn("auction ended notification failed", slog.String("error", err.Error()))
		}
	}

	pcfg := pipeline.Config{RefreshInterval: a.cfg.Catalog.RefreshInterval.Duration}
	var (
		ingester  pipeline.SalesIngester
		snapshots domain.SnapshotArchive
		archiver  *pipeline.Archiver
	)
	sales := service.NewSalesService(aggregator, deps.SaleStore, a.logger)
	if jobs {
		pcfg.SalesInterval = a.cfg.Pipeline.SalesInterval.Duration
		pcfg.SnapshotInterval = a.cfg.Pipeline.SnapshotInterval.Duration
		pcfg.ArchiveCron = a.cfg.Pipeline.ArchiveCron
		if deps.SaleStore != nil {
			ingester = sales
		}
		snapshots = deps.Snapshots
		if deps.SalesArchiver != nil {
			archiver = pipeline.NewArchiver(deps.SalesArchiver, a.logger)
		}
	} else if deps.Snapshots != nil {
		// Serve mode never writes snapshots but may bootstrap from one.
		snapshots = deps.Snapshots
	}
	rt.pipeline = pipeline.NewOrchestrator(rt.session, ingester, snapshots, archiver, deps.Notifier, pcfg, a.logger)

	if !serve {
		return rt
	}

	notices := service.NewNoticeBoard(rt.publisher, a.logger)
	dispatcher := service.NewDispatcher(deps.Ledger, deps.Ledger, rt.session, deps.LockManager, notices, a.logger).
		WithAudit(deps.AuditStore).
		WithBus(rt.publisher).
		WithNotifier(deps.Notifier).
		WithLockTTL(a.cfg.Ledger.ActionLockTTL.Duration)
	markets := service.NewMarketService(deps.Ledger, aggregator, rt.session, deps.SaleStore, a.logger)

	health := handler.NewHealthHandler(rt.session, a.logger)
	for name, check := range deps.Checks {
		health.WithCheck(name, check)
	}
	catalogHandler := handler.NewCatalogHandler(rt.session, rt.clocks, a.logger)

	rt.server = server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  health,
		Catalog: catalogHandler,
		Market:  handler.NewMarketHandler(markets, sales, catalogHandler, a.logger),
		Actions: handler.NewActionHandler(dispatcher, notices, a.logger),
	}, rt.hub, deps.RateLimiter, a.logger)

	return rt
}

// run loads the first catalog and blocks on every component of rt.
func (a *App) run(ctx context.Context, rt *runtime) error {
	if err := rt.pipeline.Bootstrap(ctx); err != nil {
		a.logger.WarnContext(ctx, "starting without a catalog, refresh loop will retry",
			slog.String("error", err.Error()),
		)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.pipeline.Run(gctx)
	})

	if rt.hub != nil {
		g.Go(func() error {
			if err := rt.hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	if rt.server != nil {
		g.Go(rt.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return rt.server.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}

func (a *App) publish(ctx context.Context, pub domain.Publisher, channel string, v any) {
	if pub == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("encode event", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := pub.Publish(ctx, channel, payload); err != nil {
		a.logger.Debug("publish event", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}
