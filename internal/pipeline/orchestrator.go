// Package pipeline runs the background loops that keep the catalog and the
// sales history in sync with the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftmarket/internal/catalog"
	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Session is the part of catalog.Session the pipeline drives.
type Session interface {
	Reload(ctx context.Context) (domain.Catalog, error)
	Restore(c domain.Catalog) bool
	Current() domain.Catalog
	Loaded() bool
}

// SalesIngester copies new ledger sales into the history store.
type SalesIngester interface {
	Ingest(ctx context.Context) (int64, error)
}

// CatalogNotifier is told when catalog refreshes start failing.
type CatalogNotifier interface {
	CatalogFailed(ctx context.Context, err error) error
}

// Config sets loop cadences. Zero intervals disable the matching loop.
type Config struct {
	RefreshInterval  time.Duration
	SalesInterval    time.Duration
	SnapshotInterval time.Duration
	ArchiveCron      string
}

// Orchestrator runs catalog refresh, sales ingestion, snapshot archival and
// sales export as one errgroup.
type Orchestrator struct {
	session   Session
	sales     SalesIngester
	snapshots domain.SnapshotArchive
	archiver  *Archiver
	notifier  CatalogNotifier
	cfg       Config
	logger    *slog.Logger

	lastSaved uint64
}

// NewOrchestrator creates an Orchestrator. sales, snapshots, archiver and
// notifier are optional.
func NewOrchestrator(
	session Session,
	sales SalesIngester,
	snapshots domain.SnapshotArchive,
	archiver *Archiver,
	notifier CatalogNotifier,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		session:   session,
		sales:     sales,
		snapshots: snapshots,
		archiver:  archiver,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Bootstrap performs the first catalog load. When the ledger is unreachable
// it falls back to the latest archived snapshot so the API can serve stale
// data; the refresh loop replaces it once the ledger recovers.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	_, err := o.session.Reload(ctx)
	if err == nil || errors.Is(err, catalog.ErrStale) {
		return nil
	}
	o.logger.Warn("initial catalog load failed", slog.String("error", err.Error()))
	if o.snapshots == nil {
		return fmt.Errorf("pipeline: bootstrap: %w", err)
	}

	snap, snapErr := o.snapshots.Latest(ctx)
	if snapErr != nil {
		return fmt.Errorf("pipeline: bootstrap: %w (no snapshot: %w)", err, snapErr)
	}
	if o.session.Restore(snap) {
		o.lastSaved = o.session.Current().Generation
		o.logger.Info("restored catalog snapshot",
			slog.Int("items", len(snap.Items)),
			slog.Time("loaded_at", snap.LoadedAt),
		)
	}
	return nil
}

// Run starts every configured loop and blocks until ctx is cancelled or a
// loop fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting",
		slog.Duration("refresh_interval", o.cfg.RefreshInterval),
		slog.Duration("sales_interval", o.cfg.SalesInterval),
		slog.Duration("snapshot_interval", o.cfg.SnapshotInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.cfg.RefreshInterval > 0 {
		g.Go(func() error {
			return o.every(ctx, o.cfg.RefreshInterval, false, o.refreshFunc())
		})
	}
	if o.sales != nil && o.cfg.SalesInterval > 0 {
		g.Go(func() error {
			return o.every(ctx, o.cfg.SalesInterval, true, o.ingest)
		})
	}
	if o.snapshots != nil && o.cfg.SnapshotInterval > 0 {
		g.Go(func() error {
			return o.every(ctx, o.cfg.SnapshotInterval, false, o.Snapshot)
		})
	}
	if o.archiver != nil && o.cfg.ArchiveCron != "" {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.cfg.ArchiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}

// every runs fn on each tick. Errors from fn are logged, not fatal.
func (o *Orchestrator) every(ctx context.Context, interval time.Duration, immediate bool, fn func(context.Context) error) error {
	if immediate {
		o.runOnce(ctx, fn)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.runOnce(ctx, fn)
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		o.logger.Warn("pipeline step failed", slog.String("error", err.Error()))
	}
}

// refreshFunc reloads the catalog and notifies only on the transition from
// healthy to failing.
func (o *Orchestrator) refreshFunc() func(context.Context) error {
	failing := false
	return func(ctx context.Context) error {
		_, err := o.session.Reload(ctx)
		switch {
		case err == nil || errors.Is(err, catalog.ErrStale):
			if failing {
				o.logger.Info("catalog refresh recovered")
			}
			failing = false
			return nil
		case ctx.Err() != nil:
			return nil
		}
		if !failing && o.notifier != nil {
			if nerr := o.notifier.CatalogFailed(ctx, err); nerr != nil {
				o.logger.Debug("catalog failure notify failed", slog.String("error", nerr.Error()))
			}
		}
		failing = true
		return fmt.Errorf("refresh: %w", err)
	}
}

func (o *Orchestrator) ingest(ctx context.Context) error {
	if _, err := o.sales.Ingest(ctx); err != nil {
		return fmt.Errorf("sales: %w", err)
	}
	return nil
}

// Snapshot archives the installed catalog if it changed since the last
// save.
func (o *Orchestrator) Snapshot(ctx context.Context) error {
	if !o.session.Loaded() {
		return nil
	}
	c := o.session.Current()
	if c.Generation == o.lastSaved {
		return nil
	}
	path, err := o.snapshots.Save(ctx, c)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	o.lastSaved = c.Generation
	o.logger.Debug("catalog snapshot saved",
		slog.String("path", path),
		slog.Uint64("generation", c.Generation),
	)
	return nil
}
