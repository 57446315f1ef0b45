// Package catalog reconciles raw ledger listings and auctions into a single
// normalized, deduplicated catalog of market items.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultMetadataConcurrency = 16

// Resolver maps a content locator to a fetchable URL.
type Resolver interface {
	Resolve(locator string) string
}

// Aggregator loads listings and active auctions from the ledger and resolves
// each token's metadata with a bounded fan-out.
type Aggregator struct {
	ledger      domain.LedgerReader
	fetcher     domain.MetadataFetcher
	resolver    Resolver
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewAggregator creates an Aggregator. concurrency caps in-flight metadata
// resolutions; values below one fall back to a default.
func NewAggregator(
	ledger domain.LedgerReader,
	fetcher domain.MetadataFetcher,
	resolver Resolver,
	concurrency int,
	logger *slog.Logger,
) *Aggregator {
	if concurrency < 1 {
		concurrency = defaultMetadataConcurrency
	}
	return &Aggregator{
		ledger:      ledger,
		fetcher:     fetcher,
		resolver:    resolver,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "catalog_aggregator")),
	}
}

// Load fetches and merges the current marketplace state. A ledger read
// failure returns ErrCatalogUnavailable; a metadata failure only degrades the
// affected item. The returned catalog has no generation; Session assigns one.
func (a *Aggregator) Load(ctx context.Context) (domain.Catalog, error) {
	var (
		listings []domain.ListingRecord
		auctions []domain.AuctionRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		listings, err = a.ledger.GetAllListings(gctx)
		if err != nil {
			return fmt.Errorf("get listings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		auctions, err = a.ledger.GetAllAuctions(gctx)
		if err != nil {
			return fmt.Errorf("get auctions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Catalog{}, fmt.Errorf("catalog: load: %w: %w", domain.ErrCatalogUnavailable, err)
	}

	active := auctions[:0:0]
	for _, rec := range auctions {
		if rec.Active {
			active = append(active, rec)
		}
	}

	listingMeta := make([]*domain.Metadata, len(listings))
	auctionMeta := make([]*domain.Metadata, len(active))

	mg, mctx := errgroup.WithContext(ctx)
	mg.SetLimit(a.concurrency)
	for i, rec := range listings {
		mg.Go(func() error {
			listingMeta[i] = a.metadataFor(mctx, rec.TokenID)
			return nil
		})
	}
	for i, rec := range active {
		mg.Go(func() error {
			auctionMeta[i] = a.metadataFor(mctx, rec.TokenID)
			return nil
		})
	}
	_ = mg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.Catalog{}, fmt.Errorf("catalog: load: %w", err)
	}

	items := make([]domain.MarketItem, 0, len(listings)+len(active))
	for i, rec := range listings {
		item, err := NormalizeListing(rec, listingMeta[i])
		if err != nil {
			return domain.Catalog{}, err
		}
		items = append(items, item)
	}
	for i, rec := range active {
		item, err := NormalizeAuction(rec, auctionMeta[i])
		if err != nil {
			return domain.Catalog{}, err
		}
		items = append(items, item)
	}

	items = Dedupe(items)
	a.logger.Debug("catalog loaded",
		slog.Int("listings", len(listings)),
		slog.Int("auctions", len(active)),
		slog.Int("items", len(items)),
	)
	return domain.Catalog{Items: items, LoadedAt: a.now().UTC()}, nil
}

// LoadSales returns the ledger's sales history.
func (a *Aggregator) LoadSales(ctx context.Context) ([]domain.SaleRecord, error) {
	sales, err := a.ledger.GetSales(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: load sales: %w", err)
	}
	return sales, nil
}

// Metadata resolves a single token's metadata, returning nil on any failure.
func (a *Aggregator) Metadata(ctx context.Context, tokenID *big.Int) *domain.Metadata {
	return a.metadataFor(ctx, tokenID)
}

func (a *Aggregator) metadataFor(ctx context.Context, tokenID *big.Int) *domain.Metadata {
	md, err := a.resolveMetadata(ctx, tokenID)
	if err != nil {
		metrics.MetadataFailures.Inc()
		a.logger.Debug("metadata unavailable",
			slog.String("token_id", tokenID.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return md
}

func (a *Aggregator) resolveMetadata(ctx context.Context, tokenID *big.Int) (*domain.Metadata, error) {
	if tokenID == nil {
		return nil, fmt.Errorf("%w: missing token id", domain.ErrMetadataUnavailable)
	}
	uri, err := a.ledger.TokenURI(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: token uri: %w", domain.ErrMetadataUnavailable, err)
	}
	url := a.resolver.Resolve(uri)
	if url == "" {
		return nil, fmt.Errorf("%w: empty token uri", domain.ErrMetadataUnavailable)
	}
	md, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		if errors.Is(err, domain.ErrMetadataUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrMetadataUnavailable, err)
	}
	out := *md
	out.Image = a.resolver.Resolve(md.Image)
	return &out, nil
}

// Dedupe keeps one item per (collection, token, role). On collision the item
// with the highest ledger index wins, in the position of the first
// occurrence.
func Dedupe(items []domain.MarketItem) []domain.MarketItem {
	pos := make(map[domain.ItemKey]int, len(items))
	out := make([]domain.MarketItem, 0, len(items))
	for _, it := range items {
		key := it.Key()
		if i, ok := pos[key]; ok {
			if it.SequenceIndex() > out[i].SequenceIndex() {
				out[i] = it
			}
			continue
		}
		pos[key] = len(out)
		out = append(out, it)
	}
	return out
}
