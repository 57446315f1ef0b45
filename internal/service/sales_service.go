package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/metrics"
)

// SalesLoader reads the ledger's full sales history.
type SalesLoader interface {
	LoadSales(ctx context.Context) ([]domain.SaleRecord, error)
}

// SalesService mirrors the ledger's append-only sales history into the
// store.
type SalesService struct {
	loader SalesLoader
	store  domain.SaleStore
	logger *slog.Logger
}

func NewSalesService(loader SalesLoader, store domain.SaleStore, logger *slog.Logger) *SalesService {
	return &SalesService{
		loader: loader,
		store:  store,
		logger: logger.With(slog.String("component", "sales_service")),
	}
}

// Ingest writes sales newer than the stored high-water mark and returns how
// many rows were added. Re-running it is harmless.
func (s *SalesService) Ingest(ctx context.Context) (int64, error) {
	sales, err := s.loader.LoadSales(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: ingest sales: %w", err)
	}
	last, err := s.store.LastIndex(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: ingest sales: %w", err)
	}

	fresh := sales[:0:0]
	for _, sale := range sales {
		if last < 0 || sale.Index > uint64(last) {
			fresh = append(fresh, sale)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	n, err := s.store.InsertBatch(ctx, fresh)
	metrics.SalesIngested.Add(float64(n))
	if err != nil {
		return n, fmt.Errorf("service: ingest sales: %w", err)
	}
	s.logger.Info("sales ingested",
		slog.Int64("inserted", n),
		slog.Int("seen", len(sales)),
	)
	return n, nil
}

// Recent returns sales newest first. Without a store it pages the ledger's
// history in memory.
func (s *SalesService) Recent(ctx context.Context, opts domain.ListOpts) ([]domain.SaleRecord, error) {
	if s.store != nil {
		out, err := s.store.ListRecent(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("service: recent sales: %w", err)
		}
		return out, nil
	}

	sales, err := s.loader.LoadSales(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: recent sales: %w: %w", domain.ErrCatalogUnavailable, err)
	}
	out := make([]domain.SaleRecord, 0, len(sales))
	for _, sale := range sales {
		at := time.Unix(sale.Timestamp, 0)
		if opts.Since != nil && at.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && at.After(*opts.Until) {
			continue
		}
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index > out[j].Index })

	start := min(max(opts.Offset, 0), len(out))
	out = out[start:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
