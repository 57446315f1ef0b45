package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftmarket/internal/catalog"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/loyalty"
)

const ownerScanConcurrency = 8

// MetadataSource resolves one token's metadata, or nil.
type MetadataSource interface {
	Metadata(ctx context.Context, tokenID *big.Int) *domain.Metadata
}

// CatalogView exposes the installed catalog.
type CatalogView interface {
	Current() domain.Catalog
}

// Stats summarizes marketplace activity.
type Stats struct {
	Collections    int    `json:"collections"`
	Sellers        int    `json:"sellers"`
	Listings       int    `json:"listings"`
	Auctions       int    `json:"auctions"`
	Sales          int    `json:"sales"`
	VolumeWei      string `json:"volumeWei"`
	Volume         string `json:"volume"`
	HighestSaleWei string `json:"highestSaleWei"`
	HighestSale    string `json:"highestSale"`
}

// ItemDetail is a single token's market view.
type ItemDetail struct {
	Item  domain.MarketItem `json:"item"`
	Owner common.Address    `json:"owner"`
}

// Profile is a wallet's holdings and history.
type Profile struct {
	Address  common.Address      `json:"address"`
	Owned    []domain.MarketItem `json:"owned"`
	Listings []domain.MarketItem `json:"listings"`
	Auctions []domain.MarketItem `json:"auctions"`
	Sales    []domain.SaleRecord `json:"sales"`
	Points   int64               `json:"loyaltyPoints"`
	Rank     loyalty.Rank        `json:"rank"`
}

// MarketService answers read-only market questions directly from the ledger
// and the installed catalog.
type MarketService struct {
	reader   domain.LedgerReader
	metadata MetadataSource
	view     CatalogView
	sales    domain.SaleStore
	logger   *slog.Logger
}

// NewMarketService creates a MarketService. sales may be nil, in which case
// sale history is read from the ledger.
func NewMarketService(reader domain.LedgerReader, metadata MetadataSource, view CatalogView, sales domain.SaleStore, logger *slog.Logger) *MarketService {
	return &MarketService{
		reader:   reader,
		metadata: metadata,
		view:     view,
		sales:    sales,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// Stats counts distinct collections and sellers over every listing, auction
// and sale, and totals sale volume.
func (s *MarketService) Stats(ctx context.Context) (Stats, error) {
	var (
		listings []domain.ListingRecord
		auctions []domain.AuctionRecord
		sales    []domain.SaleRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		listings, err = s.reader.GetAllListings(gctx)
		return err
	})
	g.Go(func() (err error) {
		auctions, err = s.reader.GetAllAuctions(gctx)
		return err
	})
	g.Go(func() (err error) {
		sales, err = s.reader.GetSales(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("service: stats: %w: %w", domain.ErrCatalogUnavailable, err)
	}

	collections := make(map[common.Address]struct{})
	sellers := make(map[common.Address]struct{})
	volume := new(big.Int)
	highest := new(big.Int)

	for _, sale := range sales {
		collections[sale.NFT] = struct{}{}
		sellers[sale.Seller] = struct{}{}
		if sale.Price != nil {
			volume.Add(volume, sale.Price)
			if sale.Price.Cmp(highest) > 0 {
				highest.Set(sale.Price)
			}
		}
	}
	for _, l := range listings {
		collections[l.NFT] = struct{}{}
		sellers[l.Seller] = struct{}{}
	}
	active := 0
	for _, a := range auctions {
		collections[a.NFT] = struct{}{}
		sellers[a.Seller] = struct{}{}
		if a.Active {
			active++
		}
	}

	return Stats{
		Collections:    len(collections),
		Sellers:        len(sellers),
		Listings:       len(listings),
		Auctions:       active,
		Sales:          len(sales),
		VolumeWei:      volume.String(),
		Volume:         domain.FormatEther(volume),
		HighestSaleWei: highest.String(),
		HighestSale:    domain.FormatEther(highest),
	}, nil
}

// Item builds the view of one token: its owner, metadata, and the first
// listing or active auction for it. A listing takes precedence.
func (s *MarketService) Item(ctx context.Context, nft common.Address, tokenID uint64) (ItemDetail, error) {
	id := new(big.Int).SetUint64(tokenID)

	var (
		owner    common.Address
		md       *domain.Metadata
		listings []domain.ListingRecord
		auctions []domain.AuctionRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		owner, err = s.reader.OwnerOf(gctx, id)
		return err
	})
	g.Go(func() error {
		md = s.metadata.Metadata(gctx, id)
		return nil
	})
	g.Go(func() (err error) {
		listings, err = s.reader.GetAllListings(gctx)
		return err
	})
	g.Go(func() (err error) {
		auctions, err = s.reader.GetAllAuctions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		var revert *domain.RevertError
		if errors.As(err, &revert) {
			return ItemDetail{}, fmt.Errorf("service: item %d: %w", tokenID, domain.ErrNotFound)
		}
		return ItemDetail{}, fmt.Errorf("service: item %d: %w: %w", tokenID, domain.ErrCatalogUnavailable, err)
	}

	detail := ItemDetail{Owner: owner}
	for _, rec := range listings {
		if rec.NFT == nft && rec.TokenID != nil && rec.TokenID.Cmp(id) == 0 {
			item, err := catalog.NormalizeListing(rec, md)
			if err != nil {
				return ItemDetail{}, fmt.Errorf("service: item %d: %w", tokenID, err)
			}
			item.Owner = &owner
			detail.Item = item
			return detail, nil
		}
	}
	for _, rec := range auctions {
		if rec.Active && rec.NFT == nft && rec.TokenID != nil && rec.TokenID.Cmp(id) == 0 {
			item, err := catalog.NormalizeAuction(rec, md)
			if err != nil {
				return ItemDetail{}, fmt.Errorf("service: item %d: %w", tokenID, err)
			}
			item.Owner = &owner
			detail.Item = item
			return detail, nil
		}
	}
	detail.Item = catalog.NormalizeOwned(nft, tokenID, owner, md)
	return detail, nil
}

// Profile scans token ids 1..tokenCount for tokens owned by addr and joins
// them with the wallet's catalog entries, sales and loyalty balance.
func (s *MarketService) Profile(ctx context.Context, addr common.Address) (Profile, error) {
	count, err := s.reader.TokenCount(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("service: profile: %w: %w", domain.ErrCatalogUnavailable, err)
	}
	n, err := domain.Uint64("tokenCount", count)
	if err != nil {
		return Profile{}, fmt.Errorf("service: profile: %w", err)
	}

	nft := s.reader.NFTAddress()
	owned := make([]*domain.MarketItem, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ownerScanConcurrency)
	for i := uint64(1); i <= n; i++ {
		g.Go(func() error {
			id := new(big.Int).SetUint64(i)
			owner, err := s.reader.OwnerOf(gctx, id)
			if err != nil {
				// Burned or never minted.
				s.logger.Debug("owner lookup failed",
					slog.Uint64("token_id", i),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if owner != addr {
				return nil
			}
			item := catalog.NormalizeOwned(nft, i, owner, s.metadata.Metadata(gctx, id))
			owned[i-1] = &item
			return nil
		})
	}

	var points *big.Int
	var sales []domain.SaleRecord
	g.Go(func() (err error) {
		points, err = s.reader.LoyaltyPoints(gctx, addr)
		return err
	})
	g.Go(func() (err error) {
		sales, err = s.walletSales(gctx, addr)
		return err
	})
	if err := g.Wait(); err != nil {
		return Profile{}, fmt.Errorf("service: profile: %w", err)
	}

	p := Profile{Address: addr}
	for _, it := range owned {
		if it != nil {
			p.Owned = append(p.Owned, *it)
		}
	}
	for _, it := range s.view.Current().Items {
		if it.Seller == nil || *it.Seller != addr {
			continue
		}
		switch it.Role {
		case domain.RoleDirectListing:
			p.Listings = append(p.Listings, it)
		case domain.RoleAuction:
			p.Auctions = append(p.Auctions, it)
		}
	}
	p.Sales = sales
	p.Points = saturatingInt64(points)
	p.Rank = loyalty.RankFor(p.Points)
	return p, nil
}

func (s *MarketService) walletSales(ctx context.Context, addr common.Address) ([]domain.SaleRecord, error) {
	if s.sales != nil {
		out, err := s.sales.ListByWallet(ctx, addr.Hex(), domain.ListOpts{})
		if err == nil {
			return out, nil
		}
		s.logger.Warn("sales store unavailable, reading ledger", slog.String("error", err.Error()))
	}
	all, err := s.reader.GetSales(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.SaleRecord
	for _, sale := range all {
		if sale.Seller == addr || sale.Buyer == addr {
			out = append(out, sale)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index > out[j].Index })
	return out, nil
}

// ParseAddress accepts a hex address in any case.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func saturatingInt64(v *big.Int) int64 {
	switch {
	case v == nil || v.Sign() <= 0:
		return 0
	case !v.IsInt64():
		return 1<<63 - 1
	}
	return v.Int64()
}
