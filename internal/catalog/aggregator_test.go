package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/platform/ipfs"
	"github.com/alanyoungcy/nftmarket/internal/platform/ledger/ledgertest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]*domain.Metadata
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*domain.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	md, ok := f.docs[url]
	if !ok {
		return nil, errors.New("404")
	}
	cp := *md
	return &cp, nil
}

// scenarioLedger holds a 0.5 ETH listing for token 7 and an active auction
// for token 9 with a 1 ETH minimum bid ending in an hour.
func scenarioLedger(now time.Time) (*ledgertest.Ledger, *fakeFetcher) {
	l := ledgertest.New(bidderB)
	l.Listings = []domain.ListingRecord{
		{NFT: l.Collection, TokenID: big.NewInt(7), Seller: sellerA, Price: eth(1, 2)},
	}
	l.Auctions = []domain.AuctionRecord{
		{NFT: l.Collection, TokenID: big.NewInt(3), Seller: sellerA, MinBid: ethUnits,
			HighestBid: big.NewInt(0), EndTime: big.NewInt(now.Add(-time.Hour).Unix()), Active: false},
		{NFT: l.Collection, TokenID: big.NewInt(9), Seller: sellerA, MinBid: ethUnits,
			HighestBid: big.NewInt(0), EndTime: big.NewInt(now.Add(time.Hour).Unix()), Active: true},
	}
	l.URIs[7] = "ipfs://QmSeven"
	l.URIs[9] = "ipfs://QmNine"
	l.URIs[3] = "ipfs://QmThree"
	l.Owners[7] = sellerA
	l.Owners[9] = l.Marketplace

	f := &fakeFetcher{docs: map[string]*domain.Metadata{
		"https://ipfs.io/ipfs/QmSeven": {Name: "Seven", Image: "ipfs://QmSevenImg", Category: "Art"},
	}}
	return l, f
}

func TestAggregatorLoad(t *testing.T) {
	now := time.Now()
	l, f := scenarioLedger(now)
	agg := NewAggregator(l, f, ipfs.NewResolver(""), 4, testLogger())

	c, err := agg.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Items) != 2 {
		t.Fatalf("expected listing + active auction, got %d items", len(c.Items))
	}

	seven := c.Items[0]
	if seven.TokenID != 7 || seven.Role != domain.RoleDirectListing {
		t.Fatalf("unexpected first item %+v", seven)
	}
	if seven.Name != "Seven" || seven.Image != "https://ipfs.io/ipfs/QmSevenImg" {
		t.Fatalf("metadata not resolved: %+v", seven)
	}

	nine := c.Items[1]
	if nine.TokenID != 9 || nine.Role != domain.RoleAuction || *nine.AuctionID != 1 {
		t.Fatalf("unexpected auction item %+v", nine)
	}
	// Metadata for token 9 is missing; the item degrades instead of failing.
	if nine.Name != "NFT #9" {
		t.Fatalf("expected placeholder name, got %q", nine.Name)
	}
	if f.calls != 2 {
		t.Fatalf("inactive auctions must not be resolved, fetch calls = %d", f.calls)
	}
}

func TestAggregatorLedgerUnavailable(t *testing.T) {
	l, f := scenarioLedger(time.Now())
	l.AuctionsErr = errors.New("connection refused")
	agg := NewAggregator(l, f, ipfs.NewResolver(""), 4, testLogger())

	_, err := agg.Load(context.Background())
	if !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
}

func TestAggregatorOverflowFailsLoad(t *testing.T) {
	l, f := scenarioLedger(time.Now())
	l.Listings = append(l.Listings, domain.ListingRecord{
		NFT: l.Collection, TokenID: new(big.Int).Lsh(big.NewInt(1), 80), Seller: sellerA, Price: big.NewInt(1),
	})
	agg := NewAggregator(l, f, ipfs.NewResolver(""), 4, testLogger())

	_, err := agg.Load(context.Background())
	if !errors.Is(err, domain.ErrNumericOverflow) {
		t.Fatalf("expected ErrNumericOverflow, got %v", err)
	}
}
