package service

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/loyalty"
)

func TestStats(t *testing.T) {
	h := newHarness(t, bidderB)
	h.ledger.Sales = []domain.SaleRecord{
		{NFT: h.ledger.Collection, TokenID: 1, Seller: bidderB, Buyer: sellerA, Price: eth(3, 1)},
		{NFT: h.ledger.Collection, TokenID: 2, Seller: sellerA, Buyer: bidderB, Price: eth(1, 2)},
	}
	svc := NewMarketService(h.ledger, h.agg, h.session, nil, testLogger())

	st, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Collections != 1 || st.Sellers != 2 || st.Listings != 1 || st.Auctions != 2 || st.Sales != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if st.Volume != "3.5" || st.HighestSale != "3.0" {
		t.Fatalf("volume %s highest %s", st.Volume, st.HighestSale)
	}
}

func TestStatsLedgerDown(t *testing.T) {
	h := newHarness(t, bidderB)
	h.ledger.AuctionsErr = errors.New("rpc down")
	svc := NewMarketService(h.ledger, h.agg, h.session, nil, testLogger())
	if _, err := svc.Stats(context.Background()); !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestItem(t *testing.T) {
	h := newHarness(t, bidderB)
	svc := NewMarketService(h.ledger, h.agg, h.session, nil, testLogger())
	ctx := context.Background()
	nft := h.ledger.Collection

	listed, err := svc.Item(ctx, nft, 7)
	if err != nil {
		t.Fatal(err)
	}
	if listed.Item.Role != domain.RoleDirectListing || listed.Owner != sellerA || listed.Item.Name != "NFT #7" {
		t.Fatalf("token 7 = %+v", listed)
	}

	auctioned, err := svc.Item(ctx, nft, 9)
	if err != nil || auctioned.Item.Role != domain.RoleAuction {
		t.Fatalf("token 9 = %+v, %v", auctioned, err)
	}

	owned, err := svc.Item(ctx, nft, 12)
	if err != nil || owned.Item.Role != domain.RoleUnlisted || owned.Item.Owner == nil {
		t.Fatalf("token 12 = %+v, %v", owned, err)
	}
	if err := owned.Item.Validate(); err != nil {
		t.Fatalf("unlisted item invalid: %v", err)
	}

	if _, err := svc.Item(ctx, nft, 404); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing token err = %v", err)
	}
}

func TestProfile(t *testing.T) {
	h := newHarness(t, bidderB)
	h.ledger.Points[sellerA] = big.NewInt(250)
	h.ledger.Sales = []domain.SaleRecord{
		{Index: 0, NFT: h.ledger.Collection, TokenID: 1, Seller: sellerA, Buyer: bidderB, Price: eth(1, 1)},
		{Index: 1, NFT: h.ledger.Collection, TokenID: 2, Seller: bidderB, Buyer: bidderB, Price: eth(1, 1)},
	}
	svc := NewMarketService(h.ledger, h.agg, h.session, nil, testLogger())

	p, err := svc.Profile(context.Background(), sellerA)
	if err != nil {
		t.Fatal(err)
	}
	var owned []uint64
	for _, it := range p.Owned {
		owned = append(owned, it.TokenID)
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i] < owned[j] })
	if len(owned) != 2 || owned[0] != 7 || owned[1] != 12 {
		t.Fatalf("owned = %v", owned)
	}
	if len(p.Listings) != 1 || len(p.Auctions) != 2 {
		t.Fatalf("listings %d auctions %d", len(p.Listings), len(p.Auctions))
	}
	if len(p.Sales) != 1 || p.Sales[0].TokenID != 1 {
		t.Fatalf("sales = %+v", p.Sales)
	}
	if p.Points != 250 || p.Rank != loyalty.Silver {
		t.Fatalf("points %d rank %s", p.Points, p.Rank)
	}
}

type memSales struct {
	mu   sync.Mutex
	rows map[uint64]domain.SaleRecord
}

func newMemSales() *memSales { return &memSales{rows: map[uint64]domain.SaleRecord{}} }

func (m *memSales) InsertBatch(_ context.Context, sales []domain.SaleRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range sales {
		if _, ok := m.rows[s.Index]; !ok {
			m.rows[s.Index] = s
			n++
		}
	}
	return n, nil
}

func (m *memSales) LastIndex(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := int64(-1)
	for idx := range m.rows {
		last = max(last, int64(idx))
	}
	return last, nil
}

func (m *memSales) ListRecent(context.Context, domain.ListOpts) ([]domain.SaleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SaleRecord
	for _, s := range m.rows {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index > out[j].Index })
	return out, nil
}

func (m *memSales) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.SaleRecord, error) {
	all, _ := m.ListRecent(ctx, opts)
	addr, _ := ParseAddress(wallet)
	var out []domain.SaleRecord
	for _, s := range all {
		if s.Seller == addr || s.Buyer == addr {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestSalesIngestIsIdempotent(t *testing.T) {
	h := newHarness(t, bidderB)
	store := newMemSales()
	svc := NewSalesService(h.agg, store, testLogger())
	ctx := context.Background()

	if n, err := svc.Ingest(ctx); err != nil || n != 0 {
		t.Fatalf("empty ledger ingest = %d, %v", n, err)
	}

	if _, err := h.disp.Buy(ctx, BuyRequest{ref(7)}); err != nil {
		t.Fatal(err)
	}
	if n, err := svc.Ingest(ctx); err != nil || n != 1 {
		t.Fatalf("ingest = %d, %v", n, err)
	}
	if n, err := svc.Ingest(ctx); err != nil || n != 0 {
		t.Fatalf("re-ingest = %d, %v", n, err)
	}

	recent, err := svc.Recent(ctx, domain.ListOpts{})
	if err != nil || len(recent) != 1 || recent[0].Buyer != bidderB {
		t.Fatalf("recent = %+v, %v", recent, err)
	}

	// Profile prefers the store when one is configured.
	p, err := NewMarketService(h.ledger, h.agg, h.session, store, testLogger()).Profile(ctx, bidderB)
	if err != nil || len(p.Sales) != 1 {
		t.Fatalf("profile sales = %+v, %v", p.Sales, err)
	}
}

func TestRecentSalesFromLedgerWithoutStore(t *testing.T) {
	h := newHarness(t, bidderB)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		h.ledger.Sales = append(h.ledger.Sales, domain.SaleRecord{
			Index: uint64(i), TokenID: uint64(10 + i), Price: eth(1, 1),
			Timestamp: base.Add(time.Duration(i) * time.Hour).Unix(),
		})
	}
	svc := NewSalesService(h.agg, nil, testLogger())
	ctx := context.Background()

	indices := func(sales []domain.SaleRecord) []uint64 {
		out := make([]uint64, len(sales))
		for i, s := range sales {
			out[i] = s.Index
		}
		return out
	}
	since := base.Add(time.Hour)
	until := base.Add(time.Hour)
	tests := []struct {
		name string
		opts domain.ListOpts
		want []uint64
	}{
		{"all newest first", domain.ListOpts{}, []uint64{2, 1, 0}},
		{"limit", domain.ListOpts{Limit: 2}, []uint64{2, 1}},
		{"offset", domain.ListOpts{Limit: 1, Offset: 1}, []uint64{1}},
		{"offset past end", domain.ListOpts{Offset: 9}, []uint64{}},
		{"since", domain.ListOpts{Since: &since}, []uint64{2, 1}},
		{"until inclusive", domain.ListOpts{Until: &until}, []uint64{1, 0}},
	}
	for _, tt := range tests {
		got, err := svc.Recent(ctx, tt.opts)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if g := indices(got); !slices.Equal(g, tt.want) {
			t.Errorf("%s = %v, want %v", tt.name, g, tt.want)
		}
	}
}
