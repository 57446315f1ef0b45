package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/catalog"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/platform/ipfs"
	"github.com/alanyoungcy/nftmarket/internal/platform/ledger/ledgertest"
)

var (
	sellerA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bidderB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eth returns num/den ether in wei.
func eth(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), domain.WeiPerEther())
	return v.Quo(v, big.NewInt(den))
}

type noMetadata struct{}

func (noMetadata) Fetch(context.Context, string) (*domain.Metadata, error) {
	return nil, domain.ErrMetadataUnavailable
}

type memAudit struct {
	mu     sync.Mutex
	events []string
	detail []map[string]any
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.detail = append(m.detail, detail)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// marketLedger holds token 7 listed at 0.5 ETH, a live auction for token 9
// (1 ETH minimum, ends in an hour) and an expired but unsettled auction for
// token 4 with a 2 ETH winning bid.
func marketLedger(wallet common.Address, now time.Time) *ledgertest.Ledger {
	l := ledgertest.New(wallet)
	l.Now = func() time.Time { return now }
	l.Listings = []domain.ListingRecord{
		{NFT: l.Collection, TokenID: big.NewInt(7), Seller: sellerA, Price: eth(1, 2)},
	}
	l.Auctions = []domain.AuctionRecord{
		{NFT: l.Collection, TokenID: big.NewInt(9), Seller: sellerA, MinBid: eth(1, 1),
			HighestBid: big.NewInt(0), EndTime: big.NewInt(now.Add(time.Hour).Unix()), Active: true},
		{NFT: l.Collection, TokenID: big.NewInt(4), Seller: sellerA, MinBid: eth(1, 1),
			HighestBid: eth(2, 1), HighestBidder: bidderB,
			EndTime: big.NewInt(now.Add(-time.Minute).Unix()), Active: true},
	}
	l.Count = 12
	l.Owners[7] = sellerA
	l.Owners[9] = l.Marketplace
	l.Owners[4] = l.Marketplace
	l.Owners[12] = sellerA
	return l
}

type harness struct {
	ledger  *ledgertest.Ledger
	session *catalog.Session
	agg     *catalog.Aggregator
	notices *NoticeBoard
	audit   *memAudit
	disp    *Dispatcher
}

func newHarness(t *testing.T, wallet common.Address) *harness {
	t.Helper()
	now := time.Now()
	l := marketLedger(wallet, now)
	agg := catalog.NewAggregator(l, noMetadata{}, ipfs.NewResolver(""), 4, testLogger())
	session := catalog.NewSession(agg, testLogger())
	if _, err := session.Reload(context.Background()); err != nil {
		t.Fatalf("initial reload: %v", err)
	}
	notices := NewNoticeBoard(nil, testLogger())
	audit := &memAudit{}
	disp := NewDispatcher(l, l, session, NewLocalLocks(), notices, testLogger()).
		WithAudit(audit).
		WithClock(func() time.Time { return now })
	return &harness{ledger: l, session: session, agg: agg, notices: notices, audit: audit, disp: disp}
}

func ref(token uint64) ItemRef { return ItemRef{TokenID: token} }

func hasItem(c domain.Catalog, token uint64, role domain.MarketRole) bool {
	for _, it := range c.Items {
		if it.TokenID == token && it.Role == role {
			return true
		}
	}
	return false
}

func TestBuySettlesAndReloads(t *testing.T) {
	h := newHarness(t, bidderB)

	res, err := h.disp.Buy(context.Background(), BuyRequest{ref(7)})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if res.Points != 5 || res.Op != domain.OpBuy || res.TxHash == "" {
		t.Fatalf("result = %+v", res)
	}
	if hasItem(h.session.Current(), 7, domain.RoleDirectListing) {
		t.Fatal("bought listing still in catalog")
	}
	if len(h.ledger.Sales) != 1 || h.ledger.Sales[0].Price.Cmp(eth(1, 2)) != 0 {
		t.Fatalf("sales = %+v", h.ledger.Sales)
	}
	n, ok := h.notices.Get("buy")
	if !ok || n.Level != domain.NoticeSuccess || n.Points != 5 {
		t.Fatalf("notice = %+v", n)
	}
	if len(h.audit.events) != 1 || h.audit.events[0] != "action.buy" || h.audit.detail[0]["outcome"] != "ok" {
		t.Fatalf("audit = %v %v", h.audit.events, h.audit.detail)
	}
}

func TestValidationNeverReachesLedger(t *testing.T) {
	tests := []struct {
		name   string
		wallet common.Address
		run    func(d *Dispatcher) error
		reason string
	}{
		{"buy own listing", sellerA, func(d *Dispatcher) error {
			_, err := d.Buy(context.Background(), BuyRequest{ref(7)})
			return err
		}, "You cannot buy your own listing"},
		{"buy missing listing", bidderB, func(d *Dispatcher) error {
			_, err := d.Buy(context.Background(), BuyRequest{ref(99)})
			return err
		}, "Listing not found"},
		{"list zero price", sellerA, func(d *Dispatcher) error {
			_, err := d.List(context.Background(), ListRequest{ref(12), "0"})
			return err
		}, "Please enter a valid price"},
		{"list garbage price", sellerA, func(d *Dispatcher) error {
			_, err := d.List(context.Background(), ListRequest{ref(12), "abc"})
			return err
		}, "Please enter a valid price"},
		{"cancel someone else's listing", bidderB, func(d *Dispatcher) error {
			_, err := d.Cancel(context.Background(), CancelRequest{ref(7)})
			return err
		}, "Only the seller can cancel this listing"},
		{"auction negative duration", sellerA, func(d *Dispatcher) error {
			_, err := d.StartAuction(context.Background(), StartAuctionRequest{ref(12), "1", -5})
			return err
		}, "Enter a valid duration"},
		{"bid equal to minimum", bidderB, func(d *Dispatcher) error {
			_, err := d.Bid(context.Background(), BidRequest{ref(9), "1"})
			return err
		}, "Bid must be higher than current price"},
		{"bid on own auction", sellerA, func(d *Dispatcher) error {
			_, err := d.Bid(context.Background(), BidRequest{ref(9), "2"})
			return err
		}, "You cannot bid on your own auction"},
		{"bid after end", bidderB, func(d *Dispatcher) error {
			_, err := d.Bid(context.Background(), BidRequest{ref(4), "5"})
			return err
		}, "Auction has ended"},
		{"end running auction", bidderB, func(d *Dispatcher) error {
			_, err := d.EndAuction(context.Background(), EndAuctionRequest{ref(9)})
			return err
		}, "Auction is still running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.wallet)
			err := tt.run(h.disp)
			if !errors.Is(err, domain.ErrActionValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
			var ae *domain.ActionError
			if !errors.As(err, &ae) || ae.Reason != tt.reason {
				t.Fatalf("reason = %v, want %q", err, tt.reason)
			}
			if h.ledger.WriteCount() != 0 {
				t.Fatalf("ledger saw %d writes", h.ledger.WriteCount())
			}
		})
	}
}

func TestNoWallet(t *testing.T) {
	h := newHarness(t, bidderB)
	d := NewDispatcher(h.ledger, nil, h.session, NewLocalLocks(), h.notices, testLogger())
	_, err := d.Buy(context.Background(), BuyRequest{ref(7)})
	if !errors.Is(err, domain.ErrNoWallet) || !errors.Is(err, domain.ErrActionValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestRejectedWithLedgerReason(t *testing.T) {
	h := newHarness(t, bidderB)
	h.ledger.RevertReason = "Insufficient payment"
	before := len(h.session.Current().Items)

	_, err := h.disp.Buy(context.Background(), BuyRequest{ref(7)})
	var ae *domain.ActionError
	if !errors.As(err, &ae) || ae.Reason != "Insufficient payment" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, domain.ErrActionRejected) {
		t.Fatalf("err = %v, want rejected", err)
	}
	if len(h.session.Current().Items) != before || !hasItem(h.session.Current(), 7, domain.RoleDirectListing) {
		t.Fatal("rejected action must not change the catalog")
	}
	if n, _ := h.notices.Get("buy"); n.Level != domain.NoticeError || n.Message != "Insufficient payment" {
		t.Fatalf("notice = %+v", n)
	}
}

type brokenWriter struct{ *ledgertest.Ledger }

func (brokenWriter) BuyItem(context.Context, uint64, *big.Int) (domain.Commitment, error) {
	return nil, errors.New("connection refused")
}

func TestRejectedWithoutReasonUsesGenericMessage(t *testing.T) {
	h := newHarness(t, bidderB)
	d := NewDispatcher(h.ledger, brokenWriter{h.ledger}, h.session, NewLocalLocks(), h.notices, testLogger())

	_, err := d.Buy(context.Background(), BuyRequest{ref(7)})
	var ae *domain.ActionError
	if !errors.As(err, &ae) || ae.Reason != "Purchase failed" {
		t.Fatalf("err = %v", err)
	}
}

func TestActionInProgress(t *testing.T) {
	h := newHarness(t, bidderB)
	d := NewDispatcher(h.ledger, h.ledger, h.session, heldLocks{}, h.notices, testLogger())

	_, err := d.Buy(context.Background(), BuyRequest{ref(7)})
	if !errors.Is(err, domain.ErrActionInProgress) {
		t.Fatalf("err = %v", err)
	}
	if h.ledger.WriteCount() != 0 {
		t.Fatal("locked item reached the ledger")
	}
}

func TestListApprovesOnce(t *testing.T) {
	h := newHarness(t, sellerA)
	ctx := context.Background()

	if _, err := h.disp.List(ctx, ListRequest{ref(12), "2"}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := h.ledger.Writes; len(got) != 2 || got[0] != "approve" || got[1] != "list" {
		t.Fatalf("writes = %v", got)
	}
	if !hasItem(h.session.Current(), 12, domain.RoleDirectListing) {
		t.Fatal("new listing missing after reload")
	}

	if _, err := h.disp.StartAuction(ctx, StartAuctionRequest{ref(7), "1.5", 3600}); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if got := h.ledger.Writes; len(got) != 3 || got[2] != "start-auction" {
		t.Fatalf("writes = %v", got)
	}
}

func TestCancelThenReloadRemovesListing(t *testing.T) {
	h := newHarness(t, sellerA)
	if _, err := h.disp.Cancel(context.Background(), CancelRequest{ref(7)}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if hasItem(h.session.Current(), 7, domain.RoleDirectListing) {
		t.Fatal("cancelled listing survived reload")
	}
}

func TestBidAndEndAuction(t *testing.T) {
	h := newHarness(t, bidderB)
	ctx := context.Background()

	if _, err := h.disp.Bid(ctx, BidRequest{ref(9), "1.5"}); err != nil {
		t.Fatalf("Bid: %v", err)
	}
	it, ok := h.session.Current().Find(domain.ItemKey{NFT: h.ledger.Collection, TokenID: 9, Role: domain.RoleAuction})
	if !ok || it.HighestBid.Cmp(eth(3, 2)) != 0 {
		t.Fatalf("auction after bid = %+v", it)
	}

	res, err := h.disp.EndAuction(ctx, EndAuctionRequest{ref(4)})
	if err != nil {
		t.Fatalf("EndAuction: %v", err)
	}
	if res.Points != 20 {
		t.Fatalf("points = %d, want 20", res.Points)
	}
	if hasItem(h.session.Current(), 4, domain.RoleAuction) {
		t.Fatal("settled auction still listed")
	}
}

func TestDispatchRoutes(t *testing.T) {
	h := newHarness(t, bidderB)
	res, err := h.disp.Dispatch(context.Background(), domain.OpBid, ActionRequest{ItemRef: ref(9), Amount: "3"})
	if err != nil || res.Op != domain.OpBid {
		t.Fatalf("Dispatch = %+v, %v", res, err)
	}
	if _, err := h.disp.Dispatch(context.Background(), "mint", ActionRequest{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown op err = %v", err)
	}
}

func TestNoticeBoardReplacesByID(t *testing.T) {
	b := NewNoticeBoard(nil, testLogger())
	tick := time.Unix(100, 0)
	b.now = func() time.Time { tick = tick.Add(time.Second); return tick }
	ctx := context.Background()

	b.Put(ctx, domain.Notice{ID: "buy", Level: domain.NoticeLoading, Message: "Processing purchase..."})
	b.Put(ctx, domain.Notice{ID: "bid", Level: domain.NoticeLoading, Message: "Placing bid..."})
	b.Put(ctx, domain.Notice{ID: "buy", Level: domain.NoticeSuccess, Message: "Purchase Successful!"})

	list := b.List()
	if len(list) != 2 || list[0].ID != "buy" || list[0].Level != domain.NoticeSuccess {
		t.Fatalf("notices = %+v", list)
	}
	if !b.Dismiss("bid") || b.Dismiss("bid") {
		t.Fatal("Dismiss should remove exactly once")
	}
}

func TestLocalLocks(t *testing.T) {
	l := NewLocalLocks()
	unlock, err := l.Acquire(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(context.Background(), "k", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire err = %v", err)
	}
	unlock()
	unlock()
	if _, err := l.Acquire(context.Background(), "k", time.Minute); err != nil {
		t.Fatalf("after unlock: %v", err)
	}

	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }
	if _, err := l.Acquire(context.Background(), "ttl", time.Second); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Second)
	if _, err := l.Acquire(context.Background(), "ttl", time.Second); err != nil {
		t.Fatalf("expired lock should be reacquirable: %v", err)
	}
}
