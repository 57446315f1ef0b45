// Package ledgertest provides an in-memory marketplace ledger for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Ledger implements domain.LedgerReader and domain.LedgerWriter over plain
// slices. Record indices are slice positions, as on the real contract.
type Ledger struct {
	mu sync.Mutex

	Listings []domain.ListingRecord
	Auctions []domain.AuctionRecord
	Sales    []domain.SaleRecord
	URIs     map[uint64]string
	Owners   map[uint64]common.Address
	Points   map[common.Address]*big.Int
	Approved map[common.Address]bool
	Count    uint64

	Marketplace common.Address
	Collection  common.Address
	Wallet      common.Address

	// ListingsErr and AuctionsErr fail the corresponding reads.
	ListingsErr error
	AuctionsErr error
	// RevertReason makes every write's Wait fail with a ledger revert.
	RevertReason string
	// BeforeListings runs at the start of GetAllListings, letting tests
	// block or reorder concurrent loads.
	BeforeListings func(ctx context.Context)
	// Now stamps sales and auction end times.
	Now func() time.Time

	Writes []string
	nonce  uint64
}

// New creates an empty Ledger whose signing account is wallet.
func New(wallet common.Address) *Ledger {
	return &Ledger{
		URIs:        map[uint64]string{},
		Owners:      map[uint64]common.Address{},
		Points:      map[common.Address]*big.Int{},
		Approved:    map[common.Address]bool{},
		Marketplace: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Collection:  common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Wallet:      wallet,
		Now:         time.Now,
	}
}

// Commitment is a write that settles immediately on Wait.
type Commitment struct {
	hash common.Hash
	err  error
	fn   func()
}

func (c *Commitment) Hash() common.Hash { return c.hash }

func (c *Commitment) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.err != nil {
		return c.err
	}
	if c.fn != nil {
		c.fn()
		c.fn = nil
	}
	return nil
}

// --- reads ---

func (l *Ledger) GetAllListings(ctx context.Context) ([]domain.ListingRecord, error) {
	if l.BeforeListings != nil {
		l.BeforeListings(ctx)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ListingsErr != nil {
		return nil, l.ListingsErr
	}
	out := make([]domain.ListingRecord, len(l.Listings))
	for i, rec := range l.Listings {
		rec.Index = uint64(i)
		out[i] = rec
	}
	return out, nil
}

func (l *Ledger) GetAllAuctions(ctx context.Context) ([]domain.AuctionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AuctionsErr != nil {
		return nil, l.AuctionsErr
	}
	out := make([]domain.AuctionRecord, len(l.Auctions))
	for i, rec := range l.Auctions {
		rec.Index = uint64(i)
		out[i] = rec
	}
	return out, nil
}

func (l *Ledger) GetSales(ctx context.Context) ([]domain.SaleRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.SaleRecord, len(l.Sales))
	for i, rec := range l.Sales {
		rec.Index = uint64(i)
		out[i] = rec
	}
	return out, nil
}

func (l *Ledger) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	uri, ok := l.URIs[tokenID.Uint64()]
	if !ok {
		return "", &domain.RevertError{Reason: "ERC721: invalid token ID"}
	}
	return uri, nil
}

func (l *Ledger) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.Owners[tokenID.Uint64()]
	if !ok {
		return common.Address{}, &domain.RevertError{Reason: "ERC721: invalid token ID"}
	}
	return owner, nil
}

func (l *Ledger) TokenCount(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).SetUint64(l.Count), nil
}

func (l *Ledger) LoyaltyPoints(ctx context.Context, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.Points[account]; ok {
		return new(big.Int).Set(p), nil
	}
	return new(big.Int), nil
}

func (l *Ledger) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Approved[owner] && operator == l.Marketplace, nil
}

func (l *Ledger) MarketplaceAddress() common.Address { return l.Marketplace }
func (l *Ledger) NFTAddress() common.Address         { return l.Collection }

// --- writes ---

func (l *Ledger) Account() common.Address { return l.Wallet }

func (l *Ledger) BuyItem(ctx context.Context, listingID uint64, value *big.Int) (domain.Commitment, error) {
	return l.submit("buy", func() {
		if listingID >= uint64(len(l.Listings)) {
			return
		}
		rec := l.Listings[listingID]
		l.Sales = append(l.Sales, domain.SaleRecord{
			NFT:       rec.NFT,
			TokenID:   rec.TokenID.Uint64(),
			Seller:    rec.Seller,
			Buyer:     l.Wallet,
			Price:     new(big.Int).Set(value),
			Timestamp: l.Now().Unix(),
		})
		l.Owners[rec.TokenID.Uint64()] = l.Wallet
		l.Listings = append(l.Listings[:listingID], l.Listings[listingID+1:]...)
	})
}

func (l *Ledger) CancelListing(ctx context.Context, listingID uint64) (domain.Commitment, error) {
	return l.submit("cancel", func() {
		if listingID >= uint64(len(l.Listings)) {
			return
		}
		l.Listings = append(l.Listings[:listingID], l.Listings[listingID+1:]...)
	})
}

func (l *Ledger) ListItem(ctx context.Context, nft common.Address, tokenID uint64, price *big.Int) (domain.Commitment, error) {
	return l.submit("list", func() {
		l.Listings = append(l.Listings, domain.ListingRecord{
			NFT:     nft,
			TokenID: new(big.Int).SetUint64(tokenID),
			Seller:  l.Wallet,
			Price:   new(big.Int).Set(price),
		})
	})
}

func (l *Ledger) StartAuction(ctx context.Context, nft common.Address, tokenID uint64, minBid *big.Int, duration time.Duration) (domain.Commitment, error) {
	return l.submit("start-auction", func() {
		end := l.Now().Add(duration).Unix()
		l.Auctions = append(l.Auctions, domain.AuctionRecord{
			NFT:        nft,
			TokenID:    new(big.Int).SetUint64(tokenID),
			Seller:     l.Wallet,
			MinBid:     new(big.Int).Set(minBid),
			HighestBid: new(big.Int),
			EndTime:    big.NewInt(end),
			Active:     true,
		})
	})
}

func (l *Ledger) Bid(ctx context.Context, auctionID uint64, value *big.Int) (domain.Commitment, error) {
	return l.submit("bid", func() {
		if auctionID >= uint64(len(l.Auctions)) {
			return
		}
		l.Auctions[auctionID].HighestBid = new(big.Int).Set(value)
		l.Auctions[auctionID].HighestBidder = l.Wallet
	})
}

func (l *Ledger) EndAuction(ctx context.Context, auctionID uint64) (domain.Commitment, error) {
	return l.submit("end-auction", func() {
		if auctionID >= uint64(len(l.Auctions)) {
			return
		}
		l.Auctions[auctionID].Active = false
	})
}

func (l *Ledger) SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (domain.Commitment, error) {
	return l.submit("approve", func() {
		l.Approved[l.Wallet] = approved && operator == l.Marketplace
	})
}

// WriteCount returns how many writes were submitted.
func (l *Ledger) WriteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Writes)
}

func (l *Ledger) submit(op string, apply func()) (domain.Commitment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Wallet == (common.Address{}) {
		return nil, errors.New("ledgertest: no signing account")
	}
	l.nonce++
	l.Writes = append(l.Writes, op)
	c := &Commitment{hash: crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%d", op, l.nonce)))}
	if l.RevertReason != "" {
		c.err = &domain.RevertError{Reason: l.RevertReason}
		return c, nil
	}
	c.fn = func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		apply()
	}
	return c, nil
}
