package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketRole is the mutually exclusive market state of an item.
type MarketRole string

const (
	RoleUnlisted      MarketRole = "unlisted"
	RoleDirectListing MarketRole = "listing"
	RoleAuction       MarketRole = "auction"
)

// ItemKey identifies an item in the catalog. The ledger allows at most one
// active listing and one active auction per token, so a key is unique.
type ItemKey struct {
	NFT     common.Address
	TokenID uint64
	Role    MarketRole
}

func (k ItemKey) String() string {
	return k.NFT.Hex() + ":" + strconv.FormatUint(k.TokenID, 10) + ":" + string(k.Role)
}

// MarketItem is the canonical, normalized view of a tradeable token. Items are
// immutable once placed in a Catalog.
type MarketItem struct {
	TokenID    uint64          `json:"tokenId"`
	NFTAddress common.Address  `json:"nftAddress"`
	Seller     *common.Address `json:"seller,omitempty"`
	Owner      *common.Address `json:"owner,omitempty"`
	Role       MarketRole      `json:"marketRole"`

	ListingID *uint64  `json:"listingId,omitempty"`
	Price     *big.Int `json:"price,omitempty"`

	AuctionID     *uint64         `json:"auctionId,omitempty"`
	MinBid        *big.Int        `json:"minBid,omitempty"`
	HighestBid    *big.Int        `json:"highestBid,omitempty"`
	HighestBidder *common.Address `json:"highestBidder,omitempty"`
	EndTime       *int64          `json:"endTime,omitempty"`
	AuctionActive bool            `json:"auctionActive"`

	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Image       string `json:"image"`
}

// Key returns the item's catalog identity.
func (m MarketItem) Key() ItemKey {
	return ItemKey{NFT: m.NFTAddress, TokenID: m.TokenID, Role: m.Role}
}

// SequenceIndex is the role-scoped ledger index used as a recency proxy.
func (m MarketItem) SequenceIndex() uint64 {
	switch m.Role {
	case RoleDirectListing:
		if m.ListingID != nil {
			return *m.ListingID
		}
	case RoleAuction:
		if m.AuctionID != nil {
			return *m.AuctionID
		}
	}
	return 0
}

// EffectivePrice is the fixed price of a listing, or the highest bid of an
// auction when non-zero and its minimum bid otherwise. Unlisted items have
// no price.
func (m MarketItem) EffectivePrice() *big.Int {
	switch m.Role {
	case RoleDirectListing:
		return m.Price
	case RoleAuction:
		if m.HighestBid != nil && m.HighestBid.Sign() != 0 {
			return m.HighestBid
		}
		return m.MinBid
	}
	return nil
}

// AcceptsBids reports whether the item is a live auction.
func (m MarketItem) AcceptsBids() bool {
	return m.Role == RoleAuction && m.AuctionActive
}

// EndsAt returns the auction end time, or the zero time.
func (m MarketItem) EndsAt() time.Time {
	if m.EndTime == nil {
		return time.Time{}
	}
	return time.Unix(*m.EndTime, 0)
}

// Validate checks that the populated field group matches the role.
func (m MarketItem) Validate() error {
	listing := m.Price != nil || m.ListingID != nil
	auction := m.MinBid != nil || m.HighestBid != nil || m.HighestBidder != nil ||
		m.EndTime != nil || m.AuctionID != nil

	switch m.Role {
	case RoleDirectListing:
		if m.Price == nil || m.ListingID == nil {
			return errors.New("listing without price or listing id")
		}
		if auction {
			return errors.New("listing carries auction fields")
		}
	case RoleAuction:
		if m.MinBid == nil || m.HighestBid == nil || m.EndTime == nil || m.AuctionID == nil {
			return errors.New("auction without bid fields or auction id")
		}
		if listing {
			return errors.New("auction carries listing fields")
		}
	case RoleUnlisted:
		if listing || auction {
			return errors.New("unlisted item carries market fields")
		}
		if m.AuctionActive {
			return errors.New("unlisted item marked as active auction")
		}
	default:
		return fmt.Errorf("unknown market role %q", m.Role)
	}
	return nil
}

// Catalog is one committed snapshot of the merged marketplace state.
type Catalog struct {
	Generation uint64       `json:"generation"`
	Items      []MarketItem `json:"items"`
	LoadedAt   time.Time    `json:"loadedAt"`
}

// Find returns the item with the given key.
func (c Catalog) Find(key ItemKey) (MarketItem, bool) {
	for _, it := range c.Items {
		if it.Key() == key {
			return it, true
		}
	}
	return MarketItem{}, false
}

// FindListing returns the listing item with the given ledger index.
func (c Catalog) FindListing(id uint64) (MarketItem, bool) {
	for _, it := range c.Items {
		if it.Role == RoleDirectListing && it.ListingID != nil && *it.ListingID == id {
			return it, true
		}
	}
	return MarketItem{}, false
}

// FindAuction returns the auction item with the given ledger index.
func (c Catalog) FindAuction(id uint64) (MarketItem, bool) {
	for _, it := range c.Items {
		if it.Role == RoleAuction && it.AuctionID != nil && *it.AuctionID == id {
			return it, true
		}
	}
	return MarketItem{}, false
}
