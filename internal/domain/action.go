package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActionOp names a marketplace write. The value doubles as the stable notice
// identifier for that operation.
type ActionOp string

const (
	OpBuy          ActionOp = "buy"
	OpList         ActionOp = "list"
	OpCancel       ActionOp = "cancel"
	OpStartAuction ActionOp = "start-auction"
	OpBid          ActionOp = "bid"
	OpEndAuction   ActionOp = "end-auction"
)

// GenericFailure is the message shown when the ledger gives no reason.
func (op ActionOp) GenericFailure() string {
	switch op {
	case OpBuy:
		return "Purchase failed"
	case OpList:
		return "Listing failed"
	case OpCancel:
		return "Cancel failed"
	case OpStartAuction:
		return "Auction failed"
	case OpBid:
		return "Bidding failed"
	case OpEndAuction:
		return "Failed to end auction"
	}
	return "Action failed"
}

// Commitment is a submitted ledger write that settles asynchronously.
type Commitment interface {
	Hash() common.Hash
	// Wait blocks until the write is confirmed. A reverted write returns an
	// error.
	Wait(ctx context.Context) error
}

// ActionResult describes a settled action.
type ActionResult struct {
	Op      ActionOp  `json:"op"`
	TxHash  string    `json:"txHash"`
	Points  int64     `json:"estimatedPoints"`
	Settled time.Time `json:"settledAt"`
}

// NoticeLevel classifies a user-facing notice.
type NoticeLevel string

const (
	NoticeLoading NoticeLevel = "loading"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a dismissible user-facing message. A later notice with the same
// ID replaces the earlier one.
type Notice struct {
	ID        string      `json:"id"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	Points    int64       `json:"points,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// LedgerReader is the read surface of the marketplace and collection
// contracts.
type LedgerReader interface {
	GetAllListings(ctx context.Context) ([]ListingRecord, error)
	GetAllAuctions(ctx context.Context) ([]AuctionRecord, error)
	GetSales(ctx context.Context) ([]SaleRecord, error)
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
	TokenCount(ctx context.Context) (*big.Int, error)
	LoyaltyPoints(ctx context.Context, account common.Address) (*big.Int, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	MarketplaceAddress() common.Address
	NFTAddress() common.Address
}

// LedgerWriter is the write surface. Every call returns once the write has
// been submitted; callers must Wait on the commitment.
type LedgerWriter interface {
	Account() common.Address
	BuyItem(ctx context.Context, listingID uint64, value *big.Int) (Commitment, error)
	CancelListing(ctx context.Context, listingID uint64) (Commitment, error)
	ListItem(ctx context.Context, nft common.Address, tokenID uint64, price *big.Int) (Commitment, error)
	StartAuction(ctx context.Context, nft common.Address, tokenID uint64, minBid *big.Int, duration time.Duration) (Commitment, error)
	Bid(ctx context.Context, auctionID uint64, value *big.Int) (Commitment, error)
	EndAuction(ctx context.Context, auctionID uint64) (Commitment, error)
	SetApprovalForAll(ctx context.Context, operator common.Address, approved bool) (Commitment, error)
}

// MetadataFetcher retrieves a token's descriptive document.
type MetadataFetcher interface {
	Fetch(ctx context.Context, url string) (*Metadata, error)
}
