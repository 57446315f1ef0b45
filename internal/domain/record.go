package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ListingRecord is a raw fixed-price listing as returned by the ledger.
// Index is its position in the ledger's listing table.
type ListingRecord struct {
	Index   uint64
	NFT     common.Address
	TokenID *big.Int
	Seller  common.Address
	Price   *big.Int
}

// AuctionRecord is a raw auction as returned by the ledger.
type AuctionRecord struct {
	Index         uint64
	NFT           common.Address
	TokenID       *big.Int
	Seller        common.Address
	MinBid        *big.Int
	HighestBid    *big.Int
	HighestBidder common.Address
	EndTime       *big.Int
	Active        bool
}

// SaleRecord is an append-only historical sale.
type SaleRecord struct {
	Index     uint64         `json:"index"`
	NFT       common.Address `json:"nft"`
	TokenID   uint64         `json:"tokenId"`
	Seller    common.Address `json:"seller"`
	Buyer     common.Address `json:"buyer"`
	Price     *big.Int       `json:"price"`
	Timestamp int64          `json:"timestamp"`
}

// Metadata is the off-chain descriptive document of a token.
type Metadata struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description"`
	Category    string `json:"category"`
}
