package catalog

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PlaceholderName is the display name of a token whose metadata could not be
// resolved.
func PlaceholderName(tokenID uint64) string {
	return "NFT #" + strconv.FormatUint(tokenID, 10)
}

// NormalizeListing converts a raw listing into a DirectListing item. A nil
// md yields placeholder metadata.
func NormalizeListing(rec domain.ListingRecord, md *domain.Metadata) (domain.MarketItem, error) {
	tokenID, err := domain.Uint64("tokenId", rec.TokenID)
	if err != nil {
		return domain.MarketItem{}, fmt.Errorf("catalog: normalize listing %d: %w", rec.Index, err)
	}
	listingID := rec.Index
	seller := rec.Seller

	item := domain.MarketItem{
		TokenID:    tokenID,
		NFTAddress: rec.NFT,
		Seller:     &seller,
		Role:       domain.RoleDirectListing,
		ListingID:  &listingID,
		Price:      orZero(rec.Price),
	}
	applyMetadata(&item, md)
	return item, nil
}

// NormalizeAuction converts a raw auction into an Auction item. The active
// flag is copied verbatim; callers decide whether inactive auctions are kept.
func NormalizeAuction(rec domain.AuctionRecord, md *domain.Metadata) (domain.MarketItem, error) {
	tokenID, err := domain.Uint64("tokenId", rec.TokenID)
	if err != nil {
		return domain.MarketItem{}, fmt.Errorf("catalog: normalize auction %d: %w", rec.Index, err)
	}
	endTime, err := domain.Int64("endTime", rec.EndTime)
	if err != nil {
		return domain.MarketItem{}, fmt.Errorf("catalog: normalize auction %d: %w", rec.Index, err)
	}
	auctionID := rec.Index
	seller := rec.Seller
	bidder := rec.HighestBidder

	item := domain.MarketItem{
		TokenID:       tokenID,
		NFTAddress:    rec.NFT,
		Seller:        &seller,
		Role:          domain.RoleAuction,
		AuctionID:     &auctionID,
		MinBid:        orZero(rec.MinBid),
		HighestBid:    orZero(rec.HighestBid),
		HighestBidder: &bidder,
		EndTime:       &endTime,
		AuctionActive: rec.Active,
	}
	applyMetadata(&item, md)
	return item, nil
}

// NormalizeOwned builds an Unlisted item for a token held outside the
// market.
func NormalizeOwned(nft common.Address, tokenID uint64, owner common.Address, md *domain.Metadata) domain.MarketItem {
	o := owner
	item := domain.MarketItem{
		TokenID:    tokenID,
		NFTAddress: nft,
		Owner:      &o,
		Role:       domain.RoleUnlisted,
	}
	applyMetadata(&item, md)
	return item
}

func applyMetadata(item *domain.MarketItem, md *domain.Metadata) {
	if md == nil {
		item.Name = PlaceholderName(item.TokenID)
		item.Description = ""
		item.Category = ""
		item.Image = ""
		return
	}
	item.Name = md.Name
	if item.Name == "" {
		item.Name = PlaceholderName(item.TokenID)
	}
	item.Description = md.Description
	item.Category = md.Category
	item.Image = md.Image
}

// orZero copies v so catalog items never alias ledger-owned values.
func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
