package domain

import "math/big"

// SortKey selects the terminal ordering of the filter pipeline.
type SortKey string

const (
	SortRecent    SortKey = "recent"
	SortPriceAsc  SortKey = "price_asc"
	SortPriceDesc SortKey = "price_desc"
)

// StatusFlags selects which market roles are visible.
type StatusFlags struct {
	BuyNow    bool `json:"buyNow"`
	OnAuction bool `json:"onAuction"`
}

// PriceRange bounds the effective price in wei. Nil bounds are open.
type PriceRange struct {
	Min *big.Int `json:"min,omitempty"`
	Max *big.Int `json:"max,omitempty"`
}

// FilterState is the transient view state of one viewing session.
type FilterState struct {
	Query      string          `json:"query"`
	Category   string          `json:"category,omitempty"`
	Status     StatusFlags     `json:"status"`
	PriceRange PriceRange      `json:"priceRange"`
	Networks   map[string]bool `json:"networks"`
}

// DefaultNetworks mirrors the networks a viewer starts with.
func DefaultNetworks() map[string]bool {
	return map[string]bool{"sepolia": true, "localhost": false}
}

// DefaultFilterState shows everything.
func DefaultFilterState() FilterState {
	return FilterState{
		Status:   StatusFlags{BuyNow: true, OnAuction: true},
		Networks: DefaultNetworks(),
	}
}
