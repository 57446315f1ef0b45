// Package filter implements the catalog view pipeline: text query, category,
// status, price bounds, network inclusion and ordering.
package filter

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Apply returns the items visible under state, ordered by key. The input
// slice is never modified and the result is always a fresh slice.
func Apply(items []domain.MarketItem, state domain.FilterState, key domain.SortKey) []domain.MarketItem {
	if !state.Status.BuyNow && !state.Status.OnAuction {
		return []domain.MarketItem{}
	}
	if !anyNetwork(state.Networks) {
		return []domain.MarketItem{}
	}

	query := strings.ToLower(strings.TrimSpace(state.Query))
	category := strings.ToLower(strings.TrimSpace(state.Category))

	out := make([]domain.MarketItem, 0, len(items))
	for _, it := range items {
		if query != "" && !matchesQuery(it, query) {
			continue
		}
		if category != "" && strings.ToLower(it.Category) != category {
			continue
		}
		if !statusVisible(it, state.Status) {
			continue
		}
		if !inRange(it, state.PriceRange) {
			continue
		}
		out = append(out, it)
	}

	Sort(out, key)
	return out
}

// matchesQuery tests the lower-cased query against name, token id, seller,
// category and the fixed price of direct listings. Auction bid amounts are
// not matched.
func matchesQuery(it domain.MarketItem, q string) bool {
	if strings.Contains(strings.ToLower(it.Name), q) {
		return true
	}
	if it.Role == domain.RoleDirectListing && it.Price != nil &&
		strings.Contains(domain.FormatEther(it.Price), q) {
		return true
	}
	if strconv.FormatUint(it.TokenID, 10) == q {
		return true
	}
	if it.Seller != nil && strings.Contains(strings.ToLower(it.Seller.Hex()), q) {
		return true
	}
	return strings.Contains(strings.ToLower(it.Category), q)
}

func statusVisible(it domain.MarketItem, s domain.StatusFlags) bool {
	switch it.Role {
	case domain.RoleDirectListing:
		return s.BuyNow
	case domain.RoleAuction:
		return s.OnAuction
	}
	return false
}

// inRange compares the effective price against inclusive bounds. An unset
// bound is open; a range with no bounds admits every item.
func inRange(it domain.MarketItem, r domain.PriceRange) bool {
	if r.Min == nil && r.Max == nil {
		return true
	}
	price := it.EffectivePrice()
	if price == nil {
		return false
	}
	if r.Min != nil && price.Cmp(r.Min) < 0 {
		return false
	}
	if r.Max != nil && price.Cmp(r.Max) > 0 {
		return false
	}
	return true
}

func anyNetwork(networks map[string]bool) bool {
	for _, on := range networks {
		if on {
			return true
		}
	}
	return false
}

// Sort orders items in place. Unknown keys sort by recency.
func Sort(items []domain.MarketItem, key domain.SortKey) {
	switch key {
	case domain.SortPriceAsc:
		sort.SliceStable(items, func(i, j int) bool {
			return comparePrice(items[i], items[j]) < 0
		})
	case domain.SortPriceDesc:
		sort.SliceStable(items, func(i, j int) bool {
			return comparePrice(items[i], items[j]) > 0
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			return newer(items[i], items[j])
		})
	}
}

func comparePrice(a, b domain.MarketItem) int {
	pa, pb := a.EffectivePrice(), b.EffectivePrice()
	switch {
	case pa == nil && pb == nil:
		return 0
	case pa == nil:
		return -1
	case pb == nil:
		return 1
	}
	return pa.Cmp(pb)
}

// newer orders by descending ledger index. Listings and auctions share the
// axis; equal indices fall back to role, collection and token id.
func newer(a, b domain.MarketItem) bool {
	ia, ib := a.SequenceIndex(), b.SequenceIndex()
	if ia != ib {
		return ia > ib
	}
	if a.Role != b.Role {
		return rolePriority(a.Role) < rolePriority(b.Role)
	}
	if c := bytes.Compare(a.NFTAddress[:], b.NFTAddress[:]); c != 0 {
		return c < 0
	}
	return a.TokenID < b.TokenID
}

func rolePriority(r domain.MarketRole) int {
	switch r {
	case domain.RoleDirectListing:
		return 0
	case domain.RoleAuction:
		return 1
	}
	return 2
}
