package filter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ParseQuery rebuilds a FilterState and sort key from URL query parameters.
// Absent parameters keep their defaults; min and max are in ether.
//
//	search, category, buy_now, on_auction, min, max, networks, sort
func ParseQuery(v url.Values) (domain.FilterState, domain.SortKey, error) {
	state := domain.DefaultFilterState()
	state.Query = v.Get("search")
	state.Category = v.Get("category")

	var err error
	if state.Status.BuyNow, err = parseFlag(v, "buy_now", true); err != nil {
		return state, "", err
	}
	if state.Status.OnAuction, err = parseFlag(v, "on_auction", true); err != nil {
		return state, "", err
	}

	if s := v.Get("min"); s != "" {
		if state.PriceRange.Min, err = domain.ParseEther(s); err != nil {
			return state, "", fmt.Errorf("filter: min: %w", err)
		}
	}
	if s := v.Get("max"); s != "" {
		if state.PriceRange.Max, err = domain.ParseEther(s); err != nil {
			return state, "", fmt.Errorf("filter: max: %w", err)
		}
	}

	if v.Has("networks") {
		enabled := map[string]bool{}
		for _, n := range strings.Split(v.Get("networks"), ",") {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				enabled[n] = true
			}
		}
		// Only known networks have flags; unknown names are ignored.
		for name := range state.Networks {
			state.Networks[name] = enabled[name]
		}
	}

	key := domain.SortKey(v.Get("sort"))
	switch key {
	case "":
		key = domain.SortRecent
	case domain.SortRecent, domain.SortPriceAsc, domain.SortPriceDesc:
	default:
		return state, "", fmt.Errorf("filter: unknown sort %q", key)
	}
	return state, key, nil
}

func parseFlag(v url.Values, name string, def bool) (bool, error) {
	s := v.Get(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def, fmt.Errorf("filter: %s: %w", name, err)
	}
	return b, nil
}
