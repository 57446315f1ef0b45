package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/auction"
	"github.com/alanyoungcy/nftmarket/internal/catalog"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/filter"
)

// CatalogSource is the installed catalog plus on-demand reloads.
type CatalogSource interface {
	CatalogStatus
	Reload(ctx context.Context) (domain.Catalog, error)
}

// ClockSource exposes live auction countdowns by auction id.
type ClockSource interface {
	State(id uint64) (auction.State, bool)
}

// CatalogHandler serves the browsable catalog and auction countdowns.
type CatalogHandler struct {
	catalog CatalogSource
	clocks  ClockSource
	now     func() time.Time
	logger  *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler. clocks may be nil, in which
// case countdowns are computed per request.
func NewCatalogHandler(catalog CatalogSource, clocks ClockSource, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		clocks:  clocks,
		now:     time.Now,
		logger:  logHandler(logger, "catalog"),
	}
}

// catalogItem is a market item with its countdown when it is an auction.
type catalogItem struct {
	domain.MarketItem
	Clock *auction.State `json:"clock,omitempty"`
}

type catalogResponse struct {
	Generation uint64        `json:"generation"`
	LoadedAt   time.Time     `json:"loadedAt"`
	Total      int           `json:"total"`
	Sort       string        `json:"sort"`
	Items      []catalogItem `json:"items"`
}

// List returns the filtered, sorted catalog.
// GET /api/catalog?search=&category=&buy_now=&on_auction=&min=&max=&networks=&sort=
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	state, key, err := filter.ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := h.catalog.Current()
	visible := filter.Apply(c.Items, state, key)

	items := make([]catalogItem, len(visible))
	for i, it := range visible {
		items[i] = catalogItem{MarketItem: it, Clock: h.clockFor(it)}
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		Generation: c.Generation,
		LoadedAt:   c.LoadedAt,
		Total:      len(c.Items),
		Sort:       string(key),
		Items:      items,
	})
}

// Reload forces a fresh catalog load. A load superseded by a newer one
// answers with whatever is installed.
// POST /api/catalog/reload
func (h *CatalogHandler) Reload(w http.ResponseWriter, r *http.Request) {
	c, err := h.catalog.Reload(r.Context())
	switch {
	case errors.Is(err, catalog.ErrStale):
		c = h.catalog.Current()
	case err != nil:
		writeServiceError(w, r, h.logger, "catalog reload failed", err)
		return
	}
	writeJSON(w, http.StatusOK, catalogHealth{
		Loaded:     true,
		Generation: c.Generation,
		Items:      len(c.Items),
		LoadedAt:   c.LoadedAt,
	})
}

// AuctionClock returns the countdown of one auction in the installed catalog.
// GET /api/auctions/{id}/clock
func (h *CatalogHandler) AuctionClock(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	it, ok := h.catalog.Current().FindAuction(id)
	if !ok {
		writeError(w, http.StatusNotFound, "auction not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auctionId": id,
		"tokenId":   it.TokenID,
		"endTime":   it.EndTime,
		"clock":     h.clockFor(it),
	})
}

// clockFor prefers the running clock and otherwise computes a one-shot
// state, which covers auctions that were already over when loaded.
func (h *CatalogHandler) clockFor(it domain.MarketItem) *auction.State {
	if it.Role != domain.RoleAuction || it.AuctionID == nil || it.EndTime == nil {
		return nil
	}
	if h.clocks != nil {
		if s, ok := h.clocks.State(*it.AuctionID); ok {
			return &s
		}
	}
	s := auction.NewClock(it.EndsAt(), h.now).State()
	return &s
}
