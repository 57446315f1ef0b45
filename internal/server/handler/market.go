package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/auction"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/loyalty"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

// MarketService defines the views the market handler requires from the
// service layer.
type MarketService interface {
	Stats(ctx context.Context) (service.Stats, error)
	Item(ctx context.Context, nft common.Address, tokenID uint64) (service.ItemDetail, error)
	Profile(ctx context.Context, addr common.Address) (service.Profile, error)
}

// SalesSource lists historical sales newest first.
type SalesSource interface {
	Recent(ctx context.Context, opts domain.ListOpts) ([]domain.SaleRecord, error)
}

// MarketHandler serves item, stats, profile, sales and loyalty endpoints.
type MarketHandler struct {
	markets MarketService
	sales   SalesSource
	clocks  *CatalogHandler
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. clocks supplies countdowns for
// auction items and may be nil.
func NewMarketHandler(markets MarketService, sales SalesSource, clocks *CatalogHandler, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		sales:   sales,
		clocks:  clocks,
		logger:  logHandler(logger, "market"),
	}
}

type itemResponse struct {
	service.ItemDetail
	Clock *auction.State `json:"clock,omitempty"`
}

// GetItem returns a single token's market view.
// GET /api/items/{nft}/{tokenId}
func (h *MarketHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	nft, err := service.ParseAddress(r.PathValue("nft"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := parseUint(r, "tokenId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := h.markets.Item(r.Context(), nft, tokenID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get item failed", err)
		return
	}
	resp := itemResponse{ItemDetail: detail}
	if h.clocks != nil {
		resp.Clock = h.clocks.clockFor(detail.Item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStats returns marketplace-wide totals.
// GET /api/stats
func (h *MarketHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.markets.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get stats failed", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetProfile returns a wallet's holdings, market activity and loyalty rank.
// GET /api/profile/{address}
func (h *MarketHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	addr, err := service.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := h.markets.Profile(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get profile failed", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type listSalesResponse struct {
	Sales  []domain.SaleRecord `json:"sales"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ListSales returns recent sales with pagination.
// GET /api/sales?limit=50&offset=0&since=&until=
func (h *MarketHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sales, err := h.sales.Recent(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list sales failed", err)
		return
	}
	if sales == nil {
		sales = []domain.SaleRecord{}
	}
	writeJSON(w, http.StatusOK, listSalesResponse{Sales: sales, Limit: opts.Limit, Offset: opts.Offset})
}

// EstimateLoyalty returns the points earned for spending an amount, given in
// wei or, failing that, in ether.
// GET /api/loyalty/estimate?wei=1000000000000000000
// GET /api/loyalty/estimate?eth=1.5
func (h *MarketHandler) EstimateLoyalty(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var wei *big.Int
	switch {
	case q.Get("wei") != "":
		v, ok := new(big.Int).SetString(q.Get("wei"), 10)
		if !ok || v.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "invalid wei amount")
			return
		}
		wei = v
	case q.Get("eth") != "":
		v, err := domain.ParseEther(q.Get("eth"))
		if err != nil || v.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "invalid eth amount")
			return
		}
		wei = v
	default:
		writeError(w, http.StatusBadRequest, "wei or eth is required")
		return
	}

	points := loyalty.Estimate(wei)
	writeJSON(w, http.StatusOK, map[string]any{
		"wei":    wei.String(),
		"eth":    domain.FormatEther(wei),
		"points": points,
		"rank":   loyalty.RankFor(points),
	})
}
