package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

// ActionDispatcher submits marketplace writes.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, op domain.ActionOp, req service.ActionRequest) (domain.ActionResult, error)
}

// NoticeSource lists and dismisses user-facing notices.
type NoticeSource interface {
	List() []domain.Notice
	Dismiss(id string) bool
}

// ActionHandler serves marketplace writes and their notices.
type ActionHandler struct {
	dispatcher ActionDispatcher
	notices    NoticeSource
	logger     *slog.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(dispatcher ActionDispatcher, notices NoticeSource, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		dispatcher: dispatcher,
		notices:    notices,
		logger:     logHandler(logger, "action"),
	}
}

var knownOps = map[domain.ActionOp]bool{
	domain.OpBuy:          true,
	domain.OpList:         true,
	domain.OpCancel:       true,
	domain.OpStartAuction: true,
	domain.OpBid:          true,
	domain.OpEndAuction:   true,
}

// Submit runs one marketplace write and blocks until it settles or is
// rejected.
// POST /api/actions/{op}
//
//	{"nft":"0x..","tokenId":7,"price":"0.5","minBid":"1","amount":"1.2","durationSeconds":86400}
func (h *ActionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	op := domain.ActionOp(r.PathValue("op"))
	if !knownOps[op] {
		writeError(w, http.StatusNotFound, "unknown action "+string(op))
		return
	}

	var req service.ActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), op, req)
	if err != nil {
		writeServiceError(w, r, h.logger, string(op)+" failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListNotices returns the latest notice per operation, newest first.
// GET /api/notices
func (h *ActionHandler) ListNotices(w http.ResponseWriter, r *http.Request) {
	notices := h.notices.List()
	if notices == nil {
		notices = []domain.Notice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": notices})
}

// DismissNotice removes a notice.
// DELETE /api/notices/{id}
func (h *ActionHandler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	if !h.notices.Dismiss(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "notice not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
