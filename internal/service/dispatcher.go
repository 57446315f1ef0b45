package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/catalog"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/loyalty"
	"github.com/alanyoungcy/nftmarket/internal/metrics"
)

const defaultLockTTL = 3 * time.Minute

// CatalogSession is the part of catalog.Session the dispatcher uses.
type CatalogSession interface {
	Current() domain.Catalog
	Reload(ctx context.Context) (domain.Catalog, error)
}

// ActionNotifier forwards settled and rejected actions to operators.
type ActionNotifier interface {
	ActionSettled(ctx context.Context, res domain.ActionResult) error
	ActionRejected(ctx context.Context, op domain.ActionOp, reason string) error
}

// ItemRef addresses a token. A zero NFT means the configured collection.
type ItemRef struct {
	NFT     common.Address `json:"nft"`
	TokenID uint64         `json:"tokenId"`
}

type BuyRequest struct{ ItemRef }

type ListRequest struct {
	ItemRef
	Price string `json:"price"`
}

type CancelRequest struct{ ItemRef }

type StartAuctionRequest struct {
	ItemRef
	MinBid          string `json:"minBid"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type BidRequest struct {
	ItemRef
	Amount string `json:"amount"`
}

type EndAuctionRequest struct{ ItemRef }

// ActionRequest is the union of every operation's inputs, as posted to the
// API.
type ActionRequest struct {
	ItemRef
	Price           string `json:"price,omitempty"`
	MinBid          string `json:"minBid,omitempty"`
	Amount          string `json:"amount,omitempty"`
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
}

// DefaultAuctionDuration is used when a start-auction request omits one.
const DefaultAuctionDuration = 24 * time.Hour

// Dispatcher validates and submits marketplace writes, then reconciles the
// catalog with the ledger once they settle.
type Dispatcher struct {
	reader   domain.LedgerReader
	writer   domain.LedgerWriter
	session  CatalogSession
	locks    domain.LockManager
	notices  *NoticeBoard
	audit    domain.AuditStore
	bus      domain.Publisher
	notifier ActionNotifier
	lockTTL  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. writer may be nil when no wallet is
// configured; every action is then rejected during validation.
func NewDispatcher(
	reader domain.LedgerReader,
	writer domain.LedgerWriter,
	session CatalogSession,
	locks domain.LockManager,
	notices *NoticeBoard,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		reader:  reader,
		writer:  writer,
		session: session,
		locks:   locks,
		notices: notices,
		lockTTL: defaultLockTTL,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

func (d *Dispatcher) WithAudit(audit domain.AuditStore) *Dispatcher {
	d.audit = audit
	return d
}

func (d *Dispatcher) WithBus(bus domain.Publisher) *Dispatcher {
	d.bus = bus
	return d
}

func (d *Dispatcher) WithNotifier(n ActionNotifier) *Dispatcher {
	d.notifier = n
	return d
}

// WithClock replaces the wall clock used for auction end checks.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// WithLockTTL bounds how long a crashed action can hold an item.
func (d *Dispatcher) WithLockTTL(ttl time.Duration) *Dispatcher {
	if ttl > 0 {
		d.lockTTL = ttl
	}
	return d
}

// Dispatch routes a generic request to the named operation.
func (d *Dispatcher) Dispatch(ctx context.Context, op domain.ActionOp, req ActionRequest) (domain.ActionResult, error) {
	switch op {
	case domain.OpBuy:
		return d.Buy(ctx, BuyRequest{req.ItemRef})
	case domain.OpList:
		return d.List(ctx, ListRequest{req.ItemRef, req.Price})
	case domain.OpCancel:
		return d.Cancel(ctx, CancelRequest{req.ItemRef})
	case domain.OpStartAuction:
		return d.StartAuction(ctx, StartAuctionRequest{req.ItemRef, req.MinBid, req.DurationSeconds})
	case domain.OpBid:
		return d.Bid(ctx, BidRequest{req.ItemRef, req.Amount})
	case domain.OpEndAuction:
		return d.EndAuction(ctx, EndAuctionRequest{req.ItemRef})
	}
	return domain.ActionResult{}, fmt.Errorf("service: dispatch %q: %w", op, domain.ErrNotFound)
}

// Buy purchases a direct listing at its listed price.
func (d *Dispatcher) Buy(ctx context.Context, req BuyRequest) (domain.ActionResult, error) {
	const op = domain.OpBuy
	account, err := d.account(ctx, op)
	if err != nil {
		return domain.ActionResult{}, err
	}
	item, err := d.find(ctx, op, req.ItemRef, domain.RoleDirectListing, "Listing not found")
	if err != nil {
		return domain.ActionResult{}, err
	}
	if item.Seller != nil && *item.Seller == account {
		return domain.ActionResult{}, d.invalid(ctx, op, "You cannot buy your own listing")
	}
	price := new(big.Int).Set(item.Price)
	listingID := *item.ListingID

	return d.execute(ctx, action{
		op:      op,
		ref:     d.ref(req.ItemRef),
		loading: "Processing purchase...",
		success: "Purchase Successful!",
		points:  loyalty.Estimate(price),
		detail:  map[string]any{"listing_id": listingID, "price_wei": price.String()},
		submit: func(ctx context.Context) (domain.Commitment, error) {
			return d.writer.BuyItem(ctx, listingID, price)
		},
	})
}

// List creates a direct listing, granting the marketplace operator approval
// first if needed.
func (d *Dispatcher) List(ctx context.Context, req ListRequest) (domain.ActionResult, error) {
	const op = domain.OpList
	if _, err := d.account(ctx, op); err != nil {
		return domain.ActionResult{}, err
	}
	price, ok := positiveEther(req.Price)
	if !ok {
		return domain.ActionResult{}, d.invalid(ctx, op, "Please enter a valid price")
	}
	ref := d.ref(req.ItemRef)

	return d.execute(ctx, action{
		op:       op,
		ref:      ref,
		loading:  "Listing NFT...",
		success:  "NFT listed successfully!",
		approval: true,
		detail:   map[string]any{"price_wei": price.String()},
		submit: func(ctx context.Context) (domain.Commitment, error) {
			return d.writer.ListItem(ctx, ref.NFT, ref.TokenID, price)
		},
	})
}

// Cancel withdraws one of the wallet's own listings.
func (d *Dispatcher) Cancel(ctx context.Context, req CancelRequest) (domain.ActionResult, error) {
	const op = domain.OpCancel
	account, err := d.account(ctx, op)
	if err != nil {
		return domain.ActionResult{}, err
	}
	item, err := d.find(ctx, op, req.ItemRef, domain.RoleDirectListing, "Listing not found")
	if err != nil {
		return domain.ActionResult{}, err
	}
	if item.Seller == nil || *item.Seller != account {
		return domain.ActionResult{}, d.invalid(ctx, op, "Only the seller can cancel this listing")
	}
	listingID := *item.ListingID

	return d.execute(ctx, action{
		op:      op,
		ref:     d.ref(req.ItemRef),
		loading: "Canceling listing...",
		success: "Listing canceled!",
		detail:  map[string]any{"listing_id": listingID},
		submit: func(ctx context.Context) (domain.Commitment, error) {
			return d.writer.CancelListing(ctx, listingID)
		},
	})
}

// StartAuction opens a timed auction for a token the wallet owns.
func (d *Dispatcher) StartAuction(ctx context.Context, req StartAuctionRequest) (domain.ActionResult, error) {
	const op = domain.OpStartAuction
	if _, err := d.account(ctx, op); err != nil {
		return domain.ActionResult{}, err
	}
	minBid, ok := positiveEther(req.MinBid)
	if !ok {
		return domain.ActionResult{}, d.invalid(ctx, op, "Enter a valid minimum bid")
	}
	duration := DefaultAuctionDuration
	if req.DurationSeconds != 0 {
		if req.DurationSeconds < 0 || req.DurationSeconds > domain.MaxSafeSeconds {
			return domain.ActionResult{}, d.invalid(ctx, op, "Enter a valid duration")
		}
		duration = time.Duration(req.DurationSeconds) * time.Second
	}
	ref := d.ref(req.ItemRef)

	return d.execute(ctx, action{
		op:       op,
		ref:      ref,
		loading:  "Starting auction...",
		success:  "Auction started successfully!",
		approval: true,
		detail: map[string]any{
			"min_bid_wei":      minBid.String(),
			"duration_seconds": int64(duration / time.Second),
		},
		submit: func(ctx context.Context) (domain.Commitment, error) {
			return d.writer.StartAuction(ctx, ref.NFT, ref.TokenID, minBid, duration)
		},
	})
}

// Bid places a bid strictly above the auction's current effective price.
func (d *Dispatcher) Bid(ctx context.Context, req BidRequest) (domain.ActionResult, error) {
	const op = domain.OpBid
	account, err := d.account(ctx, op)
	if err != nil {
		return domain.ActionResult{}, err
	}
	item, err := d.find(ctx, op, req.ItemRef, domain.RoleAuction, "Auction not found")
	if err != nil {
		return domain.ActionResult{}, err
	}
	if !item.AcceptsBids() || !d.now().Before(item.EndsAt()) {
		return domain.ActionResult{}, d.invalid(ctx, op, "Auction has ended")
	}
	if item.Seller != nil && *item.Seller == account {
		return domain.ActionResult{}, d.invalid(ctx, op, "You cannot bid on your own auction")
	}
	amount, err := domain.ParseEther(req.Amount)
	if err != nil {
		return domain.ActionResult{}, d.invalid(ctx, op, "Enter a valid bid amount")
	}
	if current := item.EffectivePrice(); current != nil && amount.Cmp(current) <= 0 {
		return domain.ActionResult{}, d.invalid(ctx, op, "Bid must be higher than current price")
	}
	auctionID := *item.AuctionID

	return d.execute(ctx, action{
		op:      op,
		ref:     d.ref(req.ItemRef),
		loading: "Placing bid...",
		success: "Bid placed successfully!",
		detail:  map[string]any{"auction_id": auctionID, "amount_wei": amount.String()},
		submit: func(ctx context.Context) (domain.Commitment, error) {
			return d.writer.Bid(ctx, auctionID, amount)
		},
	})
}

// EndAuction settles an auction whose end time has passed.
func (d *Dispatcher) EndAuction(ctx context.Context, req EndAuctionRequest) (domain.ActionResult, error) {
	const op = domain.OpEndAuction
	if _, err := d.account(ctx, op); err != nil {
		return domain.ActionResult{}, err
	}
	item, err := d.find(ctx, op, req.ItemRef, domain.RoleAuction, "Auction not found")
	if err != nil {
		return domain.ActionResult{}, err
	}
	if !item.AuctionActive {
		return domain.ActionResult{}, d.invalid(ctx, op, "Auction already settled")
	}
	if d.now().Before(item.EndsAt()) {
		return domain.ActionResult{}, d.invalid(ctx, op, "Auction is still running")
	}
	auctionID := *item.AuctionID
	var final *big.Int
	if item.HighestBid != nil {
		final = new(big.Int).Set(item.HighestBid)
	}

	return d.execute(ctx, action{
		op:      op,
		ref:     d.ref(req.ItemRef),
		loading: "Ending auction...",
		success: "Auction finalized!",
		points:  loyalty.Estimate(final),
		detail:  map[string]any{"auction_id": auctionID},
		submit: func(ctx context.Context) (domain.Commitment, error) {
			return d.writer.EndAuction(ctx, auctionID)
		},
	})
}

type action struct {
	op       domain.ActionOp
	ref      ItemRef
	loading  string
	success  string
	points   int64
	approval bool
	detail   map[string]any
	submit   func(ctx context.Context) (domain.Commitment, error)
}

// execute runs a validated action: per-item lock, optional approval, write,
// confirmation, then reconciliation.
func (d *Dispatcher) execute(ctx context.Context, a action) (domain.ActionResult, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := d.logger.With(
		slog.String("op", string(a.op)),
		slog.String("request_id", requestID),
		slog.Uint64("token_id", a.ref.TokenID),
	)

	unlock, err := d.locks.Acquire(ctx, lockKey(a.ref), d.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			metrics.Actions.WithLabelValues(string(a.op), "busy").Inc()
			return domain.ActionResult{}, &domain.ActionError{
				Op:     a.op,
				Reason: "Another action on this item is in progress",
				Err:    domain.ErrActionInProgress,
			}
		}
		return domain.ActionResult{}, fmt.Errorf("service: %s: acquire lock: %w", a.op, err)
	}
	defer unlock()

	d.notices.Put(ctx, domain.Notice{ID: string(a.op), Level: domain.NoticeLoading, Message: a.loading})

	if a.approval {
		if err := d.ensureApproval(ctx, a.op); err != nil {
			return domain.ActionResult{}, d.reject(ctx, logger, a, err)
		}
	}

	commitment, err := a.submit(ctx)
	if err != nil {
		return domain.ActionResult{}, d.reject(ctx, logger, a, err)
	}
	if err := commitment.Wait(ctx); err != nil {
		return domain.ActionResult{}, d.reject(ctx, logger, a, err)
	}

	res := domain.ActionResult{
		Op:      a.op,
		TxHash:  commitment.Hash().Hex(),
		Points:  a.points,
		Settled: d.now().UTC(),
	}
	metrics.Actions.WithLabelValues(string(a.op), "ok").Inc()
	metrics.ActionLatency.WithLabelValues(string(a.op)).Observe(time.Since(start).Seconds())
	logger.Info("action settled", slog.String("tx", res.TxHash), slog.Int64("points", res.Points))

	// The write is final; a failed reconciliation only delays the view.
	if _, err := d.session.Reload(ctx); err != nil && !errors.Is(err, catalog.ErrStale) {
		logger.Warn("reload after action failed", slog.String("error", err.Error()))
	}

	d.notices.Put(ctx, domain.Notice{
		ID:      string(a.op),
		Level:   domain.NoticeSuccess,
		Message: a.success,
		Points:  res.Points,
	})
	d.record(ctx, logger, "action."+string(a.op), a, map[string]any{
		"outcome": "ok",
		"tx":      res.TxHash,
		"points":  res.Points,
	}, requestID)

	if d.bus != nil && res.Points > 0 {
		d.publish(ctx, logger, domain.ChannelLoyalty, map[string]any{
			"account": d.writer.Account().Hex(),
			"op":      a.op,
			"points":  res.Points,
		})
	}
	if d.notifier != nil {
		if err := d.notifier.ActionSettled(ctx, res); err != nil {
			logger.Debug("notify settled action failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// ensureApproval grants the marketplace operator rights over the wallet's
// tokens when they are not already granted.
func (d *Dispatcher) ensureApproval(ctx context.Context, op domain.ActionOp) error {
	marketplace := d.reader.MarketplaceAddress()
	approved, err := d.reader.IsApprovedForAll(ctx, d.writer.Account(), marketplace)
	if err != nil {
		return fmt.Errorf("check approval: %w", err)
	}
	if approved {
		return nil
	}
	d.notices.Put(ctx, domain.Notice{ID: string(op), Level: domain.NoticeLoading, Message: "Approving marketplace..."})
	c, err := d.writer.SetApprovalForAll(ctx, marketplace, true)
	if err != nil {
		return fmt.Errorf("approve marketplace: %w", err)
	}
	if err := c.Wait(ctx); err != nil {
		return fmt.Errorf("approve marketplace: %w", err)
	}
	return nil
}

// reject converts a failed write into an ActionError carrying the ledger's
// revert reason or the operation's generic message.
func (d *Dispatcher) reject(ctx context.Context, logger *slog.Logger, a action, cause error) error {
	reason := a.op.GenericFailure()
	var revert *domain.RevertError
	if errors.As(cause, &revert) && revert.Reason != "" {
		reason = revert.Reason
	}

	metrics.Actions.WithLabelValues(string(a.op), "rejected").Inc()
	logger.Warn("action rejected",
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)

	d.notices.Put(ctx, domain.Notice{ID: string(a.op), Level: domain.NoticeError, Message: reason})
	d.record(ctx, logger, "action."+string(a.op), a, map[string]any{
		"outcome": "rejected",
		"reason":  reason,
	}, "")
	if d.notifier != nil {
		if err := d.notifier.ActionRejected(ctx, a.op, reason); err != nil {
			logger.Debug("notify rejected action failed", slog.String("error", err.Error()))
		}
	}

	return &domain.ActionError{
		Op:     a.op,
		Reason: reason,
		Err:    fmt.Errorf("%w: %w", domain.ErrActionRejected, cause),
	}
}

func (d *Dispatcher) record(ctx context.Context, logger *slog.Logger, event string, a action, extra map[string]any, requestID string) {
	if d.audit == nil {
		return
	}
	detail := map[string]any{
		"nft":      a.ref.NFT.Hex(),
		"token_id": a.ref.TokenID,
	}
	if requestID != "" {
		detail["request_id"] = requestID
	}
	for k, v := range a.detail {
		detail[k] = v
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := d.audit.Log(ctx, event, detail); err != nil {
		logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) publish(ctx context.Context, logger *slog.Logger, channel string, v any) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = d.bus.Publish(ctx, channel, payload)
	}
	if err != nil {
		logger.Warn("publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) account(ctx context.Context, op domain.ActionOp) (common.Address, error) {
	if d.writer == nil || d.writer.Account() == (common.Address{}) {
		return common.Address{}, d.invalidErr(ctx, op, "Connect a wallet first", domain.ErrNoWallet)
	}
	return d.writer.Account(), nil
}

func (d *Dispatcher) find(ctx context.Context, op domain.ActionOp, ref ItemRef, role domain.MarketRole, missing string) (domain.MarketItem, error) {
	ref = d.ref(ref)
	item, ok := d.session.Current().Find(domain.ItemKey{NFT: ref.NFT, TokenID: ref.TokenID, Role: role})
	if !ok {
		return domain.MarketItem{}, d.invalid(ctx, op, missing)
	}
	return item, nil
}

func (d *Dispatcher) ref(r ItemRef) ItemRef {
	if r.NFT == (common.Address{}) {
		r.NFT = d.reader.NFTAddress()
	}
	return r
}

func (d *Dispatcher) invalid(ctx context.Context, op domain.ActionOp, reason string) error {
	return d.invalidErr(ctx, op, reason, nil)
}

func (d *Dispatcher) invalidErr(ctx context.Context, op domain.ActionOp, reason string, cause error) error {
	metrics.Actions.WithLabelValues(string(op), "invalid").Inc()
	d.notices.Put(ctx, domain.Notice{ID: string(op), Level: domain.NoticeError, Message: reason})
	err := domain.Invalid(op, reason)
	if cause != nil {
		err.Err = fmt.Errorf("%w: %w", domain.ErrActionValidation, cause)
	}
	return err
}

func lockKey(r ItemRef) string {
	return fmt.Sprintf("action:%s:%d", r.NFT.Hex(), r.TokenID)
}

// positiveEther parses a display amount and requires it to be above zero.
func positiveEther(s string) (*big.Int, bool) {
	v, err := domain.ParseEther(s)
	if err != nil || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}
