// Package notify fans marketplace events out to chat channels (Telegram,
// Discord), filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Event types accepted by the notify.events filter.
const (
	EventAuctionEnded  = "auction_ended"
	EventActionSuccess = "action_success"
	EventActionFailed  = "action_failed"
	EventCatalogFailed = "catalog_failed"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every sender. With no configured events, all
// events pass.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// AuctionEnded announces that an auction's countdown reached zero and it
// can be settled.
func (n *Notifier) AuctionEnded(ctx context.Context, item domain.MarketItem) error {
	msg := fmt.Sprintf("%s (token %d) has ended.", item.Name, item.TokenID)
	if item.HighestBid != nil && item.HighestBid.Sign() > 0 {
		msg += fmt.Sprintf(" Highest bid %s ETH", domain.FormatEther(item.HighestBid))
		if item.HighestBidder != nil {
			msg += " by " + item.HighestBidder.Hex()
		}
		msg += "."
	} else {
		msg += " No bids were placed."
	}
	if item.AuctionID != nil {
		return n.Notify(ctx, EventAuctionEnded, fmt.Sprintf("Auction #%d ended", *item.AuctionID), msg)
	}
	return n.Notify(ctx, EventAuctionEnded, "Auction ended", msg)
}

// ActionSettled reports a confirmed write.
func (n *Notifier) ActionSettled(ctx context.Context, res domain.ActionResult) error {
	msg := "Transaction " + res.TxHash
	if res.Points > 0 {
		msg += fmt.Sprintf("\nEstimated loyalty: +%d points", res.Points)
	}
	return n.Notify(ctx, EventActionSuccess, fmt.Sprintf("%s confirmed", res.Op), msg)
}

// ActionRejected reports a write the ledger refused.
func (n *Notifier) ActionRejected(ctx context.Context, op domain.ActionOp, reason string) error {
	return n.Notify(ctx, EventActionFailed, fmt.Sprintf("%s rejected", op), reason)
}

// CatalogFailed reports a failed catalog refresh.
func (n *Notifier) CatalogFailed(ctx context.Context, err error) error {
	return n.Notify(ctx, EventCatalogFailed, "Catalog refresh failed", err.Error())
}
