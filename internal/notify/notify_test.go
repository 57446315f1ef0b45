package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type recordSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	err    error
}

func (r *recordSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordSender) Name() string { return "record" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFilter(t *testing.T) {
	rec := &recordSender{}
	n := NewNotifier([]Sender{rec}, []string{EventAuctionEnded}, discardLogger())
	ctx := context.Background()

	if err := n.Notify(ctx, EventActionFailed, "x", "y"); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(ctx, EventAuctionEnded, "ended", "body"); err != nil {
		t.Fatal(err)
	}
	if len(rec.titles) != 1 || rec.titles[0] != "ended" {
		t.Fatalf("titles = %v", rec.titles)
	}
}

func TestNotifierCollectsErrors(t *testing.T) {
	ok := &recordSender{}
	bad := &recordSender{err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, discardLogger())

	err := n.Notify(context.Background(), EventActionSuccess, "t", "m")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
	if len(ok.titles) != 1 {
		t.Fatal("remaining senders should still receive the message")
	}
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	if n.Enabled() {
		t.Fatal("nil notifier enabled")
	}
	if err := n.Notify(context.Background(), EventAuctionEnded, "t", "m"); err != nil {
		t.Fatal(err)
	}
}

func TestAuctionEndedMessage(t *testing.T) {
	rec := &recordSender{}
	n := NewNotifier([]Sender{rec}, nil, discardLogger())
	id := uint64(3)
	bidder := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	item := domain.MarketItem{
		TokenID:       9,
		Name:          "Nine",
		Role:          domain.RoleAuction,
		AuctionID:     &id,
		HighestBid:    new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)),
		HighestBidder: &bidder,
	}
	if err := n.AuctionEnded(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	if rec.titles[0] != "Auction #3 ended" {
		t.Fatalf("title = %q", rec.titles[0])
	}
	if !strings.Contains(rec.bodies[0], "1.5 ETH") || !strings.Contains(rec.bodies[0], bidder.Hex()) {
		t.Fatalf("body = %q", rec.bodies[0])
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithBaseURL(srv.URL + "/")
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatal(err)
	}
	if path != "/bottok/sendMessage" {
		t.Fatalf("path = %s", path)
	}
	if got["chat_id"] != "42" || got["text"] != "*Title*\nbody" {
		t.Fatalf("payload = %v", got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL+"/ok").Send(context.Background(), "t", "m"); err != nil {
		t.Fatalf("204 should succeed: %v", err)
	}
	err := NewDiscordSender(srv.URL+"/fail").Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
}
