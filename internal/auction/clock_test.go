package auction

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestLabel(t *testing.T) {
	tests := []struct {
		secs int64
		want string
	}{
		{0, "0h 0m 0s"},
		{59, "0h 0m 59s"},
		{3600, "1h 0m 0s"},
		{3661, "1h 1m 1s"},
		{86399, "23h 59m 59s"},
		{86400, "1d 0h 0m"},
		{2*86400 + 3*3600 + 4*60 + 5, "2d 3h 4m"},
	}
	for _, tt := range tests {
		if got := Label(tt.secs); got != tt.want {
			t.Errorf("Label(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestClockEndsAndStaysEnded(t *testing.T) {
	// Start partway through a second so whole-second rounding cannot delay
	// the end.
	ft := &fakeTime{t: time.Unix(1_700_000_000, 300_000_000)}
	c := NewClock(time.Unix(1_700_000_005, 0), ft.Now)

	if s := c.State(); s.HasEnded || s.Label != "0h 0m 4s" || s.Remaining != 4*time.Second {
		t.Fatalf("initial state %+v", s)
	}

	var s State
	for i := 0; i < 4; i++ {
		ft.Advance(time.Second)
		s = c.Tick()
	}
	if s.HasEnded || s.Label != "0h 0m 0s" {
		t.Fatalf("ended early after 4 ticks: %+v", s)
	}
	ft.Advance(time.Second)
	s = c.Tick()
	if !s.HasEnded || s.Label != EndedLabel || s.Remaining != 0 {
		t.Fatalf("expected Ended after 5 ticks, got %+v", s)
	}

	// Moving the clock backwards must not revive the countdown.
	ft.Advance(-time.Hour)
	for i := 0; i < 3; i++ {
		if s := c.Tick(); !s.HasEnded {
			t.Fatalf("clock flapped back to counting: %+v", s)
		}
	}
}

func TestClockRunStopsOnEnd(t *testing.T) {
	ft := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	c := NewClock(ft.Now().Add(2*time.Second), ft.Now)

	var ticks int
	ended := c.Run(context.Background(), time.Millisecond, func(State) {
		ticks++
		ft.Advance(time.Second)
	})
	if !ended {
		t.Fatal("Run returned without ending")
	}
	if ticks < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks)
	}
}

func TestClockRunAlreadyEnded(t *testing.T) {
	ft := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	c := NewClock(ft.Now().Add(-time.Minute), ft.Now)
	if !c.State().HasEnded {
		t.Fatalf("state %+v", c.State())
	}
	if c.Run(context.Background(), time.Millisecond, nil) {
		t.Fatal("Run reported a transition for a clock created ended")
	}
}

func TestClockRunStopsOnCancel(t *testing.T) {
	c := NewClock(time.Now().Add(time.Hour), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.Run(ctx, time.Millisecond, nil) {
		t.Fatal("cancelled clock reported ended")
	}
}

func liveAuction(id uint64, end time.Time) domain.MarketItem {
	e := end.Unix()
	return domain.MarketItem{
		TokenID: id + 100, NFTAddress: common.HexToAddress("0xbb"), Role: domain.RoleAuction,
		AuctionID: &id, EndTime: &e, AuctionActive: true,
	}
}

func TestRegistryWatchAndEnd(t *testing.T) {
	ft := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(time.Millisecond, ft.Now, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer r.Close()

	ended := make(chan uint64, 4)
	r.OnEnded = func(item domain.MarketItem) { ended <- *item.AuctionID }

	if !r.Watch(liveAuction(1, ft.Now().Add(time.Hour))) {
		t.Fatal("Watch did not start clock")
	}
	if r.Watch(liveAuction(1, ft.Now().Add(time.Hour))) {
		t.Fatal("Watch is not idempotent")
	}
	inactive := liveAuction(2, ft.Now().Add(time.Hour))
	inactive.AuctionActive = false
	if r.Watch(inactive) {
		t.Fatal("inactive auction watched")
	}

	if s, ok := r.State(1); !ok || s.HasEnded {
		t.Fatalf("State(1) = %+v, %v", s, ok)
	}

	ft.Advance(2 * time.Hour)
	select {
	case id := <-ended:
		if id != 1 {
			t.Fatalf("ended auction %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnEnded not called")
	}
	if s, _ := r.State(1); !s.HasEnded {
		t.Fatalf("state after end %+v", s)
	}
	select {
	case id := <-ended:
		t.Fatalf("OnEnded fired twice for %d", id)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRegistryReset(t *testing.T) {
	ft := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(time.Millisecond, ft.Now, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer r.Close()

	r.Watch(liveAuction(1, ft.Now().Add(time.Hour)))
	r.Watch(liveAuction(2, ft.Now().Add(time.Hour)))

	r.Reset(domain.Catalog{Items: []domain.MarketItem{liveAuction(3, ft.Now().Add(time.Hour))}})

	states := r.States()
	if len(states) != 1 {
		t.Fatalf("expected 1 clock after reset, got %d", len(states))
	}
	if _, ok := states[3]; !ok {
		t.Fatal("clock for new catalog auction missing")
	}

	r.Unwatch(3)
	r.Unwatch(42)
	if _, ok := r.State(3); ok {
		t.Fatal("clock 3 still watched after Unwatch")
	}
	if len(r.States()) != 0 {
		t.Fatalf("clocks left: %v", r.States())
	}
}

func TestRegistryResetDoesNotRefireEnded(t *testing.T) {
	ft := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(time.Millisecond, ft.Now, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer r.Close()

	var (
		mu    sync.Mutex
		fired = map[uint64]int{}
	)
	r.OnEnded = func(item domain.MarketItem) {
		mu.Lock()
		fired[*item.AuctionID]++
		mu.Unlock()
	}
	count := func(id uint64) int {
		mu.Lock()
		defer mu.Unlock()
		return fired[id]
	}

	// Auction 1 ended before it was ever watched; auction 2 ends while
	// watched. Neither is settled, so both stay in every refreshed catalog.
	cat := domain.Catalog{Generation: 1, Items: []domain.MarketItem{
		liveAuction(1, ft.Now().Add(-time.Minute)),
		liveAuction(2, ft.Now().Add(time.Second)),
	}}
	r.Reset(cat)
	ft.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for count(2) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("OnEnded not called for auction 2")
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		cat.Generation++
		r.Reset(cat)
	}
	time.Sleep(20 * time.Millisecond)

	if n := count(1); n != 0 {
		t.Fatalf("OnEnded fired %d times for an auction that was already over", n)
	}
	if n := count(2); n != 1 {
		t.Fatalf("OnEnded fired %d times for auction 2, want 1", n)
	}
	if s, ok := r.State(1); !ok || !s.HasEnded {
		t.Fatalf("State(1) = %+v, %v", s, ok)
	}
}

func TestRegistryResetIgnoresOlderGeneration(t *testing.T) {
	ft := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(time.Millisecond, ft.Now, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer r.Close()

	r.Reset(domain.Catalog{Generation: 3, Items: []domain.MarketItem{liveAuction(3, ft.Now().Add(time.Hour))}})
	r.Reset(domain.Catalog{Generation: 2, Items: []domain.MarketItem{liveAuction(2, ft.Now().Add(time.Hour))}})

	states := r.States()
	if _, ok := states[3]; !ok || len(states) != 1 {
		t.Fatalf("older catalog replaced clocks: %v", states)
	}
}
