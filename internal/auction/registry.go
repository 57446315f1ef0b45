package auction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/metrics"
)

// Registry runs one clock goroutine per watched auction, keyed by auction
// id. A committed catalog supersedes every running clock via Reset.
type Registry struct {
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// OnTick receives every recomputed state. OnEnded fires once per clock
	// when its auction crosses the end time.
	OnTick  func(auctionID uint64, s State)
	OnEnded func(item domain.MarketItem)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	clocks map[uint64]*watched

	// resetMu serializes Reset; applied is the newest catalog generation
	// installed.
	resetMu sync.Mutex
	applied uint64
}

type watched struct {
	item   domain.MarketItem
	clock  *Clock
	cancel context.CancelFunc
}

// NewRegistry creates a Registry ticking every interval. A nil now uses
// time.Now.
func NewRegistry(interval time.Duration, now func() time.Time, logger *slog.Logger) *Registry {
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		interval: interval,
		now:      now,
		logger:   logger.With(slog.String("component", "auction_clocks")),
		ctx:      ctx,
		cancel:   cancel,
		clocks:   make(map[uint64]*watched),
	}
}

// Watch starts a clock for a live auction. Items that do not accept bids are
// ignored. Watching an already watched auction is a no-op. It reports
// whether a new clock was started.
func (r *Registry) Watch(item domain.MarketItem) bool {
	if !item.AcceptsBids() || item.AuctionID == nil || item.EndTime == nil {
		return false
	}
	id := *item.AuctionID

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return false
	}
	if _, ok := r.clocks[id]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(r.ctx)
	w := &watched{item: item, clock: NewClock(item.EndsAt(), r.now), cancel: cancel}
	r.clocks[id] = w
	metrics.ActiveClocks.Inc()

	r.wg.Add(1)
	go r.run(ctx, id, w)
	return true
}

func (r *Registry) run(ctx context.Context, id uint64, w *watched) {
	defer r.wg.Done()
	defer metrics.ActiveClocks.Dec()

	onTick := func(s State) {
		if r.OnTick != nil {
			r.OnTick(id, s)
		}
	}
	if !w.clock.Run(ctx, r.interval, onTick) {
		return
	}

	metrics.AuctionsEnded.Inc()
	r.logger.Info("auction ended",
		slog.Uint64("auction_id", id),
		slog.Uint64("token_id", w.item.TokenID),
	)
	if r.OnEnded != nil {
		r.OnEnded(w.item)
	}
}

// Unwatch stops and forgets the clock for id.
func (r *Registry) Unwatch(id uint64) {
	r.mu.Lock()
	w, ok := r.clocks[id]
	delete(r.clocks, id)
	r.mu.Unlock()
	if ok {
		w.cancel()
	}
}

// State returns the countdown state for id.
func (r *Registry) State(id uint64) (State, bool) {
	r.mu.Lock()
	w, ok := r.clocks[id]
	r.mu.Unlock()
	if !ok {
		return State{}, false
	}
	return w.clock.State(), true
}

// States returns a snapshot of all watched countdowns.
func (r *Registry) States() map[uint64]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint64]State, len(r.clocks))
	for id, w := range r.clocks {
		out[id] = w.clock.State()
	}
	return out
}

// Reset stops every clock and watches the live auctions of c. A catalog
// older than the last one applied is ignored.
func (r *Registry) Reset(c domain.Catalog) {
	r.resetMu.Lock()
	defer r.resetMu.Unlock()
	if c.Generation < r.applied {
		return
	}
	r.applied = c.Generation

	r.mu.Lock()
	old := r.clocks
	r.clocks = make(map[uint64]*watched)
	r.mu.Unlock()

	for _, w := range old {
		w.cancel()
	}
	for _, it := range c.Items {
		r.Watch(it)
	}
}

// Close stops all clocks and waits for their goroutines to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.cancel()
	r.clocks = make(map[uint64]*watched)
	r.mu.Unlock()
	r.wg.Wait()
}
