package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/platform/ipfs"
)

// gatedLoader lets a test hold a load after it has read the ledger.
type gatedLoader struct {
	inner Loader
	gates chan chan struct{}
}

func (g *gatedLoader) Load(ctx context.Context) (domain.Catalog, error) {
	c, err := g.inner.Load(ctx)
	select {
	case gate := <-g.gates:
		<-gate
	default:
	}
	return c, err
}

func TestSessionReloadAfterCancelIgnoresStaleLoad(t *testing.T) {
	ctx := context.Background()
	l, f := scenarioLedger(time.Now())
	loader := &gatedLoader{
		inner: NewAggregator(l, f, ipfs.NewResolver(""), 4, testLogger()),
		gates: make(chan chan struct{}, 1),
	}
	s := NewSession(loader, testLogger())

	if _, err := s.Reload(ctx); err != nil {
		t.Fatalf("initial reload: %v", err)
	}
	if _, ok := s.Current().FindListing(0); !ok {
		t.Fatal("listing missing after initial load")
	}

	// Start a reload that reads the ledger before the cancel, then stalls.
	gate := make(chan struct{})
	loader.gates <- gate
	staleErr := make(chan error, 1)
	go func() {
		_, err := s.Reload(ctx)
		staleErr <- err
	}()
	waitFor(t, func() bool { return len(loader.gates) == 0 })

	commit, err := l.CancelListing(ctx, 0)
	if err != nil {
		t.Fatalf("CancelListing: %v", err)
	}
	if err := commit.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	fresh, err := s.Reload(ctx)
	if err != nil {
		t.Fatalf("reload after cancel: %v", err)
	}
	if _, ok := fresh.FindListing(0); ok {
		t.Fatal("cancelled listing still present")
	}

	close(gate)
	if err := <-staleErr; !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale reload to be discarded, got %v", err)
	}
	cur := s.Current()
	if _, ok := cur.FindListing(0); ok {
		t.Fatal("stale reload resurrected the cancelled listing")
	}
	if cur.Generation != fresh.Generation {
		t.Fatalf("generation moved from %d to %d", fresh.Generation, cur.Generation)
	}
}

func TestSessionFailedReloadKeepsCatalog(t *testing.T) {
	ctx := context.Background()
	l, f := scenarioLedger(time.Now())
	s := NewSession(NewAggregator(l, f, ipfs.NewResolver(""), 4, testLogger()), testLogger())

	first, err := s.Reload(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	l.ListingsErr = errors.New("rpc down")
	if _, err := s.Reload(ctx); !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
	if got := s.Current(); got.Generation != first.Generation || len(got.Items) != len(first.Items) {
		t.Fatalf("failed reload replaced catalog: %+v", got)
	}
}

func TestSessionCommitOrdering(t *testing.T) {
	s := NewSession(nil, testLogger())
	var seen []uint64
	s.OnCommit(func(c domain.Catalog) { seen = append(seen, c.Generation) })

	g1 := s.Begin()
	g2 := s.Begin()
	if !s.Commit(g2, domain.Catalog{}) {
		t.Fatal("newest generation rejected")
	}
	if s.Commit(g1, domain.Catalog{}) {
		t.Fatal("older generation installed after newer one")
	}
	if s.Restore(domain.Catalog{}) {
		t.Fatal("restore must not replace a loaded catalog")
	}
	if len(seen) != 1 || seen[0] != g2 {
		t.Fatalf("listeners saw %v", seen)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
