package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/metrics"
)

// ErrStale is returned by Reload when a newer load was begun before this one
// finished. The newer load's result supersedes it.
var ErrStale = errors.New("catalog: superseded by newer load")

// Loader produces a fresh catalog.
type Loader interface {
	Load(ctx context.Context) (domain.Catalog, error)
}

// Session owns the installed catalog. Every load is tagged with a generation
// from Begin; only the newest generation may install its result, so a slow
// earlier load can never overwrite a later one.
type Session struct {
	loader Loader
	logger *slog.Logger

	latest atomic.Uint64

	mu        sync.RWMutex
	current   domain.Catalog
	installed uint64
	listeners []func(domain.Catalog)
}

// NewSession creates a Session with an empty catalog.
func NewSession(loader Loader, logger *slog.Logger) *Session {
	return &Session{
		loader: loader,
		logger: logger.With(slog.String("component", "catalog_session")),
	}
}

// Begin issues a new, strictly increasing load generation.
func (s *Session) Begin() uint64 {
	return s.latest.Add(1)
}

// Commit installs c under generation gen if gen is still the newest
// generation begun and newer than the installed one. It reports whether the
// catalog was installed.
func (s *Session) Commit(gen uint64, c domain.Catalog) bool {
	s.mu.Lock()
	if gen != s.latest.Load() || gen <= s.installed {
		s.mu.Unlock()
		return false
	}
	c.Generation = gen
	s.current = c
	s.installed = gen
	listeners := append([]func(domain.Catalog){}, s.listeners...)
	s.mu.Unlock()

	recordSize(c)
	for _, fn := range listeners {
		fn(c)
	}
	return true
}

// Reload loads a fresh catalog and installs it. On failure the previously
// installed catalog is kept and the error returned. A result superseded by a
// newer load is discarded with ErrStale.
func (s *Session) Reload(ctx context.Context) (domain.Catalog, error) {
	gen := s.Begin()
	start := time.Now()

	c, err := s.loader.Load(ctx)
	metrics.CatalogLoadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CatalogLoads.WithLabelValues("error").Inc()
		s.logger.Warn("catalog load failed",
			slog.Uint64("generation", gen),
			slog.String("error", err.Error()),
		)
		return domain.Catalog{}, err
	}

	if !s.Commit(gen, c) {
		metrics.CatalogLoads.WithLabelValues("stale").Inc()
		s.logger.Debug("discarding stale catalog", slog.Uint64("generation", gen))
		return domain.Catalog{}, ErrStale
	}

	metrics.CatalogLoads.WithLabelValues("ok").Inc()
	s.logger.Info("catalog installed",
		slog.Uint64("generation", gen),
		slog.Int("items", len(c.Items)),
		slog.Duration("took", time.Since(start)),
	)
	return s.Current(), nil
}

// Restore installs a previously archived catalog if nothing has been loaded
// yet. It reports whether the snapshot was installed.
func (s *Session) Restore(c domain.Catalog) bool {
	s.mu.RLock()
	empty := s.installed == 0
	s.mu.RUnlock()
	if !empty {
		return false
	}
	return s.Commit(s.Begin(), c)
}

// Current returns the installed catalog. Its item slice must not be mutated.
func (s *Session) Current() domain.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Loaded reports whether any catalog has been installed.
func (s *Session) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.installed != 0
}

// OnCommit registers fn to run after every installed catalog.
func (s *Session) OnCommit(fn func(domain.Catalog)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func recordSize(c domain.Catalog) {
	counts := map[domain.MarketRole]int{
		domain.RoleDirectListing: 0,
		domain.RoleAuction:       0,
	}
	for _, it := range c.Items {
		counts[it.Role]++
	}
	for role, n := range counts {
		metrics.CatalogItems.WithLabelValues(string(role)).Set(float64(n))
	}
}
