package metadata

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/metrics"
)

// CachedFetcher serves metadata from a cache and falls back to the wrapped
// fetcher on a miss. Cache errors never fail a fetch.
type CachedFetcher struct {
	next   domain.MetadataFetcher
	cache  domain.MetadataCache
	logger *slog.Logger
}

// NewCachedFetcher wraps next with cache.
func NewCachedFetcher(next domain.MetadataFetcher, cache domain.MetadataCache, logger *slog.Logger) *CachedFetcher {
	return &CachedFetcher{
		next:   next,
		cache:  cache,
		logger: logger.With(slog.String("component", "metadata_cache")),
	}
}

func (c *CachedFetcher) Fetch(ctx context.Context, url string) (*domain.Metadata, error) {
	md, err := c.cache.Get(ctx, url)
	switch {
	case err == nil:
		metrics.MetadataCacheHits.WithLabelValues("hit").Inc()
		return md, nil
	case errors.Is(err, domain.ErrNotFound):
		metrics.MetadataCacheHits.WithLabelValues("miss").Inc()
	default:
		metrics.MetadataCacheHits.WithLabelValues("error").Inc()
		c.logger.Warn("metadata cache read failed", slog.String("error", err.Error()))
	}

	md, err = c.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, url, md); err != nil {
		c.logger.Warn("metadata cache write failed", slog.String("error", err.Error()))
	}
	return md, nil
}
