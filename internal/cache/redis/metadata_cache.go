package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultMetadataTTL = time.Hour

// MetadataCache implements domain.MetadataCache. Documents are stored as a
// JSON "data" field of a hash keyed by the SHA-256 of the fetch URL, next to
// the URL itself for debugging.
//
//	{prefix}:metadata:{sha256(url)} -> {url, data}
type MetadataCache struct {
	c   *Client
	ttl time.Duration
}

// NewMetadataCache creates a MetadataCache with the given TTL.
func NewMetadataCache(c *Client, ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = defaultMetadataTTL
	}
	return &MetadataCache{c: c, ttl: ttl}
}

func (mc *MetadataCache) key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return mc.c.Key("metadata", hex.EncodeToString(sum[:]))
}

func (mc *MetadataCache) Get(ctx context.Context, url string) (*domain.Metadata, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.key(url), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get metadata: %w", err)
	}
	var md domain.Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("redis: unmarshal metadata: %w", err)
	}
	return &md, nil
}

func (mc *MetadataCache) Set(ctx context.Context, url string, md *domain.Metadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("redis: marshal metadata: %w", err)
	}
	key := mc.key(url)
	pipe := mc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "url", url, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set metadata: %w", err)
	}
	return nil
}

func (mc *MetadataCache) Invalidate(ctx context.Context, url string) error {
	if err := mc.c.rdb.Del(ctx, mc.key(url)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate metadata: %w", err)
	}
	return nil
}

var _ domain.MetadataCache = (*MetadataCache)(nil)
