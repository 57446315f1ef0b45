package domain

import (
	"context"
	"time"
)

// MetadataCache stores resolved metadata documents keyed by fetch URL.
type MetadataCache interface {
	Get(ctx context.Context, url string) (*Metadata, error)
	Set(ctx context.Context, url string, md *Metadata) error
	Invalidate(ctx context.Context, url string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Publisher pushes a payload onto a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SignalBus provides cross-process pub/sub.
type SignalBus interface {
	Publisher
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Signal bus channels.
const (
	ChannelCatalog      = "catalog"
	ChannelAuctionClock = "auction_clock"
	ChannelAuctionEnded = "auction_ended"
	ChannelNotices      = "notices"
	ChannelLoyalty      = "loyalty"
)
