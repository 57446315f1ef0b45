package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// NoticeBoard holds the latest notice per operation id. Putting a notice
// with an existing id replaces it, so a loading notice is superseded by its
// success or error.
type NoticeBoard struct {
	mu      sync.RWMutex
	notices map[string]domain.Notice
	bus     domain.Publisher
	now     func() time.Time
	logger  *slog.Logger
}

// NewNoticeBoard creates a board. bus may be nil.
func NewNoticeBoard(bus domain.Publisher, logger *slog.Logger) *NoticeBoard {
	return &NoticeBoard{
		notices: make(map[string]domain.Notice),
		bus:     bus,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "notices")),
	}
}

// Put stores n and publishes it on the notices channel.
func (b *NoticeBoard) Put(ctx context.Context, n domain.Notice) domain.Notice {
	n.UpdatedAt = b.now().UTC()
	b.mu.Lock()
	b.notices[n.ID] = n
	b.mu.Unlock()

	if b.bus != nil {
		payload, err := json.Marshal(n)
		if err == nil {
			err = b.bus.Publish(ctx, domain.ChannelNotices, payload)
		}
		if err != nil {
			b.logger.Warn("publish notice failed",
				slog.String("id", n.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return n
}

func (b *NoticeBoard) Get(id string) (domain.Notice, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.notices[id]
	return n, ok
}

// List returns notices newest first.
func (b *NoticeBoard) List() []domain.Notice {
	b.mu.RLock()
	out := make([]domain.Notice, 0, len(b.notices))
	for _, n := range b.notices {
		out = append(out, n)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Dismiss removes the notice with id.
func (b *NoticeBoard) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.notices[id]; !ok {
		return false
	}
	delete(b.notices, id)
	return true
}
