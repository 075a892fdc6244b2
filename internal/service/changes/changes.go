// Package changes fans out "event changed" signals after a commit: the
// cached read models are dropped and other instances are told to refresh.
package changes

import (
	"context"
	"log/slog"
)

type Cache interface {
	InvalidateEvent(ctx context.Context, eventID string) error
}

type Publisher interface {
	PublishEventChanged(ctx context.Context, eventID string) error
}

type Broadcaster struct {
	cache     Cache
	publisher Publisher
	logger    *slog.Logger
}

func NewBroadcaster(cache Cache, publisher Publisher, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{cache: cache, publisher: publisher, logger: logger}
}

// EventChanged never fails: both targets are derived state.
func (b *Broadcaster) EventChanged(ctx context.Context, eventID string) {
	if b == nil {
		return
	}

	if b.cache != nil {
		if err := b.cache.InvalidateEvent(ctx, eventID); err != nil {
			b.logger.WarnContext(ctx, "cache invalidation failed",
				slog.String("event_id", eventID), slog.String("error", err.Error()))
		}
	}

	if b.publisher != nil {
		if err := b.publisher.PublishEventChanged(ctx, eventID); err != nil {
			b.logger.WarnContext(ctx, "event change publish failed",
				slog.String("event_id", eventID), slog.String("error", err.Error()))
		}
	}
}
