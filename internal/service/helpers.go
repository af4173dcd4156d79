package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
)

// publishTimeout bounds a single post-commit publish.
const publishTimeout = 2 * time.Second

// conflictRetries is how many times a server-side mutation re-reads the
// record after losing a compare-and-update race.
const conflictRetries = 3

// errNoop is returned by a mutator when the record already reflects the
// requested change. The write is skipped and the caller sees success.
var errNoop = errors.New("no change")

// updateWithRetry loads the record and applies mutate through
// compare-and-update, re-reading on ErrVersionConflict up to attempts times.
// changed is false when mutate reported errNoop.
func updateWithRetry(
	ctx context.Context,
	store AuctionStore,
	id uuid.UUID,
	attempts int,
	mutate func(a *domain.Auction) error,
) (a *domain.Auction, changed bool, err error) {
	for attempt := 1; ; attempt++ {
		cur, err := store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		updated, err := store.CompareAndUpdate(ctx, id, cur.Version, mutate)
		switch {
		case err == nil:
			return updated, true, nil
		case errors.Is(err, errNoop):
			// The mutator ran on a snapshot at cur.Version, so cur is current.
			return cur, false, nil
		case errors.Is(err, domain.ErrVersionConflict) && attempt < attempts:
			continue
		default:
			return nil, false, err
		}
	}
}

// emit publishes evt after a commit. Delivery is best effort: the state
// change is already durable, so failures are logged and dropped.
func emit(ctx context.Context, pub Publisher, logger *slog.Logger, evt domain.AuctionEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := pub.Publish(ctx, evt); err != nil {
		logger.Warn("event publish failed",
			"type", evt.Type, "auction_id", evt.AuctionID, "version", evt.Version, "err", err)
	}
}
