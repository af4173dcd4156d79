package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// errNotDue is returned by the sweep mutator when a concurrent writer already
// moved the record past the transition that was due.
var errNotDue = errors.New("no transition due")

// SweepReport summarises one sweep pass.
type SweepReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Scanned   int           `json:"scanned"`
	Ended     int           `json:"ended"`
	Expired   int           `json:"expired"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
}

// LifecycleService applies time-based transitions: active auctions past their
// end time close, ended auctions past the grace period expire.
type LifecycleService struct {
	store         AuctionStore
	pub           Publisher
	grace         time.Duration
	workers       int
	recordTimeout time.Duration
	now           Clock
	logger        *slog.Logger
}

// NewLifecycleService creates a LifecycleService. pub may be nil.
func NewLifecycleService(store AuctionStore, pub Publisher, cfg config.AuctionConfig, logger *slog.Logger) *LifecycleService {
	if pub == nil {
		pub = nopPublisher{}
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = domain.DefaultGracePeriod
	}
	workers := cfg.SweepWorkers
	if workers < 1 {
		workers = 1
	}
	return &LifecycleService{
		store:         store,
		pub:           pub,
		grace:         grace,
		workers:       workers,
		recordTimeout: cfg.SweepRecordTimeout,
		now:           time.Now,
		logger:        logger,
	}
}

// SetClock overrides the time source.
func (s *LifecycleService) SetClock(c Clock) { s.now = c }

// GracePeriod returns the configured settlement window after an auction ends.
func (s *LifecycleService) GracePeriod() time.Duration { return s.grace }

// ──────────────────────────────────────────────────────────────────────────────
// Sweep
// ──────────────────────────────────────────────────────────────────────────────

// Sweep lists every auction with a due transition and applies it. Records are
// processed by a bounded worker pool, each under its own timeout; a failure
// on one record is counted and logged and never stops the others. The only
// error returned is a failure to list due records.
func (s *LifecycleService) Sweep(ctx context.Context) (SweepReport, error) {
	now := s.now().UTC()
	report := SweepReport{StartedAt: now}
	started := time.Now()

	due, err := s.store.ListDue(ctx, now, s.grace)
	if err != nil {
		return report, fmt.Errorf("lifecycle_service.Sweep: list due: %w", err)
	}
	report.Scanned = len(due)

	var ended, expired, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, a := range due {
		g.Go(func() error {
			rctx, cancel := s.recordContext(ctx)
			defer cancel()

			updated, moved, err := s.advance(rctx, a, now)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("sweep: transition failed", "auction_id", a.ID, "status", a.Status, "err", err)
			case !moved:
				skipped.Add(1)
			case updated.Status == domain.StatusEnded:
				ended.Add(1)
			default:
				expired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Ended = int(ended.Load())
	report.Expired = int(expired.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())
	report.Duration = time.Since(started)

	if report.Scanned > 0 {
		s.logger.Info("sweep complete",
			"scanned", report.Scanned, "ended", report.Ended, "expired", report.Expired,
			"skipped", report.Skipped, "failed", report.Failed, "took", report.Duration)
	}
	return report, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// On-demand transitions
// ──────────────────────────────────────────────────────────────────────────────

// Touch loads the auction and applies any transition due right now.
func (s *LifecycleService) Touch(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Refresh(ctx, a)
}

// Refresh applies any transition due on a right now and returns the current
// snapshot.
func (s *LifecycleService) Refresh(ctx context.Context, a *domain.Auction) (*domain.Auction, error) {
	updated, _, err := s.advance(ctx, a, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// TouchAsset refreshes every open auction on assetID so that a stale record
// whose window elapsed no longer blocks a new listing.
func (s *LifecycleService) TouchAsset(ctx context.Context, assetID string) error {
	open, err := s.store.GetByAsset(ctx, assetID, domain.OpenStatuses...)
	if err != nil {
		return fmt.Errorf("lifecycle_service.TouchAsset: %w", err)
	}
	for _, a := range open {
		if _, err := s.Refresh(ctx, a); err != nil {
			return fmt.Errorf("lifecycle_service.TouchAsset %s: %w", a.ID, err)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────────────────────────

// advance applies the transition due on a at now, if any, and returns the
// latest snapshot. moved is false when nothing was due, including when a
// concurrent writer got there first. Lost races re-read the record and
// re-decide.
func (s *LifecycleService) advance(ctx context.Context, a *domain.Auction, now time.Time) (cur *domain.Auction, moved bool, err error) {
	for attempt := 1; ; attempt++ {
		if a.DueTransition(now, s.grace) == "" {
			return a, false, nil
		}
		updated, err := s.store.CompareAndUpdate(ctx, a.ID, a.Version, func(x *domain.Auction) error {
			switch x.DueTransition(now, s.grace) {
			case "":
				return errNotDue
			case domain.StatusEnded:
				return x.CloseAtEnd(now)
			default:
				if x.Status == domain.StatusActive {
					return x.CloseAtEnd(now)
				}
				return x.TransitionTo(domain.StatusExpired, now)
			}
		})
		switch {
		case err == nil:
			s.logger.Info("auction transitioned",
				"auction_id", updated.ID, "from", a.Status, "to", updated.Status, "version", updated.Version)
			emit(ctx, s.pub, s.logger, domain.NewAuctionEvent(domain.TransitionEvent(updated.Status), updated, "", now))
			return updated, true, nil
		case errors.Is(err, errNotDue),
			errors.Is(err, domain.ErrVersionConflict) && attempt < conflictRetries:
			if a, err = s.store.Get(ctx, a.ID); err != nil {
				return nil, false, err
			}
		default:
			return nil, false, err
		}
	}
}

func (s *LifecycleService) recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.recordTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.recordTimeout)
}
