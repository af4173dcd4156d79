package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
)

// SettlementService brokers the handshake between an ended auction and the
// external payment ledger: the winner claims, evidence is recorded, the
// seller confirms that the asset was handed over.
//
// The service never moves funds and never verifies evidence on chain. It
// records what callers assert, once, and refuses assertions that contradict
// the record.
type SettlementService struct {
	store     AuctionStore
	lifecycle *LifecycleService
	pub       Publisher
	now       Clock
	logger    *slog.Logger
}

// NewSettlementService creates a SettlementService. pub may be nil.
func NewSettlementService(store AuctionStore, lifecycle *LifecycleService, pub Publisher, logger *slog.Logger) *SettlementService {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &SettlementService{store: store, lifecycle: lifecycle, pub: pub, now: time.Now, logger: logger}
}

// SetClock overrides the time source.
func (s *SettlementService) SetClock(c Clock) { s.now = c }

// ──────────────────────────────────────────────────────────────────────────────
// MarkAwaitingSettlement
// ──────────────────────────────────────────────────────────────────────────────

// MarkAwaitingSettlement records that the highest bidder has started paying.
// The auction must be ended and claimant must be its highest bidder. A
// repeated claim by the same bidder is a no-op, including after settlement.
func (s *SettlementService) MarkAwaitingSettlement(ctx context.Context, id uuid.UUID, claimant string) (*domain.Auction, error) {
	claimant, err := domain.NormalizeIdentity(claimant)
	if err != nil {
		return nil, err
	}
	// Apply a pending close first so a claim right after end time sees "ended".
	if _, err = s.lifecycle.Touch(ctx, id); err != nil {
		return nil, fmt.Errorf("settlement_service.MarkAwaitingSettlement: %w", err)
	}

	now := s.now().UTC()
	a, changed, err := updateWithRetry(ctx, s.store, id, conflictRetries, func(x *domain.Auction) error {
		switch x.Status {
		case domain.StatusActive:
			return fmt.Errorf("%w: auction is still accepting bids", domain.ErrInvalidState)
		case domain.StatusExpired:
			return fmt.Errorf("%w: auction expired", domain.ErrInvalidState)
		}
		if !x.IsHighestBidder(claimant) {
			if x.Status == domain.StatusSettled {
				return domain.ErrAlreadySettled
			}
			return domain.ErrNotHighestBidder
		}
		if x.SettlementClaimedBy != nil {
			return errNoop
		}
		x.RecordClaim(claimant, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settlement_service.MarkAwaitingSettlement: %w", err)
	}
	if changed {
		s.logger.Info("settlement claimed", "auction_id", a.ID, "claimant", claimant, "version", a.Version)
		emit(ctx, s.pub, s.logger, domain.NewAuctionEvent(domain.EventSettlementClaimed, a, claimant, now))
	}
	return a, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ConfirmSettlement
// ──────────────────────────────────────────────────────────────────────────────

// ConfirmSettlement records the payment evidence and settles the auction.
//
//   - settled with the same tx hash → no-op
//   - settled with another tx hash  → ErrAlreadySettled
//   - expired before evidence       → ErrWindowExpired (late evidence is published
//     as settlement.rejected_late for reconciliation)
//   - not awaiting settlement       → ErrInvalidState
func (s *SettlementService) ConfirmSettlement(ctx context.Context, id uuid.UUID, ev domain.SettlementEvidence) (*domain.Auction, error) {
	ev, err := domain.NormalizeEvidence(ev)
	if err != nil {
		return nil, err
	}
	// A grace period that elapsed without a sweep still closes the window.
	if _, err = s.lifecycle.Touch(ctx, id); err != nil {
		return nil, fmt.Errorf("settlement_service.ConfirmSettlement: %w", err)
	}

	now := s.now().UTC()
	a, changed, err := updateWithRetry(ctx, s.store, id, conflictRetries, func(x *domain.Auction) error {
		switch x.Status {
		case domain.StatusSettled:
			if x.Evidence != nil && x.Evidence.TxHash == ev.TxHash {
				return errNoop
			}
			return domain.ErrAlreadySettled
		case domain.StatusExpired:
			return domain.ErrWindowExpired
		}
		return x.Settle(ev, now)
	})
	if errors.Is(err, domain.ErrWindowExpired) {
		s.rejectLate(ctx, id, ev, now)
	}
	if err != nil {
		return nil, fmt.Errorf("settlement_service.ConfirmSettlement: %w", err)
	}
	if changed {
		s.logger.Info("auction settled", "auction_id", a.ID, "tx_hash", ev.TxHash, "version", a.Version)
		emit(ctx, s.pub, s.logger, domain.NewAuctionEvent(domain.EventAuctionSettled, a, ev.Payer, now))
	}
	return a, nil
}

// rejectLate announces evidence that arrived after expiry. The payment may
// be real, so operators need it even though the record cannot change.
func (s *SettlementService) rejectLate(ctx context.Context, id uuid.UUID, ev domain.SettlementEvidence, now time.Time) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.Error("late settlement: reload failed", "auction_id", id, "tx_hash", ev.TxHash, "err", err)
		return
	}
	s.logger.Warn("settlement evidence after expiry", "auction_id", id, "tx_hash", ev.TxHash, "payer", ev.Payer)
	evt := domain.NewAuctionEvent(domain.EventSettlementLate, a, ev.Payer, now)
	evt.Evidence = &ev
	emit(ctx, s.pub, s.logger, evt)
}

// ──────────────────────────────────────────────────────────────────────────────
// Asset transfer
// ──────────────────────────────────────────────────────────────────────────────

// ConfirmAssetTransfer flags the asset of a settled auction as handed over.
// Idempotent.
func (s *SettlementService) ConfirmAssetTransfer(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	now := s.now().UTC()
	a, changed, err := updateWithRetry(ctx, s.store, id, conflictRetries, func(x *domain.Auction) error {
		if x.Status == domain.StatusSettled && x.AssetTransferConfirmed {
			return errNoop
		}
		return x.ConfirmTransfer(now)
	})
	if err != nil {
		return nil, fmt.Errorf("settlement_service.ConfirmAssetTransfer: %w", err)
	}
	if changed {
		s.logger.Info("asset transfer confirmed", "auction_id", a.ID, "version", a.Version)
		emit(ctx, s.pub, s.logger, domain.NewAuctionEvent(domain.EventTransferConfirmed, a, a.Seller, now))
	}
	return a, nil
}

// ListUnconfirmedTransfers returns the seller's settled auctions still
// waiting for the asset hand-over.
func (s *SettlementService) ListUnconfirmedTransfers(ctx context.Context, seller string) ([]*domain.Auction, error) {
	seller, err := domain.NormalizeIdentity(seller)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListUnconfirmedTransfers(ctx, seller)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.ListUnconfirmedTransfers: %w", err)
	}
	return out, nil
}
