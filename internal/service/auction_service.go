package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// maxAssetIDLen bounds the opaque asset identifier.
const maxAssetIDLen = 200

// CreateAuctionRequest carries the inputs for a new listing. Seller comes
// from the verified session, never from the request body.
type CreateAuctionRequest struct {
	AssetID   string
	Seller    string
	BasePrice decimal.Decimal
	Duration  time.Duration
}

// ──────────────────────────────────────────────────────────────────────────────
// AuctionService
// ──────────────────────────────────────────────────────────────────────────────

// AuctionService is the gateway every transport goes through. It validates
// inputs, checks the caller's role on the record and composes the store with
// the lifecycle and settlement services.
type AuctionService struct {
	store      AuctionStore
	lifecycle  *LifecycleService
	settlement *SettlementService
	oracle     OwnershipOracle
	pub        Publisher
	cfg        config.AuctionConfig
	now        Clock
	logger     *slog.Logger
}

// NewAuctionService creates an AuctionService. oracle and pub may be nil.
func NewAuctionService(
	store AuctionStore,
	lifecycle *LifecycleService,
	settlement *SettlementService,
	oracle OwnershipOracle,
	pub Publisher,
	cfg config.AuctionConfig,
	logger *slog.Logger,
) *AuctionService {
	if oracle == nil {
		oracle = TrustSellerOracle{}
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	if cfg.BidRetries < 1 {
		cfg.BidRetries = 1
	}
	return &AuctionService{
		store:      store,
		lifecycle:  lifecycle,
		settlement: settlement,
		oracle:     oracle,
		pub:        pub,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock overrides the time source.
func (s *AuctionService) SetClock(c Clock) { s.now = c }

// ──────────────────────────────────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────────────────────────────────

// Create lists a new auction. The seller must own the asset according to the
// ownership oracle and the asset must have no open auction.
func (s *AuctionService) Create(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	assetID := strings.TrimSpace(req.AssetID)
	if assetID == "" || len(assetID) > maxAssetIDLen {
		return nil, domain.ErrInvalidAssetID
	}
	seller, err := domain.NormalizeIdentity(req.Seller)
	if err != nil {
		return nil, err
	}
	if !domain.FitsLedger(req.BasePrice) {
		return nil, domain.ErrInvalidBasePrice
	}
	if req.Duration < s.cfg.MinDuration || (s.cfg.MaxDuration > 0 && req.Duration > s.cfg.MaxDuration) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]",
			domain.ErrInvalidDuration, req.Duration, s.cfg.MinDuration, s.cfg.MaxDuration)
	}

	// ── 2. Ownership ─────────────────────────────────────────────────────────
	owns, err := s.oracle.IsOwner(ctx, assetID, seller)
	if err != nil {
		return nil, fmt.Errorf("auction_service.Create: %w: %w", domain.ErrOracleUnavailable, err)
	}
	if !owns {
		return nil, domain.ErrNotAssetOwner
	}

	// ── 3. Free the slot held by auctions whose window already elapsed ───────
	if err = s.lifecycle.TouchAsset(ctx, assetID); err != nil {
		return nil, fmt.Errorf("auction_service.Create: %w", err)
	}

	// ── 4. Persist ───────────────────────────────────────────────────────────
	now := s.now().UTC()
	a := domain.NewAuction(assetID, seller, req.BasePrice, now, req.Duration)
	if err = s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("auction_service.Create: %w", err)
	}
	s.logger.Info("auction created", "auction_id", a.ID, "asset_id", assetID, "seller", seller, "ends", a.EndTime)
	emit(ctx, s.pub, s.logger, domain.NewAuctionEvent(domain.EventAuctionCreated, a, seller, now))
	return a, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceBid
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBid submits a bid. With expectedVersion the bid is applied only if the
// record is still at that version, so a client bidding on what it saw gets
// ErrVersionConflict when someone moved first. Without it the service
// re-reads and re-validates on conflict up to the configured retry count.
func (s *AuctionService) PlaceBid(ctx context.Context, id uuid.UUID, bidder string, amount decimal.Decimal, expectedVersion *int64) (*domain.Auction, error) {
	bidder, err := domain.NormalizeIdentity(bidder)
	if err != nil {
		return nil, err
	}
	if !domain.FitsLedger(amount) {
		return nil, domain.ErrInvalidAmount
	}

	attempts := s.cfg.BidRetries
	if expectedVersion != nil {
		attempts = 1
	}

	var (
		updated *domain.Auction
		now     time.Time
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		version := int64(0)
		if expectedVersion != nil {
			version = *expectedVersion
		} else {
			cur, err := s.store.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("auction_service.PlaceBid: %w", err)
			}
			version = cur.Version
		}

		now = s.now().UTC()
		updated, err = s.store.CompareAndUpdate(ctx, id, version, func(x *domain.Auction) error {
			return x.ApplyBid(bidder, amount, now)
		})
		if err == nil || !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
		s.logger.Debug("bid lost a version race", "auction_id", id, "attempt", attempt, "max", attempts)
	}
	if errors.Is(err, domain.ErrAuctionWindowClosed) {
		// The sweep has not closed it yet; do it now so readers see the outcome.
		if _, terr := s.lifecycle.Touch(ctx, id); terr != nil {
			s.logger.Warn("close after late bid failed", "auction_id", id, "err", terr)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("auction_service.PlaceBid: %w", err)
	}

	s.logger.Info("bid accepted", "auction_id", id, "bidder", bidder, "amount", amount, "version", updated.Version)
	emit(ctx, s.pub, s.logger, domain.NewAuctionEvent(domain.EventBidPlaced, updated, bidder, now))
	return updated, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// Get returns the auction with any due transition applied.
func (s *AuctionService) Get(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auction_service.Get: %w", err)
	}
	return s.refresh(ctx, a), nil
}

// ListOpen returns active and ended auctions, optionally for a single asset.
// Records whose window elapsed since the last sweep are transitioned first
// and dropped from the result if that made them terminal.
func (s *AuctionService) ListOpen(ctx context.Context, assetID string) ([]*domain.Auction, error) {
	list, err := s.store.ListOpen(ctx, strings.TrimSpace(assetID))
	if err != nil {
		return nil, fmt.Errorf("auction_service.ListOpen: %w", err)
	}
	out := make([]*domain.Auction, 0, len(list))
	for _, a := range list {
		if a = s.refresh(ctx, a); a.Status.IsOpen() {
			out = append(out, a)
		}
	}
	return out, nil
}

// refresh applies a due transition for a read. Reads never fail because of
// it: the stored snapshot is served and the sweep retries later.
func (s *AuctionService) refresh(ctx context.Context, a *domain.Auction) *domain.Auction {
	fresh, err := s.lifecycle.Refresh(ctx, a)
	if err != nil {
		s.logger.Warn("refresh on read failed", "auction_id", a.ID, "err", err)
		return a
	}
	return fresh
}

// ──────────────────────────────────────────────────────────────────────────────
// Seller-initiated transitions
// ──────────────────────────────────────────────────────────────────────────────

// EndBySeller closes the seller's auction once its end time has passed:
// ended with bids, expired without.
func (s *AuctionService) EndBySeller(ctx context.Context, id uuid.UUID, caller string) (*domain.Auction, error) {
	caller, err := s.requireSeller(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a, changed, err := updateWithRetry(ctx, s.store, id, conflictRetries, func(x *domain.Auction) error {
		return x.CloseAtEnd(now)
	})
	if err != nil {
		return nil, fmt.Errorf("auction_service.EndBySeller: %w", err)
	}
	if changed {
		s.logger.Info("auction closed by seller", "auction_id", id, "status", a.Status)
		emit(ctx, s.pub, s.logger, domain.NewAuctionEvent(domain.TransitionEvent(a.Status), a, caller, now))
	}
	return a, nil
}

// ExpireBySeller abandons an ended auction whose winner never started
// settlement. This is narrower than the ended → expired edge: once the winner
// has claimed, only the grace period can expire it. An auction that is
// already expired is returned as is.
func (s *AuctionService) ExpireBySeller(ctx context.Context, id uuid.UUID, caller string) (*domain.Auction, error) {
	caller, err := s.requireSeller(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if _, err = s.lifecycle.Touch(ctx, id); err != nil {
		return nil, fmt.Errorf("auction_service.ExpireBySeller: %w", err)
	}

	now := s.now().UTC()
	a, changed, err := updateWithRetry(ctx, s.store, id, conflictRetries, func(x *domain.Auction) error {
		switch x.Status {
		case domain.StatusExpired:
			return errNoop
		case domain.StatusSettled:
			return domain.ErrAlreadySettled
		case domain.StatusActive:
			return domain.ErrAuctionStillRunning
		}
		if x.SettlementClaimedBy != nil {
			return fmt.Errorf("%w: the winner has claimed settlement", domain.ErrInvalidState)
		}
		return x.TransitionTo(domain.StatusExpired, now)
	})
	if err != nil {
		return nil, fmt.Errorf("auction_service.ExpireBySeller: %w", err)
	}
	if changed {
		s.logger.Info("auction expired by seller", "auction_id", id)
		emit(ctx, s.pub, s.logger, domain.NewAuctionEvent(domain.EventAuctionExpired, a, caller, now))
	}
	return a, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────────────────────────────────

// ClaimSettlement records that the caller, as highest bidder, is paying.
func (s *AuctionService) ClaimSettlement(ctx context.Context, id uuid.UUID, caller string) (*domain.Auction, error) {
	return s.settlement.MarkAwaitingSettlement(ctx, id, caller)
}

// ConfirmSettlement records evidence submitted by the highest bidder.
func (s *AuctionService) ConfirmSettlement(ctx context.Context, id uuid.UUID, caller string, ev domain.SettlementEvidence) (*domain.Auction, error) {
	caller, err := domain.NormalizeIdentity(caller)
	if err != nil {
		return nil, err
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auction_service.ConfirmSettlement: %w", err)
	}
	// The highest bidder is fixed once bidding stops, so this check cannot go stale.
	if !a.IsHighestBidder(caller) {
		return nil, domain.ErrNotHighestBidder
	}
	return s.settlement.ConfirmSettlement(ctx, id, ev)
}

// ConfirmAssetTransfer lets the seller flag the asset as handed over.
func (s *AuctionService) ConfirmAssetTransfer(ctx context.Context, id uuid.UUID, caller string) (*domain.Auction, error) {
	if _, err := s.requireSeller(ctx, id, caller); err != nil {
		return nil, err
	}
	return s.settlement.ConfirmAssetTransfer(ctx, id)
}

// ListUnconfirmedTransfers returns the seller's settled auctions awaiting
// asset hand-over.
func (s *AuctionService) ListUnconfirmedTransfers(ctx context.Context, seller string) ([]*domain.Auction, error) {
	return s.settlement.ListUnconfirmedTransfers(ctx, seller)
}

// requireSeller normalizes caller and checks that it is the auction's seller.
func (s *AuctionService) requireSeller(ctx context.Context, id uuid.UUID, caller string) (string, error) {
	caller, err := domain.NormalizeIdentity(caller)
	if err != nil {
		return "", err
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("auction_service: %w", err)
	}
	if !a.IsSeller(caller) {
		return "", domain.ErrNotSeller
	}
	return caller, nil
}
