// Package domain defines the core business entities and rules for the
// auction lifecycle and settlement engine.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusActive  AuctionStatus = "active"  // accepting bids
	StatusEnded   AuctionStatus = "ended"   // window closed with bids, awaiting settlement
	StatusSettled AuctionStatus = "settled" // settlement evidence recorded
	StatusExpired AuctionStatus = "expired" // closed without settlement
)

// DefaultGracePeriod is how long an ended auction waits for settlement
// before the sweep expires it.
const DefaultGracePeriod = 7 * 24 * time.Hour

// IsValid returns true for a recognised status.
func (s AuctionStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusEnded, StatusSettled, StatusExpired:
		return true
	}
	return false
}

// IsOpen returns true for the statuses that block a new auction on the same asset.
func (s AuctionStatus) IsOpen() bool {
	return s == StatusActive || s == StatusEnded
}

// IsTerminal returns true once no further transition is possible.
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusSettled || s == StatusExpired
}

// OpenStatuses lists the statuses returned by the open-auction listing.
var OpenStatuses = []AuctionStatus{StatusActive, StatusEnded}

var allowedTransitions = map[AuctionStatus][]AuctionStatus{
	StatusActive: {StatusEnded, StatusExpired},
	StatusEnded:  {StatusSettled, StatusExpired},
}

// CanTransition reports whether from → to is a forward lifecycle edge.
func CanTransition(from, to AuctionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Bid & settlement evidence
// ──────────────────────────────────────────────────────────────────────────────

// Bid is one accepted entry of an auction's append-only ledger.
type Bid struct {
	Seq      int             `json:"seq"`
	Bidder   string          `json:"bidder"`
	Amount   decimal.Decimal `json:"amount"`
	PlacedAt time.Time       `json:"placed_at"`
}

// SettlementEvidence is the caller-asserted reference to an on-ledger payment.
// The engine checks its shape only; it never verifies it cryptographically.
type SettlementEvidence struct {
	TxHash string `json:"tx_hash"`
	Payer  string `json:"payer,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Auction
// ──────────────────────────────────────────────────────────────────────────────

// Auction is the unit of bookkeeping: one time-bounded sale of one asset.
type Auction struct {
	ID            uuid.UUID       `json:"id"`
	AssetID       string          `json:"asset_id"`
	Seller        string          `json:"seller"`
	BasePrice     decimal.Decimal `json:"base_price"`
	CurrentBid    decimal.Decimal `json:"current_bid"`
	HighestBidder *string         `json:"highest_bidder"`
	Status        AuctionStatus   `json:"status"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	EndedAt       *time.Time      `json:"ended_at"`
	SettledAt     *time.Time      `json:"settled_at"`
	ExpiredAt     *time.Time      `json:"expired_at"`
	Bids          []Bid           `json:"bids"`

	SettlementClaimedBy    *string             `json:"settlement_claimed_by"`
	SettlementClaimedAt    *time.Time          `json:"settlement_claimed_at"`
	Evidence               *SettlementEvidence `json:"settlement_evidence"`
	AssetTransferConfirmed bool                `json:"asset_transfer_confirmed"`
	TransferConfirmedAt    *time.Time          `json:"transfer_confirmed_at"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAuction builds an active auction with an empty ledger. Inputs are
// expected to be validated and normalized by the caller.
func NewAuction(assetID, seller string, basePrice decimal.Decimal, start time.Time, duration time.Duration) *Auction {
	start = stamp(start)
	return &Auction{
		ID:         uuid.New(),
		AssetID:    assetID,
		Seller:     seller,
		BasePrice:  basePrice,
		CurrentBid: basePrice,
		Status:     StatusActive,
		StartTime:  start,
		EndTime:    start.Add(duration),
		Bids:       []Bid{},
		CreatedAt:  start,
		UpdatedAt:  start,
	}
}

// HasBids returns true once at least one bid has been accepted.
func (a *Auction) HasBids() bool {
	return len(a.Bids) > 0
}

// IsAwaitingSettlement returns true when the winner has signalled that
// payment is in flight and no evidence has been recorded yet.
func (a *Auction) IsAwaitingSettlement() bool {
	return a.Status == StatusEnded && a.SettlementClaimedBy != nil
}

// IsHighestBidder compares identities case-insensitively.
func (a *Auction) IsHighestBidder(identity string) bool {
	return a.HighestBidder != nil && SameIdentity(*a.HighestBidder, identity)
}

// IsSeller compares identities case-insensitively.
func (a *Auction) IsSeller(identity string) bool {
	return SameIdentity(a.Seller, identity)
}

// TimeLeft returns the bidding time remaining at now, or 0 once closed.
func (a *Auction) TimeLeft(now time.Time) time.Duration {
	remaining := a.EndTime.Sub(now)
	if remaining < 0 || a.Status != StatusActive {
		return 0
	}
	return remaining
}

// Clone returns a deep copy so a mutator can never alias the stored snapshot.
func (a *Auction) Clone() *Auction {
	c := *a
	c.Bids = append([]Bid(nil), a.Bids...)
	if c.Bids == nil {
		c.Bids = []Bid{}
	}
	c.HighestBidder = cloneString(a.HighestBidder)
	c.SettlementClaimedBy = cloneString(a.SettlementClaimedBy)
	c.EndedAt = cloneTime(a.EndedAt)
	c.SettledAt = cloneTime(a.SettledAt)
	c.ExpiredAt = cloneTime(a.ExpiredAt)
	c.SettlementClaimedAt = cloneTime(a.SettlementClaimedAt)
	c.TransferConfirmedAt = cloneTime(a.TransferConfirmedAt)
	if a.Evidence != nil {
		ev := *a.Evidence
		c.Evidence = &ev
	}
	return &c
}

// ──────────────────────────────────────────────────────────────────────────────
// Time-based transitions
// ──────────────────────────────────────────────────────────────────────────────

// DueTransition returns the status the sweep should move the auction to at
// now, or "" when nothing is due.
//
//	active, now >= end, no bids  → expired
//	active, now >= end, bids     → ended
//	ended,  now - ended_at >= grace → expired
func (a *Auction) DueTransition(now time.Time, grace time.Duration) AuctionStatus {
	switch a.Status {
	case StatusActive:
		if now.Before(a.EndTime) {
			return ""
		}
		if a.HasBids() {
			return StatusEnded
		}
		return StatusExpired
	case StatusEnded:
		if a.EndedAt != nil && now.Sub(*a.EndedAt) >= grace {
			return StatusExpired
		}
	}
	return ""
}

// TransitionTo moves the auction to status `to`, stamping the matching
// timestamp. Only forward edges are accepted.
func (a *Auction) TransitionTo(to AuctionStatus, now time.Time) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, a.Status, to)
	}
	now = stamp(now)
	switch to {
	case StatusEnded:
		if !a.HasBids() {
			return fmt.Errorf("%w: cannot end an auction without bids", ErrInvalidTransition)
		}
		a.EndedAt = &now
	case StatusSettled:
		a.SettledAt = &now
	case StatusExpired:
		a.ExpiredAt = &now
	}
	a.Status = to
	a.UpdatedAt = now
	return nil
}

// CloseAtEnd applies the end-of-window transition (ended with bids, expired
// without). Used by the seller-initiated end and the sweep.
func (a *Auction) CloseAtEnd(now time.Time) error {
	if a.Status != StatusActive {
		return fmt.Errorf("%w: auction is %s", ErrInvalidState, a.Status)
	}
	if now.Before(a.EndTime) {
		return ErrAuctionStillRunning
	}
	if a.HasBids() {
		return a.TransitionTo(StatusEnded, now)
	}
	return a.TransitionTo(StatusExpired, now)
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlement bookkeeping
// ──────────────────────────────────────────────────────────────────────────────

// RecordClaim stores the winner's intent to pay.
func (a *Auction) RecordClaim(claimant string, now time.Time) {
	now = stamp(now)
	a.SettlementClaimedBy = &claimant
	a.SettlementClaimedAt = &now
	a.UpdatedAt = now
}

// Settle records evidence and moves the auction to StatusSettled.
func (a *Auction) Settle(ev SettlementEvidence, now time.Time) error {
	if !a.IsAwaitingSettlement() {
		return fmt.Errorf("%w: auction is not awaiting settlement", ErrInvalidState)
	}
	if err := a.TransitionTo(StatusSettled, now); err != nil {
		return err
	}
	a.Evidence = &ev
	return nil
}

// ConfirmTransfer flags the asset as handed over to the buyer.
func (a *Auction) ConfirmTransfer(now time.Time) error {
	if a.Status != StatusSettled {
		return fmt.Errorf("%w: asset transfer requires a settled auction", ErrInvalidState)
	}
	now = stamp(now)
	a.AssetTransferConfirmed = true
	a.TransferConfirmedAt = &now
	a.UpdatedAt = now
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Invariants
// ──────────────────────────────────────────────────────────────────────────────

// CheckInvariants validates a single snapshot.
func (a *Auction) CheckInvariants() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
	}

	if !a.Status.IsValid() {
		return fail("unknown status %q", a.Status)
	}
	if !a.BasePrice.IsPositive() {
		return fail("base price %s is not positive", a.BasePrice)
	}
	if !a.EndTime.After(a.StartTime) {
		return fail("end time must be after start time")
	}

	prev := a.BasePrice
	for i, b := range a.Bids {
		if b.Seq != i+1 {
			return fail("bid %d has sequence %d", i+1, b.Seq)
		}
		if !b.Amount.GreaterThan(prev) {
			return fail("bid %d amount %s does not exceed %s", b.Seq, b.Amount, prev)
		}
		if SameIdentity(b.Bidder, a.Seller) {
			return fail("bid %d placed by the seller", b.Seq)
		}
		prev = b.Amount
	}
	if !a.CurrentBid.Equal(prev) {
		return fail("current bid %s does not match ledger %s", a.CurrentBid, prev)
	}

	if a.HasBids() {
		last := a.Bids[len(a.Bids)-1]
		if a.HighestBidder == nil || *a.HighestBidder != last.Bidder {
			return fail("highest bidder does not match the last bid")
		}
	} else if a.HighestBidder != nil {
		return fail("highest bidder set on an empty ledger")
	}

	switch a.Status {
	case StatusEnded:
		if a.EndedAt == nil {
			return fail("ended auction without ended_at")
		}
	case StatusSettled:
		if a.SettledAt == nil || a.Evidence == nil {
			return fail("settled auction without settled_at or evidence")
		}
	case StatusExpired:
		if a.ExpiredAt == nil {
			return fail("expired auction without expired_at")
		}
	}
	if a.AssetTransferConfirmed && a.Status != StatusSettled {
		return fail("asset transfer confirmed before settlement")
	}
	return nil
}

// ValidateUpdate checks that next is a legal successor of prev: invariants
// hold, status only moves forward, the ledger is only appended to and
// set-once fields are never rewritten.
func ValidateUpdate(prev, next *Auction) error {
	if err := next.CheckInvariants(); err != nil {
		return err
	}
	if next.ID != prev.ID || next.AssetID != prev.AssetID || next.Seller != prev.Seller {
		return fmt.Errorf("%w: identity fields are immutable", ErrInvariantViolation)
	}
	if !next.BasePrice.Equal(prev.BasePrice) || !next.StartTime.Equal(prev.StartTime) || !next.EndTime.Equal(prev.EndTime) {
		return fmt.Errorf("%w: auction terms are immutable", ErrInvariantViolation)
	}
	if next.Status != prev.Status && !CanTransition(prev.Status, next.Status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	if len(next.Bids) < len(prev.Bids) {
		return fmt.Errorf("%w: bid ledger shrank", ErrInvariantViolation)
	}
	for i, b := range prev.Bids {
		n := next.Bids[i]
		if n.Seq != b.Seq || n.Bidder != b.Bidder || !n.Amount.Equal(b.Amount) || !n.PlacedAt.Equal(b.PlacedAt) {
			return fmt.Errorf("%w: bid %d was rewritten", ErrInvariantViolation, b.Seq)
		}
	}
	if len(next.Bids) > len(prev.Bids) && prev.Status != StatusActive {
		return fmt.Errorf("%w: bids appended to a %s auction", ErrInvariantViolation, prev.Status)
	}
	for _, pair := range [][2]*time.Time{
		{prev.EndedAt, next.EndedAt},
		{prev.SettledAt, next.SettledAt},
		{prev.ExpiredAt, next.ExpiredAt},
		{prev.SettlementClaimedAt, next.SettlementClaimedAt},
		{prev.TransferConfirmedAt, next.TransferConfirmedAt},
	} {
		if pair[0] != nil && (pair[1] == nil || !pair[0].Equal(*pair[1])) {
			return fmt.Errorf("%w: set-once timestamp rewritten", ErrInvariantViolation)
		}
	}
	if prev.Evidence != nil && (next.Evidence == nil || *next.Evidence != *prev.Evidence) {
		return fmt.Errorf("%w: settlement evidence rewritten", ErrInvariantViolation)
	}
	if prev.AssetTransferConfirmed && !next.AssetTransferConfirmed {
		return fmt.Errorf("%w: asset transfer confirmation cleared", ErrInvariantViolation)
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// stamp normalizes timestamps to the millisecond UTC precision the store keeps.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
