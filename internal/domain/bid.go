package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are stored as NUMERIC(78,18): 18 fractional and 60 integer digits.
const (
	AmountScale     = 18
	AmountIntDigits = 60
)

var amountLimit = decimal.New(1, AmountIntDigits)

// FitsLedger reports whether d is positive and can be stored without
// rounding. Trailing zeros past the scale are fine.
func FitsLedger(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(AmountScale)) && d.LessThan(amountLimit)
}

// ──────────────────────────────────────────────────────────────────────────────
// Bid acceptance rules
// ──────────────────────────────────────────────────────────────────────────────

// ValidateBid decides whether bidder may bid amount on a at now. It is pure:
// it reads the snapshot and never mutates it. Rules are checked in order and
// the first failure wins:
//
//  1. status must be active          → ErrAuctionNotActive
//  2. now must be before end time    → ErrAuctionWindowClosed
//  3. bidder must not be the seller  → ErrSelfBid
//  4. amount must exceed current bid → ErrBidTooLow
func ValidateBid(a *Auction, bidder string, amount decimal.Decimal, now time.Time) error {
	if a.Status != StatusActive {
		return ErrAuctionNotActive
	}
	if !now.Before(a.EndTime) {
		return ErrAuctionWindowClosed
	}
	if SameIdentity(bidder, a.Seller) {
		return ErrSelfBid
	}
	if !amount.GreaterThan(a.CurrentBid) {
		return ErrBidTooLow
	}
	return nil
}

// ApplyBid validates and, on acceptance, appends the bid to the ledger and
// moves current bid and highest bidder. a is left untouched on rejection.
func (a *Auction) ApplyBid(bidder string, amount decimal.Decimal, now time.Time) error {
	if err := ValidateBid(a, bidder, amount, now); err != nil {
		return err
	}
	now = stamp(now)
	a.Bids = append(a.Bids, Bid{
		Seq:      len(a.Bids) + 1,
		Bidder:   bidder,
		Amount:   amount,
		PlacedAt: now,
	})
	a.CurrentBid = amount
	a.HighestBidder = &bidder
	a.UpdatedAt = now
	return nil
}
