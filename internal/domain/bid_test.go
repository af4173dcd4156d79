package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	seller  = "0x1111111111111111111111111111111111111111"
	bidderA = "0x2222222222222222222222222222222222222222"
	bidderB = "0x3333333333333333333333333333333333333333"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newAuction(base string, d time.Duration) *domain.Auction {
	return domain.NewAuction("42", seller, dec(base), t0, d)
}

// ── Rule order ────────────────────────────────────────────────────────────────

func TestValidateBid_Rules(t *testing.T) {
	ended := newAuction("1", time.Hour)
	ended.Status = domain.StatusEnded

	tests := []struct {
		name   string
		a      *domain.Auction
		bidder string
		amount string
		at     time.Time
		want   error
	}{
		{"accepted", newAuction("1", time.Hour), bidderA, "1.5", t0.Add(time.Minute), nil},
		{"not active beats everything", ended, seller, "0", t0.Add(2 * time.Hour), domain.ErrAuctionNotActive},
		{"window closed at exact end", newAuction("1", time.Hour), bidderA, "5", t0.Add(time.Hour), domain.ErrAuctionWindowClosed},
		{"window closed beats self bid", newAuction("1", time.Hour), seller, "5", t0.Add(2 * time.Hour), domain.ErrAuctionWindowClosed},
		{"self bid case-insensitive", newAuction("1", time.Hour), "0X1111111111111111111111111111111111111111", "5", t0, domain.ErrSelfBid},
		{"self bid beats too low", newAuction("1", time.Hour), seller, "0.5", t0, domain.ErrSelfBid},
		{"equal to base is too low", newAuction("1", time.Hour), bidderA, "1", t0, domain.ErrBidTooLow},
		{"below base is too low", newAuction("1", time.Hour), bidderA, "0.9", t0, domain.ErrBidTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.ValidateBid(tt.a, tt.bidder, dec(tt.amount), tt.at)
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateBid() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFitsLedger(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{"0.001", true},
		{"0.000000000000000001", true},
		{"1.000000000000000000000", true},
		{"0.0010000000000000000001", false},
		{"0", false},
		{"-1", false},
		{"999999999999999999999999999999999999999999999999999999999999.5", true},
		{"1000000000000000000000000000000000000000000000000000000000000", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			if got := domain.FitsLedger(dec(tt.amount)); got != tt.want {
				t.Errorf("FitsLedger(%s) = %v, want %v", tt.amount, got, tt.want)
			}
		})
	}
}

// ── Ledger arithmetic ─────────────────────────────────────────────────────────

// Walks the base 0.001 scenario: 0.002 accepted, 0.0015 rejected, 0.003 accepted.
func TestApplyBid_EscalationScenario(t *testing.T) {
	a := newAuction("0.001", 24*time.Hour)

	if err := a.ApplyBid(bidderA, dec("0.002"), t0.Add(time.Minute)); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if err := a.ApplyBid(bidderB, dec("0.0015"), t0.Add(2*time.Minute)); !errors.Is(err, domain.ErrBidTooLow) {
		t.Fatalf("lower bid: got %v, want ErrBidTooLow", err)
	}
	if err := a.ApplyBid(bidderB, dec("0.003"), t0.Add(3*time.Minute)); err != nil {
		t.Fatalf("third bid: %v", err)
	}

	if len(a.Bids) != 2 {
		t.Fatalf("ledger length = %d, want 2", len(a.Bids))
	}
	if !a.CurrentBid.Equal(dec("0.003")) {
		t.Errorf("current bid = %s, want 0.003", a.CurrentBid)
	}
	if a.HighestBidder == nil || *a.HighestBidder != bidderB {
		t.Errorf("highest bidder = %v, want %s", a.HighestBidder, bidderB)
	}
	if a.Bids[0].Seq != 1 || a.Bids[1].Seq != 2 {
		t.Errorf("sequence numbers = %d,%d, want 1,2", a.Bids[0].Seq, a.Bids[1].Seq)
	}
	if err := a.CheckInvariants(); err != nil {
		t.Errorf("invariants after scenario: %v", err)
	}
}

func TestApplyBid_RejectionLeavesSnapshotUntouched(t *testing.T) {
	a := newAuction("1", time.Hour)
	_ = a.ApplyBid(bidderA, dec("2"), t0)
	before := a.Clone()

	if err := a.ApplyBid(bidderB, dec("2"), t0); err == nil {
		t.Fatal("equal bid should be rejected")
	}
	if len(a.Bids) != len(before.Bids) || !a.CurrentBid.Equal(before.CurrentBid) {
		t.Errorf("rejected bid mutated the auction: %+v", a)
	}
}

func TestApplyBid_SameBidderMayRaise(t *testing.T) {
	a := newAuction("1", time.Hour)
	if err := a.ApplyBid(bidderA, dec("2"), t0); err != nil {
		t.Fatal(err)
	}
	if err := a.ApplyBid(bidderA, dec("3"), t0.Add(time.Second)); err != nil {
		t.Errorf("raising own bid: %v", err)
	}
}
