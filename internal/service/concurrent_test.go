package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/shopspring/decimal"
)

// TestConcurrentBids_ConvergeToMax has N distinct bidders submit distinct
// amounts at the same time. However the races resolve, the final record
// carries the maximum amount and a strictly increasing ledger.
func TestConcurrentBids_ConvergeToMax(t *testing.T) {
	h := newHarness(t, withBidRetries(100))
	ctx := context.Background()
	a := h.create(t, "nft-1")
	h.clock.Set(t0.Add(time.Minute))

	const workers = 12
	var (
		wg       sync.WaitGroup
		accepted int64
		tooLow   int64
	)
	highest := decimal.Zero
	for i := 0; i < workers; i++ {
		amount := dec("0.002").Add(decimal.New(int64(i), -4))
		if amount.GreaterThan(highest) {
			highest = amount
		}
		bidder := fmt.Sprintf("0x%040x", 0xa0+i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.auctions.PlaceBid(ctx, a.ID, bidder, amount, nil)
			switch {
			case err == nil:
				atomic.AddInt64(&accepted, 1)
			case errors.Is(err, domain.ErrBidTooLow):
				atomic.AddInt64(&tooLow, 1)
			default:
				t.Errorf("bid %s: %v", amount, err)
			}
		}()
	}
	wg.Wait()

	got, err := h.repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.CurrentBid.Equal(highest) {
		t.Errorf("current bid = %s, want %s", got.CurrentBid, highest)
	}
	if err := got.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
	if int64(len(got.Bids)) != accepted || accepted+tooLow != workers {
		t.Errorf("ledger=%d accepted=%d tooLow=%d", len(got.Bids), accepted, tooLow)
	}
	if got.Version != accepted {
		t.Errorf("version = %d, want one per accepted bid (%d)", got.Version, accepted)
	}
}

// TestConcurrentSweepAndClaim races the sweep against a claim that arrives
// after the grace period. Whichever runs first, the record expires and the
// claim is refused.
func TestConcurrentSweepAndClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.ended(t, "nft-1")
	h.clock.Set(a.EndedAt.Add(grace))

	var wg sync.WaitGroup
	var claimErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = h.lifecycle.Sweep(ctx)
	}()
	go func() {
		defer wg.Done()
		_, claimErr = h.settlement.MarkAwaitingSettlement(ctx, a.ID, bidderA)
	}()
	wg.Wait()

	got, _ := h.repo.Get(ctx, a.ID)
	if got.Status != domain.StatusExpired {
		t.Fatalf("status = %s, want expired: grace elapsed before both calls", got.Status)
	}
	if !errors.Is(claimErr, domain.ErrInvalidState) {
		t.Errorf("claim err = %v", claimErr)
	}
	if err := got.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}
