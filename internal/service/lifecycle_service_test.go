package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/google/uuid"
)

func TestSweep_AppliesDueTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	noBids := h.create(t, "no-bids")
	withBids := h.create(t, "with-bids")
	h.clock.Set(t0.Add(30 * time.Minute))
	running, err := h.auctions.Create(ctx, service.CreateAuctionRequest{
		AssetID: "running", Seller: seller, BasePrice: dec("1"), Duration: 2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("create running: %v", err)
	}
	h.bid(t, withBids, bidderA, "0.002")

	h.clock.Set(t0.Add(time.Hour))
	report, err := h.lifecycle.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Scanned != 2 || report.Ended != 1 || report.Expired != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}

	for id, want := range map[uuid.UUID]domain.AuctionStatus{
		noBids.ID:   domain.StatusExpired,
		withBids.ID: domain.StatusEnded,
		running.ID:  domain.StatusActive,
	} {
		got, _ := h.repo.Get(ctx, id)
		if got.Status != want {
			t.Errorf("auction %s status = %s, want %s", id, got.Status, want)
		}
	}
	if h.events.count(domain.EventAuctionEnded) != 1 || h.events.count(domain.EventAuctionExpired) != 1 {
		t.Errorf("transition events = %+v", h.events.events)
	}

	// A second pass at the same instant has nothing to do.
	report, _ = h.lifecycle.Sweep(ctx)
	if report.Scanned != 0 {
		t.Errorf("repeat sweep scanned %d", report.Scanned)
	}
}

func TestSweep_GracePeriodBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.ended(t, "nft-1")

	h.clock.Set(a.EndedAt.Add(grace - time.Second))
	if report, _ := h.lifecycle.Sweep(ctx); report.Expired != 0 {
		t.Fatalf("expired before grace elapsed: %+v", report)
	}

	h.clock.Set(a.EndedAt.Add(grace))
	report, err := h.lifecycle.Sweep(ctx)
	if err != nil || report.Expired != 1 {
		t.Fatalf("Sweep at grace = %+v, %v", report, err)
	}
	got, _ := h.repo.Get(ctx, a.ID)
	if got.Status != domain.StatusExpired || got.ExpiredAt == nil || !got.EndedAt.Equal(*a.EndedAt) {
		t.Errorf("got status=%s expired_at=%v ended_at=%v", got.Status, got.ExpiredAt, got.EndedAt)
	}
}

func TestSweep_ExpiresClaimedButUnsettled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.ended(t, "nft-1")
	if _, err := h.settlement.MarkAwaitingSettlement(ctx, a.ID, bidderA); err != nil {
		t.Fatalf("claim: %v", err)
	}

	h.clock.Set(a.EndedAt.Add(grace))
	if report, _ := h.lifecycle.Sweep(ctx); report.Expired != 1 {
		t.Fatalf("report = %+v", report)
	}
	got, _ := h.repo.Get(ctx, a.ID)
	if got.Status != domain.StatusExpired || got.SettlementClaimedBy == nil {
		t.Errorf("claim must survive expiry for reconciliation: %+v", got)
	}
}

// failingStore fails every compare-and-update on one record.
type failingStore struct {
	service.AuctionStore
	bad uuid.UUID
}

func (f *failingStore) CompareAndUpdate(ctx context.Context, id uuid.UUID, v int64, m func(*domain.Auction) error) (*domain.Auction, error) {
	if id == f.bad {
		return nil, domain.ErrStoreUnavailable
	}
	return f.AuctionStore.CompareAndUpdate(ctx, id, v, m)
}

func TestSweep_IsolatesRecordFailures(t *testing.T) {
	fs := &failingStore{}
	h := newHarness(t, withStore(func(s service.AuctionStore) service.AuctionStore {
		fs.AuctionStore = s
		return fs
	}))
	ctx := context.Background()

	var ids []uuid.UUID
	for _, asset := range []string{"a", "b", "c", "d"} {
		ids = append(ids, h.create(t, asset).ID)
	}
	fs.bad = ids[1]

	h.clock.Set(t0.Add(time.Hour))
	report, err := h.lifecycle.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Failed != 1 || report.Expired != 3 {
		t.Errorf("report = %+v", report)
	}
	got, _ := h.repo.Get(ctx, ids[1])
	if got.Status != domain.StatusActive {
		t.Errorf("failed record moved to %s", got.Status)
	}
}

// listFailStore fails the due listing.
type listFailStore struct{ service.AuctionStore }

func (listFailStore) ListDue(context.Context, time.Time, time.Duration) ([]*domain.Auction, error) {
	return nil, domain.ErrStoreUnavailable
}

func TestSweep_ListFailureIsTransient(t *testing.T) {
	h := newHarness(t, withStore(func(s service.AuctionStore) service.AuctionStore {
		return listFailStore{s}
	}))
	_, err := h.lifecycle.Sweep(context.Background())
	if !domain.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

// racingStore lets a competing writer commit once between a read and the
// sweep's compare-and-update.
type racingStore struct {
	service.AuctionStore
	race func()
}

func (r *racingStore) CompareAndUpdate(ctx context.Context, id uuid.UUID, v int64, m func(*domain.Auction) error) (*domain.Auction, error) {
	if race := r.race; race != nil {
		r.race = nil
		race()
	}
	return r.AuctionStore.CompareAndUpdate(ctx, id, v, m)
}

func TestTouch_RetriesAfterLosingRace(t *testing.T) {
	rs := &racingStore{}
	h := newHarness(t, withStore(func(s service.AuctionStore) service.AuctionStore {
		rs.AuctionStore = s
		return rs
	}))
	ctx := context.Background()
	a := h.create(t, "nft-1")

	h.clock.Set(t0.Add(time.Hour))
	rs.race = func() {
		// A seller end lands first; the sweep must see the new version and do nothing.
		if _, err := h.repo.CompareAndUpdate(ctx, a.ID, 0, func(x *domain.Auction) error {
			return x.CloseAtEnd(t0.Add(time.Hour))
		}); err != nil {
			t.Errorf("competing write: %v", err)
		}
	}
	got, err := h.lifecycle.Touch(ctx, a.ID)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if got.Status != domain.StatusExpired || got.Version != 1 {
		t.Errorf("got status=%s version=%d, want expired at version 1", got.Status, got.Version)
	}
}

func TestTouch_NotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.lifecycle.Touch(context.Background(), uuid.New()); !errors.Is(err, domain.ErrAuctionNotFound) {
		t.Errorf("err = %v", err)
	}
}
