package service_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/repository"
	"github.com/evetabi/auction/internal/service"
	"github.com/shopspring/decimal"
)

const (
	seller  = "0x1111111111111111111111111111111111111111"
	bidderA = "0x2222222222222222222222222222222222222222"
	bidderB = "0x3333333333333333333333333333333333333333"
	grace   = 7 * 24 * time.Hour
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ── clock ────────────────────────────────────────────────────────────────────

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// ── recorder ─────────────────────────────────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	events []domain.AuctionEvent
}

func (r *recorder) Publish(_ context.Context, evt domain.AuctionEvent) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t domain.EventType) (domain.AuctionEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return domain.AuctionEvent{}, false
}

// ── oracle ───────────────────────────────────────────────────────────────────

type oracleFunc func(ctx context.Context, assetID, identity string) (bool, error)

func (f oracleFunc) IsOwner(ctx context.Context, assetID, identity string) (bool, error) {
	return f(ctx, assetID, identity)
}

// ── harness ──────────────────────────────────────────────────────────────────

type harness struct {
	repo       *repository.AuctionRepository
	store      service.AuctionStore
	lifecycle  *service.LifecycleService
	settlement *service.SettlementService
	auctions   *service.AuctionService
	clock      *clock
	events     *recorder
}

type option func(*config.AuctionConfig, *harnessDeps)

type harnessDeps struct {
	oracle service.OwnershipOracle
	wrap   func(service.AuctionStore) service.AuctionStore
}

func withOracle(o service.OwnershipOracle) option {
	return func(_ *config.AuctionConfig, d *harnessDeps) { d.oracle = o }
}

func withStore(wrap func(service.AuctionStore) service.AuctionStore) option {
	return func(_ *config.AuctionConfig, d *harnessDeps) { d.wrap = wrap }
}

func withBidRetries(n int) option {
	return func(c *config.AuctionConfig, _ *harnessDeps) { c.BidRetries = n }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, config.DBConfig{
		Driver: repository.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "auctions.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := repository.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.AuctionConfig{
		GracePeriod:        grace,
		SweepWorkers:       4,
		SweepRecordTimeout: 5 * time.Second,
		BidRetries:         3,
		MinDuration:        time.Minute,
		MaxDuration:        30 * 24 * time.Hour,
	}
	deps := harnessDeps{}
	for _, o := range opts {
		o(&cfg, &deps)
	}

	h := &harness{
		repo:   repository.NewAuctionRepository(db, 5*time.Second),
		clock:  &clock{t: t0},
		events: &recorder{},
	}
	h.store = h.repo
	if deps.wrap != nil {
		h.store = deps.wrap(h.repo)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h.lifecycle = service.NewLifecycleService(h.store, h.events, cfg, logger)
	h.settlement = service.NewSettlementService(h.store, h.lifecycle, h.events, logger)
	h.auctions = service.NewAuctionService(h.store, h.lifecycle, h.settlement, deps.oracle, h.events, cfg, logger)
	h.lifecycle.SetClock(h.clock.Now)
	h.settlement.SetClock(h.clock.Now)
	h.auctions.SetClock(h.clock.Now)
	return h
}

// create lists an auction on asset for one hour at base price 0.001.
func (h *harness) create(t *testing.T, asset string) *domain.Auction {
	t.Helper()
	a, err := h.auctions.Create(context.Background(), service.CreateAuctionRequest{
		AssetID:   asset,
		Seller:    seller,
		BasePrice: dec("0.001"),
		Duration:  time.Hour,
	})
	if err != nil {
		t.Fatalf("create %s: %v", asset, err)
	}
	return a
}

func (h *harness) bid(t *testing.T, a *domain.Auction, bidder, amount string) *domain.Auction {
	t.Helper()
	got, err := h.auctions.PlaceBid(context.Background(), a.ID, bidder, dec(amount), nil)
	if err != nil {
		t.Fatalf("bid %s by %s: %v", amount, bidder, err)
	}
	return got
}

// ended returns an auction with one bid by bidderA whose window has closed.
func (h *harness) ended(t *testing.T, asset string) *domain.Auction {
	t.Helper()
	a := h.create(t, asset)
	h.clock.Set(a.StartTime.Add(time.Minute))
	h.bid(t, a, bidderA, "0.002")
	h.clock.Set(a.EndTime)
	got, err := h.lifecycle.Touch(context.Background(), a.ID)
	if err != nil || got.Status != domain.StatusEnded {
		t.Fatalf("close %s: status=%v err=%v", asset, got, err)
	}
	return got
}

func evidence(b byte) domain.SettlementEvidence {
	hash := make([]byte, 64)
	for i := range hash {
		hash[i] = "0123456789abcdef"[b%16]
	}
	return domain.SettlementEvidence{TxHash: "0x" + string(hash)}
}
