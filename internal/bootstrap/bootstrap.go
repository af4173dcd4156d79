// Package bootstrap builds the infrastructure shared by the server and the
// backoffice: logger, database, auction store, event publishers, sweep lease
// and ownership oracle. Optional integrations are enabled by their config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/evetabi/auction/internal/chain"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/events"
	"github.com/evetabi/auction/internal/repository"
	"github.com/evetabi/auction/internal/scheduler"
	"github.com/evetabi/auction/internal/service"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NewLogger returns a JSON logger in production and a debug text logger
// otherwise, and installs it as the slog default.
func NewLogger(cfg *config.Config) *slog.Logger {
	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)
	return logger
}

// Infra holds the opened connections. Close releases them in reverse order.
type Infra struct {
	DB     *sqlx.DB
	Repo   *repository.AuctionRepository
	Events *events.Fanout
	Lease  scheduler.Lease
	Oracle service.OwnershipOracle

	closers []func()
	logger  *slog.Logger
}

// Open connects the database, applies migrations and enables every optional
// integration whose config is set. On error everything opened so far is
// closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Infra, err error) {
	in := &Infra{Events: events.NewFanout(), logger: logger}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	// ── Database ──────────────────────────────────────────────────────────────
	db, err := repository.Open(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	in.DB = db
	in.closers = append(in.closers, func() { db.Close() })
	logger.Info("database connected", "driver", cfg.DB.Driver)

	if err = repository.Migrate(ctx, db); err != nil {
		return nil, err
	}
	logger.Info("migrations applied")
	in.Repo = repository.NewAuctionRepository(db, cfg.Auction.StoreTimeout)

	// ── Redis: pub/sub events + sweep lease ──────────────────────────────────
	if cfg.Redis.Addr != "" {
		rdb, err := events.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func() { rdb.Close() })
		in.Events.Add(events.NewRedisPublisher(rdb))
		in.Lease = scheduler.NewRedisLease(rdb, "", cfg.Redis.LeaseTTL, logger)
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// ── NATS JetStream: durable event archive ────────────────────────────────
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("auction-engine"))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: nats connect: %w", err)
		}
		in.closers = append(in.closers, func() { _ = nc.Drain() })
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: jetstream: %w", err)
		}
		if err = events.EnsureStream(ctx, js, cfg.NATS.Stream, cfg.NATS.MaxAge); err != nil {
			return nil, err
		}
		in.Events.Add(events.NewNATSPublisher(js))
		logger.Info("nats jetstream connected", "stream", cfg.NATS.Stream)
	}

	// ── Chain: ERC-721 ownership oracle ──────────────────────────────────────
	in.Oracle = service.TrustSellerOracle{}
	if cfg.Chain.RPCURL != "" {
		oracle, client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ContractAddress, cfg.Chain.CallTimeout)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, client.Close)
		in.Oracle = oracle
		logger.Info("ownership oracle enabled", "contract", cfg.Chain.ContractAddress)
	} else {
		logger.Warn("no CHAIN_RPC_URL: seller ownership claims are trusted")
	}

	return in, nil
}

// Close releases every connection opened by Open.
func (in *Infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}
