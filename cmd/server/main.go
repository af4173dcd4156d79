// Package main is the entry point for the auction engine API server. It wires
// together all services and starts the HTTP server alongside the WebSocket
// hub, the lifecycle scheduler and the settlement consumer.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/auction/internal/api"
	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/bootstrap"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/consumer"
	"github.com/evetabi/auction/internal/scheduler"
	"github.com/evetabi/auction/internal/service"
	"github.com/evetabi/auction/internal/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := bootstrap.NewLogger(cfg)
	logger.Info("starting auction server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Infrastructure (db, migrations, redis, nats, chain) ───────────────
	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("infrastructure setup failed", "err", err)
		os.Exit(1)
	}
	defer infra.Close()

	// ── 4. WebSocket hub (joins the event fan-out) ───────────────────────────
	verifier := service.NewIdentityVerifier(cfg.JWT)
	hub := ws.NewHub(verifier, cfg.Server.AllowedOrigins, logger)
	infra.Events.Add(hub)

	// ── 5. Services (order matters for injection) ─────────────────────────────
	lifecycleSvc := service.NewLifecycleService(infra.Repo, infra.Events, cfg.Auction, logger)
	settlementSvc := service.NewSettlementService(infra.Repo, lifecycleSvc, infra.Events, logger)
	auctionSvc := service.NewAuctionService(
		infra.Repo, lifecycleSvc, settlementSvc, infra.Oracle, infra.Events, cfg.Auction, logger)

	// ── 6. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(lifecycleSvc, infra.Lease, cfg.Auction.SweepInterval, logger)

	// ── 7. HTTP router ────────────────────────────────────────────────────────
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS)
	router := api.SetupRouter(api.RouterDeps{
		Verifier:   verifier,
		AuctionSvc: auctionSvc,
		Hub:        hub,
		Limiter:    limiter,
		Cfg:        cfg,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 8. Background goroutines ─────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limiter.RunEvictor(gctx)
		return nil
	})
	sched.Start(gctx)
	logger.Info("websocket hub and scheduler started")

	if cfg.AMQP.URL != "" {
		settlements, err := consumer.Dial(cfg.AMQP, settlementSvc, logger)
		if err != nil {
			logger.Error("amqp setup failed", "err", err)
			os.Exit(1)
		}
		defer settlements.Close()
		g.Go(func() error { return settlements.Run(gctx) })
	}

	// ── 9. HTTP server ────────────────────────────────────────────────────────
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ── 10. Graceful shutdown ─────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "err", err)
		infra.Close()
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}
