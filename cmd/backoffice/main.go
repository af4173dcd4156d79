// Package main is the entry point for the auction back-office admin server.
// Runs on the backoffice port and exposes operator-only endpoints protected
// by RBAC.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/auction/internal/backoffice"
	"github.com/evetabi/auction/internal/bootstrap"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/scheduler"
	"github.com/evetabi/auction/internal/service"
)

func main() {
	// ── Config + logger ───────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := bootstrap.NewLogger(cfg)
	logger.Info("starting auction backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Infrastructure ────────────────────────────────────────────────────────
	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("infrastructure setup failed", "err", err)
		os.Exit(1)
	}
	defer infra.Close()

	// ── Services ──────────────────────────────────────────────────────────────
	// On-demand sweeps publish through the same fan-out as the server, and
	// share its Redis lease so they never overlap with the server's loop.
	lifecycleSvc := service.NewLifecycleService(infra.Repo, infra.Events, cfg.Auction, logger)
	sched := scheduler.NewScheduler(lifecycleSvc, infra.Lease, cfg.Auction.SweepInterval, logger)

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		Verifier: service.NewIdentityVerifier(cfg.JWT),
		Store:    infra.Repo,
		Sweeps:   sched,
		Cfg:      cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}
	logger.Info("backoffice server stopped cleanly")
}
