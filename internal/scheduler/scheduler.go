// Package scheduler runs the background sweep that applies time-based auction
// transitions:
//  1. sweepLoop – sweeps on every tick and on demand via TriggerSweep.
//  2. RunOnce   – a synchronous sweep for operator requests.
//
// Both paths take the same Lease, so at most one sweep runs at a time per
// process, and per deployment when the lease is backed by Redis.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/service"
)

// ErrLeaseHeld is returned by RunOnce when another sweep holds the lease.
var ErrLeaseHeld = errors.New("scheduler: sweep lease held elsewhere")

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies
// ──────────────────────────────────────────────────────────────────────────────

// Sweeper applies due transitions. Implemented by service.LifecycleService.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// Lease grants the right to sweep. Acquire returns ok=false without error when
// someone else holds it; release must be called once when ok is true.
type Lease interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler drives the lifecycle sweep. Call Start(ctx) once from main();
// cancel the context to shut it down.
type Scheduler struct {
	sweeper  Sweeper
	lease    Lease
	interval time.Duration
	trigger  chan struct{}
	logger   *slog.Logger

	mu   sync.Mutex
	last *service.SweepReport
}

// NewScheduler creates a Scheduler. A nil lease means a process-local one.
func NewScheduler(sweeper Sweeper, lease Lease, interval time.Duration, logger *slog.Logger) *Scheduler {
	if lease == nil {
		lease = NewLocalLease()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		sweeper:  sweeper,
		lease:    lease,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Start launches the sweep goroutine. It returns immediately; the loop runs
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.sweepLoop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// TriggerSweep asks the loop to sweep as soon as possible. Never blocks;
// repeated triggers before the loop wakes collapse into one sweep.
func (s *Scheduler) TriggerSweep() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RunOnce sweeps synchronously under the lease and returns the report.
func (s *Scheduler) RunOnce(ctx context.Context) (service.SweepReport, error) {
	release, ok, err := s.lease.Acquire(ctx)
	if err != nil {
		return service.SweepReport{}, fmt.Errorf("scheduler.RunOnce: acquire lease: %w", err)
	}
	if !ok {
		return service.SweepReport{}, ErrLeaseHeld
	}
	defer release()

	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return report, fmt.Errorf("scheduler.RunOnce: %w", err)
	}
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()
	return report, nil
}

// LastReport returns the most recent successful sweep, if any.
func (s *Scheduler) LastReport() (service.SweepReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return service.SweepReport{}, false
	}
	return *s.last, true
}

// ──────────────────────────────────────────────────────────────────────────────
// sweepLoop
// ──────────────────────────────────────────────────────────────────────────────

// sweepLoop sweeps on every tick and on every trigger.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweepLoop: shutting down")
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		s.tick(ctx)
	}
}

// tick is the inner body of sweepLoop, extracted so that a panic in one sweep
// is recovered without stopping the loop.
func (s *Scheduler) tick(ctx context.Context) {
	defer s.recoverAndLog("sweepLoop")

	_, err := s.RunOnce(ctx)
	switch {
	case err == nil, errors.Is(err, ErrLeaseHeld):
	case ctx.Err() != nil:
		// shutting down
	default:
		s.logger.Error("sweepLoop: sweep failed", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred around each sweep to catch unexpected panics and
// log them.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
