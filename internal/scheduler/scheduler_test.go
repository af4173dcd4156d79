package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/scheduler"
	"github.com/evetabi/auction/internal/service"
	"github.com/redis/go-redis/v9"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type countingSweeper struct {
	calls  atomic.Int64
	panics atomic.Int64 // panic this many times first
	err      error
	block    chan struct{}
	inFlight atomic.Int64
}

func (c *countingSweeper) Sweep(ctx context.Context) (service.SweepReport, error) {
	if c.panics.Add(-1) >= 0 {
		panic("boom")
	}
	if c.block != nil {
		c.inFlight.Add(1)
		<-c.block
	}
	n := c.calls.Add(1)
	return service.SweepReport{Scanned: int(n)}, c.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunOnce_RecordsReport(t *testing.T) {
	sw := &countingSweeper{}
	s := scheduler.NewScheduler(sw, nil, time.Hour, discard())

	if _, ok := s.LastReport(); ok {
		t.Fatal("LastReport before any sweep")
	}
	report, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Scanned != 1 {
		t.Fatalf("Scanned = %d, want 1", report.Scanned)
	}
	if last, ok := s.LastReport(); !ok || last.Scanned != 1 {
		t.Fatalf("LastReport = %+v, %v", last, ok)
	}
}

func TestRunOnce_PropagatesSweepError(t *testing.T) {
	sentinel := errors.New("list failed")
	s := scheduler.NewScheduler(&countingSweeper{err: sentinel}, nil, time.Hour, discard())
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if _, ok := s.LastReport(); ok {
		t.Fatal("failed sweep recorded as last report")
	}
}

func TestRunOnce_LeaseHeld(t *testing.T) {
	lease := scheduler.NewLocalLease()
	release, ok, _ := lease.Acquire(context.Background())
	if !ok {
		t.Fatal("fresh lease not acquired")
	}
	s := scheduler.NewScheduler(&countingSweeper{}, lease, time.Hour, discard())

	if _, err := s.RunOnce(context.Background()); !errors.Is(err, scheduler.ErrLeaseHeld) {
		t.Fatalf("err = %v, want ErrLeaseHeld", err)
	}
	release()
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestLoop_TicksAndSurvivesPanic(t *testing.T) {
	sw := &countingSweeper{}
	sw.panics.Store(1)
	s := scheduler.NewScheduler(sw, nil, 10*time.Millisecond, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitFor(t, func() bool { return sw.calls.Load() >= 2 })
}

func TestTriggerSweep_WakesLoop(t *testing.T) {
	sw := &countingSweeper{}
	s := scheduler.NewScheduler(sw, nil, time.Hour, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.TriggerSweep()
	s.TriggerSweep() // collapses or runs again, never blocks
	waitFor(t, func() bool { return sw.calls.Load() >= 1 })
}

func TestLoop_NoOverlapWithRunOnce(t *testing.T) {
	sw := &countingSweeper{block: make(chan struct{})}
	s := scheduler.NewScheduler(sw, nil, time.Hour, discard())

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()

	waitFor(t, func() bool { return sw.inFlight.Load() == 1 })
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, scheduler.ErrLeaseHeld) {
		t.Fatalf("overlapping RunOnce err = %v, want ErrLeaseHeld", err)
	}
	close(sw.block)
	if err := <-done; err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
}

func TestRedisLease_SingleHolder(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := "auction:test:lease:" + time.Now().Format("150405.000000")
	a := scheduler.NewRedisLease(client, key, 5*time.Second, discard())
	b := scheduler.NewRedisLease(client, key, 5*time.Second, discard())

	release, ok, err := a.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	if _, ok, err := b.Acquire(context.Background()); err != nil || ok {
		t.Fatalf("second Acquire = %v, %v, want held", ok, err)
	}
	release()
	release2, ok, err := b.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("Acquire after release = %v, %v", ok, err)
	}
	release2()
}
