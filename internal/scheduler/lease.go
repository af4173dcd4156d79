package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// DefaultLeaseKey names the Redis mutex shared by every sweeping replica.
const DefaultLeaseKey = "auction:sweep:lease"

// ──────────────────────────────────────────────────────────────────────────────
// LocalLease
// ──────────────────────────────────────────────────────────────────────────────

// LocalLease serialises sweeps inside one process.
type LocalLease struct {
	mu sync.Mutex
}

// NewLocalLease returns an unheld LocalLease.
func NewLocalLease() *LocalLease { return &LocalLease{} }

// Acquire never waits.
func (l *LocalLease) Acquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// RedisLease
// ──────────────────────────────────────────────────────────────────────────────

// RedisLease is a redsync mutex with a single try, so a replica that loses the
// race skips the tick instead of queueing behind the winner. The TTL bounds
// how long a crashed holder blocks the others.
type RedisLease struct {
	rs     *redsync.Redsync
	key    string
	ttl    time.Duration
	local  *LocalLease
	logger *slog.Logger
}

// NewRedisLease builds a lease on client. key defaults to DefaultLeaseKey.
func NewRedisLease(client goredislib.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *RedisLease {
	if key == "" {
		key = DefaultLeaseKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLease{
		rs:     redsync.New(goredis.NewPool(client)),
		key:    key,
		ttl:    ttl,
		local:  NewLocalLease(),
		logger: logger,
	}
}

// Acquire takes the local lease first, then the Redis mutex.
func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	releaseLocal, ok, _ := l.local.Acquire(ctx)
	if !ok {
		return nil, false, nil
	}

	mutex := l.rs.NewMutex(l.key, redsync.WithExpiry(l.ttl), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		releaseLocal()
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, err
	}

	release := func() {
		defer releaseLocal()
		// The sweep may have outlived ctx; unlocking must still reach Redis.
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(uctx); err != nil || !ok {
			l.logger.Warn("sweep lease: unlock failed", "key", l.key, "ok", ok, "err", err)
		}
	}
	return release, true, nil
}
