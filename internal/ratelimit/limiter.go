// Package ratelimit enforces a minimum interval between a user's bets.
//
// The limiter runs ahead of settlement to bound contention on the wallet
// lock. Its state lives behind Store: MemoryStore for a single process,
// RedisStore when several processes share users.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/settlement-engine/internal/svcerr"
)

// Store is a key-value store with set-if-absent and expiry.
type Store interface {
	// SetNX sets key for ttl if it is not already set. It reports whether the
	// key was set.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Limiter allows one bet per user per interval.
type Limiter struct {
	store    Store
	interval time.Duration
	log      *slog.Logger
}

// New creates a limiter. A non-positive interval disables limiting.
func New(st Store, interval time.Duration, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{store: st, interval: interval, log: log}
}

// Allow returns svcerr.ErrRateLimited if userID placed a bet less than one
// interval ago. A store failure lets the bet through: the wallet lock, not
// the limiter, is what keeps settlement correct.
func (l *Limiter) Allow(ctx context.Context, userID string) error {
	if l.interval <= 0 {
		return nil
	}
	ok, err := l.store.SetNX(ctx, key(userID), l.interval)
	if err != nil {
		l.log.Warn("rate limit store unavailable", "user_id", userID, "err", err)
		return nil
	}
	if !ok {
		return fmt.Errorf("user %s: one bet per %s: %w", userID, l.interval, svcerr.ErrRateLimited)
	}
	return nil
}

func key(userID string) string { return "ratelimit:bet:" + userID }
