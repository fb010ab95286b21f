package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for loyalty state, seed history and referral edges. Writes go to the
// primary store and invalidate the cache once the transaction commits.
// Balances are never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	ct := &cachedTx{}
	err := s.primary.WithTx(ctx, func(tx Tx) error {
		ct.Tx = tx
		return fn(ct)
	})
	if err != nil {
		return err
	}
	if len(ct.stale) > 0 {
		s.rdb.Del(ctx, ct.stale...)
	}
	return nil
}

func (s *CachedStore) SetReferrer(ctx context.Context, r *model.Referral) error {
	if err := s.primary.SetReferrer(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, referrerKey(r.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLoyalty(ctx context.Context, userID string) (*model.Loyalty, error) {
	var l model.Loyalty
	if s.get(ctx, loyaltyKey(userID), &l) {
		return &l, nil
	}

	// Cache miss: read from primary.
	out, err := s.primary.GetLoyalty(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, loyaltyKey(userID), out)
	return out, nil
}

// ListSeeds serves the public view only: the active secret never reaches Redis.
func (s *CachedStore) ListSeeds(ctx context.Context, userID string) ([]model.Seed, error) {
	var seeds []model.Seed
	if s.get(ctx, seedsKey(userID), &seeds) {
		return seeds, nil
	}

	seeds, err := s.primary.ListSeeds(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range seeds {
		seeds[i] = seeds[i].Public()
	}
	s.set(ctx, seedsKey(userID), seeds)
	return seeds, nil
}

// GetReferrer is consulted for every ancestor of every bet, so it is the
// hottest cached read. Users without a referrer are cached as "".
func (s *CachedStore) GetReferrer(ctx context.Context, userID string) (string, error) {
	referrer, err := s.rdb.Get(ctx, referrerKey(userID)).Result()
	if err == nil {
		return referrer, nil
	}

	referrer, err = s.primary.GetReferrer(ctx, userID)
	if err != nil {
		return "", err
	}
	s.rdb.Set(ctx, referrerKey(userID), referrer, s.ttl)
	return referrer, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetWallet(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	return s.primary.GetWallet(ctx, userID, currency)
}

func (s *CachedStore) GetActiveSeed(ctx context.Context, userID string) (*model.Seed, error) {
	return s.primary.GetActiveSeed(ctx, userID)
}

func (s *CachedStore) ListBets(ctx context.Context, userID string, f Filter) ([]model.Bet, error) {
	return s.primary.ListBets(ctx, userID, f)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, f Filter) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID, f)
}

func (s *CachedStore) ListCommissions(ctx context.Context, recipientID string, f Filter) ([]model.Commission, error) {
	return s.primary.ListCommissions(ctx, recipientID, f)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// cachedTx records which cache keys a transaction makes stale.
type cachedTx struct {
	Tx
	stale []string
}

func (t *cachedTx) InsertSeed(ctx context.Context, sd *model.Seed) error {
	t.stale = append(t.stale, seedsKey(sd.UserID))
	return t.Tx.InsertSeed(ctx, sd)
}

func (t *cachedTx) UpdateSeedNonce(ctx context.Context, sd *model.Seed) error {
	t.stale = append(t.stale, seedsKey(sd.UserID))
	return t.Tx.UpdateSeedNonce(ctx, sd)
}

func (t *cachedTx) RetireSeed(ctx context.Context, sd *model.Seed) error {
	t.stale = append(t.stale, seedsKey(sd.UserID))
	return t.Tx.RetireSeed(ctx, sd)
}

func (t *cachedTx) SaveLoyalty(ctx context.Context, l *model.Loyalty) error {
	t.stale = append(t.stale, loyaltyKey(l.UserID))
	return t.Tx.SaveLoyalty(ctx, l)
}

func loyaltyKey(uid string) string  { return fmt.Sprintf("loyalty:%s", uid) }
func seedsKey(uid string) string    { return fmt.Sprintf("seeds:%s", uid) }
func referrerKey(uid string) string { return fmt.Sprintf("referrer:%s", uid) }
