package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/svcerr"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// WithTx holds the write lock for the whole transaction, so transactions
// are fully serialized. Every write inside it records an undo step that is
// replayed in reverse if fn fails.
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
}

type pairKey struct{ a, b string }

type memState struct {
	wallets     map[string]model.Wallet // by id
	walletIndex map[pairKey]string      // (user, currency) -> id
	seeds       map[string]model.Seed
	bets        []model.Bet
	txs         []model.Transaction
	loyalty     map[string]model.Loyalty
	carryover   map[pairKey]decimal.Decimal // (recipient, source)
	commissions []model.Commission
	paid        map[pairKey]bool // (bet, recipient)
	referrers   map[string]model.Referral
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		wallets:     make(map[string]model.Wallet),
		walletIndex: make(map[pairKey]string),
		seeds:       make(map[string]model.Seed),
		loyalty:     make(map[string]model.Loyalty),
		carryover:   make(map[pairKey]decimal.Decimal),
		paid:        make(map[pairKey]bool),
		referrers:   make(map[string]model.Referral),
	}}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{st: &s.state}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// --- Wallets ---

func (s *MemoryStore) GetWallet(_ context.Context, userID, currency string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.wallet(userID, currency)
}

func (st *memState) wallet(userID, currency string) (*model.Wallet, error) {
	id, ok := st.walletIndex[pairKey{userID, currency}]
	if !ok {
		return nil, fmt.Errorf("wallet %s/%s: %w", userID, currency, svcerr.ErrWalletNotFound)
	}
	w := st.wallets[id]
	return &w, nil
}

// --- Seeds ---

func (s *MemoryStore) GetActiveSeed(_ context.Context, userID string) (*model.Seed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.activeSeed(userID)
}

func (st *memState) activeSeed(userID string) (*model.Seed, error) {
	for _, seed := range st.seeds {
		if seed.UserID == userID && seed.Active {
			copy := seed
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("active seed for %s: %w", userID, svcerr.ErrSeedNotFound)
}

func (s *MemoryStore) ListSeeds(_ context.Context, userID string) ([]model.Seed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Seed
	for _, seed := range s.state.seeds {
		if seed.UserID == userID {
			out = append(out, seed)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- Audit trail ---

func (s *MemoryStore) ListBets(_ context.Context, userID string, f Filter) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Bet
	for i := len(s.state.bets) - 1; i >= 0 && len(out) < f.limit(); i-- {
		b := s.state.bets[i]
		if b.UserID == userID && f.contains(b.CreatedAt) {
			if seed, ok := s.state.seeds[b.SeedID]; ok && !seed.Active {
				b.ServerSeed = seed.ServerSeed
			}
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, f Filter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for i := len(s.state.txs) - 1; i >= 0 && len(out) < f.limit(); i-- {
		t := s.state.txs[i]
		if t.UserID == userID && f.contains(t.CreatedAt) {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- Loyalty and referrals ---

func (s *MemoryStore) GetLoyalty(_ context.Context, userID string) (*model.Loyalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.state.loyalty[userID]
	if !ok {
		l = model.Loyalty{UserID: userID}
	}
	return &l, nil
}

func (s *MemoryStore) ListCommissions(_ context.Context, recipientID string, f Filter) ([]model.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Commission
	for i := len(s.state.commissions) - 1; i >= 0 && len(out) < f.limit(); i-- {
		c := s.state.commissions[i]
		if c.RecipientID == recipientID && f.contains(c.CreatedAt) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetReferrer(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.referrers[userID].ReferrerID, nil
}

func (s *MemoryStore) SetReferrer(_ context.Context, r *model.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.referrers[r.UserID]; ok {
		return fmt.Errorf("referrer for %s: %w", r.UserID, svcerr.ErrAlreadyExists)
	}
	s.state.referrers[r.UserID] = *r
	return nil
}

// --- Transaction ---

// memTx operates directly on the locked state and keeps an undo log.
type memTx struct {
	st   *memState
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// restore returns an undo step that puts m[k] back to its current value.
func restore[K comparable, V any](m map[K]V, k K) func() {
	prev, had := m[k]
	return func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	}
}

// truncate returns an undo step that drops whatever is appended to *s after now.
func truncate[T any](s *[]T) func() {
	n := len(*s)
	return func() { *s = (*s)[:n] }
}

func (t *memTx) InsertWallet(_ context.Context, w *model.Wallet) error {
	key := pairKey{w.UserID, w.Currency}
	if _, ok := t.st.walletIndex[key]; ok {
		return fmt.Errorf("wallet %s/%s: %w", w.UserID, w.Currency, svcerr.ErrAlreadyExists)
	}
	t.undo = append(t.undo, restore(t.st.wallets, w.ID), restore(t.st.walletIndex, key))
	t.st.wallets[w.ID] = *w
	t.st.walletIndex[key] = w.ID
	return nil
}

func (t *memTx) LockWallet(_ context.Context, userID, currency string) (*model.Wallet, error) {
	return t.st.wallet(userID, currency)
}

func (t *memTx) UpdateWalletBalance(_ context.Context, walletID string, balance decimal.Decimal) error {
	w, ok := t.st.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletID, svcerr.ErrWalletNotFound)
	}
	t.undo = append(t.undo, restore(t.st.wallets, walletID))
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	t.st.wallets[walletID] = w
	return nil
}

func (t *memTx) InsertBet(_ context.Context, b *model.Bet) error {
	row := *b
	row.ServerSeed = ""
	t.undo = append(t.undo, truncate(&t.st.bets))
	t.st.bets = append(t.st.bets, row)
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	t.undo = append(t.undo, truncate(&t.st.txs))
	t.st.txs = append(t.st.txs, *tr)
	return nil
}

func (t *memTx) LockActiveSeed(_ context.Context, userID string) (*model.Seed, error) {
	return t.st.activeSeed(userID)
}

func (t *memTx) InsertSeed(_ context.Context, seed *model.Seed) error {
	if seed.Active {
		if _, err := t.st.activeSeed(seed.UserID); err == nil {
			return fmt.Errorf("active seed for %s: %w", seed.UserID, svcerr.ErrAlreadyExists)
		}
	}
	t.undo = append(t.undo, restore(t.st.seeds, seed.ID))
	t.st.seeds[seed.ID] = *seed
	return nil
}

func (t *memTx) UpdateSeedNonce(_ context.Context, seed *model.Seed) error {
	cur, ok := t.st.seeds[seed.ID]
	if !ok {
		return fmt.Errorf("seed %s: %w", seed.ID, svcerr.ErrSeedNotFound)
	}
	t.undo = append(t.undo, restore(t.st.seeds, seed.ID))
	cur.Nonce = seed.Nonce
	t.st.seeds[seed.ID] = cur
	return nil
}

func (t *memTx) RetireSeed(_ context.Context, seed *model.Seed) error {
	cur, ok := t.st.seeds[seed.ID]
	if !ok {
		return fmt.Errorf("seed %s: %w", seed.ID, svcerr.ErrSeedNotFound)
	}
	t.undo = append(t.undo, restore(t.st.seeds, seed.ID))
	cur.Active = false
	cur.Nonce = seed.Nonce
	cur.RevealedAt = seed.RevealedAt
	t.st.seeds[seed.ID] = cur
	return nil
}

func (t *memTx) LockLoyalty(_ context.Context, userID string) (*model.Loyalty, error) {
	l, ok := t.st.loyalty[userID]
	if !ok {
		l = model.Loyalty{UserID: userID}
	}
	return &l, nil
}

func (t *memTx) SaveLoyalty(_ context.Context, l *model.Loyalty) error {
	t.undo = append(t.undo, restore(t.st.loyalty, l.UserID))
	t.st.loyalty[l.UserID] = *l
	return nil
}

func (t *memTx) LockCarryover(_ context.Context, recipientID, sourceUserID string) (decimal.Decimal, error) {
	return t.st.carryover[pairKey{recipientID, sourceUserID}], nil
}

func (t *memTx) SaveCarryover(_ context.Context, recipientID, sourceUserID string, amount decimal.Decimal) error {
	key := pairKey{recipientID, sourceUserID}
	t.undo = append(t.undo, restore(t.st.carryover, key))
	t.st.carryover[key] = amount
	return nil
}

func (t *memTx) InsertCommission(_ context.Context, c *model.Commission) (bool, error) {
	key := pairKey{c.BetID, c.RecipientID}
	if t.st.paid[key] {
		return false, nil
	}
	t.undo = append(t.undo, restore(t.st.paid, key), truncate(&t.st.commissions))
	t.st.paid[key] = true
	t.st.commissions = append(t.st.commissions, *c)
	return true, nil
}
