// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// Store is the persistence interface. Every balance, seed, loyalty and
// commission mutation happens inside WithTx; the remaining methods are
// plain reads plus a few single-row writes outside any settlement.
type Store interface {
	// WithTx runs fn inside one transaction. If fn returns an error nothing
	// it wrote is kept.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Wallets ---

	// GetWallet returns svcerr.ErrWalletNotFound if the user has no wallet
	// in the currency.
	GetWallet(ctx context.Context, userID, currency string) (*model.Wallet, error)

	// --- Seeds ---

	// GetActiveSeed returns svcerr.ErrSeedNotFound if the user has none.
	GetActiveSeed(ctx context.Context, userID string) (*model.Seed, error)

	// ListSeeds returns the user's seeds, newest first.
	ListSeeds(ctx context.Context, userID string) ([]model.Seed, error)

	// --- Audit trail ---

	ListBets(ctx context.Context, userID string, f Filter) ([]model.Bet, error)
	ListTransactions(ctx context.Context, userID string, f Filter) ([]model.Transaction, error)

	// --- Loyalty and referrals ---

	// GetLoyalty returns a zero state for users who have never bet.
	GetLoyalty(ctx context.Context, userID string) (*model.Loyalty, error)

	// ListCommissions returns commissions received by recipientID, newest first.
	ListCommissions(ctx context.Context, recipientID string, f Filter) ([]model.Commission, error)

	// GetReferrer returns "" when the user was not referred.
	GetReferrer(ctx context.Context, userID string) (string, error)

	// SetReferrer records who referred a user. A user is referred at most once.
	SetReferrer(ctx context.Context, r *model.Referral) error
}

// Tx is the transactional view of the store. Lock* methods take a
// pessimistic row lock held until the transaction ends.
type Tx interface {
	// InsertWallet returns svcerr.ErrAlreadyExists if the user already has a
	// wallet in the currency.
	InsertWallet(ctx context.Context, w *model.Wallet) error
	// LockWallet returns svcerr.ErrWalletNotFound if no wallet matches.
	LockWallet(ctx context.Context, userID, currency string) (*model.Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal) error

	InsertBet(ctx context.Context, b *model.Bet) error
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// LockActiveSeed returns svcerr.ErrSeedNotFound if the user has none.
	LockActiveSeed(ctx context.Context, userID string) (*model.Seed, error)
	InsertSeed(ctx context.Context, s *model.Seed) error
	// UpdateSeedNonce stores s.Nonce.
	UpdateSeedNonce(ctx context.Context, s *model.Seed) error
	// RetireSeed marks s inactive and stamps s.RevealedAt.
	RetireSeed(ctx context.Context, s *model.Seed) error

	// LockLoyalty creates a zero state if the user has none.
	LockLoyalty(ctx context.Context, userID string) (*model.Loyalty, error)
	SaveLoyalty(ctx context.Context, l *model.Loyalty) error

	// LockCarryover returns the revenue-share carryover for the pair, zero if unset.
	LockCarryover(ctx context.Context, recipientID, sourceUserID string) (decimal.Decimal, error)
	SaveCarryover(ctx context.Context, recipientID, sourceUserID string, amount decimal.Decimal) error

	// InsertCommission reports false when a commission for the same bet and
	// recipient already exists.
	InsertCommission(ctx context.Context, c *model.Commission) (bool, error)
}

// Filter bounds audit queries. Zero From/To are open ends; Limit <= 0
// means DefaultLimit.
type Filter struct {
	From  time.Time
	To    time.Time
	Limit int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// limit normalises f.Limit into [1, MaxLimit].
func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	}
	return f.Limit
}

func (f Filter) contains(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.Before(f.To) {
		return false
	}
	return true
}
