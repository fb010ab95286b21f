package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/svcerr"
)

func seedWallet(t *testing.T, s Store, userID string, balance int64) *model.Wallet {
	t.Helper()
	w := &model.Wallet{
		ID:        "w-" + userID,
		UserID:    userID,
		Currency:  "USDT",
		Balance:   decimal.NewFromInt(balance),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, insertWallet(context.Background(), s, w))
	return w
}

func insertWallet(ctx context.Context, s Store, w *model.Wallet) error {
	return s.WithTx(ctx, func(tx Tx) error { return tx.InsertWallet(ctx, w) })
}

func TestMemoryStore_WalletLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	w := seedWallet(t, s, "alice", 1000)

	err := insertWallet(ctx, s, &model.Wallet{ID: "dup", UserID: "alice", Currency: "USDT"})
	assert.ErrorIs(t, err, svcerr.ErrAlreadyExists)

	_, err = s.GetWallet(ctx, "alice", "BTC")
	assert.ErrorIs(t, err, svcerr.ErrWalletNotFound)

	err = s.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.LockWallet(ctx, "alice", "USDT")
		require.NoError(t, err)
		assert.Equal(t, w.ID, locked.ID)
		return tx.UpdateWalletBalance(ctx, locked.ID, decimal.NewFromInt(1092))
	})
	require.NoError(t, err)

	got, err := s.GetWallet(ctx, "alice", "USDT")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1092)))
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	w := seedWallet(t, s, "alice", 1000)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.UpdateWalletBalance(ctx, w.ID, decimal.NewFromInt(1)))
		require.NoError(t, tx.InsertBet(ctx, &model.Bet{ID: "b1", UserID: "alice", CreatedAt: time.Now()}))
		require.NoError(t, tx.InsertTransaction(ctx, &model.Transaction{ID: "t1", UserID: "alice", CreatedAt: time.Now()}))
		require.NoError(t, tx.InsertSeed(ctx, &model.Seed{ID: "s1", UserID: "alice", Active: true}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.GetWallet(ctx, "alice", "USDT")
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)))
	bets, _ := s.ListBets(ctx, "alice", Filter{})
	assert.Empty(t, bets)
	txs, _ := s.ListTransactions(ctx, "alice", Filter{})
	assert.Empty(t, txs)
	_, err = s.GetActiveSeed(ctx, "alice")
	assert.ErrorIs(t, err, svcerr.ErrSeedNotFound)
}

func TestMemoryStore_RollbackUndoesEveryWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	boom := errors.New("boom")

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertSeed(ctx, &model.Seed{ID: "s1", UserID: "alice", Active: true, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.SaveCarryover(ctx, "ref", "alice", decimal.NewFromInt(-10)); err != nil {
			return err
		}
		return tx.InsertBet(ctx, &model.Bet{ID: "b0", UserID: "alice", SeedID: "s1", CreatedAt: now})
	}))

	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertWallet(ctx, &model.Wallet{ID: "w-bob", UserID: "bob", Currency: "USDT"}))
		seed, err := tx.LockActiveSeed(ctx, "alice")
		require.NoError(t, err)
		seed.Nonce = 7
		require.NoError(t, tx.RetireSeed(ctx, seed))
		require.NoError(t, tx.InsertSeed(ctx, &model.Seed{ID: "s2", UserID: "alice", Active: true, CreatedAt: now}))
		require.NoError(t, tx.InsertBet(ctx, &model.Bet{ID: "b1", UserID: "alice", SeedID: "s2", CreatedAt: now}))
		require.NoError(t, tx.SaveCarryover(ctx, "ref", "alice", decimal.NewFromInt(-30)))
		require.NoError(t, tx.SaveLoyalty(ctx, &model.Loyalty{UserID: "alice", TotalBets: 3}))
		ok, err := tx.InsertCommission(ctx, &model.Commission{ID: "c1", RecipientID: "ref", BetID: "b1", CreatedAt: now})
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetWallet(ctx, "bob", "USDT")
	assert.ErrorIs(t, err, svcerr.ErrWalletNotFound)
	active, err := s.GetActiveSeed(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "s1", active.ID)
	assert.Equal(t, int64(0), active.Nonce)
	seeds, _ := s.ListSeeds(ctx, "alice")
	assert.Len(t, seeds, 1)
	bets, _ := s.ListBets(ctx, "alice", Filter{})
	require.Len(t, bets, 1)
	assert.Equal(t, "b0", bets[0].ID)
	l, _ := s.GetLoyalty(ctx, "alice")
	assert.Zero(t, l.TotalBets)
	cs, _ := s.ListCommissions(ctx, "ref", Filter{})
	assert.Empty(t, cs)

	// the rolled-back commission does not block a later one for the same bet
	var carry decimal.Decimal
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		if carry, err = tx.LockCarryover(ctx, "ref", "alice"); err != nil {
			return err
		}
		ok, err := tx.InsertCommission(ctx, &model.Commission{ID: "c2", RecipientID: "ref", BetID: "b1", CreatedAt: now})
		assert.True(t, ok)
		return err
	}))
	assert.True(t, carry.Equal(decimal.NewFromInt(-10)))

	// appends after a rollback land where the undone rows were
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.InsertBet(ctx, &model.Bet{ID: "b2", UserID: "alice", SeedID: "s1", CreatedAt: now})
	}))
	bets, _ = s.ListBets(ctx, "alice", Filter{})
	require.Len(t, bets, 2)
	assert.Equal(t, "b2", bets[0].ID)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewMemoryStore().WithTx(ctx, func(tx Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryStore_Seeds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.InsertSeed(ctx, &model.Seed{ID: "s1", UserID: "alice", ServerSeed: "secret", Active: true, CreatedAt: now})
	})
	require.NoError(t, err)

	// a second active seed is rejected
	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.InsertSeed(ctx, &model.Seed{ID: "s2", UserID: "alice", Active: true, CreatedAt: now})
	})
	assert.ErrorIs(t, err, svcerr.ErrAlreadyExists)

	err = s.WithTx(ctx, func(tx Tx) error {
		seed, err := tx.LockActiveSeed(ctx, "alice")
		if err != nil {
			return err
		}
		seed.Nonce = 5
		if err := tx.UpdateSeedNonce(ctx, seed); err != nil {
			return err
		}
		revealed := now.Add(time.Second)
		seed.RevealedAt = &revealed
		if err := tx.RetireSeed(ctx, seed); err != nil {
			return err
		}
		return tx.InsertSeed(ctx, &model.Seed{ID: "s2", UserID: "alice", Active: true, CreatedAt: now.Add(time.Second)})
	})
	require.NoError(t, err)

	active, err := s.GetActiveSeed(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "s2", active.ID)

	seeds, err := s.ListSeeds(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "s2", seeds[0].ID)
	assert.Equal(t, "s1", seeds[1].ID)
	assert.False(t, seeds[1].Active)
	assert.Equal(t, int64(5), seeds[1].Nonce)
	assert.NotNil(t, seeds[1].RevealedAt)
}

func TestMemoryStore_BetsRevealServerSeedAfterRetirement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertSeed(ctx, &model.Seed{ID: "s1", UserID: "alice", ServerSeed: "secret", Active: true}); err != nil {
			return err
		}
		return tx.InsertBet(ctx, &model.Bet{ID: "b1", UserID: "alice", SeedID: "s1", ServerSeed: "secret", CreatedAt: now})
	}))

	bets, _ := s.ListBets(ctx, "alice", Filter{})
	require.Len(t, bets, 1)
	assert.Empty(t, bets[0].ServerSeed)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		seed, _ := tx.LockActiveSeed(ctx, "alice")
		return tx.RetireSeed(ctx, seed)
	}))

	bets, _ = s.ListBets(ctx, "alice", Filter{})
	assert.Equal(t, "secret", bets[0].ServerSeed)
}

func TestMemoryStore_FilterAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		for i := 0; i < 5; i++ {
			at := base.Add(time.Duration(i) * time.Hour)
			if err := tx.InsertBet(ctx, &model.Bet{ID: string(rune('a' + i)), UserID: "alice", CreatedAt: at}); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, &model.Transaction{ID: string(rune('a' + i)), UserID: "alice", CreatedAt: at}); err != nil {
				return err
			}
		}
		return tx.InsertBet(ctx, &model.Bet{ID: "other", UserID: "bob", CreatedAt: base})
	}))

	bets, err := s.ListBets(ctx, "alice", Filter{From: base.Add(time.Hour), To: base.Add(4 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, bets, 3)
	assert.Equal(t, "d", bets[0].ID, "newest first")
	assert.Equal(t, "b", bets[2].ID)

	bets, _ = s.ListBets(ctx, "alice", Filter{Limit: 2})
	assert.Len(t, bets, 2)

	txs, _ := s.ListTransactions(ctx, "alice", Filter{From: base.Add(3 * time.Hour)})
	assert.Len(t, txs, 2)
}

func TestMemoryStore_LoyaltyAndCarryover(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	l, err := s.GetLoyalty(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", l.UserID)
	assert.True(t, l.TotalWagered.IsZero())

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		l, err := tx.LockLoyalty(ctx, "alice")
		if err != nil {
			return err
		}
		l.TotalWagered = decimal.NewFromInt(100)
		l.TotalBets = 1
		if err := tx.SaveLoyalty(ctx, l); err != nil {
			return err
		}
		carry, err := tx.LockCarryover(ctx, "ref", "alice")
		if err != nil {
			return err
		}
		assert.True(t, carry.IsZero())
		return tx.SaveCarryover(ctx, "ref", "alice", decimal.NewFromInt(-50))
	}))

	l, _ = s.GetLoyalty(ctx, "alice")
	assert.Equal(t, int64(1), l.TotalBets)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		carry, err := tx.LockCarryover(ctx, "ref", "alice")
		assert.True(t, carry.Equal(decimal.NewFromInt(-50)))
		return err
	}))
}

func TestMemoryStore_CommissionsUniquePerBetAndRecipient(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := &model.Commission{ID: "c1", RecipientID: "ref", SourceUserID: "alice", BetID: "b1", CreatedAt: time.Now()}

	var first, second bool
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		var err error
		first, err = tx.InsertCommission(ctx, c)
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		dup := *c
		dup.ID = "c2"
		var err error
		second, err = tx.InsertCommission(ctx, &dup)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	list, err := s.ListCommissions(ctx, "ref", Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStore_Referrers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ref, err := s.GetReferrer(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, ref)

	require.NoError(t, s.SetReferrer(ctx, &model.Referral{UserID: "alice", ReferrerID: "bob"}))
	err = s.SetReferrer(ctx, &model.Referral{UserID: "alice", ReferrerID: "carol"})
	assert.ErrorIs(t, err, svcerr.ErrAlreadyExists)

	ref, _ = s.GetReferrer(ctx, "alice")
	assert.Equal(t, "bob", ref)
}
