// Package ledger is the atomic settlement unit. Every balance mutation goes
// through a Coordinator: it locks the wallet, checks funds, reserves the
// seed nonce, resolves the outcome, and writes the new balance, the Bet and
// its audit Transaction in one store transaction. Nothing is observable
// unless all of it commits.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/payout"
	"github.com/atmx/settlement-engine/internal/seed"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/svcerr"
)

// Resolution is the priced outcome of one round.
type Resolution struct {
	// Multiplier is the multiplier the bet was offered.
	Multiplier decimal.Decimal
	// Win reports whether the outcome won. Ignored for table games.
	Win bool
	// Table games pay Multiplier on every outcome; a "win" is a payout
	// above the stake.
	Table bool
	// GameData is stored on the Bet as JSON.
	GameData any
}

// Resolver prices the round for a reserved nonce. It runs inside the
// settlement transaction and must be pure: no I/O, no side effects.
type Resolver func(r *seed.Reservation) (*Resolution, error)

// SettleRequest is one bet to settle.
type SettleRequest struct {
	UserID    string
	Currency  string
	GameType  model.GameType
	BetAmount decimal.Decimal
	HouseEdge decimal.Decimal
	Resolve   Resolver
}

// Result is what a committed settlement wrote.
type Result struct {
	Bet         model.Bet
	Transaction model.Transaction
	Wallet      model.Wallet
	// SeedRotated is set when this bet exhausted its seed.
	SeedRotated bool
}

// Coordinator executes settlements against a store.
type Coordinator struct {
	store store.Store
	seeds *seed.Service
	now   func() time.Time
}

// NewCoordinator creates a ledger coordinator.
func NewCoordinator(st store.Store, seeds *seed.Service) *Coordinator {
	return &Coordinator{
		store: st,
		seeds: seeds,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Settle applies one bet atomically:
//
//	newBalance = balance - betAmount + payout
//
// It fails with svcerr.ErrWalletNotFound or svcerr.ErrInsufficientFunds
// without writing anything.
func (c *Coordinator) Settle(ctx context.Context, req SettleRequest) (*Result, error) {
	if !req.BetAmount.IsPositive() {
		return nil, fmt.Errorf("bet amount must be positive: %w", svcerr.ErrValidation)
	}
	if req.Resolve == nil {
		return nil, fmt.Errorf("settle: missing resolver: %w", svcerr.ErrValidation)
	}

	start := time.Now()
	var res *Result
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = c.settle(ctx, tx, req)
		return err
	})
	if err != nil {
		metrics.SettlementRejections.WithLabelValues(rejectReason(err)).Inc()
		return nil, fmt.Errorf("settle %s bet for %s: %w", req.GameType, req.UserID, err)
	}

	result := "loss"
	if res.Bet.IsWin {
		result = "win"
	}
	metrics.SettlementsTotal.WithLabelValues(string(req.GameType), result).Inc()
	metrics.SettlementLatency.WithLabelValues(string(req.GameType)).Observe(time.Since(start).Seconds())
	if res.SeedRotated {
		metrics.SeedRotations.WithLabelValues("exhausted").Inc()
	}
	return res, nil
}

func (c *Coordinator) settle(ctx context.Context, tx store.Tx, req SettleRequest) (*Result, error) {
	// 1. Lock the wallet; concurrent settlements on it queue here.
	wallet, err := tx.LockWallet(ctx, req.UserID, req.Currency)
	if err != nil {
		return nil, err
	}

	// 2. Funds check under the lock.
	if wallet.Balance.LessThan(req.BetAmount) {
		return nil, fmt.Errorf("balance %s below bet %s: %w", wallet.Balance, req.BetAmount, svcerr.ErrInsufficientFunds)
	}

	// 3. Reserve the nonce and price the round.
	reservation, err := c.seeds.Reserve(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	outcome, err := req.Resolve(reservation)
	if err != nil {
		return nil, err
	}

	paid := payout.Payout(req.BetAmount, outcome.Multiplier, outcome.Win || outcome.Table)
	isWin := outcome.Win
	if outcome.Table {
		isWin = paid.GreaterThan(req.BetAmount)
	}
	before := wallet.Balance
	after := before.Sub(req.BetAmount).Add(paid)

	gameData, err := json.Marshal(outcome.GameData)
	if err != nil {
		return nil, fmt.Errorf("encode game data: %w", err)
	}

	now := c.now()
	bet := model.Bet{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		WalletID:       wallet.ID,
		Currency:       req.Currency,
		GameType:       req.GameType,
		BetAmount:      req.BetAmount,
		Multiplier:     outcome.Multiplier,
		Payout:         paid,
		Profit:         paid.Sub(req.BetAmount),
		HouseEdge:      req.HouseEdge,
		SeedID:         reservation.Seed.ID,
		ServerSeedHash: reservation.Seed.ServerSeedHash,
		ClientSeed:     reservation.Seed.ClientSeed,
		Nonce:          reservation.Nonce,
		GameData:       gameData,
		IsWin:          isWin,
		CreatedAt:      now,
	}
	if reservation.Rotated {
		// the seed was retired by this bet; its secret is public now
		bet.ServerSeed = reservation.Seed.ServerSeed
	}

	audit := model.Transaction{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		WalletID:      wallet.ID,
		Type:          model.TransactionBet,
		Status:        model.TransactionCompleted,
		Amount:        after.Sub(before),
		BalanceBefore: before,
		BalanceAfter:  after,
		Metadata: map[string]string{
			"bet_id":    bet.ID,
			"game_type": string(req.GameType),
			"bet":       req.BetAmount.String(),
			"payout":    paid.String(),
		},
		CreatedAt: now,
	}

	// 4. Persist balance, bet and audit row together.
	if err := tx.UpdateWalletBalance(ctx, wallet.ID, after); err != nil {
		return nil, err
	}
	if err := tx.InsertBet(ctx, &bet); err != nil {
		return nil, err
	}
	if err := tx.InsertTransaction(ctx, &audit); err != nil {
		return nil, err
	}

	wallet.Balance = after
	wallet.UpdatedAt = now
	return &Result{Bet: bet, Transaction: audit, Wallet: *wallet, SeedRotated: reservation.Rotated}, nil
}

// ClaimResult is a committed rakeback claim.
type ClaimResult struct {
	Amount      decimal.Decimal   `json:"amount"`
	Transaction model.Transaction `json:"transaction"`
	Wallet      model.Wallet      `json:"wallet"`
}

// ClaimRakeback moves the user's claimable rakeback into their wallet and
// resets it to zero. Fails with svcerr.ErrNothingToClaim when there is none.
func (c *Coordinator) ClaimRakeback(ctx context.Context, userID, currency string) (*ClaimResult, error) {
	var res *ClaimResult
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		loyalty, err := tx.LockLoyalty(ctx, userID)
		if err != nil {
			return err
		}
		amount := loyalty.ClaimableRakeback.Truncate(payout.AmountScale)
		if !amount.IsPositive() {
			return svcerr.ErrNothingToClaim
		}

		wallet, err := tx.LockWallet(ctx, userID, currency)
		if err != nil {
			return err
		}
		before := wallet.Balance
		after := before.Add(amount)
		now := c.now()

		audit := model.Transaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			WalletID:      wallet.ID,
			Type:          model.TransactionRakeback,
			Status:        model.TransactionCompleted,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Metadata:      map[string]string{"vip_level": fmt.Sprint(loyalty.VIPLevel)},
			CreatedAt:     now,
		}
		if err := tx.UpdateWalletBalance(ctx, wallet.ID, after); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &audit); err != nil {
			return err
		}
		loyalty.ClaimableRakeback = loyalty.ClaimableRakeback.Sub(amount)
		loyalty.UpdatedAt = now
		if err := tx.SaveLoyalty(ctx, loyalty); err != nil {
			return err
		}

		wallet.Balance = after
		wallet.UpdatedAt = now
		res = &ClaimResult{Amount: amount, Transaction: audit, Wallet: *wallet}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim rakeback for %s: %w", userID, err)
	}
	return res, nil
}

// OpenWallet creates a wallet with an opening balance in one transaction.
// A positive opening balance is recorded as a DEPOSIT transaction.
func (c *Coordinator) OpenWallet(ctx context.Context, userID, currency string, opening decimal.Decimal) (*model.Wallet, error) {
	if opening.IsNegative() {
		return nil, fmt.Errorf("opening balance must not be negative: %w", svcerr.ErrValidation)
	}
	now := c.now()
	w := &model.Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  currency,
		Balance:   opening,
		UpdatedAt: now,
	}

	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertWallet(ctx, w); err != nil {
			return err
		}
		if !opening.IsPositive() {
			return nil
		}
		return tx.InsertTransaction(ctx, &model.Transaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			WalletID:      w.ID,
			Type:          model.TransactionDeposit,
			Status:        model.TransactionCompleted,
			Amount:        opening,
			BalanceBefore: decimal.Zero,
			BalanceAfter:  opening,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}
	return w, nil
}

func rejectReason(err error) string {
	switch {
	case svcerr.IsValidation(err):
		return "validation"
	case svcerr.IsNotFound(err):
		return "not_found"
	case svcerr.IsConflict(err):
		return "conflict"
	}
	return "error"
}
