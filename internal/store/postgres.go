package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/svcerr"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// read back through ::TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Wallets ---

func (s *PostgresStore) GetWallet(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx,
		`SELECT id, user_id, currency, balance::TEXT, updated_at
		 FROM wallets WHERE user_id = $1 AND currency = $2`, userID, currency), userID, currency)
}

func scanWallet(row pgx.Row, userID, currency string) (*model.Wallet, error) {
	var w model.Wallet
	var balance string
	if err := row.Scan(&w.ID, &w.UserID, &w.Currency, &balance, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet %s/%s: %w", userID, currency, svcerr.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("get wallet %s/%s: %w", userID, currency, err)
	}
	w.Balance, _ = decimal.NewFromString(balance)
	return &w, nil
}

// --- Seeds ---

const seedColumns = `id, user_id, server_seed, server_seed_hash, client_seed, nonce, active, created_at, revealed_at`

func (s *PostgresStore) GetActiveSeed(ctx context.Context, userID string) (*model.Seed, error) {
	return scanSeed(s.pool.QueryRow(ctx,
		`SELECT `+seedColumns+` FROM seeds WHERE user_id = $1 AND active`, userID), userID)
}

func (s *PostgresStore) ListSeeds(ctx context.Context, userID string) ([]model.Seed, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+seedColumns+` FROM seeds WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seeds []model.Seed
	for rows.Next() {
		var sd model.Seed
		if err := rows.Scan(&sd.ID, &sd.UserID, &sd.ServerSeed, &sd.ServerSeedHash, &sd.ClientSeed,
			&sd.Nonce, &sd.Active, &sd.CreatedAt, &sd.RevealedAt); err != nil {
			return nil, err
		}
		seeds = append(seeds, sd)
	}
	return seeds, rows.Err()
}

func scanSeed(row pgx.Row, userID string) (*model.Seed, error) {
	var sd model.Seed
	if err := row.Scan(&sd.ID, &sd.UserID, &sd.ServerSeed, &sd.ServerSeedHash, &sd.ClientSeed,
		&sd.Nonce, &sd.Active, &sd.CreatedAt, &sd.RevealedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active seed for %s: %w", userID, svcerr.ErrSeedNotFound)
		}
		return nil, fmt.Errorf("get seed for %s: %w", userID, err)
	}
	return &sd, nil
}

// --- Audit trail ---

// Bets carry the server seed only once its seed has been retired.
func (s *PostgresStore) ListBets(ctx context.Context, userID string, f Filter) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT b.id, b.user_id, b.wallet_id, b.currency, b.game_type,
		        b.bet_amount::TEXT, b.multiplier::TEXT, b.payout::TEXT, b.profit::TEXT, b.house_edge::TEXT,
		        b.seed_id, CASE WHEN s.active THEN '' ELSE s.server_seed END,
		        b.server_seed_hash, b.client_seed, b.nonce, b.game_data, b.is_win, b.created_at
		 FROM bets b
		 JOIN seeds s ON s.id = b.seed_id
		 WHERE b.user_id = $1
		   AND ($2::TIMESTAMPTZ IS NULL OR b.created_at >= $2)
		   AND ($3::TIMESTAMPTZ IS NULL OR b.created_at < $3)
		 ORDER BY b.created_at DESC
		 LIMIT $4`, userID, nullTime(f.From), nullTime(f.To), f.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		var b model.Bet
		var amount, mult, payout, profit, edge string
		var gameData []byte
		if err := rows.Scan(&b.ID, &b.UserID, &b.WalletID, &b.Currency, &b.GameType,
			&amount, &mult, &payout, &profit, &edge,
			&b.SeedID, &b.ServerSeed,
			&b.ServerSeedHash, &b.ClientSeed, &b.Nonce, &gameData, &b.IsWin, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.BetAmount, _ = decimal.NewFromString(amount)
		b.Multiplier, _ = decimal.NewFromString(mult)
		b.Payout, _ = decimal.NewFromString(payout)
		b.Profit, _ = decimal.NewFromString(profit)
		b.HouseEdge, _ = decimal.NewFromString(edge)
		b.GameData = json.RawMessage(gameData)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, f Filter) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, wallet_id, type, status,
		        amount::TEXT, balance_before::TEXT, balance_after::TEXT, metadata, created_at
		 FROM transactions
		 WHERE user_id = $1
		   AND ($2::TIMESTAMPTZ IS NULL OR created_at >= $2)
		   AND ($3::TIMESTAMPTZ IS NULL OR created_at < $3)
		 ORDER BY created_at DESC
		 LIMIT $4`, userID, nullTime(f.From), nullTime(f.To), f.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount, before, after string
		var meta []byte
		if err := rows.Scan(&t.ID, &t.UserID, &t.WalletID, &t.Type, &t.Status,
			&amount, &before, &after, &meta, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		t.BalanceBefore, _ = decimal.NewFromString(before)
		t.BalanceAfter, _ = decimal.NewFromString(after)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of transaction %s: %w", t.ID, err)
			}
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// --- Loyalty and referrals ---

const loyaltyColumns = `user_id, total_wagered::TEXT, total_bets, vip_level, claimable_rakeback::TEXT, updated_at`

func (s *PostgresStore) GetLoyalty(ctx context.Context, userID string) (*model.Loyalty, error) {
	l, err := scanLoyalty(s.pool.QueryRow(ctx,
		`SELECT `+loyaltyColumns+` FROM loyalty WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Loyalty{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get loyalty %s: %w", userID, err)
	}
	return l, nil
}

func scanLoyalty(row pgx.Row) (*model.Loyalty, error) {
	var l model.Loyalty
	var wagered, claimable string
	if err := row.Scan(&l.UserID, &wagered, &l.TotalBets, &l.VIPLevel, &claimable, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.TotalWagered, _ = decimal.NewFromString(wagered)
	l.ClaimableRakeback, _ = decimal.NewFromString(claimable)
	return &l, nil
}

func (s *PostgresStore) ListCommissions(ctx context.Context, recipientID string, f Filter) ([]model.Commission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, recipient_id, source_user_id, bet_id, currency, amount::TEXT,
		        commission_type, level_from_source, created_at
		 FROM commissions
		 WHERE recipient_id = $1
		   AND ($2::TIMESTAMPTZ IS NULL OR created_at >= $2)
		   AND ($3::TIMESTAMPTZ IS NULL OR created_at < $3)
		 ORDER BY created_at DESC
		 LIMIT $4`, recipientID, nullTime(f.From), nullTime(f.To), f.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Commission
	for rows.Next() {
		var c model.Commission
		var amount string
		if err := rows.Scan(&c.ID, &c.RecipientID, &c.SourceUserID, &c.BetID, &c.Currency, &amount,
			&c.CommissionType, &c.LevelFromSource, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Amount, _ = decimal.NewFromString(amount)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetReferrer(ctx context.Context, userID string) (string, error) {
	var referrer string
	err := s.pool.QueryRow(ctx, `SELECT referrer_id FROM referrals WHERE user_id = $1`, userID).Scan(&referrer)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get referrer %s: %w", userID, err)
	}
	return referrer, nil
}

func (s *PostgresStore) SetReferrer(ctx context.Context, r *model.Referral) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO referrals (user_id, referrer_id, created_at) VALUES ($1, $2, $3)`,
		r.UserID, r.ReferrerID, r.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("referrer for %s: %w", r.UserID, svcerr.ErrAlreadyExists)
	}
	return err
}

// --- Transaction ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertWallet(ctx context.Context, w *model.Wallet) error {
	err := t.savepoint(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO wallets (id, user_id, currency, balance, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
			w.ID, w.UserID, w.Currency, w.Balance.String(), w.UpdatedAt,
		)
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("wallet %s/%s: %w", w.UserID, w.Currency, svcerr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// savepoint runs fn in a nested transaction so a failed statement does not
// abort the enclosing one.
func (t *pgTx) savepoint(ctx context.Context, fn func(tx pgx.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (t *pgTx) LockWallet(ctx context.Context, userID, currency string) (*model.Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx,
		`SELECT id, user_id, currency, balance::TEXT, updated_at
		 FROM wallets WHERE user_id = $1 AND currency = $2
		 FOR UPDATE`, userID, currency), userID, currency)
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wallets SET balance = $2::NUMERIC, updated_at = now() WHERE id = $1`,
		walletID, balance.String())
	if err != nil {
		return fmt.Errorf("update wallet %s: %w", walletID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, svcerr.ErrWalletNotFound)
	}
	return nil
}

func (t *pgTx) InsertBet(ctx context.Context, b *model.Bet) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bets (id, user_id, wallet_id, currency, game_type,
		                   bet_amount, multiplier, payout, profit, house_edge,
		                   seed_id, server_seed_hash, client_seed, nonce, game_data, is_win, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11, $12, $13, $14, $15, $16, $17)`,
		b.ID, b.UserID, b.WalletID, b.Currency, b.GameType,
		b.BetAmount.String(), b.Multiplier.String(), b.Payout.String(), b.Profit.String(), b.HouseEdge.String(),
		b.SeedID, b.ServerSeedHash, b.ClientSeed, b.Nonce, []byte(b.GameData), b.IsWin, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bet %s: %w", b.ID, err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	meta, err := json.Marshal(tr.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if tr.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, wallet_id, type, status,
		                           amount, balance_before, balance_after, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		tr.ID, tr.UserID, tr.WalletID, tr.Type, tr.Status,
		tr.Amount.String(), tr.BalanceBefore.String(), tr.BalanceAfter.String(), meta, tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tr.ID, err)
	}
	return nil
}

func (t *pgTx) LockActiveSeed(ctx context.Context, userID string) (*model.Seed, error) {
	return scanSeed(t.tx.QueryRow(ctx,
		`SELECT `+seedColumns+` FROM seeds WHERE user_id = $1 AND active FOR UPDATE`, userID), userID)
}

func (t *pgTx) InsertSeed(ctx context.Context, sd *model.Seed) error {
	err := t.savepoint(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO seeds (id, user_id, server_seed, server_seed_hash, client_seed, nonce, active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			sd.ID, sd.UserID, sd.ServerSeed, sd.ServerSeedHash, sd.ClientSeed, sd.Nonce, sd.Active, sd.CreatedAt)
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("active seed for %s: %w", sd.UserID, svcerr.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert seed: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateSeedNonce(ctx context.Context, sd *model.Seed) error {
	_, err := t.tx.Exec(ctx, `UPDATE seeds SET nonce = $2 WHERE id = $1`, sd.ID, sd.Nonce)
	if err != nil {
		return fmt.Errorf("update seed nonce %s: %w", sd.ID, err)
	}
	return nil
}

func (t *pgTx) RetireSeed(ctx context.Context, sd *model.Seed) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE seeds SET active = FALSE, nonce = $2, revealed_at = $3 WHERE id = $1`,
		sd.ID, sd.Nonce, sd.RevealedAt)
	if err != nil {
		return fmt.Errorf("retire seed %s: %w", sd.ID, err)
	}
	return nil
}

func (t *pgTx) LockLoyalty(ctx context.Context, userID string) (*model.Loyalty, error) {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO loyalty (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("ensure loyalty %s: %w", userID, err)
	}
	l, err := scanLoyalty(t.tx.QueryRow(ctx,
		`SELECT `+loyaltyColumns+` FROM loyalty WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock loyalty %s: %w", userID, err)
	}
	return l, nil
}

func (t *pgTx) SaveLoyalty(ctx context.Context, l *model.Loyalty) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE loyalty
		 SET total_wagered = $2::NUMERIC, total_bets = $3, vip_level = $4,
		     claimable_rakeback = $5::NUMERIC, updated_at = now()
		 WHERE user_id = $1`,
		l.UserID, l.TotalWagered.String(), l.TotalBets, l.VIPLevel, l.ClaimableRakeback.String())
	if err != nil {
		return fmt.Errorf("save loyalty %s: %w", l.UserID, err)
	}
	return nil
}

func (t *pgTx) LockCarryover(ctx context.Context, recipientID, sourceUserID string) (decimal.Decimal, error) {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO commission_carryover (recipient_id, source_user_id) VALUES ($1, $2)
		 ON CONFLICT (recipient_id, source_user_id) DO NOTHING`, recipientID, sourceUserID); err != nil {
		return decimal.Zero, fmt.Errorf("ensure carryover: %w", err)
	}
	var amount string
	if err := t.tx.QueryRow(ctx,
		`SELECT amount::TEXT FROM commission_carryover
		 WHERE recipient_id = $1 AND source_user_id = $2
		 FOR UPDATE`, recipientID, sourceUserID).Scan(&amount); err != nil {
		return decimal.Zero, fmt.Errorf("lock carryover: %w", err)
	}
	v, _ := decimal.NewFromString(amount)
	return v, nil
}

func (t *pgTx) SaveCarryover(ctx context.Context, recipientID, sourceUserID string, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE commission_carryover SET amount = $3::NUMERIC
		 WHERE recipient_id = $1 AND source_user_id = $2`,
		recipientID, sourceUserID, amount.String())
	if err != nil {
		return fmt.Errorf("save carryover: %w", err)
	}
	return nil
}

func (t *pgTx) InsertCommission(ctx context.Context, c *model.Commission) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO commissions (id, recipient_id, source_user_id, bet_id, currency, amount,
		                          commission_type, level_from_source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9)
		 ON CONFLICT (bet_id, recipient_id) DO NOTHING`,
		c.ID, c.RecipientID, c.SourceUserID, c.BetID, c.Currency, c.Amount.String(),
		c.CommissionType, c.LevelFromSource, c.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert commission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
