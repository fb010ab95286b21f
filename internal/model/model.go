// Package model defines the core domain types shared across the settlement engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// GameType identifies the game a bet was placed on.
type GameType string

const (
	GameDice   GameType = "DICE"
	GamePlinko GameType = "PLINKO"
	GameMines  GameType = "MINES"
	GameCrash  GameType = "CRASH"
)

// Valid reports whether g is a game the engine can settle.
func (g GameType) Valid() bool {
	switch g {
	case GameDice, GamePlinko, GameMines, GameCrash:
		return true
	}
	return false
}

// MinesCells is the size of the mines grid (5x5).
const MinesCells = 25

// Dice conditions.
const (
	ConditionUnder = "under"
	ConditionOver  = "over"
)

// GameParams carries the player's game-specific choices. Only the fields
// relevant to the game are set.
type GameParams struct {
	// Dice
	Target    decimal.Decimal `json:"target"`
	Condition string          `json:"condition,omitempty"`

	// Plinko
	Rows int    `json:"rows,omitempty"`
	Risk string `json:"risk,omitempty"`

	// Mines
	Mines int   `json:"mines,omitempty"`
	Picks []int `json:"picks,omitempty"`

	// Crash
	AutoCashout decimal.Decimal `json:"auto_cashout"`
}

// Seed is one provably-fair commitment. The hash is published before any
// outcome is derived from ServerSeed; ServerSeed is revealed only once the
// seed is retired.
type Seed struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	ServerSeed     string     `json:"server_seed,omitempty" db:"server_seed"`
	ServerSeedHash string     `json:"server_seed_hash" db:"server_seed_hash"`
	ClientSeed     string     `json:"client_seed" db:"client_seed"`
	Nonce          int64      `json:"nonce" db:"nonce"` // next nonce to hand out
	Active         bool       `json:"active" db:"active"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	RevealedAt     *time.Time `json:"revealed_at,omitempty" db:"revealed_at"`
}

// Public returns a copy safe to show the player: the secret is stripped
// while the seed is still usable.
func (s Seed) Public() Seed {
	if s.Active {
		s.ServerSeed = ""
	}
	return s
}

// Bet is the immutable record of one settlement.
type Bet struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	WalletID       string          `json:"wallet_id" db:"wallet_id"`
	Currency       string          `json:"currency" db:"currency"`
	GameType       GameType        `json:"game_type" db:"game_type"`
	BetAmount      decimal.Decimal `json:"bet_amount" db:"bet_amount"`
	Multiplier     decimal.Decimal `json:"multiplier" db:"multiplier"`
	Payout         decimal.Decimal `json:"payout" db:"payout"`
	Profit         decimal.Decimal `json:"profit" db:"profit"` // payout - bet_amount
	HouseEdge      decimal.Decimal `json:"house_edge" db:"house_edge"`
	SeedID         string          `json:"seed_id" db:"seed_id"`
	ServerSeed     string          `json:"server_seed,omitempty" db:"server_seed"`
	ServerSeedHash string          `json:"server_seed_hash" db:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed" db:"client_seed"`
	Nonce          int64           `json:"nonce" db:"nonce"`
	GameData       json.RawMessage `json:"game_data" db:"game_data"`
	IsWin          bool            `json:"is_win" db:"is_win"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Public strips the server seed. Stored bets only carry it once the seed
// has been retired.
func (b Bet) Public() Bet {
	b.ServerSeed = ""
	return b
}

// Wallet holds a user's balance in one currency. Balance never goes negative.
type Wallet struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Currency  string          `json:"currency" db:"currency"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// TransactionType categorises audit ledger rows.
type TransactionType string

const (
	TransactionDeposit  TransactionType = "DEPOSIT"
	TransactionBet      TransactionType = "BET"
	TransactionRakeback TransactionType = "RAKEBACK"
)

// TransactionCompleted is the only status written today; rows are only
// appended once the balance mutation commits.
const TransactionCompleted = "COMPLETED"

// Transaction is an append-only audit row. BalanceAfter - BalanceBefore
// equals Amount.
type Transaction struct {
	ID            string            `json:"id" db:"id"`
	UserID        string            `json:"user_id" db:"user_id"`
	WalletID      string            `json:"wallet_id" db:"wallet_id"`
	Type          TransactionType   `json:"type" db:"type"`
	Status        string            `json:"status" db:"status"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"` // signed net effect
	BalanceBefore decimal.Decimal   `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Metadata      map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// CommissionType names the affiliate model that produced a commission.
type CommissionType string

const (
	CommissionTurnover     CommissionType = "TURNOVER"
	CommissionRevenueShare CommissionType = "REVENUE_SHARE"
)

// Commission credits an ancestor in the referral chain for one bet.
type Commission struct {
	ID              string          `json:"id" db:"id"`
	RecipientID     string          `json:"recipient_id" db:"recipient_id"`
	SourceUserID    string          `json:"source_user_id" db:"source_user_id"`
	BetID           string          `json:"bet_id" db:"bet_id"`
	Currency        string          `json:"currency" db:"currency"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	CommissionType  CommissionType  `json:"commission_type" db:"commission_type"`
	LevelFromSource int             `json:"level_from_source" db:"level_from_source"` // 1..3
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Loyalty is a user's VIP and rakeback state. Wagered and bet counts only
// grow; VIPLevel only rises; ClaimableRakeback resets to zero on claim.
type Loyalty struct {
	UserID            string          `json:"user_id" db:"user_id"`
	TotalWagered      decimal.Decimal `json:"total_wagered" db:"total_wagered"`
	TotalBets         int64           `json:"total_bets" db:"total_bets"`
	VIPLevel          int             `json:"vip_level" db:"vip_level"`
	ClaimableRakeback decimal.Decimal `json:"claimable_rakeback" db:"claimable_rakeback"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Referral links a user to the user who referred them.
type Referral struct {
	UserID     string    `json:"user_id" db:"user_id"`
	ReferrerID string    `json:"referrer_id" db:"referrer_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
