// Package play is the player-facing surface of the settlement engine: the
// play pipeline, verification, seed and loyalty endpoints, the audit trail
// and the live bet feed.
//
// A play request is validated, rate limited, settled through the ledger
// and then handed to the fan-out. Only the settlement is synchronous.
package play

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/config"
	"github.com/atmx/settlement-engine/internal/events"
	"github.com/atmx/settlement-engine/internal/fairness"
	"github.com/atmx/settlement-engine/internal/fanout"
	"github.com/atmx/settlement-engine/internal/ledger"
	"github.com/atmx/settlement-engine/internal/loyalty"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/payout"
	"github.com/atmx/settlement-engine/internal/ratelimit"
	"github.com/atmx/settlement-engine/internal/risk"
	"github.com/atmx/settlement-engine/internal/seed"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/svcerr"
)

// Submitter accepts post-settlement tasks. *fanout.Dispatcher implements it.
type Submitter interface {
	Submit(t fanout.Task) error
}

// Deps wires an Engine. Publisher and Hub are optional.
type Deps struct {
	Store       store.Store
	Coordinator *ledger.Coordinator
	Seeds       *seed.Service
	Limiter     *ratelimit.Limiter
	Guard       *risk.Guard
	Loyalty     *loyalty.Program
	Fanout      Submitter
	Publisher   events.Publisher
	Hub         *Hub
	Validate    *validator.Validate

	HouseEdge       config.HouseEdges
	MinBet          decimal.Decimal
	MaxBet          decimal.Decimal
	DefaultCurrency string
}

// Engine runs play requests and serves the player-facing reads.
type Engine struct {
	Deps
}

// NewEngine creates an engine.
func NewEngine(d Deps) *Engine {
	if d.Validate == nil {
		d.Validate = validator.New()
	}
	return &Engine{Deps: d}
}

// PlayRequest is the JSON body for POST /api/v1/play.
type PlayRequest struct {
	UserID    string           `json:"user_id" validate:"required,max=128"`
	Currency  string           `json:"currency" validate:"omitempty,alphanum,max=16"`
	Game      model.GameType   `json:"game" validate:"required,oneof=DICE PLINKO MINES CRASH"`
	BetAmount decimal.Decimal  `json:"bet_amount"`
	Params    model.GameParams `json:"params"`
}

// ProvablyFair is what a player needs to verify a round once the seed is
// revealed. ServerSeed is only set when this bet retired the seed.
type ProvablyFair struct {
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`
	ServerSeed     string `json:"server_seed,omitempty"`
}

// PlayResponse is the JSON body returned from POST /api/v1/play.
type PlayResponse struct {
	BetID        string           `json:"bet_id"`
	Game         model.GameType   `json:"game"`
	Outcome      fairness.Outcome `json:"outcome"`
	Multiplier   decimal.Decimal  `json:"multiplier"`
	Payout       decimal.Decimal  `json:"payout"`
	Profit       decimal.Decimal  `json:"profit"`
	IsWin        bool             `json:"is_win"`
	Balance      decimal.Decimal  `json:"balance"`
	ProvablyFair ProvablyFair     `json:"provably_fair"`
	SeedRotated  bool             `json:"seed_rotated,omitempty"`
}

// Play validates, settles and fans out one bet.
func (e *Engine) Play(ctx context.Context, req PlayRequest) (*PlayResponse, error) {
	if err := e.Validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, svcerr.ErrValidation)
	}
	if req.Currency == "" {
		req.Currency = e.DefaultCurrency
	}
	if err := e.checkAmount(req.BetAmount); err != nil {
		return nil, err
	}
	edge := e.HouseEdge.For(req.Game)
	rnd, err := buildRound(req.Game, req.Params, edge)
	if err != nil {
		return nil, err
	}

	if e.Limiter != nil {
		if err := e.Limiter.Allow(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	// The seed must be committed before any outcome is derived from it.
	if _, err := e.Seeds.CurrentSeed(ctx, req.UserID); err != nil {
		return nil, err
	}

	res, err := e.Coordinator.Settle(ctx, ledger.SettleRequest{
		UserID:    req.UserID,
		Currency:  req.Currency,
		GameType:  req.Game,
		BetAmount: req.BetAmount,
		HouseEdge: edge,
		Resolve:   rnd.resolver(),
	})
	if err != nil {
		return nil, err
	}
	bet := res.Bet

	slog.Info("bet settled",
		"bet_id", bet.ID,
		"user", bet.UserID,
		"game", bet.GameType,
		"amount", bet.BetAmount.String(),
		"multiplier", bet.Multiplier.String(),
		"payout", bet.Payout.String(),
		"nonce", bet.Nonce,
		"seed_rotated", res.SeedRotated,
	)

	e.dispatch(bet, req.Params)

	var data GameData
	if err := decodeGameData(bet.GameData, &data); err != nil {
		// the bet is settled; report what the ledger holds
		slog.Error("decode game data", "bet_id", bet.ID, "err", err)
	}

	return &PlayResponse{
		BetID:      bet.ID,
		Game:       bet.GameType,
		Outcome:    data.Outcome,
		Multiplier: bet.Multiplier,
		Payout:     bet.Payout,
		Profit:     bet.Profit,
		IsWin:      bet.IsWin,
		Balance:    res.Wallet.Balance,
		ProvablyFair: ProvablyFair{
			ServerSeedHash: bet.ServerSeedHash,
			ClientSeed:     bet.ClientSeed,
			Nonce:          bet.Nonce,
			ServerSeed:     bet.ServerSeed,
		},
		SeedRotated: res.SeedRotated,
	}, nil
}

func (e *Engine) checkAmount(amount decimal.Decimal) error {
	switch {
	case !amount.IsPositive():
		return fmt.Errorf("bet_amount must be positive: %w", svcerr.ErrValidation)
	case amount.Truncate(payout.AmountScale).Cmp(amount) != 0:
		return fmt.Errorf("bet_amount has more than %d decimals: %w", payout.AmountScale, svcerr.ErrValidation)
	case e.MinBet.IsPositive() && amount.LessThan(e.MinBet):
		return fmt.Errorf("bet_amount below minimum %s: %w", e.MinBet, svcerr.ErrValidation)
	case e.MaxBet.IsPositive() && amount.GreaterThan(e.MaxBet):
		return fmt.Errorf("bet_amount above maximum %s: %w", e.MaxBet, svcerr.ErrValidation)
	}
	return nil
}

// dispatch runs after commit. Nothing here can fail the bet.
func (e *Engine) dispatch(bet model.Bet, params model.GameParams) {
	lowRisk := e.Guard != nil && e.Guard.IsLowRisk(bet.GameType, params)
	if lowRisk {
		slog.Info("bet excluded from commission", "bet_id", bet.ID, "game", bet.GameType)
	}

	var tasks []fanout.Task
	if e.Loyalty != nil {
		tasks = append(tasks, e.Loyalty.Tasks(bet, lowRisk)...)
	}
	if e.Publisher != nil {
		tasks = append(tasks, events.Task(e.Publisher, bet))
	}
	if e.Fanout != nil {
		for _, t := range tasks {
			// drops are logged and counted by the dispatcher
			_ = e.Fanout.Submit(t)
		}
	}
	if e.Hub != nil {
		e.Hub.Broadcast(bet)
	}
}

// VerifyRequest is the JSON body for POST /api/v1/verify.
type VerifyRequest struct {
	ServerSeed     string           `json:"server_seed" validate:"required"`
	ServerSeedHash string           `json:"server_seed_hash,omitempty"`
	ClientSeed     string           `json:"client_seed" validate:"required"`
	Nonce          int64            `json:"nonce" validate:"gte=0"`
	Game           model.GameType   `json:"game" validate:"required,oneof=DICE PLINKO MINES CRASH"`
	Params         model.GameParams `json:"params"`
	// HouseEdge defaults to the configured edge for Game.
	HouseEdge *decimal.Decimal `json:"house_edge,omitempty"`
}

// VerifyResponse is the recomputed round.
type VerifyResponse struct {
	ServerSeedHash string           `json:"server_seed_hash"`
	HashMatches    *bool            `json:"hash_matches,omitempty"`
	Outcome        fairness.Outcome `json:"outcome"`
	Multiplier     decimal.Decimal  `json:"multiplier"`
	IsWin          bool             `json:"is_win"`
}

// Verify recomputes a round from revealed inputs with the same generator
// and pricing used at settlement.
func (e *Engine) Verify(req VerifyRequest) (*VerifyResponse, error) {
	if err := e.Validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, svcerr.ErrValidation)
	}
	edge := e.HouseEdge.For(req.Game)
	if req.HouseEdge != nil {
		edge = *req.HouseEdge
	}
	rnd, err := buildRound(req.Game, req.Params, edge)
	if err != nil {
		return nil, err
	}
	res, err := rnd.resolve(req.ServerSeed, req.ClientSeed, req.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, svcerr.ErrValidation)
	}

	isWin := res.Win
	if res.Table {
		isWin = res.Multiplier.GreaterThan(decimal.NewFromInt(1))
	}
	out := &VerifyResponse{
		ServerSeedHash: fairness.HashServerSeed(req.ServerSeed),
		Outcome:        res.GameData.(GameData).Outcome,
		Multiplier:     res.Multiplier,
		IsWin:          isWin,
	}
	if req.ServerSeedHash != "" {
		ok := fairness.VerifyCommitment(req.ServerSeed, req.ServerSeedHash)
		out.HashMatches = &ok
	}
	return out, nil
}
