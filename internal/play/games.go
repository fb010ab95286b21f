package play

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/fairness"
	"github.com/atmx/settlement-engine/internal/ledger"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/payout"
	"github.com/atmx/settlement-engine/internal/seed"
	"github.com/atmx/settlement-engine/internal/svcerr"
)

// GameData is what a bet stores about its round: the derived outcome plus
// the player's choices it was judged against.
type GameData struct {
	Outcome fairness.Outcome `json:"outcome"`
	Params  model.GameParams `json:"params"`
}

// round prices one game for fixed params. Build validates the params, so a
// round that exists can always be resolved.
type round struct {
	game  model.GameType
	edge  decimal.Decimal
	p     model.GameParams
	fp    fairness.Params
	mult  decimal.Decimal   // formula games
	table []decimal.Decimal // plinko
}

// buildRound validates params for game. Every failure wraps
// svcerr.ErrValidation; nothing has been touched yet.
func buildRound(game model.GameType, p model.GameParams, edge decimal.Decimal) (*round, error) {
	if !game.Valid() {
		return nil, fmt.Errorf("unknown game %q: %w", game, svcerr.ErrValidation)
	}
	if err := payout.ValidateHouseEdge(edge); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", game, err, svcerr.ErrValidation)
	}
	r := &round{game: game, edge: edge, p: p, fp: fairness.Params{Game: game, HouseEdge: edge}}

	var err error
	switch game {
	case model.GameDice:
		err = r.dice()
	case model.GamePlinko:
		err = r.plinko()
	case model.GameMines:
		err = r.mines()
	case model.GameCrash:
		err = r.crash()
	}
	if err != nil {
		return nil, fmt.Errorf("%s params: %v: %w", game, err, svcerr.ErrValidation)
	}
	return r, nil
}

func (r *round) dice() error {
	switch r.p.Condition {
	case model.ConditionUnder, model.ConditionOver:
	default:
		return fmt.Errorf("condition must be %q or %q", model.ConditionUnder, model.ConditionOver)
	}
	wc, err := payout.DiceWinChance(r.p.Target, r.p.Condition == model.ConditionOver)
	if err != nil {
		return err
	}
	r.mult, err = payout.FormulaMultiplier(wc, r.edge)
	return err
}

func (r *round) plinko() error {
	if !slices.Contains(payout.PlinkoRows, r.p.Rows) {
		return fmt.Errorf("rows must be one of %v", payout.PlinkoRows)
	}
	table, err := payout.PlinkoTable(r.p.Rows, r.p.Risk, r.edge)
	if err != nil {
		return err
	}
	r.table = table
	r.fp.Rows = r.p.Rows
	return nil
}

func (r *round) mines() error {
	if r.p.Mines < 1 || r.p.Mines >= model.MinesCells {
		return fmt.Errorf("mines must be in [1, %d]", model.MinesCells-1)
	}
	if len(r.p.Picks) == 0 {
		return fmt.Errorf("at least one pick is required")
	}
	seen := make(map[int]bool, len(r.p.Picks))
	for _, c := range r.p.Picks {
		if c < 0 || c >= model.MinesCells {
			return fmt.Errorf("pick %d outside the grid", c)
		}
		if seen[c] {
			return fmt.Errorf("pick %d repeated", c)
		}
		seen[c] = true
	}
	m, err := payout.MinesMultiplier(model.MinesCells, r.p.Mines, len(r.p.Picks), r.edge)
	if err != nil {
		return err
	}
	r.mult = m
	r.fp.Mines = r.p.Mines
	return nil
}

func (r *round) crash() error {
	m, err := payout.CrashMultiplier(r.p.AutoCashout)
	if err != nil {
		return err
	}
	r.mult = m
	return nil
}

// resolve derives and judges the round for one seed and nonce.
func (r *round) resolve(serverSeed, clientSeed string, nonce int64) (*ledger.Resolution, error) {
	out, err := fairness.Generate(serverSeed, clientSeed, nonce, r.fp)
	if err != nil {
		return nil, err
	}
	res := &ledger.Resolution{
		Multiplier: r.mult,
		GameData:   GameData{Outcome: out, Params: r.p},
	}

	switch r.game {
	case model.GameDice:
		if r.p.Condition == model.ConditionOver {
			res.Win = out.Roll.GreaterThan(r.p.Target)
		} else {
			res.Win = out.Roll.LessThan(r.p.Target)
		}
	case model.GamePlinko:
		res.Table = true
		res.Multiplier = r.table[out.Path.Bucket]
	case model.GameMines:
		res.Win = true
		for _, pick := range r.p.Picks {
			if slices.Contains(out.Mines, pick) {
				res.Win = false
				break
			}
		}
	case model.GameCrash:
		res.Win = out.CrashPoint.GreaterThanOrEqual(r.mult)
	}
	return res, nil
}

// resolver adapts the round to the ledger's reservation callback.
func (r *round) resolver() ledger.Resolver {
	return func(res *seed.Reservation) (*ledger.Resolution, error) {
		return r.resolve(res.Seed.ServerSeed, res.Seed.ClientSeed, res.Nonce)
	}
}
