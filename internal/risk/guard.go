// Package risk classifies settled bets for affiliate eligibility.
//
// A bet engineered for near-zero variance (an auto-cashout barely above 1x,
// a dice roll that almost always wins) generates referral volume without
// real risk. The Guard flags such bets so commission is not paid on them.
// The classification is advisory: it never blocks a bet or changes its payout.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/payout"
)

// Guard holds the thresholds below which a bet counts as "wager mining".
type Guard struct {
	// MinCrashCashout is the lowest auto-cashout that still earns commission.
	MinCrashCashout decimal.Decimal

	// MaxWinChance is the highest win chance (percent) that still earns
	// commission, for formula games with a player-chosen win chance.
	MaxWinChance decimal.Decimal
}

// NewGuard creates a guard with the given thresholds.
func NewGuard(minCrashCashout, maxWinChance decimal.Decimal) *Guard {
	return &Guard{
		MinCrashCashout: minCrashCashout,
		MaxWinChance:    maxWinChance,
	}
}

// IsLowRisk reports whether a bet should be excluded from commission.
//
// Plinko variance is fixed by the table, not the player, so it is never
// flagged. Parameters the guard cannot evaluate are treated as low risk.
func (g *Guard) IsLowRisk(game model.GameType, p model.GameParams) bool {
	switch game {
	case model.GameCrash:
		return p.AutoCashout.LessThan(g.MinCrashCashout)

	case model.GameDice:
		wc, err := payout.DiceWinChance(p.Target, p.Condition == model.ConditionOver)
		if err != nil {
			return true
		}
		return wc.GreaterThan(g.MaxWinChance)

	case model.GameMines:
		wc, err := payout.MinesWinChance(model.MinesCells, p.Mines, len(p.Picks))
		if err != nil {
			return true
		}
		return wc.GreaterThan(g.MaxWinChance)

	case model.GamePlinko:
		return false
	}
	return true
}
