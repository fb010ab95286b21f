// Package payout converts outcomes and a house edge into multipliers and
// payouts.
//
// Two families are supported:
//   - Formula games (dice, mines, crash): multiplier = 100 * (1 - edge) / winChance
//   - Table games (plinko): a calibrated multiplier per bucket, rescaled to the edge
//
// Multipliers are floored to MultiplierScale places so rounding never favours
// the player. All division is done exactly on big integers before flooring.
package payout

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidHouseEdge is returned when the edge is outside [0, 1).
	ErrInvalidHouseEdge = errors.New("payout: house edge must be in [0, 1)")

	// ErrInvalidWinChance is returned when a win chance is outside the playable range.
	ErrInvalidWinChance = errors.New("payout: win chance out of range")

	// ErrUnknownTable is returned for a rows/risk pair with no multiplier table.
	ErrUnknownTable = errors.New("payout: no multiplier table for rows and risk")

	// ErrInvalidBucket is returned when a bucket index is outside the table.
	ErrInvalidBucket = errors.New("payout: bucket out of range")

	// MinWinChance and MaxWinChance bound formula games, in percent.
	MinWinChance = decimal.New(1, -2)
	MaxWinChance = decimal.NewFromInt(98)
)

const (
	// MultiplierScale is the number of decimal places kept on a multiplier.
	MultiplierScale int32 = 4

	// AmountScale is the number of decimal places kept on money amounts.
	AmountScale int32 = 8
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// ValidateHouseEdge checks 0 <= edge < 1.
func ValidateHouseEdge(edge decimal.Decimal) error {
	if edge.IsNegative() || edge.GreaterThanOrEqual(one) {
		return ErrInvalidHouseEdge
	}
	return nil
}

// FormulaMultiplier returns 100 * (1 - edge) / winChance, floored to
// MultiplierScale places. winChance is a percentage in [MinWinChance, 100].
func FormulaMultiplier(winChance, edge decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateHouseEdge(edge); err != nil {
		return decimal.Zero, err
	}
	if winChance.LessThan(MinWinChance) || winChance.GreaterThan(hundred) {
		return decimal.Zero, ErrInvalidWinChance
	}
	return floorDiv(hundred.Mul(one.Sub(edge)), winChance, MultiplierScale), nil
}

// Payout returns bet * multiplier for a win and zero otherwise, truncated to
// AmountScale places.
func Payout(bet, multiplier decimal.Decimal, win bool) decimal.Decimal {
	if !win {
		return decimal.Zero
	}
	return bet.Mul(multiplier).Truncate(AmountScale)
}

// --- Dice ---

// DiceWinChance returns the percentage of rolls in [0.00, 99.99] that win.
// "under" wins on roll < target; "over" wins on roll > target.
func DiceWinChance(target decimal.Decimal, over bool) (decimal.Decimal, error) {
	if target.Truncate(2).Cmp(target) != 0 {
		return decimal.Zero, ErrInvalidWinChance
	}
	wc := target
	if over {
		wc = decimal.New(9999, -2).Sub(target)
	}
	if wc.LessThan(MinWinChance) || wc.GreaterThan(MaxWinChance) {
		return decimal.Zero, ErrInvalidWinChance
	}
	return wc, nil
}

// --- Mines ---

// MinesWinChance returns the percentage chance that picks cells on a grid of
// cells with mines mines are all safe: C(cells-mines, picks) / C(cells, picks).
// The result is rounded for display; MinesMultiplier uses the exact ratio.
func MinesWinChance(cells, mines, picks int) (decimal.Decimal, error) {
	if err := validateMines(cells, mines, picks); err != nil {
		return decimal.Zero, err
	}
	safe := decimal.NewFromBigInt(binomial(cells-mines, picks), 0)
	total := decimal.NewFromBigInt(binomial(cells, picks), 0)
	return hundred.Mul(safe).DivRound(total, 8), nil
}

// MinesMultiplier returns (1 - edge) * C(cells, picks) / C(cells-mines, picks),
// floored to MultiplierScale places.
func MinesMultiplier(cells, mines, picks int, edge decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateHouseEdge(edge); err != nil {
		return decimal.Zero, err
	}
	if err := validateMines(cells, mines, picks); err != nil {
		return decimal.Zero, err
	}
	total := decimal.NewFromBigInt(binomial(cells, picks), 0)
	safe := decimal.NewFromBigInt(binomial(cells-mines, picks), 0)
	return floorDiv(total.Mul(one.Sub(edge)), safe, MultiplierScale), nil
}

func validateMines(cells, mines, picks int) error {
	if cells <= 0 || mines < 1 || mines >= cells || picks < 1 || picks > cells-mines {
		return ErrInvalidWinChance
	}
	return nil
}

// --- Crash ---

// MinCashout and MaxCashout bound the auto-cashout target.
var (
	MinCashout = decimal.New(101, -2)
	MaxCashout = decimal.NewFromInt(1_000_000)
)

// CrashMultiplier validates an auto-cashout target and returns it as the
// multiplier, truncated to the two places the crash point is quoted in.
func CrashMultiplier(autoCashout decimal.Decimal) (decimal.Decimal, error) {
	m := autoCashout.Truncate(2)
	if m.LessThan(MinCashout) || m.GreaterThan(MaxCashout) {
		return decimal.Zero, ErrInvalidWinChance
	}
	return m, nil
}

// --- helpers ---

// floorDiv computes a / b truncated to places decimals without intermediate
// rounding. a and b must be positive.
func floorDiv(a, b decimal.Decimal, places int32) decimal.Decimal {
	num := a.Coefficient()
	den := b.Coefficient()
	shift := int64(a.Exponent()) - int64(b.Exponent()) + int64(places)
	if shift >= 0 {
		num.Mul(num, pow10(shift))
	} else {
		den.Mul(den, pow10(-shift))
	}
	return decimal.NewFromBigInt(num.Quo(num, den), -places)
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func binomial(n, k int) *big.Int {
	return new(big.Int).Binomial(int64(n), int64(k))
}
