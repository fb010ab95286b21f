package fairness

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// Params selects the outcome mapping. HouseEdge only affects crash points.
type Params struct {
	Game      model.GameType
	Rows      int // plinko
	Mines     int // mines
	HouseEdge decimal.Decimal
}

// Outcome is the game-specific result of one round. Exactly one of the
// result fields is set, matching Game.
type Outcome struct {
	Game       model.GameType   `json:"game"`
	Roll       *decimal.Decimal `json:"roll,omitempty"`
	Path       *PlinkoPath      `json:"path,omitempty"`
	Mines      []int            `json:"mines,omitempty"`
	CrashPoint *decimal.Decimal `json:"crash_point,omitempty"`
}

// Generate derives the outcome for a round. Identical inputs always
// produce an identical outcome.
func Generate(serverSeed, clientSeed string, nonce int64, p Params) (Outcome, error) {
	out := Outcome{Game: p.Game}
	switch p.Game {
	case model.GameDice:
		roll := DiceRoll(serverSeed, clientSeed, nonce)
		out.Roll = &roll
	case model.GamePlinko:
		path, err := PlinkoDrop(serverSeed, clientSeed, nonce, p.Rows)
		if err != nil {
			return Outcome{}, err
		}
		out.Path = &path
	case model.GameMines:
		mines, err := MinePositions(serverSeed, clientSeed, nonce, model.MinesCells, p.Mines)
		if err != nil {
			return Outcome{}, err
		}
		out.Mines = mines
	case model.GameCrash:
		point := CrashPoint(serverSeed, clientSeed, nonce, p.HouseEdge)
		out.CrashPoint = &point
	default:
		return Outcome{}, fmt.Errorf("fairness: unsupported game %q", p.Game)
	}
	return out, nil
}
