package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/config"
	"github.com/atmx/settlement-engine/internal/fanout"
	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/payout"
	"github.com/atmx/settlement-engine/internal/store"
)

// MaxLevels is the deepest ancestor that earns commission.
const MaxLevels = 3

// Program applies loyalty accounting for settled bets.
type Program struct {
	store store.Store
	model string
	rates []decimal.Decimal
	log   *slog.Logger
	now   func() time.Time
}

// NewProgram creates a loyalty program paying commissions under one model
// (config.CommissionModelTurnover or config.CommissionModelRevenueShare).
// rates[i] is the rate for the ancestor i+1 levels above the bettor.
func NewProgram(st store.Store, commissionModel string, rates []decimal.Decimal, log *slog.Logger) (*Program, error) {
	switch commissionModel {
	case config.CommissionModelTurnover, config.CommissionModelRevenueShare:
	default:
		return nil, fmt.Errorf("loyalty: unknown commission model %q", commissionModel)
	}
	if len(rates) > MaxLevels {
		rates = rates[:MaxLevels]
	}
	if log == nil {
		log = slog.Default()
	}
	return &Program{
		store: st,
		model: commissionModel,
		rates: rates,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Tasks returns the fan-out work for one settled bet: the wager accrual and,
// unless the bet was classified low risk, one commission task per ancestor
// level.
func (p *Program) Tasks(bet model.Bet, lowRisk bool) []fanout.Task {
	tasks := []fanout.Task{{
		Name:   "loyalty.accrue",
		BetID:  bet.ID,
		UserID: bet.UserID,
		Run:    func(ctx context.Context) error { return p.AccrueWager(ctx, bet) },
	}}
	if lowRisk {
		if len(p.rates) > 0 {
			metrics.CommissionsSkipped.WithLabelValues(string(bet.GameType)).Inc()
		}
		return tasks
	}
	for i := range p.rates {
		level := i + 1
		tasks = append(tasks, fanout.Task{
			Name:   fmt.Sprintf("commission.level%d", level),
			BetID:  bet.ID,
			UserID: bet.UserID,
			Run:    func(ctx context.Context) error { return p.PayLevel(ctx, bet, level) },
		})
	}
	return tasks
}

// AccrueWager adds the bet to the user's totals, promotes the VIP tier if the
// new total reaches a higher threshold, and accrues rakeback at the rate of
// the resulting tier.
func (p *Program) AccrueWager(ctx context.Context, bet model.Bet) error {
	return p.store.WithTx(ctx, func(tx store.Tx) error {
		l, err := tx.LockLoyalty(ctx, bet.UserID)
		if err != nil {
			return err
		}
		l.TotalWagered = l.TotalWagered.Add(bet.BetAmount)
		l.TotalBets++

		if tier := TierFor(l.TotalWagered); tier.Level > l.VIPLevel {
			p.log.Info("vip promotion",
				"user_id", bet.UserID,
				"from", l.VIPLevel,
				"to", tier.Level,
				"tier", tier.Name,
			)
			l.VIPLevel = tier.Level
		}

		rakeback := Rakeback(bet.BetAmount, bet.HouseEdge, TierAt(l.VIPLevel))
		l.ClaimableRakeback = l.ClaimableRakeback.Add(rakeback)
		l.UpdatedAt = p.now()
		return tx.SaveLoyalty(ctx, l)
	})
}

// Rakeback is betAmount x houseEdge x tier rate, truncated to the amount scale.
func Rakeback(betAmount, houseEdge decimal.Decimal, tier Tier) decimal.Decimal {
	return betAmount.Mul(houseEdge).Mul(tier.RakebackRate).Truncate(payout.AmountScale)
}

// Ancestors walks the referral chain above userID, nearest first, stopping
// after max levels, at a user with no referrer, or at a cycle.
func (p *Program) Ancestors(ctx context.Context, userID string, max int) ([]string, error) {
	seen := map[string]bool{userID: true}
	var out []string
	cur := userID
	for len(out) < max {
		ref, err := p.store.GetReferrer(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("referrer of %s: %w", cur, err)
		}
		if ref == "" || seen[ref] {
			break
		}
		seen[ref] = true
		out = append(out, ref)
		cur = ref
	}
	return out, nil
}

// PayLevel credits the ancestor level levels above the bettor, if there is one.
func (p *Program) PayLevel(ctx context.Context, bet model.Bet, level int) error {
	if level < 1 || level > len(p.rates) {
		return fmt.Errorf("loyalty: no commission rate for level %d", level)
	}
	chain, err := p.Ancestors(ctx, bet.UserID, level)
	if err != nil {
		return err
	}
	if len(chain) < level {
		return nil
	}
	recipient := chain[level-1]
	rate := p.rates[level-1]

	err = p.store.WithTx(ctx, func(tx store.Tx) error {
		switch p.model {
		case config.CommissionModelRevenueShare:
			return p.revenueShare(ctx, tx, bet, recipient, level, rate)
		default:
			return p.turnover(ctx, tx, bet, recipient, level, rate)
		}
	})
	if errors.Is(err, errDuplicate) {
		p.log.Warn("commission already paid", "bet_id", bet.ID, "recipient_id", recipient, "level", level)
		return nil
	}
	return err
}

func (p *Program) turnover(ctx context.Context, tx store.Tx, bet model.Bet, recipient string, level int, rate decimal.Decimal) error {
	amount := bet.BetAmount.Mul(rate).Truncate(payout.AmountScale)
	if !amount.IsPositive() {
		return nil
	}
	return p.insert(ctx, tx, bet, recipient, level, amount, model.CommissionTurnover)
}

// revenueShare pays on the house's net result from the bet plus whatever
// the pair carried over. A net player win is stored as negative carryover
// and offsets future commissions until consumed.
func (p *Program) revenueShare(ctx context.Context, tx store.Tx, bet model.Bet, recipient string, level int, rate decimal.Decimal) error {
	carry, err := tx.LockCarryover(ctx, recipient, bet.UserID)
	if err != nil {
		return err
	}
	netLoss := bet.Profit.Neg()
	effective := netLoss.Add(carry)
	if !effective.IsPositive() {
		return tx.SaveCarryover(ctx, recipient, bet.UserID, effective)
	}

	amount := effective.Mul(rate).Truncate(payout.AmountScale)
	if amount.IsPositive() {
		if err := p.insert(ctx, tx, bet, recipient, level, amount, model.CommissionRevenueShare); err != nil {
			return err
		}
	}
	return tx.SaveCarryover(ctx, recipient, bet.UserID, decimal.Zero)
}

// errDuplicate aborts the surrounding transaction so a re-delivered task
// leaves carryover untouched.
var errDuplicate = errors.New("loyalty: commission already paid")

func (p *Program) insert(ctx context.Context, tx store.Tx, bet model.Bet, recipient string, level int, amount decimal.Decimal, typ model.CommissionType) error {
	c := &model.Commission{
		ID:              uuid.NewString(),
		RecipientID:     recipient,
		SourceUserID:    bet.UserID,
		BetID:           bet.ID,
		Currency:        bet.Currency,
		Amount:          amount,
		CommissionType:  typ,
		LevelFromSource: level,
		CreatedAt:       p.now(),
	}
	ok, err := tx.InsertCommission(ctx, c)
	if err != nil {
		return err
	}
	if !ok {
		return errDuplicate
	}
	p.log.Info("commission credited",
		"bet_id", bet.ID,
		"recipient_id", recipient,
		"level", level,
		"type", typ,
		"amount", amount.String(),
	)
	return nil
}
