// Package loyalty keeps VIP state, rakeback and referral commissions up to
// date after each settled bet. Everything here runs as fan-out tasks, after
// the bet has committed.
package loyalty

import "github.com/shopspring/decimal"

// Tier is one VIP level.
type Tier struct {
	Level        int             `json:"level"`
	Name         string          `json:"name"`
	MinWagered   decimal.Decimal `json:"min_wagered"`
	RakebackRate decimal.Decimal `json:"rakeback_rate"`
}

// Tiers is ordered by level; Tiers[i].Level == i.
var Tiers = []Tier{
	{Level: 0, Name: "Bronze", MinWagered: decimal.Zero, RakebackRate: decimal.RequireFromString("0.05")},
	{Level: 1, Name: "Silver", MinWagered: decimal.NewFromInt(10_000), RakebackRate: decimal.RequireFromString("0.075")},
	{Level: 2, Name: "Gold", MinWagered: decimal.NewFromInt(50_000), RakebackRate: decimal.RequireFromString("0.10")},
	{Level: 3, Name: "Platinum", MinWagered: decimal.NewFromInt(250_000), RakebackRate: decimal.RequireFromString("0.125")},
	{Level: 4, Name: "Diamond", MinWagered: decimal.NewFromInt(1_000_000), RakebackRate: decimal.RequireFromString("0.15")},
}

// TierFor returns the highest tier whose threshold wagered reaches.
func TierFor(wagered decimal.Decimal) Tier {
	tier := Tiers[0]
	for _, t := range Tiers[1:] {
		if wagered.LessThan(t.MinWagered) {
			break
		}
		tier = t
	}
	return tier
}

// TierAt returns the tier for a stored level, clamped to the table.
func TierAt(level int) Tier {
	switch {
	case level < 0:
		return Tiers[0]
	case level >= len(Tiers):
		return Tiers[len(Tiers)-1]
	}
	return Tiers[level]
}
