package payout

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- Formula ---

func TestFormulaMultiplier_FiftyPercent(t *testing.T) {
	m, err := FormulaMultiplier(d("50"), d("0.04"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(d("1.9200")) {
		t.Errorf("expected 1.9200, got %s", m)
	}
}

func TestFormulaMultiplier_Floors(t *testing.T) {
	tests := []struct {
		wc, edge, want string
	}{
		{"90", "0.04", "1.0666"},   // 1.06666...
		{"33", "0.04", "2.909"},    // 2.909090...
		{"0.01", "0.04", "9600"},   // exact
		{"98", "0.01", "1.0102"},   // 1.010204...
		{"49.5", "0.02", "1.9797"}, // 1.979797...
	}
	for _, tt := range tests {
		got, err := FormulaMultiplier(d(tt.wc), d(tt.edge))
		if err != nil {
			t.Fatalf("wc=%s: unexpected error: %v", tt.wc, err)
		}
		if !got.Equal(d(tt.want)) {
			t.Errorf("wc=%s edge=%s: expected %s, got %s", tt.wc, tt.edge, tt.want, got)
		}
	}
}

func TestFormulaMultiplier_InvalidInputs(t *testing.T) {
	if _, err := FormulaMultiplier(d("50"), d("1")); err != ErrInvalidHouseEdge {
		t.Errorf("expected ErrInvalidHouseEdge for edge 1, got %v", err)
	}
	if _, err := FormulaMultiplier(d("50"), d("-0.01")); err != ErrInvalidHouseEdge {
		t.Errorf("expected ErrInvalidHouseEdge for negative edge, got %v", err)
	}
	if _, err := FormulaMultiplier(d("0"), d("0.04")); err != ErrInvalidWinChance {
		t.Errorf("expected ErrInvalidWinChance for 0, got %v", err)
	}
	if _, err := FormulaMultiplier(d("100.01"), d("0.04")); err != ErrInvalidWinChance {
		t.Errorf("expected ErrInvalidWinChance above 100, got %v", err)
	}
}

func TestPayout(t *testing.T) {
	if got := Payout(d("100"), d("1.92"), true); !got.Equal(d("192")) {
		t.Errorf("expected 192, got %s", got)
	}
	if got := Payout(d("100"), d("1.92"), false); !got.IsZero() {
		t.Errorf("expected 0 on loss, got %s", got)
	}
	// truncated, never rounded up
	if got := Payout(d("0.00000003"), d("1.5"), true); !got.Equal(d("0.00000004")) {
		t.Errorf("expected 0.00000004, got %s", got)
	}
	if got := Payout(d("0.00000001"), d("1.9999"), true); !got.Equal(d("0.00000001")) {
		t.Errorf("expected truncation to 0.00000001, got %s", got)
	}
}

// --- Dice ---

func TestDiceWinChance(t *testing.T) {
	wc, err := DiceWinChance(d("50"), false)
	if err != nil || !wc.Equal(d("50")) {
		t.Errorf("under 50: expected 50, got %s (%v)", wc, err)
	}
	wc, err = DiceWinChance(d("50"), true)
	if err != nil || !wc.Equal(d("49.99")) {
		t.Errorf("over 50: expected 49.99, got %s (%v)", wc, err)
	}
	if _, err := DiceWinChance(d("99"), false); err != ErrInvalidWinChance {
		t.Errorf("under 99 should exceed max win chance, got %v", err)
	}
	if _, err := DiceWinChance(d("0"), false); err != ErrInvalidWinChance {
		t.Errorf("under 0 can never win, got %v", err)
	}
	if _, err := DiceWinChance(d("50.005"), false); err != ErrInvalidWinChance {
		t.Errorf("three-decimal target should be rejected, got %v", err)
	}
}

// Enumerates all 10,000 rolls: multiplier * P(win) must sit just below
// 1 - edge, off by at most the flooring step.
func TestDiceExpectedReturn(t *testing.T) {
	edge := d("0.04")
	target := d("0.96")
	tolerance := d("0.0001")
	for _, over := range []bool{false, true} {
		for _, tgt := range []string{"0.01", "1", "2.5", "10", "25.55", "49.5", "50", "75", "90", "97.99", "98"} {
			tv := d(tgt)
			wc, err := DiceWinChance(tv, over)
			if err != nil {
				continue
			}
			m, err := FormulaMultiplier(wc, edge)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			wins := 0
			for i := int64(0); i < 10000; i++ {
				roll := decimal.New(i, -2)
				if (!over && roll.LessThan(tv)) || (over && roll.GreaterThan(tv)) {
					wins++
				}
			}
			ev := m.Mul(decimal.NewFromInt(int64(wins))).Div(decimal.NewFromInt(10000))
			if ev.GreaterThan(target) || target.Sub(ev).GreaterThan(tolerance) {
				t.Errorf("target %s over=%v: expected return %s, want within %s below %s", tgt, over, ev, tolerance, target)
			}
		}
	}
}

// --- Mines ---

func TestMinesMultiplier(t *testing.T) {
	// one mine, one pick: 25/24 * 0.96 = 1.0
	m, err := MinesMultiplier(25, 1, 1, d("0.04"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(d("1")) {
		t.Errorf("expected 1.0000, got %s", m)
	}
	// 3 mines, 2 picks: C(25,2)/C(22,2) = 300/231 * 0.99 = 1.2857...
	m, err = MinesMultiplier(25, 3, 2, d("0.01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(d("1.2857")) {
		t.Errorf("expected 1.2857, got %s", m)
	}
}

func TestMinesExpectedReturn(t *testing.T) {
	edge := d("0.04")
	target := d("0.96")
	tolerance := d("0.0001")
	for mines := 1; mines <= 24; mines++ {
		for picks := 1; picks <= 25-mines; picks++ {
			m, err := MinesMultiplier(25, mines, picks, edge)
			if err != nil {
				t.Fatalf("mines=%d picks=%d: %v", mines, picks, err)
			}
			safe := decimal.NewFromBigInt(binomial(25-mines, picks), 0)
			total := decimal.NewFromBigInt(binomial(25, picks), 0)
			ev := m.Mul(safe).DivRound(total, 12)
			if ev.GreaterThan(target) || target.Sub(ev).GreaterThan(tolerance) {
				t.Errorf("mines=%d picks=%d: expected return %s", mines, picks, ev)
			}
		}
	}
}

func TestMinesWinChance(t *testing.T) {
	wc, err := MinesWinChance(25, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !wc.Equal(d("96")) {
		t.Errorf("expected 96, got %s", wc)
	}
	if _, err := MinesWinChance(25, 24, 2); err != ErrInvalidWinChance {
		t.Errorf("picks larger than safe cells should fail, got %v", err)
	}
	if _, err := MinesWinChance(25, 0, 1); err != ErrInvalidWinChance {
		t.Errorf("zero mines should fail, got %v", err)
	}
}

// --- Crash ---

func TestCrashMultiplier(t *testing.T) {
	m, err := CrashMultiplier(d("2.509"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(d("2.50")) {
		t.Errorf("expected 2.50, got %s", m)
	}
	if _, err := CrashMultiplier(d("1.00")); err != ErrInvalidWinChance {
		t.Errorf("expected ErrInvalidWinChance for 1.00, got %v", err)
	}
	if _, err := CrashMultiplier(d("1000001")); err != ErrInvalidWinChance {
		t.Errorf("expected ErrInvalidWinChance above cap, got %v", err)
	}
}

// --- Plinko ---

func TestPlinkoTables_Symmetric(t *testing.T) {
	for _, rows := range PlinkoRows {
		for _, risk := range []string{RiskLow, RiskMedium, RiskHigh} {
			table, err := PlinkoTable(rows, risk, d("0.04"))
			if err != nil {
				t.Fatalf("rows=%d risk=%s: %v", rows, risk, err)
			}
			if len(table) != rows+1 {
				t.Fatalf("rows=%d: expected %d buckets, got %d", rows, rows+1, len(table))
			}
			for i := range table {
				if !table[i].Equal(table[rows-i]) {
					t.Errorf("rows=%d risk=%s: bucket %d (%s) != bucket %d (%s)",
						rows, risk, i, table[i], rows-i, table[rows-i])
				}
			}
		}
	}
}

func TestPlinkoTables_ExpectedReturn(t *testing.T) {
	tolerance := d("0.0005")
	for _, edge := range []string{"0.01", "0.02", "0.04", "0.05", "0.10"} {
		e := d(edge)
		target := decimal.NewFromInt(1).Sub(e)
		for _, rows := range PlinkoRows {
			probs := BinomialProbabilities(rows)
			for _, risk := range []string{RiskLow, RiskMedium, RiskHigh} {
				table, err := PlinkoTable(rows, risk, e)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				ev := ExpectedReturn(table, probs)
				if ev.Sub(target).Abs().GreaterThan(tolerance) {
					t.Errorf("edge=%s rows=%d risk=%s: expected return %s, want %s +/- %s",
						edge, rows, risk, ev, target, tolerance)
				}
			}
		}
	}
}

func TestBinomialProbabilities_SumToOne(t *testing.T) {
	for _, rows := range PlinkoRows {
		sum := decimal.Zero
		for _, p := range BinomialProbabilities(rows) {
			sum = sum.Add(p)
		}
		if !sum.Equal(decimal.NewFromInt(1)) {
			t.Errorf("rows=%d: probabilities sum to %s", rows, sum)
		}
	}
}

func TestPlinkoMultiplier(t *testing.T) {
	m, err := PlinkoMultiplier(16, RiskLow, 0, d("0.01"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(d("16.0002")) {
		t.Errorf("expected base multiplier at base edge, got %s", m)
	}
	scaled, err := PlinkoMultiplier(16, RiskLow, 0, d("0.04"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 16.0002 * 0.96 / 0.99 = 15.51534...
	if !scaled.Equal(d("15.5153")) {
		t.Errorf("expected 15.5153, got %s", scaled)
	}
	if _, err := PlinkoMultiplier(16, RiskLow, 17, d("0.04")); err != ErrInvalidBucket {
		t.Errorf("expected ErrInvalidBucket, got %v", err)
	}
	if _, err := PlinkoMultiplier(10, RiskLow, 0, d("0.04")); err != ErrUnknownTable {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
	if _, err := PlinkoMultiplier(8, "extreme", 0, d("0.04")); err != ErrUnknownTable {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
}

func TestBasePlinkoTable_ReturnsCopy(t *testing.T) {
	a, _ := BasePlinkoTable(8, RiskHigh)
	a[0] = decimal.Zero
	b, _ := BasePlinkoTable(8, RiskHigh)
	if b[0].IsZero() {
		t.Error("mutating a returned table changed the base table")
	}
}
