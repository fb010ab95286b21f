package payout

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Plinko risk profiles.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// PlinkoRows lists the supported board sizes.
var PlinkoRows = []int{8, 12, 16}

// BasePlinkoEdge is the house edge the base tables are calibrated for.
var BasePlinkoEdge = decimal.New(1, -2)

type tableKey struct {
	rows int
	risk string
}

// Half tables from the outer bucket to the centre bucket inclusive; the full
// table mirrors them. Each full table returns 0.99 under the binomial
// distribution of its row count.
var plinkoHalves = map[tableKey][]string{
	{8, RiskLow}:     {"5.6009", "2.1003", "1.1002", "1.0002", "0.5001"},
	{8, RiskMedium}:  {"13.0123", "3.0028", "1.3012", "0.7007", "0.4004"},
	{8, RiskHigh}:    {"28.9817", "3.9975", "1.4991", "0.2998", "0.1999"},
	{12, RiskLow}:    {"10.0021", "3.0006", "1.6003", "1.4003", "1.1002", "1.0002", "0.5001"},
	{12, RiskMedium}: {"33.0036", "11.0012", "4.0004", "2.0002", "1.1001", "0.6001", "0.3000"},
	{12, RiskHigh}:   {"169.8007", "23.9719", "8.0905", "1.9977", "0.6992", "0.1998", "0.1998"},
	{16, RiskLow}:    {"16.0002", "9.0001", "2.0000", "1.4000", "1.4000", "1.2000", "1.1000", "1.0000", "0.5000"},
	{16, RiskMedium}: {"110.0130", "41.0048", "10.0012", "5.0006", "3.0004", "1.5002", "1.0001", "0.5001", "0.3000"},
	{16, RiskHigh}:   {"1000.2380", "130.0309", "26.0062", "9.0021", "4.0010", "2.0005", "0.2000", "0.2000", "0.2000"},
}

var plinkoBase = buildPlinkoTables()

func buildPlinkoTables() map[tableKey][]decimal.Decimal {
	out := make(map[tableKey][]decimal.Decimal, len(plinkoHalves))
	for key, half := range plinkoHalves {
		full := make([]decimal.Decimal, key.rows+1)
		for i, s := range half {
			m := decimal.RequireFromString(s)
			full[i] = m
			full[key.rows-i] = m
		}
		out[key] = full
	}
	return out
}

// BasePlinkoTable returns a copy of the calibrated table for rows and risk.
func BasePlinkoTable(rows int, risk string) ([]decimal.Decimal, error) {
	base, ok := plinkoBase[tableKey{rows, risk}]
	if !ok {
		return nil, ErrUnknownTable
	}
	return append([]decimal.Decimal(nil), base...), nil
}

// PlinkoTable returns the table rescaled to edge:
// base * (1 - edge) / (1 - BasePlinkoEdge), floored to MultiplierScale places.
func PlinkoTable(rows int, risk string, edge decimal.Decimal) ([]decimal.Decimal, error) {
	if err := ValidateHouseEdge(edge); err != nil {
		return nil, err
	}
	base, ok := plinkoBase[tableKey{rows, risk}]
	if !ok {
		return nil, ErrUnknownTable
	}
	out := make([]decimal.Decimal, len(base))
	for i, m := range base {
		out[i] = scale(m, edge)
	}
	return out, nil
}

// PlinkoMultiplier returns the scaled multiplier for one bucket.
func PlinkoMultiplier(rows int, risk string, bucket int, edge decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateHouseEdge(edge); err != nil {
		return decimal.Zero, err
	}
	base, ok := plinkoBase[tableKey{rows, risk}]
	if !ok {
		return decimal.Zero, ErrUnknownTable
	}
	if bucket < 0 || bucket >= len(base) {
		return decimal.Zero, ErrInvalidBucket
	}
	return scale(base[bucket], edge), nil
}

func scale(base, edge decimal.Decimal) decimal.Decimal {
	if edge.Equal(BasePlinkoEdge) {
		return base
	}
	return floorDiv(base.Mul(one.Sub(edge)), one.Sub(BasePlinkoEdge), MultiplierScale)
}

// BinomialProbabilities returns P(bucket = k) = C(rows, k) / 2^rows for every
// bucket. The values are exact: 2^-rows = 5^rows * 10^-rows.
func BinomialProbabilities(rows int) []decimal.Decimal {
	five := new(big.Int).Exp(big.NewInt(5), big.NewInt(int64(rows)), nil)
	out := make([]decimal.Decimal, rows+1)
	for k := 0; k <= rows; k++ {
		c := binomial(rows, k)
		out[k] = decimal.NewFromBigInt(c.Mul(c, five), -int32(rows))
	}
	return out
}

// ExpectedReturn is the sum of multiplier * probability over all buckets.
func ExpectedReturn(multipliers, probabilities []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for i := range multipliers {
		if i >= len(probabilities) {
			break
		}
		sum = sum.Add(multipliers[i].Mul(probabilities[i]))
	}
	return sum
}
