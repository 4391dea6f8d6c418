package domain

import (
	"github.com/shopspring/decimal"
)

// Normalize scales a set of non-negative probabilities so they sum to
// exactly (within tolerance) 1.0. Math is done in fixed-point decimal so
// the result is reproducible across platforms and the idempotency property
// (re-normalizing already-normalized input leaves it unchanged within 1e-6)
// holds without float64 rounding drift. Values are converted back to
// float64 only at the boundary — the EventNode.Probability field.
//
// Equal-distribution law: if every input is zero, each of the k outputs is
// 1/k.
func Normalize(probabilities []float64) []float64 {
	if len(probabilities) == 0 {
		return nil
	}

	decs := make([]decimal.Decimal, len(probabilities))
	sum := decimal.Zero
	for i, p := range probabilities {
		decs[i] = decimal.NewFromFloat(p)
		sum = sum.Add(decs[i])
	}

	out := make([]float64, len(probabilities))
	if sum.IsZero() {
		equal := decimal.New(1, 0).Div(decimal.New(int64(len(probabilities)), 0))
		for i := range out {
			out[i], _ = equal.Float64()
		}
		return out
	}

	for i, d := range decs {
		v, _ := d.Div(sum).Float64()
		out[i] = v
	}
	return out
}

// SumWithinTolerance reports whether the given probabilities sum to 1.0
// within ProbabilitySumTolerance.
func SumWithinTolerance(probabilities []float64) bool {
	sum := decimal.Zero
	for _, p := range probabilities {
		sum = sum.Add(decimal.NewFromFloat(p))
	}
	diff := sum.Sub(decimal.New(1, 0)).Abs()
	tolerance := decimal.NewFromFloat(ProbabilitySumTolerance)
	return diff.LessThanOrEqual(tolerance)
}

// NormalizeWithRenormalizeOnce implements spec §4.2 step 6: normalize once;
// if the result is not within tolerance, normalize the already-normalized
// values a second time; if still not within tolerance, report failure so
// the caller can fall back.
func NormalizeWithRenormalizeOnce(probabilities []float64) ([]float64, bool) {
	normalized := Normalize(probabilities)
	if SumWithinTolerance(normalized) {
		return normalized, true
	}

	renormalized := Normalize(normalized)
	if SumWithinTolerance(renormalized) {
		return renormalized, true
	}

	return renormalized, false
}
