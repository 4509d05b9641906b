package metaanalysis

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ChiSquareSurvival returns P(X > q) for X ~ χ²(df) using the exact
// regularized incomplete gamma function. For df < 1 there is no test and the
// result is 1.
func ChiSquareSurvival(q float64, df int) float64 {
	if df < 1 {
		return 1
	}
	if q <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: float64(df)}.Survival(q)
}

// ExpApproxChiSquareSurvival is the exp(-q/2) approximation to the χ²
// survival function. It is exact only for df = 2 and is kept as a
// lower-fidelity fallback; ChiSquareSurvival is always preferred.
func ExpApproxChiSquareSurvival(q float64) float64 {
	if q <= 0 {
		return 1
	}
	return math.Exp(-q / 2)
}

// StudentTTwoTailed returns the two-sided p-value of t with df degrees of freedom.
func StudentTTwoTailed(t float64, df int) float64 {
	if df < 1 || math.IsNaN(t) {
		return math.NaN()
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	return 2 * dist.Survival(math.Abs(t))
}
