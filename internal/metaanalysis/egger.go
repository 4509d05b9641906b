package metaanalysis

import (
	"errors"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// MinEggerStudies is the smallest k for which Egger's test is computed.
const MinEggerStudies = 5

// EggerAlpha is the significance level for funnel asymmetry.
const EggerAlpha = 0.05

// exactFitTolerance is the residual share of the weighted sum of squares
// below which the regression is treated as an exact fit.
const exactFitTolerance = 1e-20

// EggerResult is the outcome of Egger's regression test. When Sufficient is
// false only K and Interpretation are meaningful.
type EggerResult struct {
	K              int     `json:"k"`
	Sufficient     bool    `json:"sufficient"`
	Intercept      float64 `json:"intercept"`
	Slope          float64 `json:"slope"`
	SEIntercept    float64 `json:"se_intercept"`
	T              float64 `json:"t_statistic"`
	P              float64 `json:"p_value"`
	DF             int     `json:"df"`
	Significant    bool    `json:"significant"`
	Interpretation string  `json:"interpretation"`
}

// Egger regresses the standardized effect g/se on precision 1/se by weighted
// least squares with weights equal to precision, and tests the intercept
// against zero with a two-tailed t-test on k-2 degrees of freedom.
func Egger(g, se []float64) (*EggerResult, error) {
	if err := checkInputs(g, se); err != nil {
		return nil, err
	}
	k := len(g)
	if k < MinEggerStudies {
		return &EggerResult{
			K:              k,
			Interpretation: "Insufficient data: Egger's test needs at least 5 studies",
		}, nil
	}

	x := mat.NewDense(k, 2, nil)
	y := mat.NewVecDense(k, nil)
	precision := make([]float64, k)
	for i := range g {
		precision[i] = 1 / se[i]
		x.Set(i, 0, 1)
		x.Set(i, 1, precision[i])
		y.SetVec(i, g[i]/se[i])
	}
	w := mat.NewDiagDense(k, precision)

	var xtw mat.Dense
	xtw.Mul(x.T(), w)
	var xtwx mat.Dense
	xtwx.Mul(&xtw, x)
	var xtwy mat.VecDense
	xtwy.MulVec(&xtw, y)

	var inv mat.Dense
	if err := inv.Inverse(&xtwx); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			zap.L().Debug("egger design matrix is singular", zap.Error(err))
			return &EggerResult{K: k, Interpretation: "Egger's test undefined: precision does not vary across studies"}, nil
		}
	}
	var beta mat.VecDense
	beta.MulVec(&inv, &xtwy)
	intercept, slope := beta.AtVec(0), beta.AtVec(1)

	df := k - 2
	var rss, tss float64
	for i := range g {
		resid := y.AtVec(i) - (intercept + slope*precision[i])
		rss += precision[i] * resid * resid
		tss += precision[i] * y.AtVec(i) * y.AtVec(i)
	}
	mse := rss / float64(df)

	seIntercept := math.Sqrt(mse * inv.At(0, 0))
	if !(seIntercept > 0) || rss <= exactFitTolerance*tss {
		return &EggerResult{
			K: k, Sufficient: true, Intercept: intercept, Slope: slope, DF: df, P: 1,
			Interpretation: "No significant asymmetry detected (studies fit the regression exactly)",
		}, nil
	}
	t := intercept / seIntercept
	p := StudentTTwoTailed(t, df)

	res := &EggerResult{
		K:           k,
		Sufficient:  true,
		Intercept:   intercept,
		Slope:       slope,
		SEIntercept: seIntercept,
		T:           t,
		P:           p,
		DF:          df,
		Significant: p < EggerAlpha,
	}
	if res.Significant {
		res.Interpretation = "Significant asymmetry detected (possible publication bias)"
	} else {
		res.Interpretation = "No significant asymmetry detected"
	}
	return res, nil
}
