// Package metaanalysis implements DerSimonian-Laird random-effects pooling,
// heterogeneity statistics and publication-bias diagnostics.
package metaanalysis

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/metaextract/internal/effectsize"
)

var (
	// ErrNoStudies is returned when pooling an empty set.
	ErrNoStudies = eris.New("metaanalysis: no studies")
	// ErrLengthMismatch is returned when g and se differ in length.
	ErrLengthMismatch = eris.New("metaanalysis: g and se lengths differ")
	// ErrNonPositiveSE is returned when a standard error is not strictly positive.
	ErrNonPositiveSE = eris.New("metaanalysis: standard errors must be positive")
)

// Estimate is a random-effects pooled estimate with heterogeneity statistics.
// It is derived on demand and never persisted as primary data.
type Estimate struct {
	K           int     `json:"k"`
	FixedG      float64 `json:"fixed_g"`
	SEFixed     float64 `json:"se_fixed"`
	PooledG     float64 `json:"pooled_g"`
	SEPooled    float64 `json:"se_pooled"`
	CILower     float64 `json:"ci_lower"`
	CIUpper     float64 `json:"ci_upper"`
	Q           float64 `json:"Q"`
	DF          int     `json:"df"`
	PQ          float64 `json:"p_Q"`
	I2          float64 `json:"I2"`
	Tau2        float64 `json:"tau2"`
	Tau         float64 `json:"tau"`
	PILower     float64 `json:"pi_lower"`
	PIUpper     float64 `json:"pi_upper"`
	Band        string  `json:"heterogeneity"`
	Significant bool    `json:"heterogeneity_significant"`
}

// Pool runs DerSimonian-Laird random-effects pooling over (g, se) pairs.
func Pool(g, se []float64) (*Estimate, error) {
	if err := checkInputs(g, se); err != nil {
		return nil, err
	}
	k := len(g)

	var sumW, sumW2, sumWG float64
	w := make([]float64, k)
	for i := range g {
		w[i] = 1 / (se[i] * se[i])
		sumW += w[i]
		sumW2 += w[i] * w[i]
		sumWG += w[i] * g[i]
	}
	fixed := sumWG / sumW

	var q float64
	for i := range g {
		d := g[i] - fixed
		q += w[i] * d * d
	}
	df := k - 1
	c := sumW - sumW2/sumW
	tau2 := DLTau2(q, df, c)

	var sumWRE, sumWREG float64
	for i := range g {
		wre := 1 / (se[i]*se[i] + tau2)
		sumWRE += wre
		sumWREG += wre * g[i]
	}
	pooled := sumWREG / sumWRE
	sePooled := math.Sqrt(1 / sumWRE)
	piHalf := effectsize.Z95 * math.Sqrt(sePooled*sePooled+tau2)
	i2 := ISquared(q, df)
	pq := ChiSquareSurvival(q, df)

	return &Estimate{
		K:           k,
		FixedG:      fixed,
		SEFixed:     math.Sqrt(1 / sumW),
		PooledG:     pooled,
		SEPooled:    sePooled,
		CILower:     pooled - effectsize.Z95*sePooled,
		CIUpper:     pooled + effectsize.Z95*sePooled,
		Q:           q,
		DF:          df,
		PQ:          pq,
		I2:          i2,
		Tau2:        tau2,
		Tau:         math.Sqrt(tau2),
		PILower:     pooled - piHalf,
		PIUpper:     pooled + piHalf,
		Band:        InterpretI2(i2),
		Significant: df > 0 && pq < HeterogeneityAlpha,
	}, nil
}

func checkInputs(g, se []float64) error {
	if len(g) == 0 {
		return ErrNoStudies
	}
	if len(g) != len(se) {
		return ErrLengthMismatch
	}
	for _, s := range se {
		if !(s > 0) || math.IsInf(s, 0) {
			return ErrNonPositiveSE
		}
	}
	return nil
}
