package metaanalysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distribution describes the spread of observed effect sizes.
type Distribution struct {
	N           int     `json:"n"`
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	SD          float64 `json:"sd"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Q25         float64 `json:"q25"`
	Q75         float64 `json:"q75"`
	NPositive   int     `json:"n_positive"`
	NNegative   int     `json:"n_negative"`
	NZero       int     `json:"n_zero"`
	PctPositive float64 `json:"pct_positive"`
}

// Describe summarizes g values. SD is the population standard deviation and
// quantiles interpolate linearly between order statistics. It returns nil for
// an empty input.
func Describe(g []float64) *Distribution {
	if len(g) == 0 {
		return nil
	}
	sorted := append([]float64(nil), g...)
	sort.Float64s(sorted)

	mean, variance := stat.PopMeanVariance(sorted, nil)
	d := &Distribution{
		N:      len(sorted),
		Mean:   mean,
		Median: Percentile(sorted, 50),
		SD:     math.Sqrt(variance),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Q25:    Percentile(sorted, 25),
		Q75:    Percentile(sorted, 75),
	}
	for _, v := range sorted {
		switch {
		case v > 0:
			d.NPositive++
		case v < 0:
			d.NNegative++
		default:
			d.NZero++
		}
	}
	d.PctPositive = 100 * float64(d.NPositive) / float64(d.N)
	return d
}

// Percentile returns the p-th percentile (0..100) of ascending-sorted x using
// linear interpolation between the closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
