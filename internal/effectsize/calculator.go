package effectsize

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Z95 is the two-sided 95% normal critical value used for every CI.
const Z95 = 1.96

// Limits are the plausibility thresholds applied after conversion.
type Limits struct {
	MaxG float64 `yaml:"max_g" mapstructure:"max_g"`
	MinN int     `yaml:"min_n" mapstructure:"min_n"`
}

// DefaultLimits returns |g| ≤ 5.0 and at least 10 per group.
func DefaultLimits() Limits {
	return Limits{MaxG: 5.0, MinN: 10}
}

// Result is the outcome of converting one raw record. It is always produced,
// even for unusable input, in which case Valid is false and Issues explains why.
type Result struct {
	G        *float64  `json:"g"`
	SE       *float64  `json:"se"`
	Method   Method    `json:"method,omitempty"`
	CI95     []float64 `json:"ci_95"`
	N1       int       `json:"n1,omitempty"`
	N2       int       `json:"n2,omitempty"`
	Valid    bool      `json:"valid"`
	Issues   []string  `json:"issues"`
	Warnings []string  `json:"warnings"`
}

// Calculator converts raw statistic records into Hedges' g.
type Calculator struct {
	limits Limits
}

// NewCalculator creates a Calculator with the given limits.
func NewCalculator(limits Limits) *Calculator {
	return &Calculator{limits: limits}
}

// Calculate parses a flat record and converts it. It never returns an error:
// malformed input yields an invalid Result with the problem in Issues.
func (c *Calculator) Calculate(fields map[string]any) Result {
	shape, err := Parse(fields)
	if err != nil {
		res := Result{Issues: []string{}, Warnings: []string{}}
		if eris.Is(err, ErrNoShape) {
			res.Issues = append(res.Issues, IssueNoShape)
		} else {
			res.Issues = append(res.Issues, "Extraction failed: "+err.Error())
			zap.L().Debug("effect size parse failed", zap.Error(err))
		}
		return res
	}
	return c.Convert(shape)
}

// Convert computes g and SE for a parsed shape and validates the result.
func (c *Calculator) Convert(shape Shape) Result {
	res := Result{Method: shape.Method(), Issues: []string{}, Warnings: []string{}}

	var g, se float64
	switch s := shape.(type) {
	case DirectG:
		g, se = s.G, s.SE
		if se == 0 && s.N1 > 0 && s.N2 > 0 {
			se = math.Sqrt(HedgesGVariance(g, s.N1, s.N2))
		}
	case CohensD:
		g, se = CohensDToHedgesG(s.D, s.N1, s.N2)
	case Means:
		g, se = MeansToHedgesG(s.M1, s.M2, s.SD1, s.SD2, s.N1, s.N2)
	case PrePost:
		g, se = PrePostToHedgesG(s.MPre, s.MPost, s.SDPre, s.SDPost, s.N, s.R)
	case TStat:
		g, se = TToHedgesG(s.T, s.N1, s.N2)
	case FStat:
		g, se = FToHedgesG(s.F, s.N1, s.N2)
	case Correlation:
		g, se = RToHedgesG(s.R, s.N)
		if s.N%2 != 0 {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("Odd total n=%d split into equal groups of %d", s.N, s.N/2))
		}
	}

	if !finite(g) || !finite(se) {
		res.Issues = append(res.Issues,
			fmt.Sprintf("Numeric error: conversion produced g=%v, se=%v", g, se))
		return res
	}

	res.G = &g
	res.SE = &se
	res.CI95 = ConfidenceInterval(g, se)
	res.N1, res.N2 = shape.groups()
	c.validate(&res)
	return res
}

// validate applies the plausibility checks. Issues are fatal, warnings are not.
func (c *Calculator) validate(res *Result) {
	g, se := *res.G, *res.SE
	n1, n2 := res.N1, res.N2

	if math.Abs(g) > c.limits.MaxG {
		res.Issues = append(res.Issues,
			fmt.Sprintf("Effect size |g| = %.2f exceeds maximum %.1f", math.Abs(g), c.limits.MaxG))
	}
	if n1 < c.limits.MinN {
		res.Issues = append(res.Issues,
			fmt.Sprintf("Group 1 sample size %d below minimum %d", n1, c.limits.MinN))
	}
	if n2 < c.limits.MinN {
		res.Issues = append(res.Issues,
			fmt.Sprintf("Group 2 sample size %d below minimum %d", n2, c.limits.MinN))
	}
	if se <= 0 {
		res.Issues = append(res.Issues, fmt.Sprintf("Standard error %.4f must be positive", se))
	}

	if n1+n2 > 0 {
		if minSE := math.Sqrt(2 / float64(n1+n2)); se < 0.5*minSE {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Standard error %.4f unusually small", se))
		}
	}
	if m := min(n1, n2); m > 0 {
		if maxSE := math.Sqrt(4 / float64(m)); se > maxSE {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Standard error %.4f unusually large", se))
		}
	}

	res.Valid = len(res.Issues) == 0
}

// ConfidenceInterval returns [g - 1.96·se, g + 1.96·se].
func ConfidenceInterval(g, se float64) []float64 {
	return []float64{g - Z95*se, g + Z95*se}
}

// PooledSD is the between-subjects pooled standard deviation.
func PooledSD(sd1, sd2 float64, n1, n2 int) float64 {
	df1, df2 := float64(n1-1), float64(n2-1)
	return math.Sqrt((df1*sd1*sd1 + df2*sd2*sd2) / (df1 + df2))
}

// CorrectionFactor is Hedges' small-sample correction J for df degrees of freedom.
func CorrectionFactor(df int) float64 {
	return 1 - 3/(4*float64(df)-1)
}

// HedgesGVariance is var(g) = (n1+n2)/(n1·n2) + g²/(2(n1+n2)).
func HedgesGVariance(g float64, n1, n2 int) float64 {
	nt := float64(n1 + n2)
	return nt/(float64(n1)*float64(n2)) + g*g/(2*nt)
}

// CohensDToHedgesG applies the small-sample correction to d.
func CohensDToHedgesG(d float64, n1, n2 int) (g, se float64) {
	g = d * CorrectionFactor(n1+n2-2)
	return g, math.Sqrt(HedgesGVariance(g, n1, n2))
}

// MeansToHedgesG converts group means and SDs.
func MeansToHedgesG(m1, m2, sd1, sd2 float64, n1, n2 int) (g, se float64) {
	d := (m1 - m2) / PooledSD(sd1, sd2, n1, n2)
	return CohensDToHedgesG(d, n1, n2)
}

// PrePostToHedgesG converts a within-subjects design using the average SD
// and pre/post correlation r.
func PrePostToHedgesG(mPre, mPost, sdPre, sdPost float64, n int, r float64) (g, se float64) {
	sdAvg := (sdPre + sdPost) / 2
	d := (mPost - mPre) / sdAvg
	g = d * CorrectionFactor(n-1)
	nf := float64(n)
	se = math.Sqrt(2*(1-r)/nf + g*g/(2*nf))
	return g, se
}

// TToHedgesG converts an independent-samples t.
func TToHedgesG(t float64, n1, n2 int) (g, se float64) {
	d := t * math.Sqrt(float64(n1+n2)/(float64(n1)*float64(n2)))
	return CohensDToHedgesG(d, n1, n2)
}

// FToHedgesG converts a two-group F via t = sqrt(F). The sign of the effect
// is not recoverable from F.
func FToHedgesG(f float64, n1, n2 int) (g, se float64) {
	return TToHedgesG(math.Sqrt(f), n1, n2)
}

// RToHedgesG converts a correlation, splitting n into two equal groups by
// integer division.
func RToHedgesG(r float64, n int) (g, se float64) {
	d := 2 * r / math.Sqrt(1-r*r)
	return CohensDToHedgesG(d, n/2, n/2)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
