// Package reliability measures agreement between AI consensus coding and
// human coders.
package reliability

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CohensKappa returns Cohen's kappa for two raters over the same items.
// When chance agreement is 1 (both raters used a single identical category)
// kappa is defined as 1.
func CohensKappa(rater1, rater2 []string) (float64, error) {
	if len(rater1) != len(rater2) {
		return 0, eris.Errorf("reliability: rater lists differ in length (%d vs %d)", len(rater1), len(rater2))
	}
	n := len(rater1)
	if n == 0 {
		return 0, eris.New("reliability: no ratings")
	}

	counts1 := make(map[string]int)
	counts2 := make(map[string]int)
	agree := 0
	for i := range rater1 {
		counts1[rater1[i]]++
		counts2[rater2[i]]++
		if rater1[i] == rater2[i] {
			agree++
		}
	}

	observed := float64(agree) / float64(n)
	var expected float64
	for cat, c1 := range counts1 {
		expected += float64(c1) / float64(n) * float64(counts2[cat]) / float64(n)
	}
	if expected >= 1 {
		return 1, nil
	}
	return (observed - expected) / (1 - expected), nil
}

// ICC21 returns the Shrout and Fleiss ICC(2,1) for a ratings matrix with one
// row per rater and one column per subject.
func ICC21(ratings [][]float64) (float64, error) {
	k := len(ratings)
	if k < 2 {
		return 0, eris.New("reliability: ICC needs at least two raters")
	}
	n := len(ratings[0])
	if n < 2 {
		return 0, eris.New("reliability: ICC needs at least two subjects")
	}
	data := make([]float64, 0, k*n)
	for _, row := range ratings {
		if len(row) != n {
			return 0, eris.New("reliability: ragged ratings matrix")
		}
		data = append(data, row...)
	}
	m := mat.NewDense(k, n, data)

	grand := mat.Sum(m) / float64(k*n)

	var ssTotal float64
	for i := 0; i < k; i++ {
		for j := 0; j < n; j++ {
			d := m.At(i, j) - grand
			ssTotal += d * d
		}
	}

	var ssSubjects float64
	for j := 0; j < n; j++ {
		d := floats.Sum(mat.Col(nil, j, m))/float64(k) - grand
		ssSubjects += d * d
	}
	ssSubjects *= float64(k)

	var ssRaters float64
	for i := 0; i < k; i++ {
		d := floats.Sum(mat.Row(nil, i, m))/float64(n) - grand
		ssRaters += d * d
	}
	ssRaters *= float64(n)

	ssError := ssTotal - ssSubjects - ssRaters

	msSubjects := ssSubjects / float64(n-1)
	msRaters := ssRaters / float64(k-1)
	msError := ssError / float64((n-1)*(k-1))

	denom := msSubjects + float64(k-1)*msError + float64(k)/float64(n)*(msRaters-msError)
	icc := (msSubjects - msError) / denom
	if denom == 0 || math.IsNaN(icc) || math.IsInf(icc, 0) {
		return 0, eris.New("reliability: ICC undefined for constant ratings")
	}
	return icc, nil
}

// MAE returns the mean absolute difference between paired values.
func MAE(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, eris.Errorf("reliability: value lists differ in length (%d vs %d)", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, eris.New("reliability: no values")
	}
	return floats.Distance(a, b, 1) / float64(len(a)), nil
}
