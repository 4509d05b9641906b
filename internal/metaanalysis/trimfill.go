package metaanalysis

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// Side is the side of the funnel on which studies are presumed missing.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// DefaultTrimFillIterations bounds the trim-and-fill estimation loop.
const DefaultTrimFillIterations = 20

// TrimFillResult is the outcome of Duval & Tweedie trim-and-fill.
type TrimFillResult struct {
	Side       Side      `json:"side"`
	K          int       `json:"k"`
	K0         int       `json:"k0_imputed"`
	Iterations int       `json:"iterations"`
	Converged  bool      `json:"converged"`
	Truncated  bool      `json:"truncated"`
	Center     float64   `json:"center"`
	ImputedG   []float64 `json:"imputed_g"`
	ImputedSE  []float64 `json:"imputed_se"`
	Original   *Estimate `json:"original"`
	Adjusted   *Estimate `json:"adjusted"`
}

// TrimAndFill estimates the number of suppressed studies with the L0
// estimator, mirrors the most extreme studies on the opposite side around the
// trimmed pooled center, and re-pools the augmented set. Converged is false
// when k0 failed to stabilize within maxIter rounds; Truncated is set when
// k0 reached k and was capped at k-1.
func TrimAndFill(g, se []float64, side Side, maxIter int) (*TrimFillResult, error) {
	if err := checkInputs(g, se); err != nil {
		return nil, err
	}
	if side != SideLeft && side != SideRight {
		return nil, eris.Errorf("metaanalysis: unknown trim-and-fill side %q", side)
	}
	if maxIter <= 0 {
		maxIter = DefaultTrimFillIterations
	}

	original, err := Pool(g, se)
	if err != nil {
		return nil, err
	}

	// Work on y oriented so that studies are always missing on the left and
	// the excess lies on the right.
	k := len(g)
	y := make([]float64, k)
	for i, v := range g {
		y[i] = v
		if side == SideRight {
			y[i] = -v
		}
	}
	byExtremity := make([]int, k)
	for i := range byExtremity {
		byExtremity[i] = i
	}
	sort.SliceStable(byExtremity, func(a, b int) bool { return y[byExtremity[a]] > y[byExtremity[b]] })

	res := &TrimFillResult{Side: side, K: k, Original: original}
	k0 := 0
	center := 0.0
	for iter := 1; iter <= maxIter; iter++ {
		res.Iterations = iter
		center, err = trimmedCenter(y, se, byExtremity[k0:])
		if err != nil {
			return nil, err
		}
		next := L0(y, center)
		if next >= k {
			k0 = max(0, k-1)
			res.Truncated = true
			break
		}
		if next == k0 {
			res.Converged = true
			break
		}
		k0 = next
	}
	if res.Truncated || !res.Converged {
		center, err = trimmedCenter(y, se, byExtremity[k0:])
		if err != nil {
			return nil, err
		}
	}

	res.K0 = k0
	gAll := append([]float64(nil), g...)
	seAll := append([]float64(nil), se...)
	for _, idx := range byExtremity[:k0] {
		mirrored := 2*center - y[idx]
		if side == SideRight {
			mirrored = -mirrored
		}
		res.ImputedG = append(res.ImputedG, mirrored)
		res.ImputedSE = append(res.ImputedSE, se[idx])
		gAll = append(gAll, mirrored)
		seAll = append(seAll, se[idx])
	}
	res.Center = center
	if side == SideRight {
		res.Center = -center
	}

	res.Adjusted, err = Pool(gAll, seAll)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// trimmedCenter pools the studies at the given indices and returns the
// random-effects center on the oriented scale.
func trimmedCenter(y, se []float64, keep []int) (float64, error) {
	yk := make([]float64, len(keep))
	sk := make([]float64, len(keep))
	for i, idx := range keep {
		yk[i] = y[idx]
		sk[i] = se[idx]
	}
	est, err := Pool(yk, sk)
	if err != nil {
		return 0, err
	}
	return est.PooledG, nil
}

// L0 is the Duval & Tweedie rank estimator of the number of missing studies:
// max(0, round((4·T_n - n(n+1)) / (2n - 1))), where T_n is the Wilcoxon sum of
// ranks of |y - center| over studies lying above the center. Halves round to
// even.
func L0(y []float64, center float64) int {
	n := len(y)
	if n == 0 {
		return 0
	}
	dev := make([]float64, n)
	for i, v := range y {
		dev[i] = v - center
	}
	ranks := absRanks(dev)
	var tn float64
	for i, d := range dev {
		if d > 0 {
			tn += ranks[i]
		}
	}
	nf := float64(n)
	est := math.RoundToEven((4*tn - nf*(nf+1)) / (2*nf - 1))
	return max(0, int(est))
}

// absRanks ranks |x| ascending from 1, giving tied values their average rank.
func absRanks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return math.Abs(x[idx[a]]) < math.Abs(x[idx[b]]) })

	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && math.Abs(x[idx[j+1]]) == math.Abs(x[idx[i]]) {
			j++
		}
		avg := float64(i+j)/2 + 1
		for m := i; m <= j; m++ {
			ranks[idx[m]] = avg
		}
		i = j + 1
	}
	return ranks
}
