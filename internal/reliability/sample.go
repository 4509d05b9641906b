package reliability

import (
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/audit"
)

// DefaultSeed makes ICR sampling reproducible across runs.
const DefaultSeed = 42

// Sampling reasons written to the audit trail.
const (
	ReasonSampled     = "random_sample"
	ReasonNotSelected = "not_selected"
)

// SampleSize returns max(1, round(n*pct)) capped at n. Halves round to even.
func SampleSize(n int, pct float64) int {
	if n == 0 {
		return 0
	}
	k := int(math.RoundToEven(float64(n) * pct))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// SampleStudies draws a reproducible random subset of studyIDs for human
// coding. The result does not depend on input order. Every study gets an
// icr_sampling audit entry. The sample is returned sorted.
func SampleStudies(studyIDs []string, pct float64, seed int64, auditLog *audit.Logger) []string {
	ids := append([]string(nil), studyIDs...)
	sort.Strings(ids)

	k := SampleSize(len(ids), pct)
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(ids))

	picked := make(map[string]bool, k)
	sampled := make([]string, 0, k)
	for _, idx := range perm[:k] {
		picked[ids[idx]] = true
		sampled = append(sampled, ids[idx])
	}
	sort.Strings(sampled)

	for _, id := range ids {
		reason := ReasonNotSelected
		if picked[id] {
			reason = ReasonSampled
		}
		auditLog.LogICRSampling(id, picked[id], reason)
	}

	zap.L().Info("sampled studies for human ICR",
		zap.Int("sampled", len(sampled)),
		zap.Int("total", len(ids)),
		zap.Float64("pct", pct),
	)
	return sampled
}
