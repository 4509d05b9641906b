package effectsize

import (
	"fmt"
	"math"
)

// RowInput is a dataset row as seen by the post-hoc validation checks. Nil
// fields are treated as not reported.
type RowInput struct {
	StudyID    string
	G          *float64
	SE         *float64
	N1         *int
	N2         *int
	MTreatment *float64
	MControl   *float64
	PValue     *float64
}

// Check is the outcome of one validation check.
type Check struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// RowValidation collects every check run against one row.
type RowValidation struct {
	StudyID      string           `json:"study_id"`
	OverallValid bool             `json:"overall_valid"`
	Checks       map[string]Check `json:"checks"`
	CIPlausible  *CIPlausibility  `json:"ci_plausibility,omitempty"`
}

// CIPlausibility reports whether the 95% CI agrees with a reported p-value.
type CIPlausibility struct {
	CILower         float64 `json:"ci_lower"`
	CIUpper         float64 `json:"ci_upper"`
	CICrossesZero   bool    `json:"ci_crosses_zero"`
	ConsistentWithP bool    `json:"consistent_with_p"`
	Note            string  `json:"p_ci_note,omitempty"`
}

// assumedGroupN stands in for a missing group size in the SE check.
const assumedGroupN = 20

// ValidateRow runs the range, SE, sample-size, sign and CI/p checks.
func ValidateRow(in RowInput, limits Limits) RowValidation {
	out := RowValidation{StudyID: in.StudyID, OverallValid: true, Checks: map[string]Check{}}
	record := func(name string, c Check) {
		out.Checks[name] = c
		if !c.Passed {
			out.OverallValid = false
		}
	}

	gOK := in.G != nil && !math.IsNaN(*in.G)
	seOK := in.SE != nil && !math.IsNaN(*in.SE)

	if gOK {
		record("effect_size_range", CheckRange(*in.G, limits.MaxG))
	} else {
		record("effect_size_range", Check{Message: "g is missing"})
	}

	if seOK {
		n1, n2 := assumedGroupN, assumedGroupN
		if in.N1 != nil {
			n1 = *in.N1
		}
		if in.N2 != nil {
			n2 = *in.N2
		}
		record("standard_error", CheckStandardError(*in.SE, n1, n2))
	} else {
		record("standard_error", Check{Message: "SE is missing"})
	}

	record("sample_sizes", CheckSampleSizes(in.N1, in.N2, limits.MinN))

	if gOK {
		record("sign_consistency", CheckSignConsistency(*in.G, in.MTreatment, in.MControl))
	}

	if gOK && seOK {
		ci := CheckCIPlausibility(*in.G, *in.SE, in.PValue)
		out.CIPlausible = &ci
		msg := ci.Note
		if msg == "" {
			msg = "OK"
		}
		record("ci_plausibility", Check{Passed: ci.ConsistentWithP, Message: msg})
	}

	return out
}

// CheckRange fails when |g| exceeds maxG.
func CheckRange(g, maxG float64) Check {
	if math.Abs(g) > maxG {
		return Check{Message: fmt.Sprintf("|g| = %.3f exceeds maximum %v", math.Abs(g), maxG)}
	}
	return Check{Passed: true, Message: "OK"}
}

// CheckStandardError fails for a non-positive SE or one far above what the
// group sizes allow.
func CheckStandardError(se float64, n1, n2 int) Check {
	if se <= 0 {
		return Check{Message: fmt.Sprintf("SE = %v is invalid (must be positive)", se)}
	}
	expectedMax := math.Sqrt(8 / float64(max(n1, n2, 1)))
	if se > expectedMax*2 {
		return Check{Message: fmt.Sprintf(
			"SE = %.4f seems too large for n1=%d, n2=%d (expected max ~%.4f)", se, n1, n2, expectedMax)}
	}
	return Check{Passed: true, Message: "OK"}
}

// CheckSampleSizes fails when a reported group size is below minN.
func CheckSampleSizes(n1, n2 *int, minN int) Check {
	var msg string
	if n1 != nil && *n1 < minN {
		msg = fmt.Sprintf("n_treatment = %d < %d", *n1, minN)
	}
	if n2 != nil && *n2 < minN {
		if msg != "" {
			msg += "; "
		}
		msg += fmt.Sprintf("n_control = %d < %d", *n2, minN)
	}
	if msg != "" {
		return Check{Message: msg}
	}
	return Check{Passed: true, Message: "OK"}
}

// CheckSignConsistency verifies the sign of g against raw treatment and
// control means. Effects within ±0.01 are not judged.
func CheckSignConsistency(g float64, mTreatment, mControl *float64) Check {
	if mTreatment == nil || mControl == nil {
		return Check{Passed: true, Message: "Cannot check (raw means not available)"}
	}
	expectedPositive := *mTreatment > *mControl
	if expectedPositive != (g > 0) && math.Abs(g) > 0.01 {
		op := "<"
		if expectedPositive {
			op = ">"
		}
		return Check{Message: fmt.Sprintf(
			"Sign inconsistency: g = %.3f but m_treatment (%v) %s m_control (%v)",
			g, *mTreatment, op, *mControl)}
	}
	return Check{Passed: true, Message: "OK"}
}

// CheckCIPlausibility compares CI-crosses-zero against p < 0.05.
func CheckCIPlausibility(g, se float64, p *float64) CIPlausibility {
	ci := ConfidenceInterval(g, se)
	out := CIPlausibility{
		CILower:         ci[0],
		CIUpper:         ci[1],
		CICrossesZero:   ci[0] < 0 && ci[1] > 0,
		ConsistentWithP: true,
	}
	if p == nil {
		return out
	}
	switch {
	case out.CICrossesZero && *p < 0.05:
		out.ConsistentWithP = false
		out.Note = fmt.Sprintf("CI [%.3f, %.3f] crosses zero but p = %.3f < 0.05", ci[0], ci[1], *p)
	case !out.CICrossesZero && *p >= 0.05:
		out.ConsistentWithP = false
		out.Note = fmt.Sprintf("CI [%.3f, %.3f] does not cross zero but p = %.3f >= 0.05", ci[0], ci[1], *p)
	}
	return out
}
