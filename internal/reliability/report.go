package reliability

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/model"
)

// MinPairs is the fewest paired observations for which kappa per field and
// ICC are reported.
const MinPairs = 5

// Targets are the reliability thresholds a coding scheme must reach.
type Targets struct {
	Kappa float64
	ICC   float64
}

// DefaultTargets returns kappa >= 0.80 and ICC >= 0.85.
func DefaultTargets() Targets {
	return Targets{Kappa: 0.80, ICC: 0.85}
}

// FieldKappa is the agreement on one categorical field.
type FieldKappa struct {
	Kappa     float64 `json:"kappa"`
	NCompared int     `json:"n_compared"`
	Passed    bool    `json:"passed"`
}

// CategoricalMetrics summarizes agreement on agent codes.
type CategoricalMetrics struct {
	PerFieldKappa      map[string]FieldKappa `json:"per_field_kappa"`
	OverallKappa       *float64              `json:"overall_kappa"`
	KappaTarget        float64               `json:"kappa_target"`
	OverallKappaPassed bool                  `json:"overall_kappa_passed"`
}

// NumericalMetrics summarizes agreement on effect sizes.
type NumericalMetrics struct {
	ICC21                *float64 `json:"icc_2_1"`
	MAEHedgesG           *float64 `json:"mae_hedges_g"`
	NEffectSizesCompared int      `json:"n_effect_sizes_compared"`
	ICCTarget            float64  `json:"icc_target"`
	ICCPassed            bool     `json:"icc_passed"`
}

// Report compares human coding against AI consensus.
type Report struct {
	NStudiesCompared   int                `json:"n_studies_compared"`
	CategoricalMetrics CategoricalMetrics `json:"categorical_metrics"`
	NumericalMetrics   NumericalMetrics   `json:"numerical_metrics"`
	AllTargetsMet      bool               `json:"all_targets_met"`
}

// Compute pairs each human form with its AI consensus record. Agent codes
// are compared where both sides are non-blank. Effect sizes compare the first
// g of each side. Forms without a consensus record are counted but not
// compared.
func Compute(forms []CodingForm, records map[string]*model.ConsensusRecord, targets Targets) *Report {
	ai := make(map[string][]string, len(model.AgentFields))
	human := make(map[string][]string, len(model.AgentFields))
	var aiG, humanG []float64

	for _, form := range forms {
		rec, ok := records[form.StudyID]
		if !ok {
			continue
		}
		for _, field := range model.AgentFields {
			a := rec.ConsensusAgentCharacteristics.Get(field)
			h := form.AgentCharacteristics[field]
			if a == nil || h == nil || strings.TrimSpace(*h) == "" {
				continue
			}
			ai[field] = append(ai[field], *a)
			human[field] = append(human[field], strings.TrimSpace(*h))
		}
		if len(rec.ConsensusEffectSizes) > 0 && len(form.EffectSizes.Effects) > 0 {
			if hg := form.EffectSizes.Effects[0].HedgesG; hg != nil {
				aiG = append(aiG, rec.ConsensusEffectSizes[0].HedgesGConsensus)
				humanG = append(humanG, *hg)
			}
		}
	}

	r := &Report{
		NStudiesCompared: len(forms),
		CategoricalMetrics: CategoricalMetrics{
			PerFieldKappa: make(map[string]FieldKappa),
			KappaTarget:   targets.Kappa,
		},
		NumericalMetrics: NumericalMetrics{
			NEffectSizesCompared: len(aiG),
			ICCTarget:            targets.ICC,
		},
	}

	var allAI, allHuman []string
	for _, field := range model.AgentFields {
		allAI = append(allAI, ai[field]...)
		allHuman = append(allHuman, human[field]...)
		if len(ai[field]) < MinPairs {
			continue
		}
		k, err := CohensKappa(ai[field], human[field])
		if err != nil {
			continue
		}
		r.CategoricalMetrics.PerFieldKappa[field] = FieldKappa{
			Kappa:     round(k, 3),
			NCompared: len(ai[field]),
			Passed:    k >= targets.Kappa,
		}
	}
	if k, err := CohensKappa(allAI, allHuman); err == nil {
		r.CategoricalMetrics.OverallKappa = model.Ptr(round(k, 3))
		r.CategoricalMetrics.OverallKappaPassed = k >= targets.Kappa
	}

	if len(aiG) >= MinPairs {
		icc, err := ICC21([][]float64{aiG, humanG})
		if err != nil {
			zap.L().Warn("ICC calculation failed", zap.Error(err))
		} else {
			r.NumericalMetrics.ICC21 = model.Ptr(round(icc, 4))
			r.NumericalMetrics.ICCPassed = icc >= targets.ICC
		}
	}
	if mae, err := MAE(aiG, humanG); err == nil {
		r.NumericalMetrics.MAEHedgesG = model.Ptr(round(mae, 4))
	}

	r.AllTargetsMet = r.CategoricalMetrics.OverallKappaPassed && r.NumericalMetrics.ICCPassed
	return r
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
