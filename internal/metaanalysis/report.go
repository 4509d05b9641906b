package metaanalysis

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/model"
)

// OverviewColumns are counted once per study in the report overview.
var OverviewColumns = []string{"education_level", "technology", "oversight_level", "design_type"}

// Report is the full analysis of a final dataset.
type Report struct {
	GeneratedAt    time.Time                   `json:"generated_at"`
	NStudies       int                         `json:"n_studies"`
	NEffectSizes   int                         `json:"n_effect_sizes"`
	Overall        *Estimate                   `json:"overall"`
	Interpretation string                      `json:"interpretation"`
	Egger          *EggerResult                `json:"egger"`
	TrimFill       *TrimFillResult             `json:"trim_and_fill"`
	Subgroups      map[string][]SubgroupResult `json:"subgroups"`
	Distribution   *Distribution               `json:"distribution"`
	Overview       map[string]map[string]int   `json:"overview"`
}

// Analyze pools every poolable row and runs the bias, subgroup and
// distribution analyses. It fails only when no row is poolable.
func Analyze(rows []model.FinalDatasetRow) (*Report, error) {
	g, se := Poolable(rows)
	if len(g) == 0 {
		return nil, eris.Wrap(ErrNoStudies, "metaanalysis: analyze")
	}
	log := zap.L().With(zap.Int("k", len(g)))

	overall, err := Pool(g, se)
	if err != nil {
		return nil, eris.Wrap(err, "metaanalysis: overall pooling")
	}
	egger, err := Egger(g, se)
	if err != nil {
		return nil, eris.Wrap(err, "metaanalysis: egger")
	}
	tf, err := TrimAndFill(g, se, SideLeft, DefaultTrimFillIterations)
	if err != nil {
		return nil, eris.Wrap(err, "metaanalysis: trim and fill")
	}
	if !tf.Converged {
		log.Warn("trim-and-fill did not converge",
			zap.Int("iterations", tf.Iterations),
			zap.Bool("truncated", tf.Truncated),
		)
	}

	rep := &Report{
		GeneratedAt:    time.Now().UTC(),
		NStudies:       countStudies(rows),
		NEffectSizes:   len(rows),
		Overall:        overall,
		Interpretation: overall.Band + " heterogeneity",
		Egger:          egger,
		TrimFill:       tf,
		Subgroups:      make(map[string][]SubgroupResult),
		Distribution:   Describe(g),
		Overview:       Overview(rows),
	}
	for _, m := range Moderators {
		if res := Subgroups(rows, m); len(res) > 0 {
			rep.Subgroups[m] = res
		}
	}

	log.Info("analysis complete",
		zap.Float64("pooled_g", overall.PooledG),
		zap.Float64("i2", overall.I2),
		zap.Int("k0_imputed", tf.K0),
	)
	return rep, nil
}

// Overview counts studies per level of each OverviewColumns column, using the
// first row seen for each study.
func Overview(rows []model.FinalDatasetRow) map[string]map[string]int {
	first := make(map[string]model.FinalDatasetRow)
	var order []string
	for _, r := range rows {
		if _, ok := first[r.StudyID]; !ok {
			first[r.StudyID] = r
			order = append(order, r.StudyID)
		}
	}
	sort.Strings(order)

	out := make(map[string]map[string]int, len(OverviewColumns))
	for _, col := range OverviewColumns {
		counts := make(map[string]int)
		for _, id := range order {
			r := first[id]
			if v, ok := r.Categorical(col); ok && v != nil {
				counts[*v]++
			}
		}
		out[col] = counts
	}
	return out
}

func countStudies(rows []model.FinalDatasetRow) int {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.StudyID] = struct{}{}
	}
	return len(seen)
}
