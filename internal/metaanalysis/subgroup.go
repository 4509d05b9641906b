package metaanalysis

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/model"
)

// Subgroup thresholds.
const (
	MinModeratorRows = 4
	MinGroupRows     = 2
)

// Moderators are the dataset columns analyzed as subgroup moderators.
var Moderators = []string{
	"oversight_level", "architecture", "agency_level", "agent_role",
	"modality", "technology", "adaptivity", "education_level",
	"learning_domain", "design_type",
}

// SubgroupResult is the random-effects estimate within one moderator level.
type SubgroupResult struct {
	Moderator string    `json:"moderator"`
	Level     string    `json:"level"`
	Estimate  *Estimate `json:"estimate"`
}

// Poolable returns the g and se arrays of rows that carry both values with a
// positive se.
func Poolable(rows []model.FinalDatasetRow) (g, se []float64) {
	for _, r := range rows {
		if r.HedgesG == nil || r.SEG == nil || !(*r.SEG > 0) {
			continue
		}
		g = append(g, *r.HedgesG)
		se = append(se, *r.SEG)
	}
	return g, se
}

// Subgroups pools rows separately for each level of moderator. Moderators
// with fewer than MinModeratorRows non-null rows yield nothing; levels with
// fewer than MinGroupRows poolable rows are skipped. Levels are returned in
// sorted order.
func Subgroups(rows []model.FinalDatasetRow, moderator string) []SubgroupResult {
	groups := make(map[string][]model.FinalDatasetRow)
	nonNull := 0
	for _, r := range rows {
		v, ok := r.Categorical(moderator)
		if !ok || v == nil {
			continue
		}
		nonNull++
		groups[*v] = append(groups[*v], r)
	}
	if nonNull < MinModeratorRows {
		return nil
	}

	levels := make([]string, 0, len(groups))
	for level := range groups {
		levels = append(levels, level)
	}
	sort.Strings(levels)

	var out []SubgroupResult
	for _, level := range levels {
		g, se := Poolable(groups[level])
		if len(g) < MinGroupRows {
			continue
		}
		est, err := Pool(g, se)
		if err != nil {
			zap.L().Warn("subgroup pooling failed",
				zap.String("moderator", moderator),
				zap.String("level", level),
				zap.Error(err),
			)
			continue
		}
		out = append(out, SubgroupResult{Moderator: moderator, Level: level, Estimate: est})
	}
	return out
}
