// Package cleaning prepares the final dataset for analysis: it standardizes
// designs, drops implausible rows, nulls unrecognized agent codes, flags
// outliers and adds derived columns.
package cleaning

import (
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/metaextract/internal/effectsize"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
)

// Options are the cleaning thresholds.
type Options struct {
	MaxEffectSize float64
	MinSampleSize int
	OutlierZ      float64
	Vocabulary    qa.Vocabulary
}

// DefaultOptions returns |g| <= 5, n >= 10 per group and |z| > 3.5 outliers.
func DefaultOptions() Options {
	return Options{
		MaxEffectSize: 5.0,
		MinSampleSize: 10,
		OutlierZ:      3.5,
		Vocabulary:    qa.DefaultVocabulary(),
	}
}

// minOutlierValues is the fewest g values for which outliers are flagged.
const minOutlierValues = 5

// designSynonyms maps free-text designs to canonical codes.
var designSynonyms = map[string]string{
	"rct":                          "randomized_controlled_trial",
	"randomized":                   "randomized_controlled_trial",
	"random assignment":            "randomized_controlled_trial",
	"quasi-experimental":           "quasi_experimental",
	"quasi experimental":           "quasi_experimental",
	"non-equivalent control group": "quasi_experimental",
	"pretest_posttest":             "pre_post",
	"pre-post":                     "pre_post",
	"pretest-posttest":             "pre_post",
	"one group pre post":           "pre_post",
}

// Direction of an effect.
const (
	DirectionPositive = "positive"
	DirectionNegative = "negative"
	DirectionZero     = "zero"
)

// Row is a cleaned dataset row with derived columns.
type Row struct {
	model.FinalDatasetRow
	OutlierFlag    bool     `json:"outlier_flag"`
	VarG           *float64 `json:"var_g"`
	CILower95      *float64 `json:"ci_lower_95"`
	CIUpper95      *float64 `json:"ci_upper_95"`
	Precision      *float64 `json:"precision"`
	WeightPct      *float64 `json:"weight_pct"`
	NTotalComputed *int     `json:"n_total_computed"`
	Direction      *string  `json:"direction"`
}

// Columns is the export column order of cleaned rows.
func Columns() []string {
	return append(append([]string(nil), model.DatasetColumns...),
		"outlier_flag", "var_g", "ci_lower_95", "ci_upper_95", "precision",
		"weight_pct", "n_total_computed", "direction")
}

// Record renders the row in Columns order.
func (r *Row) Record() []string {
	flag := "False"
	if r.OutlierFlag {
		flag = "True"
	}
	return append(r.FinalDatasetRow.Record(),
		flag, model.FormatFloat(r.VarG), model.FormatFloat(r.CILower95), model.FormatFloat(r.CIUpper95),
		model.FormatFloat(r.Precision), model.FormatFloat(r.WeightPct), model.FormatInt(r.NTotalComputed),
		model.FormatString(r.Direction))
}

// Report summarizes a cleaning pass.
type Report struct {
	Timestamp                 time.Time `json:"timestamp"`
	OriginalN                 int       `json:"original_n"`
	RemovedInvalidEffectSize  int       `json:"removed_invalid_effect_size"`
	RemovedSmallSample        int       `json:"removed_small_sample"`
	OutliersFlaggedNotRemoved int       `json:"outliers_flagged_not_removed"`
	FinalN                    int       `json:"final_n"`
	TotalRemoved              int       `json:"total_removed"`
	RetentionRate             float64   `json:"retention_rate"`
}

// Clean runs the cleaning steps in order and returns the kept rows with a
// report. The input slice is not modified.
func Clean(rows []model.FinalDatasetRow, opts Options) ([]Row, *Report) {
	report := &Report{Timestamp: time.Now().UTC(), OriginalN: len(rows)}

	kept := make([]Row, 0, len(rows))
	for _, r := range rows {
		r.DesignType = StandardizeDesign(r.DesignType)
		if r.HedgesG != nil && math.Abs(*r.HedgesG) > opts.MaxEffectSize {
			report.RemovedInvalidEffectSize++
			zap.L().Warn("removed implausible effect size",
				zap.String("study_id", r.StudyID), zap.Float64("hedges_g", *r.HedgesG))
			continue
		}
		kept = append(kept, Row{FinalDatasetRow: r})
	}

	sized := kept[:0]
	for _, r := range kept {
		if smallSample(&r.FinalDatasetRow, opts.MinSampleSize) {
			report.RemovedSmallSample++
			continue
		}
		sized = append(sized, r)
	}
	kept = sized
	if report.RemovedSmallSample > 0 {
		zap.L().Warn("removed small-sample rows",
			zap.Int("count", report.RemovedSmallSample), zap.Int("min_n", opts.MinSampleSize))
	}

	ValidateAgentCodes(kept, opts.Vocabulary.AgentCodes)
	report.OutliersFlaggedNotRemoved = FlagOutliers(kept, opts.OutlierZ)
	AddDerived(kept)

	report.FinalN = len(kept)
	report.TotalRemoved = report.OriginalN - report.FinalN
	if report.OriginalN > 0 {
		report.RetentionRate = math.Round(float64(report.FinalN)/float64(report.OriginalN)*1e4) / 1e4
	}
	zap.L().Info("cleaning complete",
		zap.Int("original_n", report.OriginalN),
		zap.Int("final_n", report.FinalN),
		zap.Int("outliers_flagged", report.OutliersFlaggedNotRemoved),
	)
	return kept, report
}

// StandardizeDesign lowercases and trims a design and maps known synonyms to
// their canonical code.
func StandardizeDesign(design string) string {
	d := strings.ToLower(strings.TrimSpace(design))
	if canonical, ok := designSynonyms[d]; ok {
		return canonical
	}
	return d
}

func smallSample(r *model.FinalDatasetRow, minN int) bool {
	return (r.NTreatment != nil && *r.NTreatment < minN) ||
		(r.NControl != nil && *r.NControl < minN) ||
		(r.NTotal != nil && *r.NTotal < 2*minN)
}

// ValidateAgentCodes nulls agent codes outside the vocabulary. Fields with
// no vocabulary entry are left alone.
func ValidateAgentCodes(rows []Row, codes map[string][]string) {
	for field, allowed := range codes {
		set := make(map[string]bool, len(allowed))
		for _, c := range allowed {
			set[c] = true
		}
		invalid := 0
		for i := range rows {
			v, ok := rows[i].Categorical(field)
			if !ok || v == nil || set[*v] {
				continue
			}
			rows[i].SetCategorical(field, nil)
			invalid++
		}
		if invalid > 0 {
			zap.L().Warn("invalid agent codes set to null", zap.String("column", field), zap.Int("count", invalid))
		}
	}
}

// FlagOutliers marks rows whose |z| of g exceeds threshold, using the sample
// SD. Nothing is flagged with fewer than five g values or zero spread. It
// returns the number flagged.
func FlagOutliers(rows []Row, threshold float64) int {
	var g []float64
	for _, r := range rows {
		if r.HedgesG != nil {
			g = append(g, *r.HedgesG)
		}
	}
	if len(g) < minOutlierValues {
		return 0
	}
	mean, sd := stat.MeanStdDev(g, nil)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	n := 0
	for i := range rows {
		if rows[i].HedgesG == nil {
			continue
		}
		if math.Abs(*rows[i].HedgesG-mean)/sd > threshold {
			rows[i].OutlierFlag = true
			n++
		}
	}
	return n
}

// AddDerived fills variance, CI, precision, weight share, computed total n
// and effect direction.
func AddDerived(rows []Row) {
	var totalPrecision float64
	for i := range rows {
		r := &rows[i]
		if r.SEG != nil {
			v := *r.SEG * *r.SEG
			r.VarG = &v
			if v > 0 {
				p := 1 / v
				r.Precision = &p
				totalPrecision += p
			}
			if r.HedgesG != nil {
				ci := effectsize.ConfidenceInterval(*r.HedgesG, *r.SEG)
				r.CILower95, r.CIUpper95 = &ci[0], &ci[1]
			}
		}
		n := 0
		if r.NTreatment != nil {
			n += *r.NTreatment
		}
		if r.NControl != nil {
			n += *r.NControl
		}
		if n != 0 {
			r.NTotalComputed = &n
		}
		if r.HedgesG != nil {
			r.Direction = model.Ptr(direction(*r.HedgesG))
		}
	}
	if totalPrecision == 0 {
		return
	}
	for i := range rows {
		if rows[i].Precision != nil {
			w := math.Round(*rows[i].Precision/totalPrecision*100*100) / 100
			rows[i].WeightPct = &w
		}
	}
}

func direction(g float64) string {
	switch {
	case g > 0:
		return DirectionPositive
	case g < 0:
		return DirectionNegative
	}
	return DirectionZero
}
