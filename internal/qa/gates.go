package qa

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/metaextract/internal/metaanalysis"
	"github.com/sells-group/metaextract/internal/model"
)

// Gate names, in execution order.
const (
	GateRange        = "Gate 1: Effect Size Range"
	GateSampleSize   = "Gate 2: Sample Size Adequacy"
	GateDesign       = "Gate 3: Design Validity"
	GateOutcomeType  = "Gate 4: Outcome Type Check"
	GateCompleteness = "Gate 5: Completeness Check"
	GateDuplicates   = "Gate 6: Duplicate Check"
)

// RequiredFields must be non-null on every row.
var RequiredFields = []string{
	"hedges_g", "se_g", "design_type", "outcome_type",
	"oversight_level", "architecture", "agency_level",
}

// maxListedStudies caps the study IDs listed per incomplete field.
const maxListedStudies = 10

// Gate is one quality check over the final dataset. Gates never mutate rows.
type Gate struct {
	Name  string
	Check func(rows []model.FinalDatasetRow) (bool, any)
}

// FlaggedEntry is a row outside the allowed effect-size range.
type FlaggedEntry struct {
	StudyID      string  `json:"study_id"`
	OutcomeLabel string  `json:"outcome_label"`
	HedgesG      float64 `json:"hedges_g"`
}

// RangeDetails is the diagnostic of the range gate.
type RangeDetails struct {
	MaxAllowed     float64        `json:"max_allowed"`
	NOutOfRange    int            `json:"n_out_of_range"`
	NValid         int            `json:"n_valid"`
	GMin           *float64       `json:"g_min"`
	GMax           *float64       `json:"g_max"`
	GMedian        *float64       `json:"g_median"`
	FlaggedEntries []FlaggedEntry `json:"flagged_entries"`
}

// StudyIssue is a per-study problem found by the sample-size gate.
type StudyIssue struct {
	StudyID string `json:"study_id"`
	Issue   string `json:"issue"`
}

// SampleSizeDetails is the diagnostic of the sample-size gate.
type SampleSizeDetails struct {
	MinNPerGroup    int          `json:"min_n_per_group"`
	NStudiesChecked int          `json:"n_studies_checked"`
	NIssues         int          `json:"n_issues"`
	Issues          []StudyIssue `json:"issues"`
}

// StudyDesign pairs a study with an unrecognized design.
type StudyDesign struct {
	StudyID    string `json:"study_id"`
	DesignType string `json:"design_type"`
}

// DesignDetails is the diagnostic of the design gate.
type DesignDetails struct {
	ValidDesigns         []string      `json:"valid_designs"`
	NInvalidDesign       int           `json:"n_invalid_design"`
	NMissingDesign       int           `json:"n_missing_design"`
	InvalidStudies       []StudyDesign `json:"invalid_studies"`
	MissingDesignStudies []string      `json:"missing_design_studies"`
}

// StudyOutcome pairs a study with an unrecognized outcome type.
type StudyOutcome struct {
	StudyID     string `json:"study_id"`
	OutcomeType string `json:"outcome_type"`
}

// OutcomeDetails is the diagnostic of the outcome-type gate.
type OutcomeDetails struct {
	ValidOutcomeTypes     []string       `json:"valid_outcome_types"`
	NInvalid              int            `json:"n_invalid"`
	NMissing              int            `json:"n_missing"`
	InvalidOutcomes       []StudyOutcome `json:"invalid_outcomes"`
	MissingOutcomeStudies []string       `json:"missing_outcome_studies"`
}

// MissingField counts the rows lacking one required field.
type MissingField struct {
	NMissing int      `json:"n_missing"`
	StudyIDs []string `json:"study_ids"`
}

// CompletenessDetails is the diagnostic of the completeness gate.
type CompletenessDetails struct {
	RequiredFields    []string                `json:"required_fields"`
	NIncompleteFields int                     `json:"n_incomplete_fields"`
	IncompleteFields  map[string]MissingField `json:"incomplete_fields"`
	TotalRows         int                     `json:"total_rows"`
}

// DuplicateGroup is a (study_id, outcome_label) pair seen more than once.
type DuplicateGroup struct {
	StudyID      string `json:"study_id"`
	OutcomeLabel string `json:"outcome_label"`
	Count        int    `json:"count"`
}

// DuplicateDetails is the diagnostic of the duplicate gate.
type DuplicateDetails struct {
	NDuplicateRows   int              `json:"n_duplicate_rows"`
	NDuplicateGroups int              `json:"n_duplicate_groups"`
	Duplicates       []DuplicateGroup `json:"duplicates"`
}

// RangeGate fails when any non-null |g| exceeds maxG.
func RangeGate(maxG float64) Gate {
	return Gate{Name: GateRange, Check: func(rows []model.FinalDatasetRow) (bool, any) {
		d := RangeDetails{MaxAllowed: maxG, FlaggedEntries: []FlaggedEntry{}}
		var values []float64
		for _, r := range rows {
			if r.HedgesG == nil {
				continue
			}
			g := *r.HedgesG
			values = append(values, g)
			if math.Abs(g) > maxG {
				d.FlaggedEntries = append(d.FlaggedEntries, FlaggedEntry{
					StudyID: r.StudyID, OutcomeLabel: r.OutcomeLabel, HedgesG: g,
				})
			}
		}
		d.NValid = len(values)
		d.NOutOfRange = len(d.FlaggedEntries)
		if len(values) > 0 {
			sort.Float64s(values)
			d.GMin = model.Ptr(values[0])
			d.GMax = model.Ptr(values[len(values)-1])
			d.GMedian = model.Ptr(metaanalysis.Percentile(values, 50))
		}
		return d.NOutOfRange == 0, d
	}}
}

// SampleSizeGate checks each study once, using its first row. Pre-post
// designs need n_total >= 2*minN; others need minN per group. Null counts
// are not checked.
func SampleSizeGate(minN int) Gate {
	return Gate{Name: GateSampleSize, Check: func(rows []model.FinalDatasetRow) (bool, any) {
		d := SampleSizeDetails{MinNPerGroup: minN, Issues: []StudyIssue{}}
		studies := firstRowPerStudy(rows)
		d.NStudiesChecked = len(studies)
		for _, r := range studies {
			if IsPrePost(r.DesignType) {
				if r.NTotal != nil && *r.NTotal < 2*minN {
					d.Issues = append(d.Issues, StudyIssue{r.StudyID, fmt.Sprintf("n_total=%d < %d", *r.NTotal, 2*minN)})
				}
				continue
			}
			if r.NTreatment != nil && *r.NTreatment < minN {
				d.Issues = append(d.Issues, StudyIssue{r.StudyID, fmt.Sprintf("n_treatment=%d < %d", *r.NTreatment, minN)})
			}
			if r.NControl != nil && *r.NControl < minN {
				d.Issues = append(d.Issues, StudyIssue{r.StudyID, fmt.Sprintf("n_control=%d < %d", *r.NControl, minN)})
			}
		}
		d.NIssues = len(d.Issues)
		return d.NIssues == 0, d
	}}
}

// IsPrePost reports whether a design is a pre-post variant.
func IsPrePost(design string) bool {
	d := strings.ToLower(design)
	return strings.Contains(d, "pre") || strings.Contains(d, "post")
}

// DesignGate fails on any study whose design is blank or unrecognized.
func DesignGate(designs Set) Gate {
	return Gate{Name: GateDesign, Check: func(rows []model.FinalDatasetRow) (bool, any) {
		d := DesignDetails{
			ValidDesigns:         designs.Values(),
			InvalidStudies:       []StudyDesign{},
			MissingDesignStudies: []string{},
		}
		for _, r := range firstRowPerStudy(rows) {
			switch {
			case strings.TrimSpace(r.DesignType) == "":
				d.MissingDesignStudies = append(d.MissingDesignStudies, r.StudyID)
			case !designs.Contains(r.DesignType):
				d.InvalidStudies = append(d.InvalidStudies, StudyDesign{r.StudyID, r.DesignType})
			}
		}
		d.NInvalidDesign = len(d.InvalidStudies)
		d.NMissingDesign = len(d.MissingDesignStudies)
		return d.NInvalidDesign == 0 && d.NMissingDesign == 0, d
	}}
}

// OutcomeTypeGate fails on any study whose outcome type is blank or
// unrecognized.
func OutcomeTypeGate(outcomes Set) Gate {
	return Gate{Name: GateOutcomeType, Check: func(rows []model.FinalDatasetRow) (bool, any) {
		d := OutcomeDetails{
			ValidOutcomeTypes:     outcomes.Values(),
			InvalidOutcomes:       []StudyOutcome{},
			MissingOutcomeStudies: []string{},
		}
		for _, r := range firstRowPerStudy(rows) {
			switch {
			case strings.TrimSpace(r.OutcomeType) == "":
				d.MissingOutcomeStudies = append(d.MissingOutcomeStudies, r.StudyID)
			case !outcomes.Contains(r.OutcomeType):
				d.InvalidOutcomes = append(d.InvalidOutcomes, StudyOutcome{r.StudyID, r.OutcomeType})
			}
		}
		d.NInvalid = len(d.InvalidOutcomes)
		d.NMissing = len(d.MissingOutcomeStudies)
		return d.NInvalid == 0 && d.NMissing == 0, d
	}}
}

// CompletenessGate fails when any row lacks a required field.
func CompletenessGate() Gate {
	return Gate{Name: GateCompleteness, Check: func(rows []model.FinalDatasetRow) (bool, any) {
		d := CompletenessDetails{
			RequiredFields:   append([]string(nil), RequiredFields...),
			IncompleteFields: map[string]MissingField{},
			TotalRows:        len(rows),
		}
		for _, field := range RequiredFields {
			mf := MissingField{StudyIDs: []string{}}
			seen := make(map[string]bool)
			for i := range rows {
				if present(&rows[i], field) {
					continue
				}
				mf.NMissing++
				id := rows[i].StudyID
				if !seen[id] && len(mf.StudyIDs) < maxListedStudies {
					seen[id] = true
					mf.StudyIDs = append(mf.StudyIDs, id)
				}
			}
			if mf.NMissing > 0 {
				d.IncompleteFields[field] = mf
			}
		}
		d.NIncompleteFields = len(d.IncompleteFields)
		return d.NIncompleteFields == 0, d
	}}
}

func present(r *model.FinalDatasetRow, field string) bool {
	switch field {
	case "hedges_g":
		return r.HedgesG != nil
	case "se_g":
		return r.SEG != nil
	}
	v, ok := r.Categorical(field)
	return ok && v != nil && strings.TrimSpace(*v) != ""
}

// DuplicateGate fails when two rows share (study_id, outcome_label).
func DuplicateGate() Gate {
	return Gate{Name: GateDuplicates, Check: func(rows []model.FinalDatasetRow) (bool, any) {
		type key struct{ study, label string }
		counts := make(map[key]int)
		for _, r := range rows {
			counts[key{r.StudyID, r.OutcomeLabel}]++
		}
		d := DuplicateDetails{Duplicates: []DuplicateGroup{}}
		for k, n := range counts {
			if n < 2 {
				continue
			}
			d.NDuplicateRows += n
			d.Duplicates = append(d.Duplicates, DuplicateGroup{k.study, k.label, n})
		}
		sort.Slice(d.Duplicates, func(i, j int) bool {
			a, b := d.Duplicates[i], d.Duplicates[j]
			if a.StudyID != b.StudyID {
				return a.StudyID < b.StudyID
			}
			return a.OutcomeLabel < b.OutcomeLabel
		})
		d.NDuplicateGroups = len(d.Duplicates)
		return d.NDuplicateRows == 0, d
	}}
}

// firstRowPerStudy returns the first row of each study in order of first
// appearance.
func firstRowPerStudy(rows []model.FinalDatasetRow) []model.FinalDatasetRow {
	seen := make(map[string]bool)
	var out []model.FinalDatasetRow
	for _, r := range rows {
		if seen[r.StudyID] {
			continue
		}
		seen[r.StudyID] = true
		out = append(out, r)
	}
	return out
}

