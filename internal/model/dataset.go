package model

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// FinalDatasetRow is one row per (study_id, outcome_label) of the QA'd dataset.
type FinalDatasetRow struct {
	StudyID          string   `json:"study_id"`
	OutcomeLabel     string   `json:"outcome_label"`
	HedgesG          *float64 `json:"hedges_g"`
	SEG              *float64 `json:"se_g"`
	NModelsAgree     int      `json:"n_models_agree"`
	ConsensusQuality string   `json:"consensus_quality"`
	Flag             *string  `json:"flag"`

	DesignType     string `json:"design_type"`
	NTreatment     *int   `json:"n_treatment"`
	NControl       *int   `json:"n_control"`
	NTotal         *int   `json:"n_total"`
	OutcomeType    string `json:"outcome_type"`
	LearningDomain string `json:"learning_domain"`
	Country        string `json:"country"`
	EducationLevel string `json:"education_level"`

	OversightLevel *string `json:"oversight_level"`
	Architecture   *string `json:"architecture"`
	AgencyLevel    *string `json:"agency_level"`
	AgentRole      *string `json:"agent_role"`
	Modality       *string `json:"modality"`
	Technology     *string `json:"technology"`
	Adaptivity     *string `json:"adaptivity"`
}

// DatasetColumns is the column order of the exported final dataset.
var DatasetColumns = []string{
	"study_id", "outcome_label", "hedges_g", "se_g", "n_models_agree",
	"consensus_quality", "flag", "design_type", "n_treatment", "n_control",
	"n_total", "outcome_type", "learning_domain", "country", "education_level",
	"oversight_level", "architecture", "agency_level", "agent_role", "modality",
	"technology", "adaptivity",
}

// Categorical returns the value of a string-valued column by name. The
// second result is false when the column is unknown.
func (r *FinalDatasetRow) Categorical(column string) (*string, bool) {
	switch column {
	case "oversight_level":
		return r.OversightLevel, true
	case "architecture":
		return r.Architecture, true
	case "agency_level":
		return r.AgencyLevel, true
	case "agent_role":
		return r.AgentRole, true
	case "modality":
		return r.Modality, true
	case "technology":
		return r.Technology, true
	case "adaptivity":
		return r.Adaptivity, true
	case "design_type":
		return nonEmpty(r.DesignType), true
	case "outcome_type":
		return nonEmpty(r.OutcomeType), true
	case "learning_domain":
		return nonEmpty(r.LearningDomain), true
	case "education_level":
		return nonEmpty(r.EducationLevel), true
	case "country":
		return nonEmpty(r.Country), true
	}
	return nil, false
}

// SetCategorical overwrites an agent-code column. Unknown columns are ignored.
func (r *FinalDatasetRow) SetCategorical(column string, v *string) {
	switch column {
	case "oversight_level":
		r.OversightLevel = v
	case "architecture":
		r.Architecture = v
	case "agency_level":
		r.AgencyLevel = v
	case "agent_role":
		r.AgentRole = v
	case "modality":
		r.Modality = v
	case "technology":
		r.Technology = v
	case "adaptivity":
		r.Adaptivity = v
	}
}

// Record renders the row in DatasetColumns order. Null values become "".
func (r *FinalDatasetRow) Record() []string {
	return []string{
		r.StudyID, r.OutcomeLabel, FormatFloat(r.HedgesG), FormatFloat(r.SEG),
		strconv.Itoa(r.NModelsAgree), r.ConsensusQuality, FormatString(r.Flag),
		r.DesignType, FormatInt(r.NTreatment), FormatInt(r.NControl), FormatInt(r.NTotal),
		r.OutcomeType, r.LearningDomain, r.Country, r.EducationLevel,
		FormatString(r.OversightLevel), FormatString(r.Architecture), FormatString(r.AgencyLevel),
		FormatString(r.AgentRole), FormatString(r.Modality), FormatString(r.Technology),
		FormatString(r.Adaptivity),
	}
}

// ParseDatasetRecord builds a row from a delimited record using the given
// header. Columns not in DatasetColumns are ignored.
func ParseDatasetRecord(header, record []string) (FinalDatasetRow, error) {
	var row FinalDatasetRow
	for i, col := range header {
		if i >= len(record) {
			break
		}
		v := strings.TrimSpace(record[i])
		var err error
		switch col {
		case "study_id":
			row.StudyID = v
		case "outcome_label":
			row.OutcomeLabel = v
		case "hedges_g":
			row.HedgesG, err = ParseFloat(v)
		case "se_g":
			row.SEG, err = ParseFloat(v)
		case "n_models_agree":
			var n *int
			n, err = ParseInt(v)
			if n != nil {
				row.NModelsAgree = *n
			}
		case "consensus_quality":
			row.ConsensusQuality = v
		case "flag":
			row.Flag = ParseString(v)
		case "design_type":
			row.DesignType = v
		case "n_treatment":
			row.NTreatment, err = ParseInt(v)
		case "n_control":
			row.NControl, err = ParseInt(v)
		case "n_total":
			row.NTotal, err = ParseInt(v)
		case "outcome_type":
			row.OutcomeType = v
		case "learning_domain":
			row.LearningDomain = v
		case "country":
			row.Country = v
		case "education_level":
			row.EducationLevel = v
		default:
			row.SetCategorical(col, ParseString(v))
		}
		if err != nil {
			return row, eris.Wrapf(err, "model: column %s", col)
		}
	}
	return row, nil
}

// FormatFloat renders a nullable float without trailing zeros.
func FormatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

// FormatInt renders a nullable int.
func FormatInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

// FormatString renders a nullable string.
func FormatString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ParseFloat parses a nullable float; "" and "nan" are null.
func ParseFloat(s string) (*float64, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseInt parses a nullable int, accepting integral floats such as "24.0".
func ParseInt(s string) (*int, error) {
	f, err := ParseFloat(s)
	if err != nil || f == nil {
		return nil, err
	}
	n := int(*f)
	if float64(n) != *f {
		return nil, eris.Errorf("not an integer: %s", s)
	}
	return &n, nil
}

// ParseString returns nil for an empty value.
func ParseString(s string) *string {
	return nonEmpty(s)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
