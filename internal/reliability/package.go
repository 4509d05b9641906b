package reliability

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/model"
)

// Files of the coding package.
const (
	PackageFile       = "icr_coding_package.json"
	AIValuesFile      = "ai_consensus_values_FOR_COMPARISON.json"
	HumanCodingFile   = "icr_human_completed.json"
	MetricsFile       = "reliability_metrics.json"
	codingInstruction = "Please fill in all fields based on the PDF. Do not change the study_id field."
	effectsNote       = "List each outcome measure with its M, SD, n for treatment/control groups, or provide d/g directly."
)

// HumanEffect is one effect size entered by a human coder.
type HumanEffect struct {
	OutcomeLabel string   `json:"outcome_label,omitempty"`
	HedgesG      *float64 `json:"hedges_g"`
}

// HumanEffects is the effect-size section of a coding form.
type HumanEffects struct {
	Note    string        `json:"note"`
	Effects []HumanEffect `json:"effects"`
}

// HumanStudyInfo is the study section of a coding form.
type HumanStudyInfo struct {
	DesignType      string `json:"design_type"`
	SampleSizeTotal *int   `json:"sample_size_total"`
	LearningDomain  string `json:"learning_domain"`
	Country         string `json:"country"`
	EducationLevel  string `json:"education_level"`
}

// CodingForm is one study's form for a human coder. The completed file has
// the same shape with the blanks filled in.
type CodingForm struct {
	StudyID              string             `json:"study_id"`
	SourceFile           string             `json:"source_file"`
	Instructions         string             `json:"instructions"`
	EffectSizes          HumanEffects       `json:"EFFECT_SIZES"`
	AgentCharacteristics map[string]*string `json:"AGENT_CHARACTERISTICS"`
	StudyInfo            HumanStudyInfo     `json:"STUDY_INFO"`
	RaterNotes           string             `json:"rater_notes"`
}

// AIValues holds the consensus values kept back from coders until they finish.
type AIValues struct {
	StudyID    string                              `json:"study_id"`
	Effects    []model.ConsensusEffectSize         `json:"ai_consensus_effects"`
	AgentCodes model.ConsensusAgentCharacteristics `json:"ai_consensus_agent"`
}

// BlankForm returns an empty coding form for rec.
func BlankForm(rec *model.ConsensusRecord) CodingForm {
	agent := make(map[string]*string, len(model.AgentFields))
	for _, f := range model.AgentFields {
		agent[f] = model.Ptr("")
	}
	return CodingForm{
		StudyID:              rec.StudyID,
		SourceFile:           rec.OriginalData.StudyInfo.SourceFile,
		Instructions:         codingInstruction,
		EffectSizes:          HumanEffects{Note: effectsNote, Effects: []HumanEffect{}},
		AgentCharacteristics: agent,
	}
}

// PackageSummary describes an exported coding package.
type PackageSummary struct {
	NStudiesSampled int    `json:"n_studies_sampled"`
	PackagePath     string `json:"package_path"`
	AIValuesPath    string `json:"ai_values_path"`
}

// ExportPackage writes blank forms for the sampled studies and, separately,
// their AI consensus values. Sampled IDs without a record are skipped.
func ExportPackage(dir string, sampled []string, records map[string]*model.ConsensusRecord) (*PackageSummary, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "reliability: create %s", dir)
	}

	forms := make([]CodingForm, 0, len(sampled))
	values := make([]AIValues, 0, len(sampled))
	for _, id := range sampled {
		rec, ok := records[id]
		if !ok {
			zap.L().Warn("no consensus record for sampled study", zap.String("study_id", id))
			continue
		}
		forms = append(forms, BlankForm(rec))
		values = append(values, AIValues{
			StudyID:    id,
			Effects:    rec.ConsensusEffectSizes,
			AgentCodes: rec.ConsensusAgentCharacteristics,
		})
	}

	s := &PackageSummary{
		NStudiesSampled: len(forms),
		PackagePath:     filepath.Join(dir, PackageFile),
		AIValuesPath:    filepath.Join(dir, AIValuesFile),
	}
	if err := writeJSON(s.PackagePath, forms); err != nil {
		return nil, err
	}
	if err := writeJSON(s.AIValuesPath, values); err != nil {
		return nil, err
	}
	zap.L().Info("ICR package written",
		zap.String("package", s.PackagePath),
		zap.String("withhold_until_coded", s.AIValuesPath),
	)
	return s, nil
}

// ReadHumanCoding loads completed coding forms.
func ReadHumanCoding(path string) ([]CodingForm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reliability: read %s", path)
	}
	var forms []CodingForm
	if err := json.Unmarshal(data, &forms); err != nil {
		return nil, eris.Wrapf(err, "reliability: decode %s", filepath.Base(path))
	}
	return forms, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "reliability: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "reliability: write %s", path)
	}
	return nil
}
