package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/sells-group/metaextract/internal/model"
)

// SystemPrompt instructs every verifier.
const SystemPrompt = "You are an expert meta-analyst verifying extracted data from educational research papers. " +
	"Check effect sizes for plausibility (|g| < 5.0), verify sample sizes are reasonable " +
	"(n >= 10), confirm agent characteristic codes are valid, and flag any inconsistencies. " +
	"Respond only with valid JSON."

const responseShape = `{
  "verified_effect_sizes": [list of verified effect size objects with outcome_label, hedges_g and se_g],
  "verified_agent_characteristics": {coded characteristics object},
  "verified_study_info": {study info object},
  "confidence": "high|moderate|low",
  "concerns": [list of concerns or flags],
  "suggested_corrections": [list of suggested corrections]
}`

// UserPrompt renders the extracted data of one study for verification.
func UserPrompt(study model.StudyData) string {
	effects := study.EffectSizes
	if effects == nil {
		effects = []map[string]any{}
	}
	agent := study.AgentCharacteristics
	if agent == nil {
		agent = map[string]any{}
	}
	return fmt.Sprintf(`Study ID: %s

Extracted Study Information:
%s

Extracted Effect Sizes:
%s

Extracted Agent Characteristics:
%s

Please verify and validate this extracted data. Respond with a JSON object containing:
%s`, study.StudyID, indent(study.StudyInfo), indent(effects), indent(agent), responseShape)
}

func indent(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
