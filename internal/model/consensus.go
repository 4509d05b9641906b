package model

import (
	"encoding/json"
	"time"
)

// ConsensusQuality is the agreement tier of a consensus effect size.
type ConsensusQuality string

const (
	QualityThreeAgree ConsensusQuality = "3/3_agree"
	QualityTwoAgree   ConsensusQuality = "2/3_agree"
	QualityOneOnly    ConsensusQuality = "1/3_only"
)

// Review flags attached to non-unanimous consensus effect sizes.
const (
	FlagMajorityConsensus = "majority_consensus"
	FlagHumanReviewNeeded = "human_review_needed"
)

// ConsensusEffectSize is the synthesized effect size for one outcome label.
type ConsensusEffectSize struct {
	OutcomeLabel     string           `json:"outcome_label"`
	HedgesGConsensus float64          `json:"hedges_g_consensus"`
	SEGConsensus     *float64         `json:"se_g_consensus"`
	GValuesPerModel  []float64        `json:"g_values_per_model"`
	NModelsAgree     int              `json:"n_models_agree"`
	ConsensusQuality ConsensusQuality `json:"consensus_quality"`
	Flag             *string          `json:"flag"`
}

// AgreementAnalysis summarizes which models completed and how confident they were.
type AgreementAnalysis struct {
	NModelsCompleted    int      `json:"n_models_completed"`
	ModelsCompleted     []string `json:"models_completed"`
	ConfidenceValues    []string `json:"confidence_values"`
	ModalConfidence     *string  `json:"modal_confidence"`
	TotalConcernsRaised int      `json:"total_concerns_raised"`
	HighConfidence      bool     `json:"high_confidence"`
}

// ConsensusAgentCharacteristics holds the majority-vote value of each agent
// field plus its "k/n" agreement ratio. It serializes flat:
// {"architecture": "single_agent", "architecture_agreement": "2/3", ...}.
type ConsensusAgentCharacteristics struct {
	Values    map[string]*string
	Agreement map[string]string
}

// Get returns the consensus value for field, or nil.
func (c ConsensusAgentCharacteristics) Get(field string) *string {
	if c.Values == nil {
		return nil
	}
	return c.Values[field]
}

func (c ConsensusAgentCharacteristics) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(c.Values)+len(c.Agreement))
	for k, v := range c.Values {
		flat[k] = v
	}
	for k, v := range c.Agreement {
		flat[k+"_agreement"] = v
	}
	return json.Marshal(flat)
}

func (c *ConsensusAgentCharacteristics) UnmarshalJSON(data []byte) error {
	var flat map[string]*string
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	c.Values = make(map[string]*string, len(AgentFields))
	c.Agreement = make(map[string]string)
	for _, field := range AgentFields {
		if v, ok := flat[field]; ok {
			c.Values[field] = v
		}
		if v, ok := flat[field+"_agreement"]; ok && v != nil {
			c.Agreement[field] = *v
		}
	}
	return nil
}

// ConsensusRecord is the persisted consensus output for one study.
type ConsensusRecord struct {
	StudyID                       string                        `json:"study_id"`
	ConsensusTimestamp            time.Time                     `json:"consensus_timestamp"`
	ModelResults                  map[string]ModelResult        `json:"model_results"`
	AgreementAnalysis             AgreementAnalysis             `json:"agreement_analysis"`
	ConsensusEffectSizes          []ConsensusEffectSize         `json:"consensus_effect_sizes"`
	ConsensusAgentCharacteristics ConsensusAgentCharacteristics `json:"consensus_agent_characteristics"`
	OriginalData                  StudyData                     `json:"original_data"`
}
