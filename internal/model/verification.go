package model

// Confidence levels a verifier may report.
const (
	ConfidenceHigh     = "high"
	ConfidenceModerate = "moderate"
	ConfidenceLow      = "low"
)

// VerifiedEffectSize is one effect size as re-read by a single model.
type VerifiedEffectSize struct {
	OutcomeLabel    string   `json:"outcome_label"`
	HedgesG         *float64 `json:"hedges_g"`
	SEG             *float64 `json:"se_g"`
	ConversionValid *bool    `json:"conversion_valid,omitempty"`
}

// ModelVerification is one model's independent judgement for one study.
// Agent characteristic values are kept as decoded JSON because models
// occasionally answer with lists instead of single codes.
type ModelVerification struct {
	VerifiedEffectSizes          []VerifiedEffectSize `json:"verified_effect_sizes"`
	VerifiedAgentCharacteristics map[string]any       `json:"verified_agent_characteristics"`
	VerifiedStudyInfo            map[string]any       `json:"verified_study_info,omitempty"`
	Confidence                   string               `json:"confidence,omitempty" validate:"omitempty,oneof=high moderate low"`
	Concerns                     []any                `json:"concerns"`
	SuggestedCorrections         []any                `json:"suggested_corrections,omitempty"`
}

// ModelResult is the persisted outcome of one verification call. Exactly one
// of Error or the embedded verification is set.
type ModelResult struct {
	Model       string `json:"model"`
	Error       string `json:"error,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
	TokensUsed  int64  `json:"tokens_used,omitempty"`
	*ModelVerification
}

// Failed reports whether the call errored or produced no usable verification.
func (r ModelResult) Failed() bool {
	return r.Error != "" || r.ModelVerification == nil
}
