package consensus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/metaextract/internal/model"
)

func f(v float64) *float64 { return &v }

func verified(name string, g, se *float64, confidence string, agent map[string]any) model.ModelResult {
	return model.ModelResult{
		Model: name,
		ModelVerification: &model.ModelVerification{
			VerifiedEffectSizes:          []model.VerifiedEffectSize{{OutcomeLabel: "achievement", HedgesG: g, SEG: se}},
			VerifiedAgentCharacteristics: agent,
			Confidence:                   confidence,
			Concerns:                     []any{},
		},
	}
}

func TestBuild_ThreeModelsAgree(t *testing.T) {
	t.Parallel()

	agent := map[string]any{"architecture": "single_agent", "role": "tutor"}
	results := []model.ModelResult{
		verified(VerifierClaude, f(0.5), f(0.1), "high", agent),
		verified(VerifierGPT4o, f(0.5), f(0.1), "high", agent),
		verified(VerifierGroq, f(0.5), f(0.1), "high", agent),
	}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	rec := Build(model.StudyData{StudyID: "S001"}, results, now)

	assert.Equal(t, "S001", rec.StudyID)
	assert.Equal(t, now, rec.ConsensusTimestamp)
	assert.Len(t, rec.ModelResults, 3)
	require.Len(t, rec.ConsensusEffectSizes, 1)

	es := rec.ConsensusEffectSizes[0]
	assert.Equal(t, "achievement", es.OutcomeLabel)
	assert.InDelta(t, 0.5, es.HedgesGConsensus, 1e-12)
	require.NotNil(t, es.SEGConsensus)
	assert.InDelta(t, 0.1, *es.SEGConsensus, 1e-12)
	assert.Equal(t, 3, es.NModelsAgree)
	assert.Equal(t, model.QualityThreeAgree, es.ConsensusQuality)
	assert.Nil(t, es.Flag)

	assert.Equal(t, 3, rec.AgreementAnalysis.NModelsCompleted)
	assert.True(t, rec.AgreementAnalysis.HighConfidence)
	require.NotNil(t, rec.AgreementAnalysis.ModalConfidence)
	assert.Equal(t, "high", *rec.AgreementAnalysis.ModalConfidence)

	arch := rec.ConsensusAgentCharacteristics.Get("architecture")
	require.NotNil(t, arch)
	assert.Equal(t, "single_agent", *arch)
	assert.Equal(t, "3/3", rec.ConsensusAgentCharacteristics.Agreement["architecture"])
	assert.Nil(t, rec.ConsensusAgentCharacteristics.Get("modality"))
}

func TestBuild_OneModelFails(t *testing.T) {
	t.Parallel()

	results := []model.ModelResult{
		{Model: VerifierClaude, Error: "timeout"},
		verified(VerifierGPT4o, f(0.4), f(0.2), "moderate", map[string]any{"oversight_level": "autonomous"}),
		verified(VerifierGroq, f(0.6), nil, "high", map[string]any{"oversight_level": "human_in_loop"}),
	}

	rec := Build(model.StudyData{StudyID: "S002"}, results, time.Now())

	assert.Equal(t, 2, rec.AgreementAnalysis.NModelsCompleted)
	assert.Equal(t, []string{VerifierGPT4o, VerifierGroq}, rec.AgreementAnalysis.ModelsCompleted)
	assert.False(t, rec.AgreementAnalysis.HighConfidence)
	assert.Equal(t, "timeout", rec.ModelResults[VerifierClaude].Error)

	require.Len(t, rec.ConsensusEffectSizes, 1)
	es := rec.ConsensusEffectSizes[0]
	assert.InDelta(t, 0.5, es.HedgesGConsensus, 1e-12)
	require.NotNil(t, es.SEGConsensus)
	assert.InDelta(t, 0.2, *es.SEGConsensus, 1e-12)
	assert.Equal(t, model.QualityTwoAgree, es.ConsensusQuality)
	require.NotNil(t, es.Flag)
	assert.Equal(t, model.FlagMajorityConsensus, *es.Flag)

	// 1-1 tie resolves to the lexically smaller code.
	v := rec.ConsensusAgentCharacteristics.Get("oversight_level")
	require.NotNil(t, v)
	assert.Equal(t, "autonomous", *v)
	assert.Equal(t, "1/2", rec.ConsensusAgentCharacteristics.Agreement["oversight_level"])
}

func TestBuild_AllModelsFail(t *testing.T) {
	t.Parallel()

	results := []model.ModelResult{
		{Model: VerifierClaude, Error: "a"},
		{Model: VerifierGPT4o, Error: "b"},
		{Model: VerifierGroq, Error: "Failed to parse", RawResponse: "nope"},
	}
	rec := Build(model.StudyData{StudyID: "S003"}, results, time.Now())

	assert.Equal(t, 0, rec.AgreementAnalysis.NModelsCompleted)
	assert.Empty(t, rec.ConsensusEffectSizes)
	assert.Nil(t, rec.AgreementAnalysis.ModalConfidence)
	assert.False(t, rec.AgreementAnalysis.HighConfidence)
	for _, field := range model.AgentFields {
		assert.Nil(t, rec.ConsensusAgentCharacteristics.Get(field), field)
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"consensus_effect_sizes":[]`)
	assert.Contains(t, string(data), `"models_completed":[]`)
}

func TestSynthesizeEffectSizes_SingleModelAndNullG(t *testing.T) {
	t.Parallel()

	results := []model.ModelResult{
		verified(VerifierClaude, f(0.3), f(0.1), "low", nil),
		verified(VerifierGPT4o, nil, f(0.1), "low", nil),
		{
			Model: VerifierGroq,
			ModelVerification: &model.ModelVerification{
				VerifiedEffectSizes: []model.VerifiedEffectSize{{HedgesG: f(1.2)}},
			},
		},
	}

	out := SynthesizeEffectSizes(results)
	require.Len(t, out, 2)

	assert.Equal(t, "achievement", out[0].OutcomeLabel)
	assert.Equal(t, 1, out[0].NModelsAgree)
	assert.Equal(t, model.QualityOneOnly, out[0].ConsensusQuality)
	require.NotNil(t, out[0].Flag)
	assert.Equal(t, model.FlagHumanReviewNeeded, *out[0].Flag)

	assert.Equal(t, "unknown", out[1].OutcomeLabel)
	assert.Nil(t, out[1].SEGConsensus)
}

func TestSynthesizeEffectSizes_OneVotePerModelPerLabel(t *testing.T) {
	t.Parallel()

	r := verified(VerifierClaude, f(0.2), nil, "", nil)
	r.VerifiedEffectSizes = append(r.VerifiedEffectSizes, model.VerifiedEffectSize{OutcomeLabel: "achievement", HedgesG: f(0.9)})

	out := SynthesizeEffectSizes([]model.ModelResult{r})
	require.Len(t, out, 1)
	assert.Equal(t, []float64{0.2}, out[0].GValuesPerModel)
}

func TestVote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []string
		want   string
		count  int
	}{
		{"empty", nil, "", 0},
		{"majority", []string{"b", "a", "b"}, "b", 2},
		{"tie smallest wins", []string{"tutor", "coach"}, "coach", 1},
		{"unanimous", []string{"x", "x", "x"}, "x", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, n := Vote(tt.values)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.count, n)
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"nil", nil, "", false},
		{"blank", "  ", "", false},
		{"trimmed", " tutor ", "tutor", true},
		{"list sorted", []any{"text", "voice"}, "text;voice", true},
		{"list order independent", []any{"voice", "text"}, "text;voice", true},
		{"string slice", []string{"b", "a"}, "a;b", true},
		{"empty list", []any{}, "", false},
		{"number", 3.0, "3", true},
		{"bool", true, "true", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := normalizeCode(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsensusAgentCharacteristics_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	rec := SynthesizeAgentCharacteristics([]model.ModelResult{
		verified(VerifierClaude, nil, nil, "", map[string]any{"role": "tutor"}),
	})
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"role":"tutor"`)
	assert.Contains(t, string(data), `"role_agreement":"1/1"`)
	assert.Contains(t, string(data), `"modality":null`)

	var back model.ConsensusAgentCharacteristics
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.Get("role"))
	assert.Equal(t, "tutor", *back.Get("role"))
	assert.Equal(t, "1/1", back.Agreement["role"])
}
