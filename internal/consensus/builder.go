// Package consensus reconciles three independent model verifications of a
// study into one consensus record.
package consensus

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/metaextract/internal/model"
)

// Build assembles the consensus record for one study from its per-model
// results. Failed results stay in ModelResults but are excluded from every
// tally. With zero successful models the record is still produced, with no
// effect sizes and all agent fields null.
func Build(study model.StudyData, results []model.ModelResult, now time.Time) *model.ConsensusRecord {
	byModel := make(map[string]model.ModelResult, len(results))
	for _, r := range results {
		byModel[r.Model] = r
	}
	return &model.ConsensusRecord{
		StudyID:                       study.StudyID,
		ConsensusTimestamp:            now,
		ModelResults:                  byModel,
		AgreementAnalysis:             AnalyzeAgreement(results),
		ConsensusEffectSizes:          SynthesizeEffectSizes(results),
		ConsensusAgentCharacteristics: SynthesizeAgentCharacteristics(results),
		OriginalData:                  study,
	}
}

// AnalyzeAgreement counts successful models and summarizes their confidence
// and concerns.
func AnalyzeAgreement(results []model.ModelResult) model.AgreementAnalysis {
	a := model.AgreementAnalysis{
		ModelsCompleted:  []string{},
		ConfidenceValues: []string{},
	}
	for _, r := range results {
		if r.Failed() {
			continue
		}
		a.ModelsCompleted = append(a.ModelsCompleted, r.Model)
		if r.Confidence != "" {
			a.ConfidenceValues = append(a.ConfidenceValues, r.Confidence)
		}
		a.TotalConcernsRaised += len(r.Concerns)
	}
	a.NModelsCompleted = len(a.ModelsCompleted)

	if len(a.ConfidenceValues) > 0 {
		modal, _ := Vote(a.ConfidenceValues)
		a.ModalConfidence = &modal
		a.HighConfidence = true
		for _, c := range a.ConfidenceValues {
			if c != model.ConfidenceHigh {
				a.HighConfidence = false
				break
			}
		}
	}
	return a
}

// unlabeled is the outcome label given to effect sizes a model left unnamed.
const unlabeled = "unknown"

// SynthesizeEffectSizes averages g and se per outcome label across the
// models that reported a non-null g for it. The quality tier reflects how
// many models contributed. Labels with no usable g are dropped. Labels are
// returned in first-seen order across results.
func SynthesizeEffectSizes(results []model.ModelResult) []model.ConsensusEffectSize {
	type contribution struct {
		g  float64
		se *float64
	}
	var order []string
	byLabel := make(map[string][]contribution)

	for _, r := range results {
		if r.Failed() {
			continue
		}
		seen := make(map[string]bool)
		for _, es := range r.VerifiedEffectSizes {
			label := es.OutcomeLabel
			if label == "" {
				label = unlabeled
			}
			if _, ok := byLabel[label]; !ok {
				byLabel[label] = nil
				order = append(order, label)
			}
			// One vote per model per label.
			if seen[label] || es.HedgesG == nil || !finite(*es.HedgesG) {
				continue
			}
			seen[label] = true
			c := contribution{g: *es.HedgesG}
			if es.SEG != nil && finite(*es.SEG) {
				c.se = es.SEG
			}
			byLabel[label] = append(byLabel[label], c)
		}
	}

	out := make([]model.ConsensusEffectSize, 0, len(order))
	for _, label := range order {
		contribs := byLabel[label]
		if len(contribs) == 0 {
			continue
		}
		var sumG, sumSE float64
		nSE := 0
		gValues := make([]float64, 0, len(contribs))
		for _, c := range contribs {
			sumG += c.g
			gValues = append(gValues, c.g)
			if c.se != nil {
				sumSE += *c.se
				nSE++
			}
		}
		ces := model.ConsensusEffectSize{
			OutcomeLabel:     label,
			HedgesGConsensus: sumG / float64(len(contribs)),
			GValuesPerModel:  gValues,
			NModelsAgree:     len(contribs),
		}
		if nSE > 0 {
			se := sumSE / float64(nSE)
			ces.SEGConsensus = &se
		}
		ces.ConsensusQuality, ces.Flag = tier(len(contribs))
		out = append(out, ces)
	}
	return out
}

func tier(n int) (model.ConsensusQuality, *string) {
	switch {
	case n >= 3:
		return model.QualityThreeAgree, nil
	case n == 2:
		flag := model.FlagMajorityConsensus
		return model.QualityTwoAgree, &flag
	default:
		flag := model.FlagHumanReviewNeeded
		return model.QualityOneOnly, &flag
	}
}

// SynthesizeAgentCharacteristics takes a majority vote per agent field over
// the successful models that reported a value, recording a "k/n" agreement
// ratio. Fields nobody reported are null with no ratio.
func SynthesizeAgentCharacteristics(results []model.ModelResult) model.ConsensusAgentCharacteristics {
	out := model.ConsensusAgentCharacteristics{
		Values:    make(map[string]*string, len(model.AgentFields)),
		Agreement: make(map[string]string, len(model.AgentFields)),
	}
	for _, field := range model.AgentFields {
		var values []string
		for _, r := range results {
			if r.Failed() {
				continue
			}
			if v, ok := normalizeCode(r.VerifiedAgentCharacteristics[field]); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			out.Values[field] = nil
			continue
		}
		winner, count := Vote(values)
		out.Values[field] = &winner
		out.Agreement[field] = fmt.Sprintf("%d/%d", count, len(values))
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
