// Package dataset flattens consensus records into the final one-row-per-
// effect-size dataset and moves it in and out of CSV and Excel.
package dataset

import (
	"sort"

	"github.com/sells-group/metaextract/internal/model"
)

// Output file names.
const (
	FinalCSV  = "Agentic_AI_Learning_Outcomes_Final_Dataset.csv"
	SheetName = "Agentic_AI_Effects"
)

// Assemble emits one row per consensus effect size, combining it with the
// study's extracted study info and consensus agent codes. Rows are sorted by
// (study_id, outcome_label); ties keep record order.
func Assemble(records []*model.ConsensusRecord) []model.FinalDatasetRow {
	var rows []model.FinalDatasetRow
	for _, rec := range records {
		if rec == nil {
			continue
		}
		info := rec.OriginalData.StudyInfo
		agent := rec.ConsensusAgentCharacteristics
		for _, es := range rec.ConsensusEffectSizes {
			g := es.HedgesGConsensus
			row := model.FinalDatasetRow{
				StudyID:          rec.StudyID,
				OutcomeLabel:     es.OutcomeLabel,
				HedgesG:          &g,
				SEG:              es.SEGConsensus,
				NModelsAgree:     es.NModelsAgree,
				ConsensusQuality: string(es.ConsensusQuality),
				Flag:             es.Flag,

				DesignType:     info.DesignType,
				NTreatment:     info.NTreatment,
				NControl:       info.NControl,
				NTotal:         info.SampleSizeTotal,
				OutcomeType:    info.OutcomeType,
				LearningDomain: info.LearningDomain,
				Country:        info.Country,
				EducationLevel: info.EducationLevel,

				OversightLevel: agent.Get("oversight_level"),
				Architecture:   agent.Get("architecture"),
				AgencyLevel:    agent.Get("agency_level"),
				AgentRole:      agent.Get("role"),
				Modality:       agent.Get("modality"),
				Technology:     agent.Get("technology"),
				Adaptivity:     agent.Get("adaptivity"),
			}
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].StudyID != rows[j].StudyID {
			return rows[i].StudyID < rows[j].StudyID
		}
		return rows[i].OutcomeLabel < rows[j].OutcomeLabel
	})
	return rows
}
