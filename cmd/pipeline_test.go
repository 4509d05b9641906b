package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/metaextract/internal/config"
	"github.com/sells-group/metaextract/internal/dataset"
	"github.com/sells-group/metaextract/internal/effectsize"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/reliability"
)

func testRecord(id string, g, se float64, arch string) *model.ConsensusRecord {
	return &model.ConsensusRecord{
		StudyID: id,
		ConsensusEffectSizes: []model.ConsensusEffectSize{{
			OutcomeLabel:     "achievement",
			HedgesGConsensus: g,
			SEGConsensus:     model.Ptr(se),
			NModelsAgree:     3,
			ConsensusQuality: model.QualityThreeAgree,
		}},
		ConsensusAgentCharacteristics: model.ConsensusAgentCharacteristics{Values: map[string]*string{
			"architecture": model.Ptr(arch),
		}},
		OriginalData: model.StudyData{StudyID: id, StudyInfo: model.StudyInfo{
			DesignType:      "RCT",
			NTreatment:      model.Ptr(30),
			NControl:        model.Ptr(30),
			SampleSizeTotal: model.Ptr(60),
			OutcomeType:     "achievement",
			Country:         "Chile",
		}},
	}
}

func writeRecord(t *testing.T, dir, id string, g, se float64, arch string) {
	t.Helper()
	data, err := json.Marshal(testRecord(id, g, se, arch))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_consensus.json"), data, 0o644))
}

func seedRecords(t *testing.T) {
	t.Helper()
	for i, g := range []float64{0.2, 0.45, 0.6, 0.3, 0.5, 0.35} {
		arch := "single_agent"
		if i%2 == 1 {
			arch = "multi_agent"
		}
		writeRecord(t, cfg.Paths.Verified, fmt.Sprintf("S%02d", i+1), g, 0.15+0.01*float64(i), arch)
	}
}

func TestRunQA(t *testing.T) {
	useTestConfig(t)
	seedRecords(t)
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeAnalysis)
	require.NoError(t, err)
	defer env.Close()

	rows, report, err := runQA(ctx, env)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "S01", rows[0].StudyID)
	assert.Len(t, report.GateResults, 6)
	assert.Equal(t, 6, report.DatasetSummary.NStudies)

	assert.FileExists(t, filepath.Join(cfg.Paths.Final, qaReportFile))
	assert.FileExists(t, filepath.Join(cfg.Paths.Final, dataset.FinalCSV))
	assert.FileExists(t, filepath.Join(cfg.Paths.Final, strings.TrimSuffix(dataset.FinalCSV, ".csv")+".xlsx"))

	stored, err := env.Store.LoadDataset(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 6)

	latest, err := env.Store.LatestQAReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, report.AllGatesPassed, latest.AllGatesPassed)

	back, err := dataset.ReadCSVFile(filepath.Join(cfg.Paths.Final, dataset.FinalCSV))
	require.NoError(t, err)
	assert.Equal(t, rows, back)
}

func TestRunQA_NoRecords(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeAnalysis)
	require.NoError(t, err)
	defer env.Close()

	_, _, err = runQA(ctx, env)
	assert.Error(t, err)
}

func TestCleanThenAnalyze(t *testing.T) {
	useTestConfig(t)
	seedRecords(t)
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeAnalysis)
	require.NoError(t, err)
	defer env.Close()

	rows, _, err := runQA(ctx, env)
	require.NoError(t, err)

	outPath := filepath.Join(cfg.Paths.Final, cleanedCSV)
	reportPath := filepath.Join(cfg.Paths.Final, cleaningReportFile)
	cleaned, err := runClean(rows, env.Vocab, outPath, reportPath)
	require.NoError(t, err)
	require.Len(t, cleaned, 6)
	assert.Equal(t, "randomized_controlled_trial", cleaned[0].DesignType)
	assert.FileExists(t, reportPath)

	// The cleaned CSV loads back as dataset rows, ignoring derived columns.
	reloaded, err := dataset.ReadCSVFile(outPath)
	require.NoError(t, err)
	assert.Len(t, reloaded, 6)

	report, err := runAnalyze(datasetRows(cleaned), filepath.Join(cfg.Paths.Final, analysisReportFile))
	require.NoError(t, err)
	assert.Equal(t, 6, report.NStudies)
	assert.Equal(t, 6, report.Overall.K)
	assert.Greater(t, report.Overall.PooledG, 0.2)
	assert.Less(t, report.Overall.PooledG, 0.6)
	assert.Contains(t, report.Subgroups, "architecture")
	assert.FileExists(t, filepath.Join(cfg.Paths.Final, analysisReportFile))
}

func TestRunAnalyze_NoPoolableRows(t *testing.T) {
	useTestConfig(t)
	rows := []model.FinalDatasetRow{{StudyID: "S1", HedgesG: model.Ptr(0.3)}}

	_, err := runAnalyze(rows, filepath.Join(cfg.Paths.Final, analysisReportFile))
	assert.Error(t, err)
}

func TestValidateRows(t *testing.T) {
	rows := []model.FinalDatasetRow{
		{StudyID: "S1", HedgesG: model.Ptr(0.4), SEG: model.Ptr(0.25), NTreatment: model.Ptr(30), NControl: model.Ptr(30)},
		{StudyID: "S2", HedgesG: model.Ptr(7.5), SEG: model.Ptr(0.25), NTreatment: model.Ptr(30), NControl: model.Ptr(30)},
		{StudyID: "S3", HedgesG: model.Ptr(0.2), SEG: model.Ptr(0.3), NTreatment: model.Ptr(4), NControl: model.Ptr(30)},
	}

	report := validateRows(rows, effectsize.DefaultLimits())
	assert.Equal(t, 3, report.NRows)
	assert.Equal(t, 1, report.NValid)
	assert.Equal(t, 2, report.NInvalid)
	require.Len(t, report.Rows, 3)
	assert.True(t, report.Rows[0].OverallValid)
	assert.Equal(t, "S2", report.Rows[1].StudyID)
	assert.False(t, report.Rows[1].OverallValid)
}

func TestConvertRecords(t *testing.T) {
	input := `[
		{"m1": 12.0, "m2": 10.0, "sd1": 4.0, "sd2": 4.0, "n1": 25, "n2": 25},
		{"note": "nothing usable"}
	]`
	results, err := convertRecords(strings.NewReader(input), effectsize.NewCalculator(effectsize.DefaultLimits()))
	require.NoError(t, err)
	require.Len(t, results, 2)

	g, se := effectsize.MeansToHedgesG(12, 10, 4, 4, 25, 25)
	require.NotNil(t, results[0].G)
	assert.InDelta(t, g, *results[0].G, 1e-9)
	assert.InDelta(t, se, *results[0].SE, 1e-9)
	assert.True(t, results[0].Valid)

	assert.False(t, results[1].Valid)
	assert.Equal(t, []string{effectsize.IssueNoShape}, results[1].Issues)

	_, err = convertRecords(strings.NewReader("{"), effectsize.NewCalculator(effectsize.DefaultLimits()))
	assert.Error(t, err)
}

func TestRecordsByID(t *testing.T) {
	dir := t.TempDir()
	useTestConfig(t)
	writeRecord(t, dir, "S2", 0.3, 0.1, "single_agent")
	writeRecord(t, dir, "S1", 0.5, 0.1, "single_agent")

	records, err := recordsByID(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 0.5, records["S1"].ConsensusEffectSizes[0].HedgesGConsensus)
}

func TestICRPackageFromVerifiedRecords(t *testing.T) {
	useTestConfig(t)
	seedRecords(t)

	records, err := recordsByID(cfg.Paths.Verified)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}

	sampled := reliability.SampleStudies(ids, cfg.Quality.HumanSamplePct, cfg.Quality.ICRSeed, nil)
	assert.Len(t, sampled, 1)

	summary, err := reliability.ExportPackage(cfg.Paths.ICR, sampled, records)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NStudiesSampled)
	assert.FileExists(t, summary.PackagePath)
	assert.FileExists(t, summary.AIValuesPath)
}
