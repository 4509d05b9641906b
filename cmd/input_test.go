package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/metaextract/internal/config"
	"github.com/sells-group/metaextract/internal/consensus"
	"github.com/sells-group/metaextract/internal/dataset"
	"github.com/sells-group/metaextract/internal/model"
)

func TestConsensusRecords_PrefersStore(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()
	writeRecord(t, cfg.Paths.Verified, "F1", 0.4, 0.2, "single_agent")

	env, err := initEnv(ctx, config.ModeAnalysis)
	require.NoError(t, err)
	defer env.Close()

	// Empty store: the verified directory is used.
	records, err := consensusRecords(ctx, env.Store, cfg.Paths.Verified)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "F1", records[0].StudyID)

	for _, id := range []string{"S3", "S1", "S2"} {
		require.NoError(t, env.Store.SaveConsensus(ctx, testRecord(id, 0.3, 0.15, "multi_agent")))
	}
	records, err = consensusRecords(ctx, env.Store, cfg.Paths.Verified)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "S1", records[0].StudyID)
	assert.Equal(t, "S3", records[2].StudyID)
}

func TestRunQA_FromStore(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeAnalysis)
	require.NoError(t, err)
	defer env.Close()

	for _, id := range []string{"S1", "S2", "S3", "S4"} {
		require.NoError(t, env.Store.SaveConsensus(ctx, testRecord(id, 0.35, 0.2, "single_agent")))
	}
	rows, report, err := runQA(ctx, env)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, 4, report.DatasetSummary.NStudies)
	assert.NoDirExists(t, cfg.Paths.Verified)
}

func TestReadDataset(t *testing.T) {
	useTestConfig(t)
	seedRecords(t)
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeAnalysis)
	require.NoError(t, err)
	rows, _, err := runQA(ctx, env)
	require.NoError(t, err)
	env.Close()

	csvPath := filepath.Join(cfg.Paths.Final, dataset.FinalCSV)
	fromCSV, err := readDataset(csvPath)
	require.NoError(t, err)
	assert.Equal(t, rows, fromCSV)

	fromXLSX, err := readDataset(strings.TrimSuffix(csvPath, ".csv") + ".xlsx")
	require.NoError(t, err)
	require.Len(t, fromXLSX, len(rows))
	for i := range rows {
		assert.Equal(t, rows[i].StudyID, fromXLSX[i].StudyID)
		assert.InDelta(t, *rows[i].HedgesG, *fromXLSX[i].HedgesG, 1e-12)
	}

	_, err = readDataset(filepath.Join(cfg.Paths.Final, "missing.xlsx"))
	assert.Error(t, err)
}

func TestLoadCleanInput_StoredSnapshot(t *testing.T) {
	useTestConfig(t)
	seedRecords(t)
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeAnalysis)
	require.NoError(t, err)
	_, _, err = runQA(ctx, env)
	require.NoError(t, err)
	env.Close()

	require.NoError(t, os.Remove(filepath.Join(cfg.Paths.Final, dataset.FinalCSV)))

	rows, err := loadCleanInput(ctx, "")
	require.NoError(t, err)
	assert.Len(t, rows, 6)

	xlsxPath := filepath.Join(cfg.Paths.Final, strings.TrimSuffix(dataset.FinalCSV, ".csv")+".xlsx")
	rows, err = loadCleanInput(ctx, xlsxPath)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestLoadCleanInput_FileFallback(t *testing.T) {
	useTestConfig(t)
	ctx := context.Background()

	rows := []model.FinalDatasetRow{
		{StudyID: "S1", OutcomeLabel: "achievement", HedgesG: model.Ptr(0.4)},
		{StudyID: "S2", OutcomeLabel: "achievement", HedgesG: model.Ptr(0.1)},
	}
	require.NoError(t, ensureDir(cfg.Paths.Final))
	require.NoError(t, dataset.WriteCSVFile(filepath.Join(cfg.Paths.Final, dataset.FinalCSV),
		model.DatasetColumns, dataset.Records(rows)))

	got, err := loadCleanInput(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "S2", got[1].StudyID)
	assert.Equal(t, 0.1, *got[1].HedgesG)
}

func TestLoadAnalysisRows(t *testing.T) {
	useTestConfig(t)
	seedRecords(t)
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeAnalysis)
	require.NoError(t, err)
	rows, _, err := runQA(ctx, env)
	require.NoError(t, err)
	vocab := env.Vocab
	env.Close()

	// No cleaned file yet: the stored snapshot is cleaned in memory.
	got, err := loadAnalysisRows(ctx, "")
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, "randomized_controlled_trial", got[0].DesignType)
	assert.NoFileExists(t, filepath.Join(cfg.Paths.Final, cleanedCSV))

	_, err = runClean(rows[:2], vocab,
		filepath.Join(cfg.Paths.Final, cleanedCSV),
		filepath.Join(cfg.Paths.Final, cleaningReportFile))
	require.NoError(t, err)

	got, err = loadAnalysisRows(ctx, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestLoadAnalysisRows_NothingToAnalyze(t *testing.T) {
	useTestConfig(t)

	_, err := loadAnalysisRows(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cleaned dataset")
}

func TestRunConsensus_ForceResetsCheckpoint(t *testing.T) {
	useTestConfig(t)
	cfg.Models.Claude.APIKey = "sk-ant"
	cfg.Models.GPT4o.APIKey = "sk-openai"
	cfg.Models.Groq.APIKey = "gsk"
	require.NoError(t, os.MkdirAll(cfg.Paths.Extracted, 0o755))
	ctx := context.Background()

	env, err := initEnv(ctx, config.ModeConsensus)
	require.NoError(t, err)
	defer env.Close()

	require.NoError(t, env.Store.SaveCheckpoint(ctx, &model.Checkpoint{Phase: consensus.Phase, StudyIDs: []string{"S1"}}))

	summary, err := runConsensus(ctx, env, false)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.NStudiesProcessed)
	cp, err := env.Store.LoadCheckpoint(ctx, consensus.Phase)
	require.NoError(t, err)
	require.NotNil(t, cp)

	_, err = runConsensus(ctx, env, true)
	require.NoError(t, err)
	cp, err = env.Store.LoadCheckpoint(ctx, consensus.Phase)
	require.NoError(t, err)
	assert.Nil(t, cp)

	// Forcing with no stored checkpoint is a no-op.
	_, err = runConsensus(ctx, env, true)
	require.NoError(t, err)
}
