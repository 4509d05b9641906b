package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
)

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRecord(id string, g float64) *model.ConsensusRecord {
	return &model.ConsensusRecord{
		StudyID:            id,
		ConsensusTimestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ModelResults:       map[string]model.ModelResult{},
		ConsensusEffectSizes: []model.ConsensusEffectSize{
			{OutcomeLabel: "achievement", HedgesGConsensus: g, NModelsAgree: 3, ConsensusQuality: model.QualityThreeAgree},
		},
	}
}

// --- Consensus records ---

func TestSQLite_Consensus_SaveGetList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveConsensus(ctx, testRecord("S2", 0.4)))
	require.NoError(t, st.SaveConsensus(ctx, testRecord("S1", 0.1)))

	got, err := st.GetConsensus(ctx, "S2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "S2", got.StudyID)
	assert.Equal(t, 0.4, got.ConsensusEffectSizes[0].HedgesGConsensus)
	assert.True(t, got.ConsensusTimestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	all, err := st.ListConsensus(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "S1", all[0].StudyID)
	assert.Equal(t, "S2", all[1].StudyID)

	page, err := st.ListConsensus(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "S2", page[0].StudyID)
}

func TestSQLite_Consensus_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveConsensus(ctx, testRecord("S1", 0.1)))
	require.NoError(t, st.SaveConsensus(ctx, testRecord("S1", 0.9)))

	got, err := st.GetConsensus(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.ConsensusEffectSizes[0].HedgesGConsensus)

	all, err := st.ListConsensus(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_Consensus_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetConsensus(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Dataset ---

func TestSQLite_Dataset_Replace(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := []model.FinalDatasetRow{
		{StudyID: "S1", OutcomeLabel: "a", HedgesG: model.Ptr(0.2)},
		{StudyID: "S1", OutcomeLabel: "b"},
	}
	require.NoError(t, st.SaveDataset(ctx, first))

	rows, err := st.LoadDataset(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, rows)

	second := []model.FinalDatasetRow{{StudyID: "S9", OutcomeLabel: "z", SEG: model.Ptr(0.1)}}
	require.NoError(t, st.SaveDataset(ctx, second))

	rows, err = st.LoadDataset(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, rows)
}

// --- QA reports ---

func TestSQLite_QAReport_Latest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	none, err := st.LatestQAReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	id1, err := st.SaveQAReport(ctx, &qa.Report{AllGatesPassed: false, DatasetSummary: qa.DatasetSummary{NStudies: 3}})
	require.NoError(t, err)
	id2, err := st.SaveQAReport(ctx, &qa.Report{AllGatesPassed: true, DatasetSummary: qa.DatasetSummary{NStudies: 4}})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	latest, err := st.LatestQAReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.AllGatesPassed)
	assert.Equal(t, 4, latest.DatasetSummary.NStudies)
}

// --- Checkpoint ---

func TestSQLite_Checkpoint_SaveLoadDelete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cp, err := st.LoadCheckpoint(ctx, "consensus")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, st.SaveCheckpoint(ctx, &model.Checkpoint{Phase: "consensus", StudyIDs: []string{"S1"}}))
	require.NoError(t, st.SaveCheckpoint(ctx, &model.Checkpoint{Phase: "consensus", StudyIDs: []string{"S1", "S2"}}))

	cp, err = st.LoadCheckpoint(ctx, "consensus")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "consensus", cp.Phase)
	assert.Equal(t, []string{"S1", "S2"}, cp.StudyIDs)
	assert.Contains(t, cp.DoneSet(), "S2")
	assert.False(t, cp.UpdatedAt.IsZero())

	require.NoError(t, st.DeleteCheckpoint(ctx, "consensus"))
	cp, err = st.LoadCheckpoint(ctx, "consensus")
	require.NoError(t, err)
	assert.Nil(t, cp)

	err = st.DeleteCheckpoint(ctx, "consensus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint not found")
}

func TestSQLite_Checkpoint_EmptyIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCheckpoint(ctx, &model.Checkpoint{Phase: "qa"}))
	cp, err := st.LoadCheckpoint(ctx, "qa")
	require.NoError(t, err)
	assert.Empty(t, cp.StudyIDs)
}

// --- Open ---

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "open.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	require.NoError(t, st.SaveConsensus(ctx, testRecord("S1", 0.3)))

	_, err = Open(ctx, "mysql", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
