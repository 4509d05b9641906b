package cleaning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/metaextract/internal/model"
)

func row(study string, g, se float64) model.FinalDatasetRow {
	return model.FinalDatasetRow{
		StudyID:      study,
		OutcomeLabel: "achievement",
		HedgesG:      model.Ptr(g),
		SEG:          model.Ptr(se),
		DesignType:   "RCT",
		NTreatment:   model.Ptr(20),
		NControl:     model.Ptr(20),
		Architecture: model.Ptr("single_agent"),
	}
}

func TestStandardizeDesign(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" RCT ":              "randomized_controlled_trial",
		"Quasi-Experimental": "quasi_experimental",
		"pretest-posttest":   "pre_post",
		"pre_post":           "pre_post",
		"Case Study":         "case study",
		"":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, StandardizeDesign(in), in)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	small := row("S3", 0.3, 0.2)
	small.NControl = model.Ptr(8)
	badCode := row("S4", 0.1, 0.25)
	badCode.Architecture = model.Ptr("swarm")
	noN := row("S5", -0.2, 0.5)
	noN.NTreatment, noN.NControl = nil, nil

	input := []model.FinalDatasetRow{
		row("S1", 0.5, 0.2),
		row("S2", 6.2, 0.4),
		small,
		badCode,
		noN,
	}
	rows, report := Clean(input, DefaultOptions())

	require.Len(t, rows, 3)
	assert.Equal(t, 5, report.OriginalN)
	assert.Equal(t, 1, report.RemovedInvalidEffectSize)
	assert.Equal(t, 1, report.RemovedSmallSample)
	assert.Equal(t, 0, report.OutliersFlaggedNotRemoved)
	assert.Equal(t, 3, report.FinalN)
	assert.Equal(t, 2, report.TotalRemoved)
	assert.Equal(t, 0.6, report.RetentionRate)

	assert.Equal(t, "randomized_controlled_trial", rows[0].DesignType)
	assert.Equal(t, "RCT", input[0].DesignType)
	assert.Nil(t, rows[1].Architecture)
	assert.Equal(t, "single_agent", *rows[0].Architecture)

	first := rows[0]
	assert.InDelta(t, 0.04, *first.VarG, 1e-12)
	assert.InDelta(t, 0.5-1.96*0.2, *first.CILower95, 1e-12)
	assert.InDelta(t, 0.5+1.96*0.2, *first.CIUpper95, 1e-12)
	assert.InDelta(t, 25, *first.Precision, 1e-9)
	assert.Equal(t, 40, *first.NTotalComputed)
	assert.Equal(t, DirectionPositive, *first.Direction)

	// Precisions 25, 16 and 4 sum to 45.
	assert.Equal(t, 55.56, *rows[0].WeightPct)
	assert.Equal(t, 35.56, *rows[1].WeightPct)
	assert.Equal(t, 8.89, *rows[2].WeightPct)

	assert.Nil(t, rows[2].NTotalComputed)
	assert.Equal(t, DirectionNegative, *rows[2].Direction)
}

func TestClean_Empty(t *testing.T) {
	t.Parallel()

	rows, report := Clean(nil, DefaultOptions())
	assert.Empty(t, rows)
	assert.Equal(t, 0.0, report.RetentionRate)
}

func TestFlagOutliers(t *testing.T) {
	t.Parallel()

	var rows []Row
	for i := 0; i < 19; i++ {
		rows = append(rows, Row{FinalDatasetRow: row(fmt.Sprintf("S%d", i), 0.3, 0.2)})
	}
	rows = append(rows, Row{FinalDatasetRow: row("X", 4.9, 0.2)})

	n := FlagOutliers(rows, 3.5)
	assert.Equal(t, 1, n)
	assert.True(t, rows[19].OutlierFlag)
	assert.False(t, rows[0].OutlierFlag)
}

func TestFlagOutliers_TooFewValues(t *testing.T) {
	t.Parallel()

	rows := []Row{
		{FinalDatasetRow: row("S1", 0.1, 0.1)},
		{FinalDatasetRow: row("S2", 0.2, 0.1)},
		{FinalDatasetRow: row("S3", 4.0, 0.1)},
	}
	assert.Equal(t, 0, FlagOutliers(rows, 1))
}

func TestRow_Record(t *testing.T) {
	t.Parallel()

	rows := []Row{{FinalDatasetRow: row("S1", 0.5, 0.2)}}
	AddDerived(rows)
	rec := rows[0].Record()
	cols := Columns()
	require.Len(t, rec, len(cols))
	assert.Equal(t, "False", rec[len(model.DatasetColumns)])
	assert.Equal(t, "positive", rec[len(rec)-1])
	assert.Equal(t, "100", rec[len(model.DatasetColumns)+5])
}
