package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/cleaning"
	"github.com/sells-group/metaextract/internal/metaanalysis"
	"github.com/sells-group/metaextract/internal/model"
)

const analysisReportFile = "meta_analysis_report.json"

var (
	analyzeInput  string
	analyzeOutput string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Pool effect sizes and run bias and subgroup analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := loadAnalysisRows(cmd.Context(), analyzeInput)
		if err != nil {
			return err
		}
		_, err = runAnalyze(rows, orDefault(analyzeOutput, filepath.Join(cfg.Paths.Final, analysisReportFile)))
		return err
	},
}

// runAnalyze analyzes rows and writes the report to outPath.
func runAnalyze(rows []model.FinalDatasetRow, outPath string) (*metaanalysis.Report, error) {
	report, err := metaanalysis.Analyze(rows)
	if err != nil {
		return nil, err
	}
	if err := writeJSONFile(outPath, report); err != nil {
		return nil, err
	}
	zap.L().Info("meta-analysis written",
		zap.String("path", outPath),
		zap.Int("k", report.NEffectSizes),
		zap.Float64("pooled_g", report.Overall.PooledG),
		zap.String("heterogeneity", report.Interpretation),
	)
	return report, nil
}

// datasetRows drops the derived columns of cleaned rows.
func datasetRows(rows []cleaning.Row) []model.FinalDatasetRow {
	out := make([]model.FinalDatasetRow, len(rows))
	for i := range rows {
		out[i] = rows[i].FinalDatasetRow
	}
	return out
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeInput, "input", "", "cleaned dataset CSV or .xlsx (default: paths.final, then the stored snapshot)")
	analyzeCmd.Flags().StringVar(&analyzeOutput, "output", "", "analysis report JSON (default: paths.final)")
	rootCmd.AddCommand(analyzeCmd)
}
