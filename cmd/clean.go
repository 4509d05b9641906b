package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/cleaning"
	"github.com/sells-group/metaextract/internal/dataset"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
)

// Cleaning outputs, written next to the final dataset by default.
const (
	cleanedCSV         = "Agentic_AI_Learning_Outcomes_Analysis_Ready.csv"
	cleaningReportFile = "cleaning_report.json"
)

var (
	cleanInput  string
	cleanOutput string
	cleanReport string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean the final dataset for analysis",
	Long:  "Standardizes designs, removes implausible and small-sample rows, nulls invalid agent codes, flags outliers and adds derived columns.",
	RunE: func(cmd *cobra.Command, args []string) error {
		vocab, err := cfg.Quality.Vocabulary()
		if err != nil {
			return err
		}
		rows, err := loadCleanInput(cmd.Context(), cleanInput)
		if err != nil {
			return err
		}
		_, err = runClean(rows, vocab,
			orDefault(cleanOutput, filepath.Join(cfg.Paths.Final, cleanedCSV)),
			orDefault(cleanReport, filepath.Join(cfg.Paths.Final, cleaningReportFile)),
		)
		return err
	},
}

// runClean cleans rows and writes the cleaned CSV and the cleaning report.
func runClean(rows []model.FinalDatasetRow, vocab qa.Vocabulary, outPath, reportPath string) ([]cleaning.Row, error) {
	cleaned, report := cleaning.Clean(rows, cfg.Quality.CleaningOptions(vocab))

	if err := ensureDir(filepath.Dir(outPath)); err != nil {
		return nil, err
	}
	recs := make([]dataset.Recorder, len(cleaned))
	for i := range cleaned {
		recs[i] = &cleaned[i]
	}
	if err := dataset.WriteCSVFile(outPath, cleaning.Columns(), recs); err != nil {
		return nil, err
	}
	if err := writeJSONFile(reportPath, report); err != nil {
		return nil, err
	}
	zap.L().Info("cleaned dataset written",
		zap.String("path", outPath),
		zap.Int("final_n", report.FinalN),
		zap.Float64("retention_rate", report.RetentionRate),
	)
	return cleaned, nil
}

func init() {
	cleanCmd.Flags().StringVar(&cleanInput, "input", "", "final dataset CSV or .xlsx (default: stored snapshot, then paths.final)")
	cleanCmd.Flags().StringVar(&cleanOutput, "output", "", "cleaned dataset CSV (default: paths.final)")
	cleanCmd.Flags().StringVar(&cleanReport, "report", "", "cleaning report JSON (default: paths.final)")
	rootCmd.AddCommand(cleanCmd)
}
