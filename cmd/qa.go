package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/config"
	"github.com/sells-group/metaextract/internal/dataset"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
)

const qaReportFile = "qa_report.json"

var qaCmd = &cobra.Command{
	Use:   "qa",
	Short: "Assemble the final dataset and run the quality gates",
	Long:  "Flattens consensus records into the final dataset, runs the six quality gates and exports CSV and Excel.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), config.ModeAnalysis)
		if err != nil {
			return err
		}
		defer env.Close()

		_, _, err = runQA(cmd.Context(), env)
		return err
	},
}

// runQA assembles the dataset from the stored consensus records (or the
// verified directory when the store is empty), runs the gates and
// writes the QA report and dataset exports. The dataset and report are also
// saved to the store. Failed gates are reported but do not fail the run.
func runQA(ctx context.Context, env *pipelineEnv) ([]model.FinalDatasetRow, *qa.Report, error) {
	records, err := consensusRecords(ctx, env.Store, cfg.Paths.Verified)
	if err != nil {
		return nil, nil, err
	}
	rows := dataset.Assemble(records)

	report, err := qa.NewChecker(cfg.Quality.Thresholds(), env.Vocab, env.Audit).Run(rows)
	if err != nil {
		return nil, nil, eris.Wrap(err, "run quality gates")
	}
	if err := writeJSONFile(filepath.Join(cfg.Paths.Final, qaReportFile), report); err != nil {
		return nil, nil, err
	}

	if err := exportDataset(cfg.Paths.Final, rows); err != nil {
		return nil, nil, err
	}
	if err := env.Store.SaveDataset(ctx, rows); err != nil {
		return nil, nil, eris.Wrap(err, "save dataset")
	}
	id, err := env.Store.SaveQAReport(ctx, report)
	if err != nil {
		return nil, nil, eris.Wrap(err, "save qa report")
	}

	if failed := report.FailedGates(); len(failed) > 0 {
		zap.L().Warn("quality gates failed", zap.Strings("gates", failed), zap.String("report_id", id))
	}
	return rows, report, nil
}

// exportDataset writes the final dataset as CSV and as a single-sheet
// workbook with the same base name.
func exportDataset(dir string, rows []model.FinalDatasetRow) error {
	csvPath := filepath.Join(dir, dataset.FinalCSV)
	if err := ensureDir(dir); err != nil {
		return err
	}
	if err := dataset.WriteCSVFile(csvPath, model.DatasetColumns, dataset.Records(rows)); err != nil {
		return err
	}
	xlsxPath := strings.TrimSuffix(csvPath, ".csv") + ".xlsx"
	if err := dataset.WriteXLSX(xlsxPath, dataset.SheetName, model.DatasetColumns, dataset.Records(rows)); err != nil {
		return err
	}
	zap.L().Info("final dataset exported",
		zap.String("csv", csvPath),
		zap.String("xlsx", xlsxPath),
		zap.Int("rows", len(rows)),
	)
	return nil
}

func init() {
	rootCmd.AddCommand(qaCmd)
}
