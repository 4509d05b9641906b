package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/cleaning"
	"github.com/sells-group/metaextract/internal/config"
	"github.com/sells-group/metaextract/internal/consensus"
	"github.com/sells-group/metaextract/internal/dataset"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/store"
)

// consensusPageSize is the ListConsensus page size used when reading every
// stored record.
const consensusPageSize = 500

// consensusRecords returns every stored consensus record. When the store
// holds none it reads the *_consensus.json files under dir instead.
func consensusRecords(ctx context.Context, st store.Store, dir string) ([]*model.ConsensusRecord, error) {
	var records []*model.ConsensusRecord
	for offset := 0; ; offset += consensusPageSize {
		page, err := st.ListConsensus(ctx, store.ListFilter{Limit: consensusPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "list consensus records")
		}
		records = append(records, page...)
		if len(page) < consensusPageSize {
			break
		}
	}
	if len(records) > 0 {
		zap.L().Info("loaded consensus records from store", zap.Int("count", len(records)))
		return records, nil
	}
	return consensus.LoadRecords(dir)
}

// readDataset loads final rows from a CSV file, or from the dataset sheet of
// an .xlsx workbook.
func readDataset(path string) ([]model.FinalDatasetRow, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return dataset.ReadXLSX(path, dataset.SheetName)
	}
	return dataset.ReadCSVFile(path)
}

// storedDataset returns the snapshot saved by the last qa run, or the rows in
// fallback when the store holds none.
func storedDataset(ctx context.Context, st store.Store, fallback string) ([]model.FinalDatasetRow, error) {
	rows, err := st.LoadDataset(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load stored dataset")
	}
	if len(rows) > 0 {
		zap.L().Info("using stored dataset snapshot", zap.Int("rows", len(rows)))
		return rows, nil
	}
	return readDataset(fallback)
}

// loadCleanInput reads input when given. Otherwise it uses the stored
// dataset snapshot, then the final CSV in paths.final.
func loadCleanInput(ctx context.Context, input string) ([]model.FinalDatasetRow, error) {
	if input != "" {
		return readDataset(input)
	}
	env, err := initEnv(ctx, config.ModeAnalysis)
	if err != nil {
		return nil, err
	}
	defer env.Close()
	return storedDataset(ctx, env.Store, filepath.Join(cfg.Paths.Final, dataset.FinalCSV))
}

// loadAnalysisRows reads input when given, else the cleaned CSV in
// paths.final. Without a cleaned file the stored dataset snapshot is cleaned
// in memory.
func loadAnalysisRows(ctx context.Context, input string) ([]model.FinalDatasetRow, error) {
	if input != "" {
		return readDataset(input)
	}
	cleanedPath := filepath.Join(cfg.Paths.Final, cleanedCSV)
	if _, err := os.Stat(cleanedPath); err == nil {
		return readDataset(cleanedPath)
	}

	env, err := initEnv(ctx, config.ModeAnalysis)
	if err != nil {
		return nil, err
	}
	defer env.Close()
	rows, err := env.Store.LoadDataset(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load stored dataset")
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("no cleaned dataset at %s and no stored dataset", cleanedPath)
	}
	cleaned, report := cleaning.Clean(rows, cfg.Quality.CleaningOptions(env.Vocab))
	zap.L().Info("cleaned stored dataset for analysis",
		zap.Int("original_n", report.OriginalN),
		zap.Int("final_n", report.FinalN),
	)
	return datasetRows(cleaned), nil
}
