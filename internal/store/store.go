// Package store persists consensus records, the assembled dataset, QA
// reports and batch checkpoints on SQLite or Postgres.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ListFilter pages through consensus records ordered by study ID.
type ListFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Consensus records, keyed by study ID. Saving an existing ID replaces it.
	SaveConsensus(ctx context.Context, rec *model.ConsensusRecord) error
	GetConsensus(ctx context.Context, studyID string) (*model.ConsensusRecord, error)
	ListConsensus(ctx context.Context, filter ListFilter) ([]*model.ConsensusRecord, error)

	// Final dataset snapshot. Saving replaces the previous snapshot.
	SaveDataset(ctx context.Context, rows []model.FinalDatasetRow) error
	LoadDataset(ctx context.Context) ([]model.FinalDatasetRow, error)

	// QA reports
	SaveQAReport(ctx context.Context, report *qa.Report) (string, error)
	LatestQAReport(ctx context.Context) (*qa.Report, error)

	// Checkpoints, one per phase.
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, phase string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, phase string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store for driver and applies migrations.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "", DriverSQLite:
		s, err = NewSQLite(dsn)
	case DriverPostgres:
		s, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

const defaultListLimit = 1000

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func unmarshalRecord(data []byte) (*model.ConsensusRecord, error) {
	var rec model.ConsensusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal consensus record")
	}
	return &rec, nil
}

func unmarshalReport(data []byte) (*qa.Report, error) {
	var report qa.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal qa report")
	}
	return &report, nil
}
