package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/metaextract/internal/db"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlUpsertConsensus = `INSERT INTO consensus_records (study_id, record, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (study_id) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`

	sqlGetConsensus   = `SELECT record FROM consensus_records WHERE study_id = $1`
	sqlListConsensus  = `SELECT record FROM consensus_records ORDER BY study_id LIMIT $1 OFFSET $2`
	sqlLoadDataset    = `SELECT data FROM dataset_rows ORDER BY position`
	sqlInsertQAReport = `INSERT INTO qa_reports (id, report, all_gates_passed, created_at) VALUES ($1, $2, $3, $4)`
	sqlLatestQAReport = `SELECT report FROM qa_reports ORDER BY created_at DESC LIMIT 1`

	sqlUpsertCheckpoint = `INSERT INTO checkpoints (phase, study_ids, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (phase) DO UPDATE SET study_ids = EXCLUDED.study_ids, updated_at = EXCLUDED.updated_at`

	sqlLoadCheckpoint   = `SELECT study_ids, updated_at FROM checkpoints WHERE phase = $1`
	sqlDeleteCheckpoint = `DELETE FROM checkpoints WHERE phase = $1`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"upsert_consensus":  sqlUpsertConsensus,
	"get_consensus":     sqlGetConsensus,
	"upsert_checkpoint": sqlUpsertCheckpoint,
	"load_checkpoint":   sqlLoadCheckpoint,
}

// datasetColumns are the dataset_rows columns loaded by COPY.
var datasetColumns = []string{"position", "study_id", "outcome_label", "hedges_g", "se_g", "data"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS consensus_records (
	study_id   TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dataset_rows (
	position      INTEGER PRIMARY KEY,
	study_id      TEXT NOT NULL,
	outcome_label TEXT NOT NULL,
	hedges_g      DOUBLE PRECISION,
	se_g          DOUBLE PRECISION,
	data          JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS qa_reports (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	report           JSONB NOT NULL,
	all_gates_passed BOOLEAN NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoints (
	phase      TEXT PRIMARY KEY,
	study_ids  JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dataset_rows_study_id ON dataset_rows(study_id);
CREATE INDEX IF NOT EXISTS idx_qa_reports_created_at ON qa_reports(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveConsensus(ctx context.Context, rec *model.ConsensusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal consensus record")
	}
	_, err = s.pool.Exec(ctx, sqlUpsertConsensus, rec.StudyID, data, time.Now().UTC())
	return eris.Wrapf(err, "postgres: upsert consensus %s", rec.StudyID)
}

func (s *PostgresStore) GetConsensus(ctx context.Context, studyID string) (*model.ConsensusRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, sqlGetConsensus, studyID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get consensus %s", studyID)
	}
	return unmarshalRecord(data)
}

func (s *PostgresStore) ListConsensus(ctx context.Context, filter ListFilter) ([]*model.ConsensusRecord, error) {
	rows, err := s.pool.Query(ctx, sqlListConsensus, filter.limit(), filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list consensus")
	}
	defer rows.Close()

	var out []*model.ConsensusRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan consensus")
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list consensus iterate")
}

func (s *PostgresStore) SaveDataset(ctx context.Context, rows []model.FinalDatasetRow) error {
	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal dataset row")
		}
		copyRows[i] = []any{int32(i), r.StudyID, r.OutcomeLabel, r.HedgesG, r.SEG, data}
	}
	_, err := db.ReplaceRows(ctx, s.pool, "dataset_rows", datasetColumns, copyRows)
	return eris.Wrap(err, "postgres: save dataset")
}

func (s *PostgresStore) LoadDataset(ctx context.Context) ([]model.FinalDatasetRow, error) {
	rows, err := s.pool.Query(ctx, sqlLoadDataset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load dataset")
	}
	defer rows.Close()

	var out []model.FinalDatasetRow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dataset row")
		}
		var r model.FinalDatasetRow
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dataset row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load dataset iterate")
}

func (s *PostgresStore) SaveQAReport(ctx context.Context, report *qa.Report) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal qa report")
	}
	id := uuid.New().String()
	if _, err := s.pool.Exec(ctx, sqlInsertQAReport, id, data, report.AllGatesPassed, time.Now().UTC()); err != nil {
		return "", eris.Wrap(err, "postgres: insert qa report")
	}
	return id, nil
}

func (s *PostgresStore) LatestQAReport(ctx context.Context) (*qa.Report, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, sqlLatestQAReport).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest qa report")
	}
	return unmarshalReport(data)
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	ids, err := json.Marshal(studyIDs(cp))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint")
	}
	_, err = s.pool.Exec(ctx, sqlUpsertCheckpoint, cp.Phase, ids, time.Now().UTC())
	return eris.Wrapf(err, "postgres: save checkpoint %s", cp.Phase)
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, phase string) (*model.Checkpoint, error) {
	var ids []byte
	cp := &model.Checkpoint{Phase: phase}
	err := s.pool.QueryRow(ctx, sqlLoadCheckpoint, phase).Scan(&ids, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", phase)
	}
	if err := json.Unmarshal(ids, &cp.StudyIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal checkpoint")
	}
	return cp, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, phase string) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteCheckpoint, phase)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete checkpoint %s", phase)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("checkpoint not found: %s", phase)
	}
	return nil
}
