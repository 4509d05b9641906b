package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/qa"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS consensus_records (
	study_id   TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dataset_rows (
	position      INTEGER PRIMARY KEY,
	study_id      TEXT NOT NULL,
	outcome_label TEXT NOT NULL,
	hedges_g      REAL,
	se_g          REAL,
	data          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS qa_reports (
	id               TEXT PRIMARY KEY,
	report           TEXT NOT NULL,
	all_gates_passed INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	phase      TEXT PRIMARY KEY,
	study_ids  TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dataset_rows_study_id ON dataset_rows(study_id);
CREATE INDEX IF NOT EXISTS idx_qa_reports_created_at ON qa_reports(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveConsensus(ctx context.Context, rec *model.ConsensusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal consensus record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consensus_records (study_id, record, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (study_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		rec.StudyID, string(data), formatTime(time.Now()),
	)
	return eris.Wrapf(err, "sqlite: upsert consensus %s", rec.StudyID)
}

func (s *SQLiteStore) GetConsensus(ctx context.Context, studyID string) (*model.ConsensusRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM consensus_records WHERE study_id = ?`, studyID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get consensus %s", studyID)
	}
	return unmarshalRecord([]byte(data))
}

func (s *SQLiteStore) ListConsensus(ctx context.Context, filter ListFilter) ([]*model.ConsensusRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM consensus_records ORDER BY study_id LIMIT ? OFFSET ?`,
		filter.limit(), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list consensus")
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.ConsensusRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan consensus")
		}
		rec, err := unmarshalRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list consensus iterate")
}

func (s *SQLiteStore) SaveDataset(ctx context.Context, rows []model.FinalDatasetRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin dataset tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_rows`); err != nil {
		return eris.Wrap(err, "sqlite: clear dataset")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dataset_rows (position, study_id, outcome_label, hedges_g, se_g, data) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare dataset insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal dataset row")
		}
		if _, err := stmt.ExecContext(ctx, i, r.StudyID, r.OutcomeLabel, r.HedgesG, r.SEG, string(data)); err != nil {
			return eris.Wrapf(err, "sqlite: insert dataset row %d", i)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit dataset")
}

func (s *SQLiteStore) LoadDataset(ctx context.Context) ([]model.FinalDatasetRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM dataset_rows ORDER BY position`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load dataset")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FinalDatasetRow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset row")
		}
		var r model.FinalDatasetRow
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dataset row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load dataset iterate")
}

func (s *SQLiteStore) SaveQAReport(ctx context.Context, report *qa.Report) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal qa report")
	}
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO qa_reports (id, report, all_gates_passed, created_at) VALUES (?, ?, ?, ?)`,
		id, string(data), report.AllGatesPassed, formatTime(time.Now()),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert qa report")
	}
	return id, nil
}

func (s *SQLiteStore) LatestQAReport(ctx context.Context) (*qa.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM qa_reports ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest qa report")
	}
	return unmarshalReport([]byte(data))
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	ids, err := json.Marshal(studyIDs(cp))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (phase, study_ids, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (phase) DO UPDATE SET study_ids = excluded.study_ids, updated_at = excluded.updated_at`,
		cp.Phase, string(ids), formatTime(time.Now()),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", cp.Phase)
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, phase string) (*model.Checkpoint, error) {
	var ids, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT study_ids, updated_at FROM checkpoints WHERE phase = ?`, phase,
	).Scan(&ids, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", phase)
	}
	cp := &model.Checkpoint{Phase: phase}
	if err := json.Unmarshal([]byte(ids), &cp.StudyIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal checkpoint")
	}
	cp.UpdatedAt, err = time.Parse(timeLayout, updated)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse checkpoint time")
	}
	return cp, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, phase string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE phase = ?`, phase)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete checkpoint %s", phase)
	}
	return checkRowsAffected(res, "checkpoint", phase)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func studyIDs(cp *model.Checkpoint) []string {
	if cp.StudyIDs == nil {
		return []string{}
	}
	return cp.StudyIDs
}
