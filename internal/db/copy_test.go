package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestReplaceRows_NoColumns(t *testing.T) {
	t.Parallel()

	_, err := ReplaceRows(context.Background(), nil, "dataset_rows", nil, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestReplaceRows_Success(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "dataset_rows"`).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCopyFrom(pgx.Identifier{"dataset_rows"}, []string{"a", "b"}).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := ReplaceRows(context.Background(), mock, "dataset_rows", []string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRows_EmptyClearsTable(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "dataset_rows"`).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	n, err := ReplaceRows(context.Background(), mock, "dataset_rows", []string{"a"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRows_CopyError(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "dataset_rows"`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"dataset_rows"}, []string{"a"}).WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err := ReplaceRows(context.Background(), mock, "dataset_rows", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO dataset_rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}
