package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/batchflow/internal/platform/logger"
	"github.com/phrazzld/batchflow/internal/store"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*ResultRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewResultRepository(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func TestResultRepository_Merge(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(upsertResultSQL).
		WithArgs("a", []byte(`{"x":1}`), fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(upsertResultSQL).
		WithArgs("b", []byte(`{"x":2}`), fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectQuery(upsertMetaSQL).
		WithArgs(fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"total_count"}).AddRow(7))
	mock.ExpectCommit()

	sum, err := repo.Merge(context.Background(), map[string]json.RawMessage{
		"b": json.RawMessage(`{"x":2}`),
		"a": json.RawMessage(`{"x":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, &store.ResultSummary{Added: 1, Updated: 1, TotalCount: 7}, sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultRepository_MergeRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(upsertResultSQL).
		WithArgs("a", []byte(`nope`), fixedNow).
		WillReturnError(&pgconn.PgError{Code: invalidJSONCode, Message: "invalid input syntax for type json"})
	mock.ExpectRollback()

	_, err := repo.Merge(context.Background(), map[string]json.RawMessage{"a": json.RawMessage(`nope`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultRepository_MergeRejectsEmptyID(t *testing.T) {
	repo, mock := newMockRepo(t)
	_, err := repo.Merge(context.Background(), map[string]json.RawMessage{"": json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultRepository_Load(t *testing.T) {
	t.Run("with metadata", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(selectResultsSQL).
			WillReturnRows(sqlmock.NewRows([]string{"item_id", "payload"}).
				AddRow("a", []byte(`{"x":1}`)).
				AddRow("b", []byte(`{"x":2}`)))
		mock.ExpectQuery(selectMetaSQL).
			WillReturnRows(sqlmock.NewRows([]string{"last_updated", "total_count"}).AddRow(fixedNow, 2))

		rs, err := repo.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, rs.IDs())
		assert.Equal(t, 2, rs.TotalCount)
		assert.Equal(t, fixedNow, rs.LastUpdated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty store", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(selectResultsSQL).
			WillReturnRows(sqlmock.NewRows([]string{"item_id", "payload"}))
		mock.ExpectQuery(selectMetaSQL).WillReturnError(sql.ErrNoRows)

		rs, err := repo.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, rs.TotalCount)
		assert.True(t, rs.LastUpdated.IsZero())
	})

	t.Run("query failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(selectResultsSQL).
			WillReturnError(errors.New("dial postgres://batch:hunter22@db:5432/x: refused"))

		_, err := repo.Load(context.Background())
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "hunter22")
	})
}

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError(nil))
	assert.ErrorIs(t, MapError(sql.ErrNoRows), store.ErrNotFound)
	assert.ErrorIs(t, MapError(&pgconn.PgError{Code: notNullViolationCode, ColumnName: "payload"}), store.ErrInvalidEntity)
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}

func TestSlogGooseLogger(t *testing.T) {
	capture := logger.NewLogCapture(t)
	l := &slogGooseLogger{log: capture.Logger}
	l.Printf("OK   %s", "00001_create_item_results.sql")
	l.Fatalf("failed: %d", 1)
	assert.Equal(t, []string{"INFO OK   00001_create_item_results.sql", "ERROR failed: 1"}, capture.Messages(t))
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	data, err := migrationsFS.ReadFile("migrations/" + entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "item_results")
}
