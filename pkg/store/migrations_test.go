package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions must be sequential")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
	}
}

func TestRunMigrations(t *testing.T) {
	ctx := context.Background()

	t.Run("applies every pending migration in order", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS billing_migrations`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT version FROM billing_migrations`).
			WillReturnRows(sqlmock.NewRows([]string{"version"}))

		for _, m := range GetMigrations() {
			mock.ExpectBegin()
			mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`INSERT INTO billing_migrations`).
				WithArgs(m.Version, m.Description).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
		}

		require.NoError(t, RunMigrations(ctx, db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips already applied versions", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		migrations := GetMigrations()
		rows := sqlmock.NewRows([]string{"version"})
		for _, m := range migrations {
			rows.AddRow(m.Version)
		}

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS billing_migrations`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT version FROM billing_migrations`).
			WillReturnRows(rows)

		require.NoError(t, RunMigrations(ctx, db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a failing migration rolls back and stops", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS billing_migrations`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT version FROM billing_migrations`).
			WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectBegin()
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		err = RunMigrations(ctx, db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to execute migration 1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
