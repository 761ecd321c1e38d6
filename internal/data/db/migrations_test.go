package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "issuebot.db"), DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func openRawConn(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "raw.db")
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "issuebot.db")
	database, err := Open(path, DefaultOpenOptions())
	require.NoError(t, err)
	require.NoError(t, database.Close())
	assert.FileExists(t, path)
}

func TestMigrateUp_FreshDB(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	rows, err := database.Conn().QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var versions []int
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())

	migrations, err := loadMigrations()
	require.NoError(t, err)

	require.Len(t, versions, len(migrations))
	for i, m := range migrations {
		assert.Equal(t, m.version, versions[i])
	}

	_, err = database.Conn().ExecContext(ctx, "SELECT 1 FROM runs LIMIT 0")
	require.NoError(t, err, "runs table should exist")

	_, err = database.Conn().ExecContext(ctx, "SELECT 1 FROM run_actions LIMIT 0")
	require.NoError(t, err, "run_actions table should exist")
}

func TestMigrateUp_Idempotent(t *testing.T) {
	database := openTestDB(t)

	err := migrateUp(context.Background(), database.Conn())
	assert.NoError(t, err, "second migrateUp should be idempotent")
}

func TestMigrateUp_RefusesNewerSchema(t *testing.T) {
	conn := openRawConn(t)
	ctx := context.Background()

	require.NoError(t, migrateUp(ctx, conn))
	_, err := conn.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (99, 'future', 0)")
	require.NoError(t, err)

	err = migrateUp(ctx, conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this build")
}

func TestLoadMigrations_Valid(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.version, "versions are contiguous from 1")
		assert.NotEmpty(t, m.sql, "migration %d SQL should not be empty", m.version)
		assert.NotEmpty(t, m.name, "migration %d name should not be empty", m.version)
	}
}

func TestWithTx_RollsBack(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	err := database.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO runs (id, issue_id, issue_number, state, started_at, finished_at)
			VALUES ('run-x', 1, 1, 'completed', 1, 1)`)
		require.NoError(t, err)
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, database.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count))
	assert.Zero(t, count)
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int
		wantName    string
		wantErr     bool
	}{
		{"0001_runs.sql", 1, "runs", false},
		{"0007_add_pull_request_url.sql", 7, "add_pull_request_url", false},
		{"0100_big_version.sql", 100, "big_version", false},
		{"bad.sql", 0, "", true},
		{"0001_runs.txt", 0, "", true},
		{"0000_zero.sql", 0, "", true},
		{"-1_negative.sql", 0, "", true},
		{"abc_notnumber.sql", 0, "", true},
		{"0001_.sql", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseFilename(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantName, name)
		})
	}
}
