package repo_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"caseline/internal/db"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	"caseline/internal/repo/repotest"
)

func TestSQLiteStore(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.Store {
		conn, err := db.OpenSQLiteFile(filepath.Join(t.TempDir(), "caseline.db"))
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, migrate.Migrate(conn, db.SQLite))
		return repo.New(conn, db.SQLite)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.OpenSQLiteFile(filepath.Join(t.TempDir(), "caseline.db"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	var version int
	require.NoError(t, conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	require.Equal(t, 2, version)
}

func TestPostgresPlaceholders(t *testing.T) {
	r := repo.New(nil, db.Postgres)
	require.Equal(t, "UPDATE cases SET status=$1 WHERE id=$2 AND version=$3", repo.Rebind(r, "UPDATE cases SET status=? WHERE id=? AND version=?"))
	require.Equal(t, "SELECT 1", repo.Rebind(repo.New(nil, db.SQLite), "SELECT 1"))
}
