package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const defaultDBName = "caseline.db"

// Dialects understood by Open and the SQL store.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

type Config struct {
	Workspace string
	Driver    string
	DSN       string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".caseline", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".caseline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database and returns it with its dialect.
// SQLite is the default: one connection, foreign keys on, busy timeout set.
func Open(cfg Config) (*sql.DB, string, error) {
	switch cfg.Driver {
	case Postgres:
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		conn.SetMaxOpenConns(10)
		return conn, Postgres, nil
	case "", SQLite:
	default:
		return nil, "", fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, "", err
	}
	conn, err := OpenSQLiteFile(dbPath(cfg.Workspace))
	if err != nil {
		return nil, "", err
	}
	return conn, SQLite, nil
}

// OpenSQLiteFile opens a SQLite database at path.
func OpenSQLiteFile(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
