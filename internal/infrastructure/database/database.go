package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirPermissions restricts the database directory to owner and group.
	dirPermissions = 0750

	// filePermissions restricts the database file to the owner.
	filePermissions = 0600

	// pingTimeout bounds the connectivity check during Open.
	pingTimeout = 5 * time.Second
)

// DB is the engine's handle on its SQLite database. It embeds *sql.DB
// and adds migrations and lifecycle helpers; consumers such as the
// execution history repository query through the embedded handle.
type DB struct {
	*sql.DB
	path string
}

// Config maps to the database section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// The directory is created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging, allowing concurrent reads
	// during writes.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock,
	// in seconds.
	BusyTimeout int
}

// Open opens the SQLite file at cfg.Path, creating the file and its
// directory as needed, and verifies connectivity with a ping.
//
// Parameters:
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database handle
//   - error: If directory creation, open, or the ping fails
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer: SQLite serializes writes anyway, and one connection
	// keeps our own goroutines from racing into SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Owner read/write only. On a fresh install the file appears on the
	// first write, so a chmod failure here is expected and ignored.
	_ = os.Chmod(cfg.Path, filePermissions)

	return db, nil
}

// buildDSN assembles the go-sqlite3 connection string.
// See: https://github.com/mattn/go-sqlite3#connection-string
func buildDSN(cfg Config) string {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return dsn
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection. Safe on a zero-value DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to prove the connection is usable.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
