package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ─── Tests ───

func TestOpen_CreatesFileAndDirectory(t *testing.T) {
	// Path two levels below a directory that does not exist yet.
	dbPath := filepath.Join(t.TempDir(), "data", "hearth", "hearth.db")

	db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if got := db.Path(); got != dbPath {
		t.Errorf("Path() = %q, want %q", got, dbPath)
	}
}

func TestOpen_WALMode(t *testing.T) {
	db := openMigrationTestDB(t)

	var mode string
	if err := db.QueryRowContext(context.Background(),
		"PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_ForeignKeysEnabled(t *testing.T) {
	db := openMigrationTestDB(t)

	var on int
	if err := db.QueryRowContext(context.Background(),
		"PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("querying foreign_keys: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "wal enabled",
			cfg:  Config{Path: "/var/lib/hearth/hearth.db", WALMode: true, BusyTimeout: 5},
			want: "file:/var/lib/hearth/hearth.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		},
		{
			name: "wal disabled",
			cfg:  Config{Path: "hearth.db", WALMode: false, BusyTimeout: 2},
			want: "file:hearth.db?_busy_timeout=2000&_foreign_keys=on",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildDSN(tt.cfg); got != tt.want {
				t.Errorf("buildDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	db := openMigrationTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_ClosedDB(t *testing.T) {
	db := openMigrationTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on closed database returned nil error")
	}
}

func TestClose_ZeroValue(t *testing.T) {
	var db DB
	if err := db.Close(); err != nil {
		t.Errorf("Close() on zero-value DB error = %v", err)
	}
}
