// Package database provides the SQLite store backing rule execution
// history for Hearth Core.
//
// This package manages:
//   - The connection to the single database file, WAL mode optional
//   - Forward-only schema migrations embedded in the binary
//   - Lifecycle: open, health check, close
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are forward-only and additive: new columns are NULLABLE or
// carry a DEFAULT, and nothing is dropped or renamed. Rolling back means
// restoring a backup, not running a down script, so only .up.sql files
// are shipped.
package database
