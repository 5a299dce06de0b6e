package eventlog

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest history schema version.
const SchemaVersion = 1

// Migrate creates the history tables and records the schema version.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	steps := []struct {
		name string
		sql  string
	}{
		{"create events table", `
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				occurred_at TEXT NOT NULL,
				kind TEXT NOT NULL,
				run_id TEXT NOT NULL DEFAULT '',
				phase TEXT NOT NULL DEFAULT '',
				cycle INTEGER NOT NULL DEFAULT 0,
				description TEXT NOT NULL,
				probe TEXT NULL,
				value REAL NULL,
				limit_c REAL NULL
			);`},
		{"create probe_readings table", `
			CREATE TABLE IF NOT EXISTS probe_readings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				read_at TEXT NOT NULL,
				probe TEXT NOT NULL,
				value REAL NULL,
				valid INTEGER NOT NULL
			);`},
		{"create idx_events_occurred_at", `CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at);`},
		{"create idx_events_run_id", `CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);`},
		{"create idx_probe_readings_probe_at", `CREATE INDEX IF NOT EXISTS idx_probe_readings_probe_at ON probe_readings(probe, read_at);`},
	}
	for _, s := range steps {
		if _, err := tx.Exec(s.sql); err != nil {
			return fmt.Errorf("migrate: %s: %w", s.name, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion); err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	return nil
}
