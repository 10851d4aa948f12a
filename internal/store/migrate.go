package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "v1: installations",
		SQL: `
		CREATE TABLE IF NOT EXISTS installations (
			team_id        TEXT PRIMARY KEY,
			team_name      TEXT DEFAULT '',
			team_domain    TEXT DEFAULT '',
			enterprise_id  TEXT DEFAULT '',
			app_id         TEXT DEFAULT '',
			bot_user_id    TEXT DEFAULT '',
			authed_user_id TEXT DEFAULT '',
			scope          TEXT DEFAULT '',
			bot_token      TEXT NOT NULL,
			installed_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_installations_enterprise ON installations(enterprise_id);
		`,
	},
}

// runMigrations applies pending migrations, tracked in schema_version.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}
