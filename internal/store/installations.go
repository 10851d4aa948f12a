// Package store persists OAuth installations in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"slackgate/internal/slackapi"
)

// ErrNotFound is returned by Get when no installation exists for a team.
var ErrNotFound = errors.New("installation not found")

// SQLiteStore implements gateway.InstallationStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies migrations.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Save upserts an installation keyed by team ID.
func (s *SQLiteStore) Save(ctx context.Context, inst slackapi.Installation) error {
	if inst.TeamID == "" {
		return errors.New("installation has no team id")
	}
	installedAt := inst.InstalledAt
	if installedAt.IsZero() {
		installedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installations
			(team_id, team_name, team_domain, enterprise_id, app_id, bot_user_id,
			 authed_user_id, scope, bot_token, installed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(team_id) DO UPDATE SET
			team_name      = excluded.team_name,
			team_domain    = excluded.team_domain,
			enterprise_id  = excluded.enterprise_id,
			app_id         = excluded.app_id,
			bot_user_id    = excluded.bot_user_id,
			authed_user_id = excluded.authed_user_id,
			scope          = excluded.scope,
			bot_token      = excluded.bot_token,
			installed_at   = excluded.installed_at
	`,
		inst.TeamID, inst.TeamName, inst.TeamDomain, inst.EnterpriseID, inst.AppID,
		inst.BotUserID, inst.AuthedUserID, inst.Scope, inst.BotToken,
		installedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save installation %s: %w", inst.TeamID, err)
	}

	s.logger.Debug("installation saved", "team_id", inst.TeamID)
	return nil
}

// Get returns the installation for teamID.
func (s *SQLiteStore) Get(ctx context.Context, teamID string) (slackapi.Installation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT team_id, team_name, team_domain, enterprise_id, app_id, bot_user_id,
		       authed_user_id, scope, bot_token, installed_at
		FROM installations WHERE team_id = ?
	`, teamID)

	var (
		inst        slackapi.Installation
		installedAt string
	)
	err := row.Scan(&inst.TeamID, &inst.TeamName, &inst.TeamDomain, &inst.EnterpriseID,
		&inst.AppID, &inst.BotUserID, &inst.AuthedUserID, &inst.Scope, &inst.BotToken, &installedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return slackapi.Installation{}, fmt.Errorf("%w: %s", ErrNotFound, teamID)
	}
	if err != nil {
		return slackapi.Installation{}, fmt.Errorf("get installation %s: %w", teamID, err)
	}

	if t, perr := time.Parse(time.RFC3339Nano, installedAt); perr == nil {
		inst.InstalledAt = t
	}
	return inst, nil
}

// List returns every installation ordered by team ID.
func (s *SQLiteStore) List(ctx context.Context) ([]slackapi.Installation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id, team_name, team_domain, enterprise_id, app_id, bot_user_id,
		       authed_user_id, scope, installed_at
		FROM installations ORDER BY team_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	defer rows.Close()

	var out []slackapi.Installation
	for rows.Next() {
		var (
			inst        slackapi.Installation
			installedAt string
		)
		if err := rows.Scan(&inst.TeamID, &inst.TeamName, &inst.TeamDomain, &inst.EnterpriseID,
			&inst.AppID, &inst.BotUserID, &inst.AuthedUserID, &inst.Scope, &installedAt); err != nil {
			return nil, fmt.Errorf("scan installation: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, installedAt); perr == nil {
			inst.InstalledAt = t
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
