package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema: user locations",
		SQL: `
CREATE TABLE IF NOT EXISTS user_locations (
    domain_key TEXT NOT NULL COLLATE NOCASE,
    owner_key TEXT NOT NULL COLLATE NOCASE,
    domain TEXT NOT NULL,
    owner TEXT NOT NULL,
    place_name TEXT,
    country TEXT,
    feature_code TEXT,
    longitude REAL NOT NULL,
    latitude REAL NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (domain_key, owner_key),
    CHECK ((place_name IS NULL) = (feature_code IS NULL))
);
`,
	},
	{
		Version:     2,
		Description: "Add delivery_runs table for pipeline auditing",
		SQL: `
CREATE TABLE IF NOT EXISTS delivery_runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    trigger TEXT NOT NULL,
    kind TEXT NOT NULL,
    domain TEXT NOT NULL,
    owner TEXT NOT NULL,
    target TEXT,
    stage TEXT,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_kind TEXT,
    error_message TEXT,
    image_bytes INTEGER
);

CREATE INDEX IF NOT EXISTS idx_delivery_runs_started ON delivery_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_delivery_runs_success ON delivery_runs(success, started_at);
`,
	},
	{
		Version:     3,
		Description: "Add raw_payloads table for forecast response archival",
		SQL: `
CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fetched_at INTEGER NOT NULL,
    endpoint TEXT NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_raw_payloads_fetched ON raw_payloads(fetched_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.log.Info("migrations: applying", zap.Int("version", m.Version), zap.String("description", m.Description))

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		s.log.Info("migrations: completed", zap.Int("version", m.Version))
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
