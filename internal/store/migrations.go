package store

import (
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS observations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    observed_at DATETIME NOT NULL,
    temp_max REAL,
    temp_min REAL,
    humidity REAL,
    pressure REAL,
    wind_speed REAL,
    precipitation REAL,
    cloud_cover REAL,
    condition TEXT,
    source TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_observations_loc_time
    ON observations(latitude, longitude, observed_at);

CREATE TABLE IF NOT EXISTS model_versions (
    run_id TEXT PRIMARY KEY,
    family TEXT NOT NULL,
    version TEXT NOT NULL,
    stage TEXT NOT NULL,
    metrics_json TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    promoted_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_model_versions_family_stage
    ON model_versions(family, stage);

CREATE TABLE IF NOT EXISTS prediction_logs (
    request_id TEXT PRIMARY KEY,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    horizon INTEGER NOT NULL,
    run_id TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    latency_ms REAL NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prediction_logs_created
    ON prediction_logs(created_at);

CREATE TABLE IF NOT EXISTS drift_reports (
    date DATE NOT NULL,
    feature TEXT NOT NULL,
    score REAL NOT NULL,
    is_drifted BOOLEAN NOT NULL,
    threshold REAL NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (date, feature)
);
`,
	},
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT,
    applied_at DATETIME
)`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
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

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

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
	}

	return nil
}
