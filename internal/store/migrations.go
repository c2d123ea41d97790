package store

import (
	"database/sql"
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
CREATE TABLE IF NOT EXISTS traffic (
    date DATE PRIMARY KEY,
    throughput INTEGER,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS weather (
    date DATE NOT NULL,
    airport TEXT NOT NULL,
    snowfall_cm REAL,
    wind_speed_kmh REAL,
    precipitation_mm REAL,
    min_temp_c REAL,
    mean_temp_c REAL,
    is_forecast BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (date, airport)
);

CREATE TABLE IF NOT EXISTS daily_weather_index (
    date DATE PRIMARY KEY,
    national_severity REAL NOT NULL,
    severity_lag1 REAL NOT NULL DEFAULT 0,
    severity_lag2 REAL NOT NULL DEFAULT 0,
    severity_lag3 REAL NOT NULL DEFAULT 0,
    revenge_index REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cancellation_rates (
    date DATE PRIMARY KEY,
    rate REAL NOT NULL,
    source TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS flight_stats (
    date DATE NOT NULL,
    airport TEXT NOT NULL,
    arrivals INTEGER,
    fetched_at DATETIME NOT NULL,
    PRIMARY KEY (date, airport)
);

CREATE TABLE IF NOT EXISTS prediction_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    target_date DATE NOT NULL,
    model_run_date DATE NOT NULL,
    predicted_throughput REAL NOT NULL,
    baseline_prediction REAL,
    weather_index REAL,
    predicted_cancel_rate REAL,
    is_holiday BOOLEAN NOT NULL DEFAULT FALSE,
    holiday_name TEXT,
    flight_volume INTEGER,
    rule_trace TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sniper_predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    target_date DATE NOT NULL,
    predicted_value REAL NOT NULL,
    flight_volume_used INTEGER,
    cancel_velocity REAL,
    weather_index_used REAL,
    is_fallback BOOLEAN NOT NULL DEFAULT FALSE,
    is_data_outage BOOLEAN NOT NULL DEFAULT FALSE,
    model_version TEXT NOT NULL,
    rule_trace TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS fetch_metadata (
    scope TEXT PRIMARY KEY,
    last_run DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS model_artifacts (
    name TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    trained_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prediction_target ON prediction_history(target_date, model_run_date);
CREATE INDEX IF NOT EXISTS idx_sniper_target ON sniper_predictions(target_date);
CREATE INDEX IF NOT EXISTS idx_flight_stats_date ON flight_stats(date);
`,
	},
	{
		Version:     2,
		Description: "Market sentiment snapshots",
		SQL: `
CREATE TABLE IF NOT EXISTS market_sentiment_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    captured_at DATETIME NOT NULL,
    event_slug TEXT NOT NULL,
    outcome_label TEXT NOT NULL,
    probability REAL NOT NULL,
    volume REAL
);

CREATE INDEX IF NOT EXISTS idx_market_slug_time ON market_sentiment_snapshots(event_slug, captured_at);
`,
	},
	{
		Version:     3,
		Description: "Airport disruption events from the airspace status feed",
		SQL: `
CREATE TABLE IF NOT EXISTS airport_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    airport TEXT NOT NULL,
    event_type TEXT NOT NULL,
    reason TEXT,
    avg_delay TEXT,
    started_at TEXT,
    seen_at DATETIME NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_airport_events_active ON airport_events(airport, active);
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

		log.Printf("migrations: completed %d", m.Version)
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
