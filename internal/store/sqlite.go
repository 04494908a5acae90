package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver
)

const schemaVersion = 1

// sqliteConfig mirrors the teacher's persistence/sqlite.Config: mandatory
// PRAGMAs for WAL concurrency (spec §4.1 "WAL-style concurrency").
type sqliteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func defaultSQLiteConfig() sqliteConfig {
	return sqliteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	}
}

func openDB(path string) (*sql.DB, error) {
	cfg := defaultSQLiteConfig()
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}
	return db, nil
}

// Store is the single-file embedded relational database described in
// spec §4.1. Writers are serialized by SQLite itself; readers run
// concurrently under WAL.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at path and applies the
// schema migration.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id               TEXT PRIMARY KEY,
		path             TEXT NOT NULL UNIQUE,
		kind             TEXT NOT NULL,
		duration_seconds REAL NOT NULL,
		lufs             REAL NOT NULL,
		true_peak_dbtp   REAL NOT NULL,
		energy_level     INTEGER,
		title            TEXT,
		artist           TEXT,
		album            TEXT,
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_kind ON assets(kind);

	CREATE TABLE IF NOT EXISTS play_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id    TEXT NOT NULL,
		played_at   TEXT NOT NULL,
		source      TEXT NOT NULL,
		hour_bucket TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_source_played ON play_history(source, played_at DESC);
	CREATE INDEX IF NOT EXISTS idx_history_asset_played ON play_history(asset_id, played_at DESC);

	CREATE TABLE IF NOT EXISTS scheduler_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS generation_runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		job         TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		status      TEXT NOT NULL,
		output_path TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_generation_runs_started ON generation_runs(started_at DESC);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
