package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // sqlite driver
)

// Connect opens (or creates) the sqlite database at path, ensuring the parent
// directory exists.
func Connect(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows concurrent readers during writes; the busy timeout makes
	// writers wait instead of returning SQLITE_BUSY immediately.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}

// InitSchema creates the charts table if it doesn't exist.
func InitSchema(conn *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS charts (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		difficulty REAL NOT NULL,
		bpm REAL NOT NULL,
		first_beat INTEGER NOT NULL,
		preview_time INTEGER NOT NULL,
		measure_size INTEGER NOT NULL,
		snaps INTEGER NOT NULL,
		audio_ext TEXT NOT NULL,
		img_ext TEXT,
		credit_audio TEXT,
		credit_img TEXT,
		credit_chart TEXT,
		owner_hash TEXT NOT NULL
	);
	`
	if _, err := conn.Exec(query); err != nil {
		return fmt.Errorf("failed to create charts table: %w", err)
	}
	return nil
}
