package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and creates the tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// one writer keeps sqlite from returning SQLITE_BUSY under concurrent attempts
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY,
		app_id TEXT NOT NULL,
		version TEXT,
		file_path TEXT UNIQUE,
		size INTEGER,
		downloaded_at TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS catalog_cache (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		body BLOB NOT NULL,
		fetched_at TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}
