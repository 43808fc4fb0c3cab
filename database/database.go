package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // Import the SQLite3 driver
)

// Every commit is fsynced (synchronous=FULL) so a returned write survives a crash.
const dsnOptions = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on"

// InitDB opens (creating if needed) the SQLite database at dbPath and verifies the connection.
func InitDB(dbPath string) (*sql.DB, error) {
	// Ensure the directory for the database file exists.
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps SQLite writers from contending with each other.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// createTables creates the channel state schema if it doesn't exist.
func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			target_channel_id TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS action_usage (
			channel_id TEXT NOT NULL,
			action TEXT NOT NULL,
			day TEXT NOT NULL,
			PRIMARY KEY (channel_id, action)
		);`,
		`CREATE TABLE IF NOT EXISTS posted_links (
			channel_id TEXT NOT NULL REFERENCES channels(channel_id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			message_id TEXT NOT NULL,
			target_channel_id TEXT NOT NULL,
			posted_at INTEGER NOT NULL,
			PRIMARY KEY (channel_id, url)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posted_links_posted_at ON posted_links(channel_id, posted_at);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// checkIntegrity runs SQLite's quick integrity check.
func checkIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}
