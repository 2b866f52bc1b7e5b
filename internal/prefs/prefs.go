// Package prefs persists small per-user preferences, currently the chosen
// notification sound, in a local SQLite database.
package prefs

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const keyRingtone = "ringtone"

// Store wraps the preference database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the preference database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "prefs.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prefs (
			user_id INTEGER NOT NULL,
			key     TEXT    NOT NULL,
			value   TEXT,
			PRIMARY KEY (user_id, key)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create prefs table: %w", err)
	}

	return &Store{db: db}, nil
}

// Ringtone returns the user's chosen ringtone path, or "" when unset.
func (s *Store) Ringtone(userID int) (string, error) {
	return s.get(userID, keyRingtone)
}

// SetRingtone records the user's chosen ringtone path.
func (s *Store) SetRingtone(userID int, path string) error {
	return s.set(userID, keyRingtone, path)
}

func (s *Store) get(userID int, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM prefs WHERE user_id = ? AND key = ?`, userID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read pref %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(userID int, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO prefs (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("write pref %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
