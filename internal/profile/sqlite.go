package profile

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/core"
)

// SQLiteStore keeps profiles as JSON payloads in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database and initializes the schema.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			name TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create profiles table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts or replaces a profile, bumping its version.
func (s *SQLiteStore) Save(name string, state core.EngineState) error {
	name, err := ValidateName(name)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	payload, err := json.Marshal(record{Version: recordVersion, SavedAt: now, State: state})
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO profiles (name, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, name, string(payload), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	log.Debug().Str("component", "profile").Str("profile", name).Msg("Profile saved")
	return nil
}

// Load reads a profile.
func (s *SQLiteStore) Load(name string) (core.EngineState, error) {
	name, err := ValidateName(name)
	if err != nil {
		return core.EngineState{}, err
	}

	var payload string
	err = s.db.QueryRow(`SELECT payload FROM profiles WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return core.EngineState{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return core.EngineState{}, err
	}
	return decode(name, []byte(payload))
}

// List returns profile names, sorted.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a profile.
func (s *SQLiteStore) Delete(name string) error {
	name, err := ValidateName(name)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
