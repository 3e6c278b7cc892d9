// Package profile persists named lighting profiles.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"kbrgb-controller/internal/core"
)

var (
	ErrNotFound    = errors.New("profile not found")
	ErrInvalidName = errors.New("invalid profile name")
	ErrCorrupt     = errors.New("profile is corrupt")
)

// DefaultName is the profile applied at startup.
const DefaultName = "default"

const maxNameLen = 64

// Store saves and loads engine states by name. Implementations are safe for
// concurrent use.
type Store interface {
	Save(name string, state core.EngineState) error
	Load(name string) (core.EngineState, error)
	List() ([]string, error)
	Delete(name string) error
	Close() error
}

// record is the persisted form of a profile.
type record struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	State   core.EngineState `json:"state"`
}

const recordVersion = 1

// ValidateName trims a profile name and rejects names that are empty, too
// long, or contain anything other than letters, digits, '-', '_' and '.'.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return name, nil
}

// Open creates the store selected by backend ("file" or "sqlite").
func Open(backend, dir, dbPath string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		return OpenSQLite(dbPath)
	}
	return nil, fmt.Errorf("unknown profile backend %q", backend)
}
