package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/core"
)

const fileExt = ".json"

// FileStore keeps one JSON file per profile in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profiles directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) (string, error) {
	name, err := ValidateName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+fileExt), nil
}

// Save writes the profile atomically through a temporary file.
func (s *FileStore) Save(name string, state core.EngineState) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(record{Version: recordVersion, SavedAt: time.Now().UTC(), State: state}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".profile-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}

	log.Debug().Str("component", "profile").Str("profile", name).Msg("Profile saved")
	return nil
}

// Load reads a profile.
func (s *FileStore) Load(name string) (core.EngineState, error) {
	path, err := s.path(name)
	if err != nil {
		return core.EngineState{}, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(path)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return core.EngineState{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return core.EngineState{}, err
	}
	return decode(name, data)
}

// List returns profile names, sorted.
func (s *FileStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a profile.
func (s *FileStore) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func decode(name string, data []byte) (core.EngineState, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.EngineState{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	if rec.Version != recordVersion {
		return core.EngineState{}, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, name, rec.Version)
	}
	return rec.State, nil
}
