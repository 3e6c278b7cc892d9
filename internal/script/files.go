package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const scriptExt = ".lua"

// sanitizeFilename checks for directory traversal and appends the .lua
// extension when missing.
func sanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, scriptExt) {
		name += scriptExt
	}
	cleanName := filepath.Base(name)
	if cleanName != name || cleanName == scriptExt || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("invalid script name %q", name)
	}
	return cleanName, nil
}

// Path returns the safe path of a script within the scripts directory.
func (r *Runner) Path(name string) (string, error) {
	cleanName, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.dir, cleanName), nil
}

// Code returns the source of a script.
func (r *Runner) Code(name string) (string, error) {
	path, err := r.Path(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Save writes a script, creating the scripts directory when needed.
func (r *Runner) Save(name, code string) error {
	path, err := r.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scripts directory: %w", err)
	}
	return os.WriteFile(path, []byte(code), 0o644)
}

// Delete removes a script.
func (r *Runner) Delete(name string) error {
	path, err := r.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// List returns the names of all scripts, sorted.
func (r *Runner) List() ([]string, error) {
	var scripts []string
	files, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return scripts, nil
		}
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == scriptExt {
			scripts = append(scripts, strings.TrimSuffix(file.Name(), scriptExt))
		}
	}
	sort.Strings(scripts)
	return scripts, nil
}
