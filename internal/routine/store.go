package routine

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

//go:embed builtin/*.lua
var builtins embed.FS

var (
	ErrNotFound = errors.New("routine not found")
	ErrBuiltin  = errors.New("built-in routines are read-only")
)

// Store reads built-in routines and reads/writes user routines in a directory.
// User routines shadow built-ins of the same name.
type Store struct {
	dir string
}

// NewStore creates a store for dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// sanitizeFilename checks for directory traversal and ensures a valid .lua extension.
func sanitizeFilename(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("routine name must end with .lua")
	}
	cleanName := filepath.Base(name)
	if cleanName != name || cleanName == ".lua" || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("invalid routine name %q", name)
	}
	return cleanName, nil
}

func (s *Store) userPath(name string) (string, error) {
	cleanName, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, cleanName), nil
}

// IsBuiltin reports whether name ships with the binary.
func IsBuiltin(name string) bool {
	_, err := fs.Stat(builtins, "builtin/"+name)
	return err == nil
}

// Code returns the source of the named routine.
func (s *Store) Code(name string) (string, error) {
	path, err := s.userPath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err == nil {
		return string(content), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	content, err = builtins.ReadFile("builtin/" + name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return string(content), nil
}

// Save compiles and writes a user routine.
func (s *Store) Save(name, code string) error {
	path, err := s.userPath(name)
	if err != nil {
		return err
	}
	if err := Check(code); err != nil {
		return fmt.Errorf("routine %s does not compile: %w", name, err)
	}
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		log.Printf("[Lua] Creating routines directory: %s", s.dir)
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return fmt.Errorf("failed to create routines directory: %w", err)
		}
	}
	return os.WriteFile(path, []byte(code), 0644)
}

// Delete removes a user routine.
func (s *Store) Delete(name string) error {
	path, err := s.userPath(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		if IsBuiltin(name) {
			return ErrBuiltin
		}
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// List returns every routine name, built-in and user, sorted.
func (s *Store) List() ([]string, error) {
	seen := make(map[string]bool)

	entries, err := builtins.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		seen[e.Name()] = true
	}

	files, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".lua" {
			seen[file.Name()] = true
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
