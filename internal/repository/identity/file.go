package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/exhibit-kiosk/internal/config"
)

// FileStore persists key-value pairs to a YAML file on disk.
type FileStore struct {
	// path is the filesystem location of the YAML file.
	path string
	// mu protects concurrent access to the file.
	mu sync.Mutex
}

// NewFileStore creates a store that reads/writes YAML at the provided path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: filepath.Clean(path),
	}
}

// Get returns the value for key or ErrNotFound.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return "", err
	}

	value, ok := values[key]
	if !ok || value == "" {
		return "", ErrNotFound
	}

	return value, nil
}

// Set stores value under key, keeping other keys.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}

	values[key] = value

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	// Replace atomically.
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}

	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace identity file: %w", err)
	}

	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

// read loads the file; a missing file is an empty store.
func (s *FileStore) read() (map[string]string, error) {
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}

		return nil, fmt.Errorf("read identity file: %w", err)
	}

	values := make(map[string]string)
	if err = yaml.Unmarshal(contents, &values); err != nil {
		return nil, fmt.Errorf("decode identity file: %w", err)
	}

	return values, nil
}
