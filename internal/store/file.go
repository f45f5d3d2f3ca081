package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultDirPermissions defines the default permissions for storage directories
const DefaultDirPermissions = 0755

// FileStore persists all values as a single JSON object on disk. Writes go to a
// temporary file that is renamed over the previous one.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// NewFileStore opens (or creates) the JSON file given by WithFilePath.
func NewFileStore(opts ...Option) (*FileStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FilePath == "" {
		slog.Error("FileStore path not set")
		return nil, fmt.Errorf("storage file path not set")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), DefaultDirPermissions); err != nil {
		slog.Error("Failed to create storage directory", "error", err, "path", cfg.FilePath)
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &FileStore{path: cfg.FilePath, values: make(map[string]string)}
	data, err := os.ReadFile(cfg.FilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("FileStore starting empty", "path", cfg.FilePath)
	case err != nil:
		return nil, &StorageError{Op: "open", Err: err}
	case len(data) > 0:
		if err := json.Unmarshal(data, &s.values); err != nil {
			slog.Warn("FileStore contents unreadable, starting empty", "path", cfg.FilePath, "error", err)
			s.values = make(map[string]string)
		}
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, key := range keys {
		if _, ok := s.values[key]; ok {
			delete(s.values, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.flush(); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
