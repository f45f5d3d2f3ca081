// Package store provides the local key/value storage backends for triageflow.
//
// Values are opaque strings keyed by name, the same contract as browser local
// storage: the transcript blob, the auth token, identity snapshots and small
// flags all live here. Backends: in-memory, JSON file, SQLite and PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// DefaultFileName is the JSON file used by FileStore inside the state directory.
const DefaultFileName = "storage.json"

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// KV is a string key/value store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// StorageError wraps a backend failure with the operation and key involved.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Opts holds configuration for the storage backends.
type Opts struct {
	DSN      string
	FilePath string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithFilePath sets the JSON file used by FileStore.
func WithFilePath(path string) Option {
	return func(o *Opts) {
		o.FilePath = path
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") ||
		strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Open selects a backend: an empty DSN uses a JSON file in stateDir, otherwise
// the DSN type decides between SQLite and PostgreSQL.
func Open(dsn, stateDir string) (KV, error) {
	if dsn == "" {
		path := filepath.Join(stateDir, DefaultFileName)
		slog.Debug("Store Open using file backend", "path", path)
		return NewFileStore(WithFilePath(path))
	}
	if DetectDSNType(dsn) == "postgres" {
		slog.Debug("Store Open using postgres backend", "dsn_set", true)
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	slog.Debug("Store Open using sqlite backend", "db_path", dsn)
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// GetOptional returns the value for key, or "" when it is absent.
func GetOptional(ctx context.Context, kv KV, key string) (string, error) {
	value, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}
