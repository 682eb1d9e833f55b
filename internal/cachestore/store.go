// Package cachestore persists last-known-good fetcher responses across
// process restarts. It is a warm-start aid, never the system of record.
package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/arrdeck/arrdeck/internal/config"
	"github.com/arrdeck/arrdeck/internal/constants"
)

// Options describes parameters for opening a cache store.
type Options struct {
	InstanceName string // Logical instance name (defaults to config.DefaultInstance)
	DBPath       string // Optional override for cache.db path (primarily for tests)
	ReadOnly     bool   // Open database in read-only mode
}

// Store provides access to the cache database.
type Store struct {
	db       *sql.DB
	dbPath   string
	readOnly bool
	sealer   *sealer
}

// NotFoundError indicates a requested cache entry does not exist.
type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("cache entry %s not found", e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open initialises the cache store for the given instance.
func Open(opts Options) (*Store, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		paths, err := config.EnsureInstanceDirs(opts.InstanceName)
		if err != nil {
			return nil, fmt.Errorf("cachestore: ensure instance directories: %w", err)
		}
		dbPath = paths.CacheDB
	} else if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("cachestore: ensure directory: %w", err)
		}
	}

	dsn := dbPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cachestore: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), constants.CacheStoreOpenTimeout)
	defer cancel()

	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}
	if !opts.ReadOnly {
		if err := applySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	keyPath := keyPathFor(dbPath)
	key, err := readKey(keyPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	if key == nil && !opts.ReadOnly {
		// Rows sealed under a lost key are unreadable; the backend still
		// has the data, so start over.
		purged, err := purgeAll(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		if purged > 0 {
			log.Printf("[CacheStore] key %s missing, dropped %d unreadable entries", keyPath, purged)
		}
		if key, err = writeKey(keyPath); err != nil {
			db.Close()
			return nil, err
		}
	}

	store := &Store{db: db, dbPath: dbPath, readOnly: opts.ReadOnly}
	if key != nil {
		if store.sealer, err = newSealer(key); err != nil {
			db.Close()
			return nil, err
		}
	}
	return store, nil
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the filesystem path of the backing database.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("cachestore: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
