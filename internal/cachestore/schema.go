package cachestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arrdeck/arrdeck/internal/constants"
)

// migrations[i] moves the database from user_version i to i+1. The cache
// can always be refetched, so a format change may simply drop the table.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			fetched_at INTEGER NOT NULL,
			ttl_ms     INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_fetched_at ON cache_entries(fetched_at)`,
	},
	{
		// Values moved to key-bound XChaCha20 sealing; older rows cannot be opened.
		`DELETE FROM cache_entries`,
	},
}

func applyPragmas(ctx context.Context, db *sql.DB, readOnly bool) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", constants.CacheStoreBusyTimeout.Milliseconds()),
	}
	if !readOnly {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("cachestore: %s: %w", pragma, err)
		}
	}
	return nil
}

// applySchema runs the migrations the database has not seen yet, each in
// its own transaction together with the version bump.
func applySchema(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("cachestore: read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("cachestore: schema version %d is newer than this build (%d)", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("cachestore: migrate to %d: %w", v+1, err)
		}
		stmts := append(migrations[v][:len(migrations[v]):len(migrations[v])], fmt.Sprintf("PRAGMA user_version = %d", v+1))
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("cachestore: migrate to %d: %w", v+1, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("cachestore: migrate to %d: %w", v+1, err)
		}
	}
	return nil
}

func purgeAll(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("cachestore: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
