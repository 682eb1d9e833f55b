package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entry is one persisted response.
type Entry struct {
	Key       string
	Value     []byte
	FetchedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry is still inside its TTL at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

var errNoKey = errors.New("cachestore: encryption key unavailable")

// Get returns the entry stored under key.
func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	if s.sealer == nil {
		return Entry{}, errNoKey
	}

	var (
		raw       string
		fetchedAt int64
		ttlMs     int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, fetched_at, ttl_ms FROM cache_entries WHERE key = ?`, key,
	).Scan(&raw, &fetchedAt, &ttlMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, NotFoundError{Key: key}
	}
	if err != nil {
		return Entry{}, fmt.Errorf("cachestore: get %s: %w", key, err)
	}

	value, err := s.sealer.open(key, raw)
	if err != nil {
		return Entry{}, fmt.Errorf("cachestore: get %s: %w", key, err)
	}

	return Entry{
		Key:       key,
		Value:     value,
		FetchedAt: time.UnixMilli(fetchedAt),
		TTL:       time.Duration(ttlMs) * time.Millisecond,
	}, nil
}

// Put stores entry, replacing any previous value for the key.
func (s *Store) Put(ctx context.Context, entry Entry) error {
	if s.readOnly {
		return fmt.Errorf("cachestore: put %s: store is read-only", entry.Key)
	}
	if s.sealer == nil {
		return errNoKey
	}

	sealed, err := s.sealer.seal(entry.Key, entry.Value)
	if err != nil {
		return fmt.Errorf("cachestore: seal %s: %w", entry.Key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, fetched_at, ttl_ms, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			fetched_at = excluded.fetched_at,
			ttl_ms = excluded.ttl_ms,
			updated_at = CURRENT_TIMESTAMP
	`, entry.Key, sealed, entry.FetchedAt.UnixMilli(), entry.TTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("cachestore: put %s: %w", entry.Key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cachestore: delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix and returns the count.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`,
			len(prefix), prefix,
		)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cachestore: delete prefix %q: %w", prefix, err)
	}
	return removed, nil
}

// Prune removes entries fetched before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE fetched_at < ?`, cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("cachestore: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("cachestore: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("cachestore: scan key: %w", err)
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cachestore: iterate keys: %w", err)
	}
	return keys, nil
}
