package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/kbpublish/internal/model"
	_ "modernc.org/sqlite"
)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS identifier_cache (
	entry_type TEXT NOT NULL,
	search_key TEXT NOT NULL,
	identifier TEXT NOT NULL,
	source TEXT NOT NULL,
	query_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_queried_at INTEGER NOT NULL,
	last_validated_at INTEGER NOT NULL,
	PRIMARY KEY (entry_type, search_key)
);

CREATE INDEX IF NOT EXISTS idx_identifier_cache_validated
	ON identifier_cache (last_validated_at);
`

// SQLiteStore implements persistent identifier caching on SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the cache database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	// WAL lets concurrent builds read while a resolution is written
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get retrieves an entry by (type, key)
func (s *SQLiteStore) Get(ctx context.Context, typ model.IdentifierType, key string) (model.IdentifierCacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry_type, search_key, identifier, source, query_count, created_at, last_queried_at, last_validated_at
		 FROM identifier_cache WHERE entry_type = ? AND search_key = ?`, string(typ), key)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return model.IdentifierCacheEntry{}, false, nil
	}
	if err != nil {
		return model.IdentifierCacheEntry{}, false, fmt.Errorf("get %s %q: %w", typ, key, err)
	}
	return entry, true, nil
}

// Put upserts an entry; the latest write wins
func (s *SQLiteStore) Put(ctx context.Context, entry model.IdentifierCacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identifier_cache
			(entry_type, search_key, identifier, source, query_count, created_at, last_queried_at, last_validated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entry_type, search_key) DO UPDATE SET
			identifier = excluded.identifier,
			source = excluded.source,
			query_count = MAX(identifier_cache.query_count, excluded.query_count),
			last_queried_at = MAX(identifier_cache.last_queried_at, excluded.last_queried_at),
			last_validated_at = excluded.last_validated_at`,
		string(entry.Type), entry.Key, entry.Identifier, string(entry.Source), entry.QueryCount,
		toUnix(entry.CreatedAt), toUnix(entry.LastQueriedAt), toUnix(entry.LastValidatedAt),
	)
	if err != nil {
		return fmt.Errorf("put %s %q: %w", entry.Type, entry.Key, err)
	}
	return nil
}

// RecordHit increments the query count and bumps the last-queried time
func (s *SQLiteStore) RecordHit(ctx context.Context, typ model.IdentifierType, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE identifier_cache SET query_count = query_count + 1, last_queried_at = ?
		 WHERE entry_type = ? AND search_key = ?`, toUnix(at), string(typ), key)
	if err != nil {
		return fmt.Errorf("record hit %s %q: %w", typ, key, err)
	}
	return nil
}

// ListStale returns remote-sourced entries last validated before the cutoff, oldest first
func (s *SQLiteStore) ListStale(ctx context.Context, validatedBefore time.Time, limit int) ([]model.IdentifierCacheEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_type, search_key, identifier, source, query_count, created_at, last_queried_at, last_validated_at
		 FROM identifier_cache
		 WHERE source = ? AND last_validated_at < ?
		 ORDER BY last_validated_at ASC
		 LIMIT ?`, string(model.SourceRemote), toUnix(validatedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.IdentifierCacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale entries: %w", err)
	}
	return entries, nil
}

// Delete removes an entry
func (s *SQLiteStore) Delete(ctx context.Context, typ model.IdentifierType, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM identifier_cache WHERE entry_type = ? AND search_key = ?`, string(typ), key)
	if err != nil {
		return fmt.Errorf("delete %s %q: %w", typ, key, err)
	}
	return nil
}

// Clear removes all entries
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identifier_cache`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (model.IdentifierCacheEntry, error) {
	var (
		entry                       model.IdentifierCacheEntry
		typ, source                 string
		created, queried, validated int64
	)
	err := row.Scan(&typ, &entry.Key, &entry.Identifier, &source, &entry.QueryCount, &created, &queried, &validated)
	if err != nil {
		return entry, err
	}
	entry.Type = model.IdentifierType(typ)
	entry.Source = model.ResolutionSource(source)
	entry.CreatedAt = fromUnix(created)
	entry.LastQueriedAt = fromUnix(queried)
	entry.LastValidatedAt = fromUnix(validated)
	return entry, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
