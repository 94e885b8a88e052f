package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a SQLite database (pure Go driver),
// so hints survive process restarts.
type SQLiteStore struct {
	db        *sql.DB
	maxScopes int
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path and ensures the
// schema exists.
func NewSQLiteStore(path string, maxScopes int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite memory backend requires a path")
	}
	if maxScopes < 1 {
		maxScopes = DefaultMaxScopes
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	// WAL keeps concurrent runs from serializing on reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS memory_entries (
		scope      TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (scope, key)
	);

	CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory_entries(scope);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating memory schema: %w", err)
	}

	return &SQLiteStore{db: db, maxScopes: maxScopes}, nil
}

// Store creates or overwrites the entry at (scope, key).
func (s *SQLiteStore) Store(ctx context.Context, scope, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_entries (scope, key, value, updated_at)
		 VALUES (?, ?, ?, ?)`,
		scope, key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("storing memory entry: %w", err)
	}
	return nil
}

// Retrieve returns the stored value, or fallback when absent.
func (s *SQLiteStore) Retrieve(ctx context.Context, scope, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM memory_entries WHERE scope = ? AND key = ?`,
		scope, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("retrieving memory entry: %w", err)
	}
	return value, nil
}

// Prune removes the least recently written scopes beyond the bound and
// returns how many scopes were dropped.
func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning prune: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT scope) FROM memory_entries`,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting scopes: %w", err)
	}
	if total <= s.maxScopes {
		return 0, nil
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE scope NOT IN (
			SELECT scope FROM memory_entries
			GROUP BY scope
			ORDER BY MAX(updated_at) DESC, scope ASC
			LIMIT ?
		)`,
		s.maxScopes,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning scopes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total - s.maxScopes, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
