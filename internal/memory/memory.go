// Package memory provides the bounded (scope, key) → value store the
// engine uses for cross-run hints, with in-memory and SQLite backends.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/crucible/internal/config"
)

// ErrUnknownBackend is returned when config names a backend this
// package does not provide.
var ErrUnknownBackend = errors.New("unknown memory backend")

// DefaultMaxScopes bounds scope retention when config does not.
const DefaultMaxScopes = 32

// Store persists small cross-run hints. Entries are created or
// overwritten by Store, read by Retrieve with a caller-supplied
// fallback, and removed only by Prune, which keeps the most recently
// written scopes up to the configured bound.
//
// Implementations are safe for concurrent use across runs.
type Store interface {
	Store(ctx context.Context, scope, key, value string) error
	Retrieve(ctx context.Context, scope, key, fallback string) (string, error)
	Prune(ctx context.Context) (int, error)
	Close() error
}

// New constructs the backend named by cfg.
func New(cfg config.MemoryConfig) (Store, error) {
	switch cfg.Backend {
	case config.MemoryBackendInMem:
		return NewInMemoryStore(cfg.MaxScopes), nil
	case config.MemoryBackendSQLite:
		return NewSQLiteStore(cfg.Path, cfg.MaxScopes)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
