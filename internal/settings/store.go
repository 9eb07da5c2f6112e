package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-myq/internal/infrastructure/config"
)

// Keys written by the bridge for status display.
const (
	KeyConfigured = "myq_configured"
	KeyError      = "myq_error"
)

// Store is a string key-value store. Get reports whether the key exists.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Unset(ctx context.Context, key string) error
	Close() error
}

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("settings: unknown backend")

// New opens the backend selected by cfg. db is required for the sqlite
// backend and ignored otherwise.
func New(ctx context.Context, cfg config.StoreConfig, db *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("settings: sqlite backend needs a database")
		}
		return NewSQLiteStore(db), nil
	case "redis":
		rs, err := NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return rs, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// GetBool reads a "true"/"false" flag. Missing keys read as false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return v == "true", nil
}

// SetBool writes a "true"/"false" flag.
func SetBool(ctx context.Context, s Store, key string, v bool) error {
	if v {
		return s.Set(ctx, key, "true")
	}
	return s.Set(ctx, key, "false")
}
