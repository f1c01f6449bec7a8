package cache

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Backend names accepted by OpenDurable
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendNone   = "none"
)

// DurableStore is the on-disk tier behind the in-memory pool
type DurableStore interface {
	Save(ctx context.Context, e *Entry) error
	Load(ctx context.Context, id string) (*Entry, error)
	Delete(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)

	// FreeRatio is the fraction of allocated storage holding no live data.
	FreeRatio(ctx context.Context) (float64, error)
	Compact(ctx context.Context) error
	Close() error
}

// OpenDurable opens the named backend at path. BackendNone and "" return nil.
func OpenDurable(backend, path string, logger zerolog.Logger) (DurableStore, error) {
	switch backend {
	case "", BackendNone:
		return nil, nil
	case BackendSQLite:
		return NewSQLiteStore(filepath.Clean(path))
	case BackendBadger:
		return NewBadgerStore(BadgerConfig{Path: filepath.Clean(path), Logger: logger})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
