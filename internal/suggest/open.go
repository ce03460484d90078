package suggest

import (
	"context"
	"errors"
	"log/slog"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/kv"
)

// StoreConfig locates the store backing a Storage.
type StoreConfig struct {
	Backend kv.Backend
	// Dir is the data directory. Empty keeps the store in memory where the
	// backend allows it.
	Dir     string
	Name    string
	Version int
	Logger  *slog.Logger
}

// Open opens or creates the store described by cfg and returns a Storage
// over it. The Storage owns the store; Close releases it.
func Open(ctx context.Context, cfg StoreConfig, opts ...Option) (*Storage, error) {
	if cfg.Version <= 0 {
		cfg.Version = SchemaVersion
	}
	db, err := kv.Open(ctx, kv.Options{
		Backend: cfg.Backend,
		Dir:     cfg.Dir,
		Name:    cfg.Name,
		Version: cfg.Version,
		Schema:  Schema,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, openError(cfg, err)
	}
	if cfg.Logger != nil {
		opts = append([]Option{WithLogger(cfg.Logger)}, opts...)
	}
	return New(db, opts...), nil
}

func openError(cfg StoreConfig, err error) error {
	path := kv.Path(cfg.Backend, cfg.Dir, cfg.Name)
	switch {
	case errors.Is(err, kv.ErrCorrupt):
		return serrors.New(serrors.ErrCodeCorruptStore, "store is corrupted", err).
			WithDetail("path", path).
			WithSuggestion("Restore the data directory from a backup or remove it and re-import your documents")
	case errors.Is(err, kv.ErrVersion):
		return serrors.New(serrors.ErrCodeStoreOpen, "store was written by a newer schema version", err).
			WithDetail("path", path).
			WithSuggestion("Upgrade suggest or raise store.schema_version")
	default:
		return serrors.New(serrors.ErrCodeStoreOpen, "failed to open store", err).
			WithDetail("backend", string(cfg.Backend)).
			WithDetail("path", path)
	}
}

// Close closes the underlying store.
func (s *Storage) Close() error { return s.db.Close() }

// Backend returns the engine backing the store.
func (s *Storage) Backend() kv.Backend { return s.db.Backend() }

// Path returns the store's location on disk, or "" for an in-memory store.
func (s *Storage) Path() string { return s.db.Path() }
