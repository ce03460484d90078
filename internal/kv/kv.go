// Package kv is a transactional, asynchronous object store with named
// collections, auto-assigned or key-path primary keys, and secondary string
// indexes with forward cursors.
//
// Requests issued on a Txn complete through callbacks that run on the
// transaction's own goroutine, strictly in issue order. Several backends
// implement the storage engine: SQLite (default), bbolt, Badger, and an
// in-process memory engine for tests.
package kv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Backend names a storage engine.
type Backend string

const (
	// BackendSQLite stores records in SQLite (modernc.org/sqlite, pure Go).
	BackendSQLite Backend = "sqlite"
	// BackendBolt stores records in a bbolt file.
	BackendBolt Backend = "bolt"
	// BackendBadger stores records in a Badger directory.
	BackendBadger Backend = "badger"
	// BackendMemory keeps records in process memory only.
	BackendMemory Backend = "memory"
)

// Backends lists every supported backend.
var Backends = []Backend{BackendSQLite, BackendBolt, BackendBadger, BackendMemory}

// ParseBackend validates a backend name. Empty selects SQLite.
func ParseBackend(s string) (Backend, error) {
	if s == "" {
		return BackendSQLite, nil
	}
	for _, b := range Backends {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown store backend: %s (valid options: sqlite, bolt, badger, memory)", s)
}

// Options configures Open.
type Options struct {
	// Backend selects the storage engine. Empty selects SQLite.
	Backend Backend
	// Dir is the data directory. Empty opens an in-memory store where the
	// backend supports it.
	Dir string
	// Name is the store name; it becomes the base file name inside Dir.
	Name string
	// Version is the schema version. Zero means 1.
	Version int
	// Schema declares the collections.
	Schema Schema
	// Logger receives store diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// DB is an open store.
type DB struct {
	engine  engine
	backend Backend
	schema  Schema
	version int
	path    string
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// engine is the synchronous storage layer behind a DB.
type engine interface {
	ensureSchema(schema Schema) error
	begin(ctx context.Context, writable bool) (engineTx, error)
	close() error
}

// engineTx is one backend transaction. It is used by a single goroutine.
type engineTx interface {
	get(coll string, key Key) ([]byte, error)
	set(coll string, key Key, value []byte) error
	remove(coll string, key Key) error
	indexAdd(coll, index, value string, key Key) error
	indexRemove(coll, index, value string, key Key) error
	// indexSeek returns the first primary key strictly after `after` among
	// entries of index with exactly value. It returns ErrNotFound when none.
	indexSeek(coll, index, value string, after Key) (Key, error)
	nextSequence(coll string) (uint64, error)
	count(coll string) (int, error)
	commit() error
	rollback() error
}

// Path returns the on-disk location of a store, or "" for in-memory stores.
func Path(backend Backend, dir, name string) string {
	if dir == "" || backend == BackendMemory {
		return ""
	}
	switch backend {
	case BackendBolt:
		return filepath.Join(dir, name+".bolt")
	case BackendBadger:
		return filepath.Join(dir, name+".badger")
	default:
		return filepath.Join(dir, name+".db")
	}
}

// DetectBackend reports which backend an existing store in dir uses, or ""
// when no store exists yet.
func DetectBackend(dir, name string) Backend {
	for _, b := range []Backend{BackendSQLite, BackendBolt, BackendBadger} {
		if _, err := os.Stat(Path(b, dir, name)); err == nil {
			return b
		}
	}
	return ""
}

// Open opens or creates a store and bootstraps its schema.
func Open(ctx context.Context, opts Options) (*DB, error) {
	backend, err := ParseBackend(string(opts.Backend))
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "store"
	}
	if opts.Version <= 0 {
		opts.Version = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	path := Path(backend, opts.Dir, opts.Name)
	if path != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", opts.Dir, err)
		}
	}

	var eng engine
	switch backend {
	case BackendSQLite:
		eng, err = openSQLite(path, opts.Logger)
	case BackendBolt:
		eng, err = openBolt(path)
	case BackendBadger:
		eng, err = openBadger(path, opts.Logger)
	case BackendMemory:
		eng = newMemoryEngine()
	}
	if err != nil {
		return nil, err
	}

	schema := opts.Schema.withMeta()
	if err := eng.ensureSchema(schema); err != nil {
		_ = eng.close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db := &DB{
		engine:  eng,
		backend: backend,
		schema:  schema,
		version: opts.Version,
		path:    path,
		logger:  opts.Logger,
	}
	if err := db.checkVersion(ctx); err != nil {
		_ = eng.close()
		return nil, err
	}

	db.logger.Debug("store_opened",
		slog.String("backend", string(backend)),
		slog.String("path", path),
		slog.Int("version", opts.Version))
	return db, nil
}

// checkVersion persists the schema version on first open and rejects
// downgrades.
func (db *DB) checkVersion(ctx context.Context) error {
	tx, err := db.engine.begin(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to begin version check: %w", err)
	}
	defer func() { _ = tx.rollback() }()

	stored := 0
	raw, err := tx.get(metaCollection, StringKey("version"))
	switch {
	case err == nil:
		v, ok, perr := extractKeyPath(raw, "value")
		if perr != nil || !ok {
			return fmt.Errorf("corrupt version record: %s", raw)
		}
		if stored, perr = strconv.Atoi(v); perr != nil {
			return fmt.Errorf("corrupt version record: %w", perr)
		}
	case err != ErrNotFound:
		return fmt.Errorf("failed to read version: %w", err)
	}

	if stored > db.version {
		return fmt.Errorf("%w: stored %d, requested %d", ErrVersion, stored, db.version)
	}
	if stored == db.version {
		return nil
	}

	record := fmt.Sprintf(`{"key":"version","value":"%d"}`, db.version)
	if err := tx.set(metaCollection, StringKey("version"), []byte(record)); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	if err := tx.commit(); err != nil {
		return fmt.Errorf("failed to commit version: %w", err)
	}
	if stored > 0 {
		db.logger.Info("store_upgraded", slog.Int("from", stored), slog.Int("to", db.version))
	}
	return nil
}

// Backend returns the storage engine in use.
func (db *DB) Backend() Backend { return db.backend }

// Version returns the schema version.
func (db *DB) Version() int { return db.version }

// Path returns the on-disk location, or "" for in-memory stores.
func (db *DB) Path() string { return db.path }

// Close closes the store. It is idempotent.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	return db.engine.close()
}
