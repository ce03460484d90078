package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/kv"
	"github.com/Aman-CERP/suggest/internal/lock"
	"github.com/Aman-CERP/suggest/internal/metrics"
	"github.com/Aman-CERP/suggest/internal/suggest"
	"github.com/Aman-CERP/suggest/internal/tokenizer"
)

// access is how a command uses the store.
type access int

const (
	readOnly access = iota
	readWrite
)

// openedStore is a Storage together with the data-dir lock guarding it.
type openedStore struct {
	*suggest.Storage
	dataDir string
	lock    *lock.FileLock
}

// Close closes the store and then releases the lock.
func (s *openedStore) Close() error {
	err := s.Storage.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}

// openStore loads the configuration, takes the data-dir lock and opens the
// store. Readers share the lock on SQLite, which supports concurrent
// readers; every other case is exclusive. m may be nil.
func (o *rootOptions) openStore(ctx context.Context, mode access, m *metrics.Metrics) (*openedStore, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	project, err := o.project()
	if err != nil {
		return nil, err
	}
	backend, err := kv.ParseBackend(cfg.Store.Backend)
	if err != nil {
		return nil, serrors.ConfigError("invalid store backend", err)
	}
	logger := o.log()

	dataDir := ""
	var fl *lock.FileLock
	if backend != kv.BackendMemory {
		dataDir = cfg.DataDir(project)
		fl, err = acquireLock(ctx, dataDir, mode == readOnly && backend == kv.BackendSQLite, cfg.OpTimeout())
		if err != nil {
			return nil, err
		}
		if existing := kv.DetectBackend(dataDir, cfg.Store.Name); existing != "" && existing != backend {
			logger.Warn("store_backend_mismatch",
				slog.String("configured", string(backend)),
				slog.String("found", string(existing)),
				slog.String("data_dir", dataDir))
		}
	}

	tok := tokenizer.New(tokenizer.Config{
		PhraseMaxLen: cfg.Tokenizer.PhraseMaxLen,
		TokenMaxLen:  cfg.Tokenizer.TokenMaxLen,
		CacheSize:    cfg.Tokenizer.CacheSize,
	})
	if m != nil {
		tok.SetObserver(m)
	}

	storage, err := suggest.Open(ctx, suggest.StoreConfig{
		Backend: backend,
		Dir:     dataDir,
		Name:    cfg.Store.Name,
		Version: cfg.Store.SchemaVersion,
		Logger:  logger,
	},
		suggest.WithTokenizer(tok),
		suggest.WithMetrics(m),
		suggest.WithOpTimeout(cfg.OpTimeout()),
	)
	if err != nil {
		if fl != nil {
			_ = fl.Unlock()
		}
		return nil, err
	}

	logger.Debug("store_opened",
		slog.String("backend", string(backend)),
		slog.String("path", storage.Path()),
		slog.Bool("shared", fl != nil && fl.IsShared()))
	return &openedStore{Storage: storage, dataDir: dataDir, lock: fl}, nil
}

// acquireLock waits up to timeout for the data-dir lock. Zero waits until
// ctx is done.
func acquireLock(ctx context.Context, dir string, shared bool, timeout time.Duration) (*lock.FileLock, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fl := lock.New(dir)
	var err error
	if shared {
		err = fl.RLock(ctx)
	} else {
		err = fl.Lock(ctx)
	}
	switch {
	case err == nil:
		return fl, nil
	case errors.Is(err, lock.ErrLocked):
		return nil, serrors.New(serrors.ErrCodeStoreLocked, "store is in use by another process", err).
			WithDetail("lock", fl.Path()).
			WithSuggestion("Wait for the other suggest command to finish, or stop a running `suggest watch`.")
	default:
		return nil, serrors.New(serrors.ErrCodeStoreOpen, "failed to lock data directory", err).
			WithDetail("lock", fl.Path())
	}
}
