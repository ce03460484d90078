package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_records (
	coll  TEXT NOT NULL,
	key   BLOB NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (coll, key)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS kv_index (
	coll  TEXT NOT NULL,
	idx   TEXT NOT NULL,
	value TEXT NOT NULL,
	key   BLOB NOT NULL,
	PRIMARY KEY (coll, idx, value, key)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS kv_sequences (
	coll TEXT PRIMARY KEY,
	seq  INTEGER NOT NULL
);
`

type sqliteEngine struct {
	db     *sql.DB
	logger *slog.Logger
}

// validateSQLiteIntegrity checks an existing database before it is opened
// for writing. A missing file is valid.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// openSQLite opens a SQLite store at path, or an in-memory one when path is
// empty.
func openSQLite(path string, logger *slog.Logger) (*sqliteEngine, error) {
	dsn := ":memory:"
	if path != "" {
		if err := validateSQLiteIntegrity(path); err != nil {
			logger.Warn("sqlite_store_corrupted",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes transactions and keeps ":memory:" alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16384",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return &sqliteEngine{db: db, logger: logger}, nil
}

func (e *sqliteEngine) ensureSchema(Schema) error {
	if _, err := e.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (e *sqliteEngine) begin(ctx context.Context, _ bool) (engineTx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

func (e *sqliteEngine) close() error {
	// Checkpoint WAL so the main file is self-contained.
	if _, err := e.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		e.logger.Debug("sqlite_checkpoint_failed", slog.String("error", err.Error()))
	}
	return e.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) get(coll string, key Key) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(`SELECT value FROM kv_records WHERE coll = ? AND key = ?`,
		coll, []byte(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (t *sqliteTx) set(coll string, key Key, value []byte) error {
	_, err := t.tx.Exec(`INSERT INTO kv_records (coll, key, value) VALUES (?, ?, ?)
		ON CONFLICT (coll, key) DO UPDATE SET value = excluded.value`,
		coll, []byte(key), value)
	return err
}

func (t *sqliteTx) remove(coll string, key Key) error {
	_, err := t.tx.Exec(`DELETE FROM kv_records WHERE coll = ? AND key = ?`, coll, []byte(key))
	return err
}

func (t *sqliteTx) indexAdd(coll, index, value string, key Key) error {
	_, err := t.tx.Exec(`INSERT OR IGNORE INTO kv_index (coll, idx, value, key) VALUES (?, ?, ?, ?)`,
		coll, index, value, []byte(key))
	return err
}

func (t *sqliteTx) indexRemove(coll, index, value string, key Key) error {
	_, err := t.tx.Exec(`DELETE FROM kv_index WHERE coll = ? AND idx = ? AND value = ? AND key = ?`,
		coll, index, value, []byte(key))
	return err
}

func (t *sqliteTx) indexSeek(coll, index, value string, after Key) (Key, error) {
	var (
		row *sql.Row
		key []byte
	)
	if after == nil {
		row = t.tx.QueryRow(`SELECT key FROM kv_index
			WHERE coll = ? AND idx = ? AND value = ?
			ORDER BY key LIMIT 1`, coll, index, value)
	} else {
		row = t.tx.QueryRow(`SELECT key FROM kv_index
			WHERE coll = ? AND idx = ? AND value = ? AND key > ?
			ORDER BY key LIMIT 1`, coll, index, value, []byte(after))
	}
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return Key(key), nil
}

func (t *sqliteTx) nextSequence(coll string) (uint64, error) {
	var seq int64
	err := t.tx.QueryRow(`INSERT INTO kv_sequences (coll, seq) VALUES (?, 1)
		ON CONFLICT (coll) DO UPDATE SET seq = seq + 1
		RETURNING seq`, coll).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

func (t *sqliteTx) count(coll string) (int, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM kv_records WHERE coll = ?`, coll).Scan(&n)
	return n, err
}

func (t *sqliteTx) commit() error { return t.tx.Commit() }

func (t *sqliteTx) rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
