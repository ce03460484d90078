package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

type badgerEngine struct {
	db *badger.DB

	// Badger transactions are optimistic; writers pass the gate one at a
	// time so concurrent writes never fail with ErrConflict at commit.
	writers *gate

	seqMu sync.Mutex
	seqs  map[string]*badger.Sequence
}

// openBadger opens a Badger directory at path, or an in-memory instance when
// path is empty.
func openBadger(path string, logger *slog.Logger) (*badgerEngine, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &badgerEngine{db: db, writers: newGate(), seqs: make(map[string]*badger.Sequence)}, nil
}

func badgerRecordPrefix(coll string) []byte { return []byte("r\x00" + coll + "\x00") }

func badgerRecordKey(coll string, key Key) []byte {
	return append(badgerRecordPrefix(coll), key...)
}

func badgerIndexKey(coll, index, value string, key Key) []byte {
	return append([]byte("i\x00"+coll+"\x00"+index+"\x00"), indexEntry(value, key)...)
}

func (e *badgerEngine) ensureSchema(Schema) error { return nil }

func (e *badgerEngine) begin(ctx context.Context, writable bool) (engineTx, error) {
	if writable {
		if err := e.writers.enter(ctx, true); err != nil {
			return nil, err
		}
	}
	return &badgerTx{engine: e, txn: e.db.NewTransaction(writable), writable: writable}, nil
}

// sequence returns the lease-backed sequence for coll.
func (e *badgerEngine) sequence(coll string) (*badger.Sequence, error) {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()

	if s, ok := e.seqs[coll]; ok {
		return s, nil
	}
	s, err := e.db.GetSequence([]byte("s\x00"+coll), 100)
	if err != nil {
		return nil, err
	}
	e.seqs[coll] = s
	return s, nil
}

func (e *badgerEngine) close() error {
	e.seqMu.Lock()
	for coll, s := range e.seqs {
		_ = s.Release()
		delete(e.seqs, coll)
	}
	e.seqMu.Unlock()
	return e.db.Close()
}

type badgerTx struct {
	engine   *badgerEngine
	txn      *badger.Txn
	writable bool
	done     bool
}

func (t *badgerTx) get(coll string, key Key) ([]byte, error) {
	item, err := t.txn.Get(badgerRecordKey(coll, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTx) set(coll string, key Key, value []byte) error {
	return t.txn.Set(badgerRecordKey(coll, key), bytes.Clone(value))
}

func (t *badgerTx) remove(coll string, key Key) error {
	return t.txn.Delete(badgerRecordKey(coll, key))
}

func (t *badgerTx) indexAdd(coll, index, value string, key Key) error {
	return t.txn.Set(badgerIndexKey(coll, index, value, key), []byte{})
}

func (t *badgerTx) indexRemove(coll, index, value string, key Key) error {
	return t.txn.Delete(badgerIndexKey(coll, index, value, key))
}

func (t *badgerTx) indexSeek(coll, index, value string, after Key) (Key, error) {
	prefix := badgerIndexKey(coll, index, value, nil)
	start := badgerIndexKey(coll, index, value, after)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	it.Seek(start)
	if it.ValidForPrefix(prefix) && after != nil && bytes.Equal(it.Item().Key(), start) {
		it.Next()
	}
	if !it.ValidForPrefix(prefix) {
		return nil, ErrNotFound
	}
	return Key(it.Item().KeyCopy(nil)[len(prefix):]), nil
}

func (t *badgerTx) nextSequence(coll string) (uint64, error) {
	s, err := t.engine.sequence(coll)
	if err != nil {
		return 0, err
	}
	n, err := s.Next()
	if err != nil {
		return 0, err
	}
	// Badger sequences start at zero; identifiers start at one.
	return n + 1, nil
}

func (t *badgerTx) count(coll string) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = badgerRecordPrefix(coll)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}

func (t *badgerTx) release() {
	t.done = true
	t.txn.Discard()
	if t.writable {
		t.engine.writers.leave(true)
	}
}

func (t *badgerTx) commit() error {
	if t.done {
		return ErrTxnDone
	}
	var err error
	if t.writable {
		err = t.txn.Commit()
	}
	t.release()
	return err
}

func (t *badgerTx) rollback() error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}
