package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

type boltEngine struct {
	db *bolt.DB
	// bbolt's own writer lock cannot be abandoned; writers queue here first.
	writers *gate
}

// openBolt opens a bbolt file. bbolt has no in-memory mode, so path is required.
func openBolt(path string) (*boltEngine, error) {
	if path == "" {
		return nil, errors.New("bolt backend requires a data directory")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrInvalid) || errors.Is(err, bolt.ErrChecksum) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	return &boltEngine{db: db, writers: newGate()}, nil
}

func recordBucket(coll string) []byte { return []byte("c:" + coll) }

func indexBucket(coll, index string) []byte { return []byte("x:" + coll + ":" + index) }

// indexEntry lays out an index key as uvarint(len(value)) | value | pk so
// entries for one value are contiguous and ordered by primary key.
func indexEntry(value string, key Key) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(value)+len(key))
	buf = binary.AppendUvarint(buf, uint64(len(value)))
	buf = append(buf, value...)
	return append(buf, key...)
}

func (e *boltEngine) ensureSchema(schema Schema) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		for _, c := range schema.Collections {
			if _, err := tx.CreateBucketIfNotExists(recordBucket(c.Name)); err != nil {
				return err
			}
			for _, idx := range c.Indexes {
				if _, err := tx.CreateBucketIfNotExists(indexBucket(c.Name, idx.Name)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (e *boltEngine) begin(ctx context.Context, writable bool) (engineTx, error) {
	if writable {
		if err := e.writers.enter(ctx, true); err != nil {
			return nil, err
		}
	}
	tx, err := e.db.Begin(writable)
	if err != nil {
		if writable {
			e.writers.leave(true)
		}
		return nil, err
	}
	return &boltTx{engine: e, tx: tx}, nil
}

func (e *boltEngine) close() error { return e.db.Close() }

type boltTx struct {
	engine *boltEngine
	tx     *bolt.Tx
	done   bool
}

func (t *boltTx) bucket(name []byte) (*bolt.Bucket, error) {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%w: bucket %s", ErrUnknownCollection, name)
	}
	return b, nil
}

func (t *boltTx) get(coll string, key Key) ([]byte, error) {
	b, err := t.bucket(recordBucket(coll))
	if err != nil {
		return nil, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	// Values are only valid for the life of the transaction.
	return bytes.Clone(v), nil
}

func (t *boltTx) set(coll string, key Key, value []byte) error {
	b, err := t.bucket(recordBucket(coll))
	if err != nil {
		return err
	}
	return b.Put(cloneKey(key), bytes.Clone(value))
}

func (t *boltTx) remove(coll string, key Key) error {
	b, err := t.bucket(recordBucket(coll))
	if err != nil {
		return err
	}
	return b.Delete(key)
}

func (t *boltTx) indexAdd(coll, index, value string, key Key) error {
	b, err := t.bucket(indexBucket(coll, index))
	if err != nil {
		return err
	}
	return b.Put(indexEntry(value, key), []byte{})
}

func (t *boltTx) indexRemove(coll, index, value string, key Key) error {
	b, err := t.bucket(indexBucket(coll, index))
	if err != nil {
		return err
	}
	return b.Delete(indexEntry(value, key))
}

func (t *boltTx) indexSeek(coll, index, value string, after Key) (Key, error) {
	b, err := t.bucket(indexBucket(coll, index))
	if err != nil {
		return nil, err
	}
	prefix := indexEntry(value, nil)
	start := indexEntry(value, after)

	c := b.Cursor()
	k, _ := c.Seek(start)
	if k != nil && after != nil && bytes.Equal(k, start) {
		k, _ = c.Next()
	}
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return nil, ErrNotFound
	}
	return Key(bytes.Clone(k[len(prefix):])), nil
}

func (t *boltTx) nextSequence(coll string) (uint64, error) {
	b, err := t.bucket(recordBucket(coll))
	if err != nil {
		return 0, err
	}
	return b.NextSequence()
}

func (t *boltTx) count(coll string) (int, error) {
	b, err := t.bucket(recordBucket(coll))
	if err != nil {
		return 0, err
	}
	return b.Stats().KeyN, nil
}

func (t *boltTx) commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	if !t.tx.Writable() {
		return t.tx.Rollback()
	}
	defer t.engine.writers.leave(true)
	return t.tx.Commit()
}

func (t *boltTx) rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.tx.Writable() {
		defer t.engine.writers.leave(true)
	}
	return t.tx.Rollback()
}
