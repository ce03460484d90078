package kv

import (
	"bytes"
	"context"
	"slices"
)

type indexID struct {
	coll, index, value string
}

// memoryEngine keeps everything in maps. A transaction holds the engine gate
// for its whole life; writes are undone on rollback.
type memoryEngine struct {
	gate    *gate
	records map[string]map[string][]byte
	index   map[indexID][]string
	seqs    map[string]uint64
}

func newMemoryEngine() *memoryEngine {
	return &memoryEngine{
		gate:    newGate(),
		records: make(map[string]map[string][]byte),
		index:   make(map[indexID][]string),
		seqs:    make(map[string]uint64),
	}
}

func (e *memoryEngine) ensureSchema(schema Schema) error {
	if err := e.gate.enter(context.Background(), true); err != nil {
		return err
	}
	defer e.gate.leave(true)
	for _, c := range schema.Collections {
		if e.records[c.Name] == nil {
			e.records[c.Name] = make(map[string][]byte)
		}
	}
	return nil
}

func (e *memoryEngine) begin(ctx context.Context, writable bool) (engineTx, error) {
	if err := e.gate.enter(ctx, writable); err != nil {
		return nil, err
	}
	return &memoryTx{engine: e, writable: writable}, nil
}

func (e *memoryEngine) close() error { return nil }

type memoryTx struct {
	engine   *memoryEngine
	writable bool
	undo     []func()
	done     bool
}

func (t *memoryTx) records(coll string) (map[string][]byte, error) {
	r, ok := t.engine.records[coll]
	if !ok {
		return nil, ErrUnknownCollection
	}
	return r, nil
}

func (t *memoryTx) get(coll string, key Key) ([]byte, error) {
	r, err := t.records(coll)
	if err != nil {
		return nil, err
	}
	v, ok := r[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memoryTx) set(coll string, key Key, value []byte) error {
	r, err := t.records(coll)
	if err != nil {
		return err
	}
	k := string(key)
	old, existed := r[k]
	r[k] = bytes.Clone(value)
	t.undo = append(t.undo, func() {
		if existed {
			r[k] = old
		} else {
			delete(r, k)
		}
	})
	return nil
}

func (t *memoryTx) remove(coll string, key Key) error {
	r, err := t.records(coll)
	if err != nil {
		return err
	}
	k := string(key)
	old, existed := r[k]
	if !existed {
		return nil
	}
	delete(r, k)
	t.undo = append(t.undo, func() { r[k] = old })
	return nil
}

func (t *memoryTx) indexAdd(coll, index, value string, key Key) error {
	id := indexID{coll, index, value}
	keys := t.engine.index[id]
	k := string(key)
	pos, found := slices.BinarySearch(keys, k)
	if found {
		return nil
	}
	t.engine.index[id] = slices.Insert(keys, pos, k)
	t.undo = append(t.undo, func() { t.dropIndexKey(id, k) })
	return nil
}

func (t *memoryTx) indexRemove(coll, index, value string, key Key) error {
	id := indexID{coll, index, value}
	k := string(key)
	if !t.dropIndexKey(id, k) {
		return nil
	}
	t.undo = append(t.undo, func() {
		keys := t.engine.index[id]
		pos, _ := slices.BinarySearch(keys, k)
		t.engine.index[id] = slices.Insert(keys, pos, k)
	})
	return nil
}

func (t *memoryTx) dropIndexKey(id indexID, k string) bool {
	keys := t.engine.index[id]
	pos, found := slices.BinarySearch(keys, k)
	if !found {
		return false
	}
	keys = slices.Delete(keys, pos, pos+1)
	if len(keys) == 0 {
		delete(t.engine.index, id)
	} else {
		t.engine.index[id] = keys
	}
	return true
}

func (t *memoryTx) indexSeek(coll, index, value string, after Key) (Key, error) {
	keys := t.engine.index[indexID{coll, index, value}]
	pos := 0
	if after != nil {
		var found bool
		pos, found = slices.BinarySearch(keys, string(after))
		if found {
			pos++
		}
	}
	if pos >= len(keys) {
		return nil, ErrNotFound
	}
	return Key(keys[pos]), nil
}

func (t *memoryTx) nextSequence(coll string) (uint64, error) {
	prev := t.engine.seqs[coll]
	t.engine.seqs[coll] = prev + 1
	t.undo = append(t.undo, func() { t.engine.seqs[coll] = prev })
	return prev + 1, nil
}

func (t *memoryTx) count(coll string) (int, error) {
	r, err := t.records(coll)
	if err != nil {
		return 0, err
	}
	return len(r), nil
}

func (t *memoryTx) unlock() {
	t.done = true
	t.engine.gate.leave(t.writable)
}

func (t *memoryTx) commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.undo = nil
	t.unlock()
	return nil
}

func (t *memoryTx) rollback() error {
	if t.done {
		return nil
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.unlock()
	return nil
}
