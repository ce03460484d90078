package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Mode is the access mode of a transaction.
type Mode int

const (
	// ReadOnly transactions reject writes.
	ReadOnly Mode = iota
	// ReadWrite transactions may write to every collection in scope.
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// request is one queued unit of work. fail is used instead of run when the
// transaction has already finished.
type request struct {
	run  func()
	fail func(error)
}

// Txn is an asynchronous transaction over a fixed set of collections.
//
// Every request is queued and executed by a single goroutine owned by the
// transaction; its callback runs on that goroutine before the next request
// starts. Callbacks may issue further requests on the same Txn. A Txn must be
// ended with Commit or Abort; cancelling the context passed to Begin aborts it.
type Txn struct {
	db    *DB
	tx    engineTx
	mode  Mode
	scope map[string]*Collection

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []request
	closing  bool // Commit or Abort has been requested
	finished bool // the engine transaction has ended
	exited   bool // the request loop has returned

	stop func() bool
	done chan struct{}
}

// Begin starts a transaction over the named collections. It blocks until the
// backend grants the transaction.
func (db *DB) Begin(ctx context.Context, mode Mode, collections ...string) (*Txn, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	if len(collections) == 0 {
		return nil, fmt.Errorf("%w: transaction names no collections", ErrNotInScope)
	}

	scope := make(map[string]*Collection, len(collections))
	for _, name := range collections {
		c, ok := db.schema.collection(name)
		if !ok || name == metaCollection {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
		}
		scope[name] = c
	}

	tx, err := db.engine.begin(ctx, mode == ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("failed to begin %s transaction: %w", mode, err)
	}

	t := &Txn{
		db:    db,
		tx:    tx,
		mode:  mode,
		scope: scope,
		done:  make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	t.stop = context.AfterFunc(ctx, func() { t.Abort(nil) })

	go t.loop()
	return t, nil
}

// Done is closed once the transaction has committed or aborted.
func (t *Txn) Done() <-chan struct{} { return t.done }

// Mode returns the access mode.
func (t *Txn) Mode() Mode { return t.mode }

func (t *Txn) loop() {
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.finished {
			t.cond.Wait()
		}
		if len(t.queue) == 0 {
			t.exited = true
			t.mu.Unlock()
			return
		}
		req := t.queue[0]
		t.queue = t.queue[1:]
		finished := t.finished
		t.mu.Unlock()

		if finished {
			req.fail(ErrTxnDone)
			continue
		}
		req.run()
	}
}

// enqueue appends a request, or pushes it to the front when urgent.
func (t *Txn) enqueue(req request, urgent bool) {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		go req.fail(ErrTxnDone)
		return
	}
	if urgent {
		t.queue = append([]request{req}, t.queue...)
	} else {
		t.queue = append(t.queue, req)
	}
	t.mu.Unlock()
	t.cond.Signal()
}

// submit queues a request that must not run after Commit or Abort was
// requested.
func (t *Txn) submit(run func(), fail func(error)) {
	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()
	if closing {
		t.enqueue(request{run: func() { fail(ErrTxnDone) }, fail: fail}, false)
		return
	}
	t.enqueue(request{run: run, fail: fail}, false)
}

// finish ends the engine transaction exactly once.
func (t *Txn) finish(commit bool) error {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return ErrTxnDone
	}
	t.mu.Unlock()

	var err error
	if commit {
		err = t.tx.commit()
		if err != nil {
			_ = t.tx.rollback()
		}
	} else {
		err = t.tx.rollback()
	}

	t.mu.Lock()
	t.finished = true
	t.mu.Unlock()
	t.cond.Broadcast()
	t.stop()
	close(t.done)
	return err
}

// Commit queues a commit behind every request issued so far. cb may be nil.
func (t *Txn) Commit(cb func(error)) {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()

	t.enqueue(request{
		run: func() {
			err := t.finish(true)
			if cb != nil {
				cb(err)
			}
		},
		fail: func(err error) {
			if cb != nil {
				cb(err)
			}
		},
	}, false)
}

// Abort rolls the transaction back ahead of any queued request. Requests that
// were still queued fail with ErrTxnDone. cb may be nil.
func (t *Txn) Abort(cb func(error)) {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()

	t.enqueue(request{
		run: func() {
			err := t.finish(false)
			if cb != nil {
				cb(err)
			}
		},
		fail: func(err error) {
			if cb != nil {
				cb(err)
			}
		},
	}, true)
}

// collection resolves a collection for a request.
func (t *Txn) collection(name string, write bool) (*Collection, error) {
	c, ok := t.scope[name]
	if !ok {
		if _, known := t.db.schema.collection(name); !known {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotInScope, name)
	}
	if write && t.mode != ReadWrite {
		return nil, ErrReadOnly
	}
	return c, nil
}

// Get fetches the value stored under key. A missing key yields (nil, nil).
func (t *Txn) Get(coll string, key Key, cb func([]byte, error)) {
	t.submit(func() {
		if _, err := t.collection(coll, false); err != nil {
			cb(nil, err)
			return
		}
		v, err := t.tx.get(coll, key)
		if errors.Is(err, ErrNotFound) {
			cb(nil, nil)
			return
		}
		cb(v, err)
	}, func(err error) { cb(nil, err) })
}

// Add inserts value and fails with ErrKeyExists if its key is taken.
func (t *Txn) Add(coll string, value []byte, cb func(Key, error)) {
	t.submit(func() {
		cb(t.write(coll, value, true))
	}, func(err error) { cb(nil, err) })
}

// Put inserts or replaces value. Auto-increment collections always receive a
// fresh key.
func (t *Txn) Put(coll string, value []byte, cb func(Key, error)) {
	t.submit(func() {
		cb(t.write(coll, value, false))
	}, func(err error) { cb(nil, err) })
}

func (t *Txn) write(coll string, value []byte, mustBeNew bool) (Key, error) {
	c, err := t.collection(coll, true)
	if err != nil {
		return nil, err
	}

	var key Key
	if c.AutoIncrement {
		id, err := t.tx.nextSequence(coll)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate key in %s: %w", coll, err)
		}
		key = IDKey(id)
	} else {
		s, ok, err := extractKeyPath(value, c.KeyPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s has no %q", ErrInvalidKey, coll, c.KeyPath)
		}
		key = StringKey(s)
	}

	newIdx, err := c.indexValues(value)
	if err != nil {
		return nil, err
	}

	old, err := t.tx.get(coll, key)
	switch {
	case err == nil:
		if mustBeNew {
			return nil, fmt.Errorf("%w: %s/%s", ErrKeyExists, coll, key)
		}
		if err := t.unindex(c, key, old); err != nil {
			return nil, err
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if err := t.tx.set(coll, key, value); err != nil {
		return nil, fmt.Errorf("failed to write %s/%s: %w", coll, key, err)
	}
	for name, v := range newIdx {
		if err := t.tx.indexAdd(coll, name, v, key); err != nil {
			return nil, fmt.Errorf("failed to index %s/%s: %w", coll, key, err)
		}
	}
	return key, nil
}

func (t *Txn) unindex(c *Collection, key Key, value []byte) error {
	oldIdx, err := c.indexValues(value)
	if err != nil {
		return err
	}
	for name, v := range oldIdx {
		if err := t.tx.indexRemove(c.Name, name, v, key); err != nil {
			return fmt.Errorf("failed to unindex %s/%s: %w", c.Name, key, err)
		}
	}
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (t *Txn) Delete(coll string, key Key, cb func(error)) {
	t.submit(func() {
		c, err := t.collection(coll, true)
		if err != nil {
			cb(err)
			return
		}
		old, err := t.tx.get(coll, key)
		if errors.Is(err, ErrNotFound) {
			cb(nil)
			return
		}
		if err != nil {
			cb(err)
			return
		}
		if err := t.unindex(c, key, old); err != nil {
			cb(err)
			return
		}
		cb(t.tx.remove(coll, key))
	}, cb)
}

// Count reports the number of records in coll.
func (t *Txn) Count(coll string, cb func(int, error)) {
	t.submit(func() {
		if _, err := t.collection(coll, false); err != nil {
			cb(0, err)
			return
		}
		cb(t.tx.count(coll))
	}, func(err error) { cb(0, err) })
}

// Cursor walks the records of an index whose value equals a fixed string,
// in primary key order.
type Cursor struct {
	txn   *Txn
	coll  string
	index string
	only  string
	key   Key
	value []byte
	cb    func(*Cursor, error)
}

// Value returns the record at the cursor position.
func (c *Cursor) Value() []byte { return c.value }

// PrimaryKey returns the primary key at the cursor position.
func (c *Cursor) PrimaryKey() Key { return c.key }

// Continue advances the cursor. The callback given to OpenCursor runs again
// with the next position, or with a nil cursor once the range is exhausted.
func (c *Cursor) Continue() {
	after := cloneKey(c.key)
	c.txn.submit(func() {
		c.txn.advance(c.coll, c.index, c.only, after, c.cb)
	}, func(err error) { c.cb(nil, err) })
}

// OpenCursor opens a cursor over the records whose index value equals only.
// cb receives the first position, or a nil cursor when nothing matches.
func (t *Txn) OpenCursor(coll, index, only string, cb func(*Cursor, error)) {
	t.submit(func() {
		c, err := t.collection(coll, false)
		if err != nil {
			cb(nil, err)
			return
		}
		if _, ok := c.index(index); !ok {
			cb(nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, coll, index))
			return
		}
		t.advance(coll, index, only, nil, cb)
	}, func(err error) { cb(nil, err) })
}

func (t *Txn) advance(coll, index, only string, after Key, cb func(*Cursor, error)) {
	for {
		key, err := t.tx.indexSeek(coll, index, only, after)
		if errors.Is(err, ErrNotFound) {
			cb(nil, nil)
			return
		}
		if err != nil {
			cb(nil, err)
			return
		}
		value, err := t.tx.get(coll, key)
		if errors.Is(err, ErrNotFound) {
			// Dangling index entry; skip it.
			after = key
			continue
		}
		if err != nil {
			cb(nil, err)
			return
		}
		cb(&Cursor{txn: t, coll: coll, index: index, only: only, key: key, value: value, cb: cb}, nil)
		return
	}
}
