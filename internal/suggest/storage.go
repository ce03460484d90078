// Package suggest maintains a prefix-token index of documents on top of the
// kv object store and answers suggestion queries against it.
//
// Every write runs in one read-write transaction over the documents and
// references collections. Sub-operations are fanned out on the transaction
// and gathered with a join.Counter; the counter's continuation commits, or
// aborts on the first failure.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/join"
	"github.com/Aman-CERP/suggest/internal/kv"
	"github.com/Aman-CERP/suggest/internal/metrics"
	"github.com/Aman-CERP/suggest/internal/tokenizer"
)

// DefaultOpTimeout bounds a single operation.
const DefaultOpTimeout = 30 * time.Second

// Storage is the index coordinator. It is safe for concurrent use; isolation
// between concurrent operations is provided by the store backend.
type Storage struct {
	db        *kv.DB
	tokenizer *tokenizer.Tokenizer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opTimeout time.Duration
}

// Option configures a Storage.
type Option func(*Storage)

// WithTokenizer sets the tokenizer used for documents and queries.
func WithTokenizer(t *tokenizer.Tokenizer) Option {
	return func(s *Storage) { s.tokenizer = t }
}

// WithMetrics records operation metrics. Nil disables them.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Storage) { s.metrics = m }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOpTimeout bounds every operation. Zero or negative disables the bound.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Storage) { s.opTimeout = d }
}

// New creates a Storage over an open store whose schema includes Schema.
func New(db *kv.DB, opts ...Option) *Storage {
	s := &Storage{
		db:        db,
		tokenizer: tokenizer.New(tokenizer.DefaultConfig()),
		logger:    slog.Default(),
		opTimeout: DefaultOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats summarizes the index contents.
type Stats struct {
	Documents int `json:"documents"`
	Postings  int `json:"postings"`
}

// run executes body in a transaction over colls. body issues requests and
// acquires a unit of c for each; run performs the setup release. The
// transaction commits when every unit is released and aborts on the first
// error or when the operation times out.
func (s *Storage) run(ctx context.Context, op string, mode kv.Mode, colls []string, body func(txn *kv.Txn, c *join.Counter)) error {
	if s.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}

	txn, err := s.db.Begin(ctx, mode, colls...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.timeoutError(op, ctxErr, -1)
		}
		return serrors.New(serrors.ErrCodeStoreOperation,
			fmt.Sprintf("%s: failed to begin transaction", op), err)
	}

	result := make(chan error, 1)
	c := join.New()
	c.WhenDone(func(err error) {
		if err != nil {
			txn.Abort(func(error) { result <- err })
			return
		}
		txn.Commit(func(err error) { result <- err })
	})

	body(txn, c)
	c.Release(nil)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
	}

	// The join may have completed at the same instant.
	select {
	case err := <-result:
		return err
	default:
	}

	pending := c.Pending()
	s.logger.Warn("join_stalled",
		slog.String("op", op),
		slog.Int("pending", pending),
		slog.String("error", ctx.Err().Error()))
	txn.Abort(nil)
	return s.timeoutError(op, ctx.Err(), pending)
}

func (s *Storage) timeoutError(op string, cause error, pending int) error {
	if errors.Is(cause, context.Canceled) {
		return serrors.New(serrors.ErrCodeStoreOperation, op+": cancelled", cause)
	}
	e := serrors.New(serrors.ErrCodeOperationTimeout,
		fmt.Sprintf("%s did not complete within %s", op, s.opTimeout), cause)
	if pending >= 0 {
		e = e.WithDetail("pending", strconv.Itoa(pending))
	}
	return e.WithSuggestion("Increase store.op_timeout or check for a stalled store")
}

// storeError classifies a store failure for the document with key. Errors that
// are already structured pass through unchanged.
func storeError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := serrors.As(err); ok {
		return err
	}

	var e *serrors.SuggestError
	switch {
	case errors.Is(err, kv.ErrNotFound):
		e = serrors.New(serrors.ErrCodeDocumentNotFound,
			fmt.Sprintf("document %q not found", key), err)
	case errors.Is(err, kv.ErrKeyExists):
		e = serrors.New(serrors.ErrCodeDuplicateDoc,
			fmt.Sprintf("document %q already exists", key), err).
			WithSuggestion("Use update to change an existing document")
	case errors.Is(err, kv.ErrCorrupt):
		e = serrors.New(serrors.ErrCodeCorruptStore, err.Error(), err)
	default:
		e = serrors.New(serrors.ErrCodeStoreOperation, fmt.Sprintf("%s failed: %v", op, err), err)
	}
	if key != "" {
		e = e.WithDetail("key", key)
	}
	return e.WithDetail("op", op)
}

func validateDocument(typ, id string) error {
	if typ == "" || id == "" {
		return serrors.New(serrors.ErrCodeInvalidDocument, "document type and id are required", nil).
			WithDetail("type", typ).
			WithDetail("id", id)
	}
	return nil
}

// addPostings writes one posting per token of text. done receives the
// posting ids in token order once every write has finished, or the first
// error.
func (s *Storage) addPostings(txn *kv.Txn, key, text string, done func(refs []uint64, err error)) {
	tokens := s.tokenizer.Tokenize(text)
	refs := make([]uint64, len(tokens))

	inner := join.New()
	inner.WhenDone(func(err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(refs, nil)
	})

	for i, tok := range tokens {
		raw, err := json.Marshal(posting{Token: tok, DocumentKey: key})
		if err != nil {
			inner.Release(err)
			return
		}
		inner.Acquire()
		txn.Add(CollectionReferences, raw, func(k kv.Key, err error) {
			if err == nil {
				refs[i] = k.ID()
			}
			inner.Release(err)
		})
	}
	inner.Release(nil)
}

// removePostings deletes the postings with the given ids.
func (s *Storage) removePostings(txn *kv.Txn, refs []uint64, done func(err error)) {
	inner := join.New()
	inner.WhenDone(done)

	for _, ref := range refs {
		inner.Acquire()
		txn.Delete(CollectionReferences, kv.IDKey(ref), inner.Release)
	}
	inner.Release(nil)
}

// putDocument writes rec to the documents collection under one unit of c.
func putDocument(txn *kv.Txn, c *join.Counter, rec indexedDocument, mustBeNew bool) {
	raw, err := json.Marshal(rec)
	if err != nil {
		c.Release(err)
		return
	}
	c.Acquire()
	cb := func(_ kv.Key, err error) { c.Release(err) }
	if mustBeNew {
		txn.Add(CollectionDocuments, raw, cb)
	} else {
		txn.Put(CollectionDocuments, raw, cb)
	}
}

var writeCollections = []string{CollectionDocuments, CollectionReferences}

// InsertDocument indexes doc. Postings are written first, then the document
// record carrying their ids. Inserting an existing key fails with
// ERR_204_DUPLICATE_DOCUMENT and leaves the store unchanged.
func (s *Storage) InsertDocument(ctx context.Context, doc Document) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("insert", start, err) }()

	if err := validateDocument(doc.Type, doc.ID); err != nil {
		return err
	}
	key := doc.Key()

	var written int
	err = s.run(ctx, "insert", kv.ReadWrite, writeCollections, func(txn *kv.Txn, c *join.Counter) {
		c.Acquire()
		s.addPostings(txn, key, doc.Text, func(refs []uint64, err error) {
			if err != nil {
				c.Release(err)
				return
			}
			written = len(refs)
			putDocument(txn, c, indexedDocument{Key: key, Document: doc, TokenRefs: refs}, true)
			c.Release(nil)
		})
	})
	if err != nil {
		err = storeError("insert", key, err)
		s.logger.Debug("document_insert_failed", slog.String("key", key), slog.String("error", err.Error()))
		return err
	}

	s.metrics.AddPostingsWritten(written)
	s.logger.Debug("document_inserted",
		slog.String("key", key),
		slog.Int("postings", written),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// UpdateDocument replaces the document stored under typ and id with the
// result of resolve, which receives the stored document or nil. Postings are
// regenerated only when no document was stored or the text changed; the
// resolved document is always written. Type and ID of the result are forced
// to typ and id so the record stays under its key.
func (s *Storage) UpdateDocument(ctx context.Context, typ, id string, resolve func(stored *Document) Document) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("update", start, err) }()

	if err := validateDocument(typ, id); err != nil {
		return err
	}
	key := DocumentKey(typ, id)

	var (
		written, removed int
		reindexed        bool
	)
	err = s.run(ctx, "update", kv.ReadWrite, writeCollections, func(txn *kv.Txn, c *join.Counter) {
		c.Acquire()
		txn.Get(CollectionDocuments, kv.StringKey(key), func(raw []byte, err error) {
			if err != nil {
				c.Release(err)
				return
			}
			stored, err := decodeDocument(raw)
			if err != nil {
				c.Release(fmt.Errorf("corrupt document record %s: %w", key, err))
				return
			}

			var prev *Document
			if stored != nil {
				d := stored.Document
				prev = &d
			}
			next := resolve(prev)
			next.Type, next.ID = typ, id

			if stored != nil && stored.Document.Text == next.Text {
				putDocument(txn, c, indexedDocument{Key: key, Document: next, TokenRefs: stored.TokenRefs}, false)
				c.Release(nil)
				return
			}

			reindexed = true
			var oldRefs []uint64
			if stored != nil {
				oldRefs = stored.TokenRefs
			}
			s.removePostings(txn, oldRefs, func(err error) {
				if err != nil {
					c.Release(err)
					return
				}
				removed = len(oldRefs)
				s.addPostings(txn, key, next.Text, func(refs []uint64, err error) {
					if err != nil {
						c.Release(err)
						return
					}
					written = len(refs)
					putDocument(txn, c, indexedDocument{Key: key, Document: next, TokenRefs: refs}, false)
					c.Release(nil)
				})
			})
		})
	})
	if err != nil {
		return storeError("update", key, err)
	}

	s.metrics.AddPostingsRemoved(removed)
	s.metrics.AddPostingsWritten(written)
	s.logger.Debug("document_updated",
		slog.String("key", key),
		slog.Bool("reindexed", reindexed),
		slog.Int("postings_removed", removed),
		slog.Int("postings_written", written))
	return nil
}

// DeleteDocument removes the document with key and all of its postings.
// Deleting an absent key fails with ERR_203_DOCUMENT_NOT_FOUND, which also
// matches kv.ErrNotFound.
func (s *Storage) DeleteDocument(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("delete", start, err) }()

	var removed int
	err = s.run(ctx, "delete", kv.ReadWrite, writeCollections, func(txn *kv.Txn, c *join.Counter) {
		c.Acquire()
		txn.Get(CollectionDocuments, kv.StringKey(key), func(raw []byte, err error) {
			if err != nil {
				c.Release(err)
				return
			}
			if raw == nil {
				c.Release(kv.ErrNotFound)
				return
			}
			stored, err := decodeDocument(raw)
			if err != nil {
				c.Release(fmt.Errorf("corrupt document record %s: %w", key, err))
				return
			}

			s.removePostings(txn, stored.TokenRefs, func(err error) {
				if err != nil {
					c.Release(err)
					return
				}
				removed = len(stored.TokenRefs)
				c.Acquire()
				txn.Delete(CollectionDocuments, kv.StringKey(key), c.Release)
				c.Release(nil)
			})
		})
	})
	if err != nil {
		return storeError("delete", key, err)
	}

	s.metrics.AddPostingsRemoved(removed)
	s.logger.Debug("document_deleted", slog.String("key", key), slog.Int("postings_removed", removed))
	return nil
}

// GetDocument returns the document stored under typ and id, or nil when
// there is none.
func (s *Storage) GetDocument(ctx context.Context, typ, id string) (*Document, error) {
	docs, err := s.getDocs(ctx, "get", []string{DocumentKey(typ, id)})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// GetDocs returns the documents stored under keys in the order of keys.
// Absent keys are omitted.
func (s *Storage) GetDocs(ctx context.Context, keys []string) ([]Document, error) {
	return s.getDocs(ctx, "get_docs", keys)
}

func (s *Storage) getDocs(ctx context.Context, op string, keys []string) (docs []Document, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(op, start, err) }()

	if len(keys) == 0 {
		return []Document{}, nil
	}

	found := make([]*Document, len(keys))
	err = s.run(ctx, op, kv.ReadOnly, []string{CollectionDocuments}, func(txn *kv.Txn, c *join.Counter) {
		for i, key := range keys {
			c.Acquire()
			txn.Get(CollectionDocuments, kv.StringKey(key), func(raw []byte, err error) {
				if err != nil {
					c.Release(err)
					return
				}
				rec, err := decodeDocument(raw)
				if err != nil {
					c.Release(fmt.Errorf("corrupt document record %s: %w", key, err))
					return
				}
				if rec != nil {
					found[i] = &rec.Document
				}
				c.Release(nil)
			})
		}
	})
	if err != nil {
		return nil, storeError(op, "", err)
	}

	docs = make([]Document, 0, len(keys))
	for _, d := range found {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	return docs, nil
}

// Stats counts documents and postings.
func (s *Storage) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.run(ctx, "stats", kv.ReadOnly, writeCollections, func(txn *kv.Txn, c *join.Counter) {
		c.Acquire()
		txn.Count(CollectionDocuments, func(n int, err error) {
			st.Documents = n
			c.Release(err)
		})
		c.Acquire()
		txn.Count(CollectionReferences, func(n int, err error) {
			st.Postings = n
			c.Release(err)
		})
	})
	if err != nil {
		return Stats{}, storeError("stats", "", err)
	}
	return st, nil
}
