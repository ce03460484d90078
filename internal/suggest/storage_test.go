package suggest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/kv"
	"github.com/Aman-CERP/suggest/internal/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, backend kv.Backend, dir string) *kv.DB {
	t.Helper()
	db, err := kv.Open(context.Background(), kv.Options{
		Backend: backend,
		Dir:     dir,
		Name:    "suggestions",
		Version: SchemaVersion,
		Schema:  Schema,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStorage(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	return New(openStore(t, kv.BackendMemory, ""), opts...)
}

// storedRecord reads the persisted envelope for key.
func storedRecord(t *testing.T, s *Storage, key string) *indexedDocument {
	t.Helper()
	txn, err := s.db.Begin(context.Background(), kv.ReadOnly, CollectionDocuments)
	require.NoError(t, err)

	type res struct {
		raw []byte
		err error
	}
	ch := make(chan res, 1)
	txn.Get(CollectionDocuments, kv.StringKey(key), func(raw []byte, err error) { ch <- res{raw, err} })
	r := <-ch
	txn.Commit(nil)
	require.NoError(t, r.err)

	rec, err := decodeDocument(r.raw)
	require.NoError(t, err)
	return rec
}

func keysOf(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key()
	}
	return out
}

func insertAll(t *testing.T, s *Storage, docs ...Document) {
	t.Helper()
	for _, d := range docs {
		require.NoError(t, s.InsertDocument(context.Background(), d))
	}
}

func TestStorage_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	// Given: an inserted document
	doc := Document{Type: "note", ID: "1", Text: "Hello World"}
	require.NoError(t, s.InsertDocument(ctx, doc))

	// When: fetching it back
	got, err := s.GetDocument(ctx, "note", "1")

	// Then: the public document is returned without internal fields
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc, *got)

	// And: the envelope carries one posting id per token
	rec := storedRecord(t, s, "note:1")
	require.NotNil(t, rec)
	assert.Len(t, rec.TokenRefs, len(tokenizer.Tokenize(doc.Text)))

	missing, err := s.GetDocument(ctx, "note", "2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStorage_SearchRoundTrip(t *testing.T) {
	for _, backend := range kv.Backends {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			s := New(openStore(t, backend, t.TempDir()))

			// Given: a document with several words
			doc := Document{Type: "note", ID: "1", Text: "The Quick brown Fox, jumps!"}
			require.NoError(t, s.InsertDocument(ctx, doc))

			// Then: every exact word finds it, in any case or accent form
			for _, word := range []string{"the", "quick", "BROWN", "fox", "jumps", "quíck"} {
				docs, err := s.Search(ctx, word)
				require.NoError(t, err, word)
				assert.Equal(t, []Document{doc}, docs, word)
			}
		})
	}
}

func TestStorage_SearchIntersection(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	// Given: overlapping documents
	insertAll(t, s,
		Document{Type: "v", ID: "1", Text: "red car"},
		Document{Type: "v", ID: "2", Text: "red bike"},
		Document{Type: "v", ID: "3", Text: "blue car"},
	)

	tests := []struct {
		query string
		want  []string
	}{
		{query: "red car", want: []string{"v:1"}},
		{query: "red", want: []string{"v:1", "v:2"}},
		{query: "car", want: []string{"v:1", "v:3"}},
		{query: "ca", want: []string{"v:1", "v:3"}},
		{query: "b", want: []string{"v:2", "v:3"}},
		{query: "blue bike", want: []string{}},
		{query: "zebra", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			docs, err := s.Search(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keysOf(docs))
		})
	}
}

func TestStorage_SearchEmptyQuery(t *testing.T) {
	s := newTestStorage(t)
	insertAll(t, s, Document{Type: "v", ID: "1", Text: "red car"})

	for _, q := range []string{"", "   ", "?!"} {
		docs, err := s.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, docs)
		assert.NotNil(t, docs)
	}
}

func TestStorage_SearchTiesOrderedByKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	// Given: documents inserted in reverse key order
	insertAll(t, s,
		Document{Type: "a", ID: "3", Text: "abe"},
		Document{Type: "a", ID: "1", Text: "abc"},
		Document{Type: "a", ID: "2", Text: "ab abd"},
	)

	// When: every document matches the prefix once
	docs, err := s.Search(ctx, "ab")
	require.NoError(t, err)

	// Then: results are ordered by key
	assert.Equal(t, []string{"a:1", "a:2", "a:3"}, keysOf(docs))
}

func TestStorage_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	insertAll(t, s, Document{Type: "note", ID: "1", Text: "first"})
	before, err := s.Stats(ctx)
	require.NoError(t, err)

	// When: inserting the same key again
	err = s.InsertDocument(ctx, Document{Type: "note", ID: "1", Text: "second text here"})

	// Then: it fails and the aborted postings are rolled back
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeDuplicateDoc))
	assert.ErrorIs(t, err, kv.ErrKeyExists)

	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	docs, err := s.Search(ctx, "second")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStorage_InsertInvalid(t *testing.T) {
	s := newTestStorage(t)

	err := s.InsertDocument(context.Background(), Document{Type: "", ID: "1", Text: "x"})
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeInvalidDocument))

	err = s.UpdateDocument(context.Background(), "note", "", func(*Document) Document { return Document{} })
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeInvalidDocument))
}

func TestStorage_UpdateUnchangedTextKeepsPostings(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	insertAll(t, s, Document{Type: "note", ID: "1", Text: "red car"})
	before := storedRecord(t, s, "note:1")

	// When: updating without changing the text
	var seen *Document
	err := s.UpdateDocument(ctx, "note", "1", func(stored *Document) Document {
		seen = stored
		return *stored
	})
	require.NoError(t, err)

	// Then: resolve saw the stored document and posting ids are identical
	require.NotNil(t, seen)
	assert.Equal(t, "red car", seen.Text)
	after := storedRecord(t, s, "note:1")
	assert.Equal(t, before.TokenRefs, after.TokenRefs)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(before.TokenRefs), st.Postings)
}

func TestStorage_UpdateChangedTextReplacesPostings(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	insertAll(t, s, Document{Type: "note", ID: "1", Text: "red car"})
	before := storedRecord(t, s, "note:1")

	// When: changing the text
	err := s.UpdateDocument(ctx, "note", "1", func(stored *Document) Document {
		d := *stored
		d.Text = "blue bike"
		return d
	})
	require.NoError(t, err)

	// Then: no old posting id survives and the new set matches the new text
	after := storedRecord(t, s, "note:1")
	assert.Len(t, after.TokenRefs, len(tokenizer.Tokenize("blue bike")))
	for _, id := range after.TokenRefs {
		assert.NotContains(t, before.TokenRefs, id)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(after.TokenRefs), st.Postings)

	docs, err := s.Search(ctx, "red")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = s.Search(ctx, "bike")
	require.NoError(t, err)
	assert.Equal(t, []string{"note:1"}, keysOf(docs))
}

func TestStorage_UpdateAbsentCreates(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	// When: updating a key that was never inserted
	err := s.UpdateDocument(ctx, "note", "9", func(stored *Document) Document {
		assert.Nil(t, stored)
		return Document{Text: "fresh text"}
	})
	require.NoError(t, err)

	// Then: the document exists under the requested key and is searchable
	got, err := s.GetDocument(ctx, "note", "9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Document{Type: "note", ID: "9", Text: "fresh text"}, *got)

	docs, err := s.Search(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, []string{"note:9"}, keysOf(docs))
}

func TestStorage_DeleteCleansUp(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	insertAll(t, s,
		Document{Type: "note", ID: "1", Text: "red car"},
		Document{Type: "note", ID: "2", Text: "green tree"},
	)
	kept := storedRecord(t, s, "note:2")

	// When: deleting one document
	require.NoError(t, s.DeleteDocument(ctx, "note:1"))

	// Then: it is gone along with exactly its postings
	got, err := s.GetDocument(ctx, "note", "1")
	require.NoError(t, err)
	assert.Nil(t, got)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Documents: 1, Postings: len(kept.TokenRefs)}, st)

	docs, err := s.Search(ctx, "red")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStorage_DeleteAbsent(t *testing.T) {
	s := newTestStorage(t)

	err := s.DeleteDocument(context.Background(), "note:404")

	require.Error(t, err)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeDocumentNotFound))
}

func TestStorage_GetDocsOmitsAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	insertAll(t, s,
		Document{Type: "x", ID: "1", Text: "one"},
		Document{Type: "x", ID: "3", Text: "three"},
	)

	docs, err := s.GetDocs(ctx, []string{"x:1", "x:2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x:1"}, keysOf(docs))

	// Order follows the requested keys
	docs, err = s.GetDocs(ctx, []string{"x:3", "x:2", "x:1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x:3", "x:1"}, keysOf(docs))

	docs, err = s.GetDocs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStorage_EmptyTextDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	// A document without tokens is stored with no postings
	require.NoError(t, s.InsertDocument(ctx, Document{Type: "note", ID: "e", Text: ""}))
	rec := storedRecord(t, s, "note:e")
	require.NotNil(t, rec)
	assert.Empty(t, rec.TokenRefs)

	require.NoError(t, s.DeleteDocument(ctx, "note:e"))
}

func TestStorage_OperationTimeout(t *testing.T) {
	// Given: a SQLite store whose only connection is held by another transaction
	db := openStore(t, kv.BackendSQLite, "")
	s := New(db, WithOpTimeout(50*time.Millisecond))

	held, err := db.Begin(context.Background(), kv.ReadWrite, CollectionDocuments)
	require.NoError(t, err)

	// When: an insert cannot begin in time
	err = s.InsertDocument(context.Background(), Document{Type: "note", ID: "1", Text: "late"})

	// Then: it reports a timeout
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeOperationTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	done := make(chan error, 1)
	held.Abort(func(err error) { done <- err })
	require.NoError(t, <-done)

	// And: the store works again afterwards
	require.NoError(t, s.InsertDocument(context.Background(), Document{Type: "note", ID: "1", Text: "late"}))
}

func TestStorage_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	errs := make(chan error, 20)
	for i := range 20 {
		go func() {
			errs <- s.InsertDocument(ctx, Document{Type: "n", ID: string(rune('a' + i)), Text: "shared word"})
		}()
	}
	for range 20 {
		require.NoError(t, <-errs)
	}

	docs, err := s.Search(ctx, "shared word")
	require.NoError(t, err)
	assert.Len(t, docs, 20)
}

func TestSplitKey(t *testing.T) {
	typ, id, ok := SplitKey("note:a:b")
	assert.True(t, ok)
	assert.Equal(t, "note", typ)
	assert.Equal(t, "a:b", id)

	for _, bad := range []string{"nokey", ":id", "type:", ""} {
		_, _, ok = SplitKey(bad)
		assert.False(t, ok, bad)
	}
}
