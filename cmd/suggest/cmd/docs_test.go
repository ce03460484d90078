package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/lock"
	"github.com/Aman-CERP/suggest/internal/suggest"
)

func TestAddAndSearch(t *testing.T) {
	// Given: two cities in a fresh sqlite store
	env := newTestEnv(t)
	env.mustRun(t, "add", "city", "1", "San", "Francisco")
	env.mustRun(t, "add", "city", "2", "San Diego")

	// When: searching a shared prefix
	out := env.mustRun(t, "--format", "json", "search", "san")

	// Then: both match, ordered by key
	res := decode[searchOutput](t, out)
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "city:1", res.Results[0].Key())
	assert.Equal(t, "San Francisco", res.Results[0].Text)
	assert.Equal(t, "city:2", res.Results[1].Key())

	// When: the query narrows to one city
	res = decode[searchOutput](t, env.mustRun(t, "--format", "json", "search", "san", "f"))

	// Then: only that city remains
	require.Len(t, res.Results, 1)
	assert.Equal(t, "city:1", res.Results[0].Key())
}

func TestSearch_TextOutputAndLimit(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"1", "2", "3"} {
		env.mustRun(t, "add", "note", id, "shared word "+id)
	}

	out := env.mustRun(t, "search", "shared", "--limit", "2")

	assert.Contains(t, out, "  1. note:1  shared word 1")
	assert.Contains(t, out, "  2. note:2  shared word 2")
	assert.NotContains(t, out, "note:3")
	assert.Contains(t, out, "1 more")

	out = env.mustRun(t, "search", "nothing")
	assert.Contains(t, out, `No suggestions for "nothing"`)
}

func TestSearch_NegativeLimit(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "search", "x", "--limit", "-1")
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeInvalidInput))
}

func TestAdd_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "add", "city", "1", "Paris")

	_, err := env.run(t, "add", "city", "1", "Lyon")

	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeDuplicateDoc))

	// The original document is untouched.
	doc := decode[suggest.Document](t, env.mustRun(t, "--format", "json", "get", "city", "1"))
	assert.Equal(t, "Paris", doc.Text)
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t)

	// Given: update of an absent document creates it
	res := decode[docResult](t, env.mustRun(t, "--format", "json", "update", "note", "a", "red car"))
	assert.Equal(t, docResult{Action: "added", Key: "note:a"}, res)

	// When: replacing and then appending
	res = decode[docResult](t, env.mustRun(t, "--format", "json", "update", "note", "a", "blue bike"))
	assert.Equal(t, "updated", res.Action)
	env.mustRun(t, "update", "--append", "note", "a", "and green bus")

	// Then: the old text is no longer searchable and the new text is
	doc := decode[suggest.Document](t, env.mustRun(t, "--format", "json", "get", "note", "a"))
	assert.Equal(t, "blue bike and green bus", doc.Text)

	res2 := decode[searchOutput](t, env.mustRun(t, "--format", "json", "search", "red"))
	assert.Empty(t, res2.Results)
	res2 = decode[searchOutput](t, env.mustRun(t, "--format", "json", "search", "gree"))
	assert.Len(t, res2.Results, 1)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "add", "city", "1", "Berlin")

	out := env.mustRun(t, "delete", "city", "1")
	assert.Contains(t, out, "Deleted city:1")

	// Deleting again reports the missing document.
	_, err := env.run(t, "delete", "city", "1")
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeDocumentNotFound))

	res := decode[docResult](t, env.mustRun(t, "--format", "json", "delete", "--missing-ok", "city", "1"))
	assert.Equal(t, "absent", res.Action)

	sr := decode[searchOutput](t, env.mustRun(t, "--format", "json", "search", "berlin"))
	assert.Empty(t, sr.Results)
}

func TestGet(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "add", "city", "1", "Rome")
	env.mustRun(t, "add", "city", "2", "Oslo")

	t.Run("single missing", func(t *testing.T) {
		_, err := env.run(t, "get", "city", "9")
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeDocumentNotFound))
	})

	t.Run("keys keep order and skip missing", func(t *testing.T) {
		out := env.mustRun(t, "--format", "json", "get", "--key", "city:2", "--key", "city:9", "--key", "city:1")
		docs := decode[[]suggest.Document](t, out)
		require.Len(t, docs, 2)
		assert.Equal(t, "Oslo", docs[0].Text)
		assert.Equal(t, "Rome", docs[1].Text)
	})

	t.Run("text", func(t *testing.T) {
		out := env.mustRun(t, "get", "--key", "city:1", "--key", "city:9")
		assert.Contains(t, out, "city:1:")
		assert.Contains(t, out, "Rome")
		assert.Contains(t, out, "1 of 2 keys not found")
	})

	t.Run("malformed key", func(t *testing.T) {
		for _, k := range []string{"city", ":1", "city:"} {
			_, err := env.run(t, "get", "--key", "city:1", "--key", k)
			assert.True(t, serrors.HasCode(err, serrors.ErrCodeInvalidInput), k)
		}
	})

	t.Run("args and keys are exclusive", func(t *testing.T) {
		_, err := env.run(t, "get", "--key", "city:1", "city", "1")
		assert.Error(t, err)
	})
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "add", "w", "1", "ab")

	st := decode[StatsOutput](t, env.mustRun(t, "--format", "json", "stats"))

	assert.Equal(t, "sqlite", st.Backend)
	assert.Equal(t, filepath.Join(env.project, ".suggest", "suggestions.db"), st.Path)
	assert.Equal(t, 1, st.Documents)
	assert.Positive(t, st.Postings)
	assert.Positive(t, st.SizeBytes)

	out := env.mustRun(t, "stats")
	assert.Contains(t, out, "Documents:")
}

func TestBoltBackend(t *testing.T) {
	env := newTestEnv(t)
	dataDir := t.TempDir()

	env.mustRun(t, "--backend", "bolt", "--data-dir", dataDir, "add", "city", "1", "Madrid")
	res := decode[searchOutput](t, env.mustRun(t, "--backend", "bolt", "--data-dir", dataDir, "--format", "json", "search", "mad"))

	require.Len(t, res.Results, 1)
	assert.FileExists(t, filepath.Join(dataDir, "suggestions.bolt"))
}

func TestStoreLock(t *testing.T) {
	// Given: another process holds the data-dir lock exclusively
	env := newTestEnv(t)
	t.Setenv("SUGGEST_OP_TIMEOUT", "150ms")
	env.mustRun(t, "add", "city", "1", "Lima")

	holder := lock.New(filepath.Join(env.project, ".suggest"))
	require.NoError(t, holder.Lock(context.Background()))

	// When: a writer and a reader run
	_, werr := env.run(t, "add", "city", "2", "Quito")
	_, rerr := env.run(t, "search", "lima")
	require.NoError(t, holder.Unlock())

	// Then: both give up with the locked error
	assert.True(t, serrors.HasCode(werr, serrors.ErrCodeStoreLocked), "%v", werr)
	assert.True(t, serrors.HasCode(rerr, serrors.ErrCodeStoreLocked), "%v", rerr)

	// And: a shared holder still lets sqlite readers in
	require.NoError(t, holder.RLock(context.Background()))
	defer func() { _ = holder.Unlock() }()
	res := decode[searchOutput](t, env.mustRun(t, "--format", "json", "search", "lima"))
	assert.Len(t, res.Results, 1)
	_, werr = env.run(t, "add", "city", "3", "Bogota")
	assert.True(t, serrors.HasCode(werr, serrors.ErrCodeStoreLocked), "%v", werr)
}
