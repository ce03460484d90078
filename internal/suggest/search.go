package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/join"
	"github.com/Aman-CERP/suggest/internal/kv"
)

// Search returns the documents matching every token of query, best first.
//
// Each query token is looked up with an exact-match cursor over the token
// index of the references collection; the walks run concurrently under one
// join. Per-token key lists are ranked by frequency and intersected, and the
// surviving keys are resolved to documents. A query without tokens matches
// nothing.
func (s *Storage) Search(ctx context.Context, query string) (docs []Document, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("search", start, err) }()

	tokens := s.tokenizer.CleanQuery(query)
	if len(tokens) == 0 {
		s.metrics.ObserveSearchResults(0)
		return []Document{}, nil
	}

	keys, err := s.matchTokens(ctx, tokens)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeSearchFailed,
			fmt.Sprintf("search %q failed", query), err).
			WithDetail("query", query)
	}

	sets := make([][]rankedKey, len(keys))
	for i, k := range keys {
		sets[i] = rankKeys(k)
	}
	matched := intersect(sets)

	ordered := make([]string, len(matched))
	for i, rk := range matched {
		ordered[i] = rk.Key
	}

	docs, err = s.GetDocs(ctx, ordered)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveSearchResults(len(docs))
	s.logger.Debug("search_complete",
		slog.String("query", query),
		slog.Int("tokens", len(tokens)),
		slog.Int("results", len(docs)),
		slog.Duration("duration", time.Since(start)))
	return docs, nil
}

// matchTokens collects, per token, the document key of every posting for
// that token.
func (s *Storage) matchTokens(ctx context.Context, tokens []string) ([][]string, error) {
	keys := make([][]string, len(tokens))

	err := s.run(ctx, "search", kv.ReadOnly, []string{CollectionReferences}, func(txn *kv.Txn, c *join.Counter) {
		for i, tok := range tokens {
			c.Acquire()
			txn.OpenCursor(CollectionReferences, IndexToken, tok, func(cur *kv.Cursor, err error) {
				if err != nil {
					c.Release(err)
					return
				}
				if cur == nil {
					c.Release(nil)
					return
				}
				p, err := decodePosting(cur.Value())
				if err != nil {
					c.Release(fmt.Errorf("corrupt posting %s: %w", cur.PrimaryKey(), err))
					return
				}
				keys[i] = append(keys[i], p.DocumentKey)
				cur.Continue()
			})
		}
	})
	if err != nil {
		return nil, storeError("search", "", err)
	}
	return keys, nil
}
