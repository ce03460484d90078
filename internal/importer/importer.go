// Package importer bulk-loads JSON-lines documents into a suggestion index.
//
// Each line is an object {"type": ..., "id": ..., "text": ...}. Documents
// are upserted concurrently by a fixed worker pool partitioned by key. A
// line that cannot be parsed or fails validation is skipped and reported;
// any other store error stops the import.
package importer

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/suggest"
)

// MaxLineBytes is the longest accepted input line.
const MaxLineBytes = 4 * 1024 * 1024

// queueDepth is the number of parsed lines buffered per worker.
const queueDepth = 64

// Indexer is the part of suggest.Storage the importer writes through.
type Indexer interface {
	UpdateDocument(ctx context.Context, typ, id string, resolve func(stored *suggest.Document) suggest.Document) error
}

// Options configures an import.
type Options struct {
	// Workers is the number of concurrent upserts (default: NumCPU).
	Workers int
	// Progress, when set, is called after every processed line with the
	// number of lines done so far.
	Progress func(done int)
	Logger   *slog.Logger
}

// LineError describes a skipped input line.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e LineError) Unwrap() error { return e.Err }

// Result summarizes an import.
type Result struct {
	Imported int
	Skipped  []LineError
	Duration time.Duration
}

type record struct {
	line int
	doc  suggest.Document
}

// Import reads JSON lines from r and upserts each document into idx.
// It returns the partial result together with the error that stopped it.
func Import(ctx context.Context, r io.Reader, idx Indexer, opts Options) (*Result, error) {
	start := time.Now()
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		imported atomic.Int64
		done     atomic.Int64
		mu       sync.Mutex
		skipped  []LineError
	)
	skip := func(line int, err error) {
		mu.Lock()
		skipped = append(skipped, LineError{Line: line, Err: err})
		mu.Unlock()
		logger.Warn("import_line_skipped", slog.Int("line", line), slog.String("error", err.Error()))
	}
	tick := func() {
		n := done.Add(1)
		if opts.Progress != nil {
			opts.Progress(int(n))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Every line of one document goes to the same worker, so repeated keys
	// are applied in file order and the last line wins.
	queues := make([]chan record, workers)
	for i := range queues {
		q := make(chan record, queueDepth)
		queues[i] = q
		g.Go(func() error {
			for rec := range q {
				if err := upsert(gctx, idx, rec); err != nil {
					tick()
					if serrors.HasCode(err, serrors.ErrCodeInvalidDocument) {
						skip(rec.line, err)
						continue
					}
					return fmt.Errorf("line %d: %w", rec.line, err)
				}
				imported.Add(1)
				tick()
			}
			return nil
		})
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)
	line := 0
scan:
	for scanner.Scan() {
		line++
		rec, err := parseLine(line, scanner.Bytes())
		if err != nil {
			skip(line, err)
			tick()
			continue
		}
		if rec == nil {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		select {
		case queues[partition(rec.doc.Key(), workers)] <- *rec:
		case <-gctx.Done():
			break scan
		}
	}
	for _, q := range queues {
		close(q)
	}
	scanErr := scanner.Err()
	err := g.Wait()

	mu.Lock()
	slices.SortFunc(skipped, func(a, b LineError) int { return cmp.Compare(a.Line, b.Line) })
	res := &Result{
		Imported: int(imported.Load()),
		Skipped:  skipped,
		Duration: time.Since(start),
	}
	mu.Unlock()

	if err == nil && scanErr != nil {
		err = serrors.New(serrors.ErrCodeInvalidInput,
			fmt.Sprintf("failed to read input after line %d", line), scanErr)
	}
	if err == nil {
		err = ctx.Err()
	}

	logger.Info("import_complete",
		slog.Int("imported", res.Imported),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("workers", workers),
		slog.Duration("duration", res.Duration),
		slog.Bool("failed", err != nil))
	return res, err
}

// upsert stores rec.doc, replacing any document with the same key.
func upsert(ctx context.Context, idx Indexer, rec record) error {
	return idx.UpdateDocument(ctx, rec.doc.Type, rec.doc.ID, func(*suggest.Document) suggest.Document {
		return rec.doc
	})
}

// partition maps a document key to one of n workers.
func partition(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

// parseLine decodes one input line. Blank lines yield nil, nil.
func parseLine(line int, raw []byte) (*record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var doc suggest.Document
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, serrors.New(serrors.ErrCodeInvalidInput, "malformed JSON document", err)
	}
	if dec.More() {
		return nil, serrors.New(serrors.ErrCodeInvalidInput, "trailing data after JSON document", nil)
	}
	if doc.Type == "" || doc.ID == "" {
		return nil, serrors.New(serrors.ErrCodeInvalidDocument, "document type and id are required", nil)
	}
	return &record{line: line, doc: doc}, nil
}
