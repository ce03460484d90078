package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/gitignore"
	"github.com/Aman-CERP/suggest/internal/suggest"
)

// DefaultMaxFileBytes is the largest file Syncer indexes.
const DefaultMaxFileBytes = 1 << 20

// Index is the part of suggest.Storage the syncer writes through.
type Index interface {
	UpdateDocument(ctx context.Context, typ, id string, resolve func(stored *suggest.Document) suggest.Document) error
	DeleteDocument(ctx context.Context, key string) error
}

// SyncOptions configures a Syncer.
type SyncOptions struct {
	// DocumentType is the type of every document created from a file.
	DocumentType string
	// Extensions limits indexed files; see NewFilter.
	Extensions []string
	// Ignore excludes matching paths; see NewFilter.
	Ignore *gitignore.Matcher
	// MaxFileBytes skips larger files (default: 1 MiB).
	MaxFileBytes int64
	Logger       *slog.Logger
}

// SyncStats counts what a Syncer has applied.
type SyncStats struct {
	Indexed int `json:"indexed"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Syncer mirrors the files under a root into an index.
type Syncer struct {
	root     string
	docType  string
	idx      Index
	filter   Filter
	maxBytes int64
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
	stats SyncStats
}

// NewSyncer creates a syncer for the files under root.
func NewSyncer(root string, idx Index, opts SyncOptions) *Syncer {
	if opts.DocumentType == "" {
		opts.DocumentType = "file"
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{
		root:     root,
		docType:  opts.DocumentType,
		idx:      idx,
		filter:   NewFilter(opts.Extensions, opts.Ignore),
		maxBytes: opts.MaxFileBytes,
		logger:   opts.Logger,
		known:    make(map[string]struct{}),
	}
}

// DocumentID returns the document id for a path relative to the root. Ids
// use forward slashes on every platform.
func DocumentID(relPath string) string {
	return filepath.ToSlash(filepath.Clean(relPath))
}

// IndexAll upserts every watched file under the root. It returns the number
// of files indexed.
func (s *Syncer) IndexAll(ctx context.Context) (int, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			s.logger.Warn("watch_walk_skipped", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil || rel == "." {
			return nil
		}
		if s.filter.Ignore(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", s.root, err)
	}

	before := s.Stats().Indexed
	for _, rel := range files {
		if err := s.upsert(ctx, rel); err != nil {
			return s.Stats().Indexed - before, err
		}
	}
	return s.Stats().Indexed - before, nil
}

// Apply applies one batch of events. Per-file failures are logged and
// counted; only a cancelled context stops the batch.
func (s *Syncer) Apply(ctx context.Context, events []FileEvent) error {
	for _, ev := range events {
		var err error
		switch ev.Operation {
		case OpCreate, OpModify:
			err = s.upsert(ctx, ev.Path)
		case OpDelete:
			err = s.remove(ctx, ev.Path)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Run applies batches from w until ctx is done or w stops.
func (s *Syncer) Run(ctx context.Context, w *HybridWatcher) error {
	events, errs := w.Events(), w.Errors()
	for events != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := s.Apply(ctx, batch); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (s *Syncer) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// upsert indexes one file. It returns an error only when ctx is done.
func (s *Syncer) upsert(ctx context.Context, rel string) error {
	id := DocumentID(rel)
	text, skip, err := s.readText(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Gone before we got to it; a delete event follows.
			return nil
		}
		s.count(func(st *SyncStats) { st.Failed++ })
		s.logger.Warn("watch_read_failed", slog.String("id", id), slog.String("error", err.Error()))
		return nil
	}
	if skip != "" {
		s.count(func(st *SyncStats) { st.Skipped++ })
		s.logger.Debug("watch_file_skipped", slog.String("id", id), slog.String("reason", skip))
		return nil
	}

	err = s.idx.UpdateDocument(ctx, s.docType, id, func(*suggest.Document) suggest.Document {
		return suggest.Document{Type: s.docType, ID: id, Text: text}
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.count(func(st *SyncStats) { st.Failed++ })
		s.logger.Error("watch_index_failed", slog.String("id", id), slog.Any("error", serrors.FormatForLog(err)))
		return nil
	}

	s.mu.Lock()
	s.known[id] = struct{}{}
	s.stats.Indexed++
	s.mu.Unlock()
	s.logger.Debug("watch_file_indexed", slog.String("id", id))
	return nil
}

// remove deletes the document for rel and, when rel was a directory, the
// documents of every file that was indexed below it.
func (s *Syncer) remove(ctx context.Context, rel string) error {
	id := DocumentID(rel)

	s.mu.Lock()
	var ids []string
	for known := range s.known {
		if known == id || strings.HasPrefix(known, id+"/") {
			ids = append(ids, known)
		}
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		// Not indexed by this syncer; the store may still hold it from an
		// earlier run.
		ids = []string{id}
	}

	for _, docID := range ids {
		err := s.idx.DeleteDocument(ctx, suggest.DocumentKey(s.docType, docID))
		switch {
		case err == nil:
			s.count(func(st *SyncStats) { st.Deleted++ })
			s.logger.Debug("watch_file_removed", slog.String("id", docID))
		case serrors.HasCode(err, serrors.ErrCodeDocumentNotFound):
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.count(func(st *SyncStats) { st.Failed++ })
			s.logger.Error("watch_delete_failed", slog.String("id", docID), slog.Any("error", serrors.FormatForLog(err)))
		}
		s.mu.Lock()
		delete(s.known, docID)
		s.mu.Unlock()
	}
	return nil
}

// readText loads a file as document text. skip is non-empty when the file
// is not indexable text.
func (s *Syncer) readText(rel string) (text, skip string, err error) {
	path := filepath.Join(s.root, rel)
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	if !info.Mode().IsRegular() {
		return "", "not a regular file", nil
	}
	if info.Size() > s.maxBytes {
		return "", fmt.Sprintf("larger than %d bytes", s.maxBytes), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	if !utf8.Valid(data) {
		return "", "not UTF-8 text", nil
	}
	return string(data), "", nil
}

func (s *Syncer) count(f func(*SyncStats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}
