package watcher

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Aman-CERP/suggest/internal/gitignore"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is the path relative to the watched root.
	Path string

	Operation Operation

	// IsDir is best effort; it is false for paths that no longer exist.
	IsDir bool

	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the size of the batch channel buffer.
	// Default: 100
	EventBufferSize int

	// Extensions limits file events to these extensions (".txt"). Empty
	// means every file.
	Extensions []string

	// Ignore excludes paths matched by gitignore-style rules. Nil
	// excludes nothing beyond hidden paths.
	Ignore *gitignore.Matcher

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 100,
		Extensions:      []string{".txt", ".md"},
	}
}

// Validate validates the options and returns an error if invalid.
func (o Options) Validate() error {
	if o.DebounceWindow < 0 {
		return fmt.Errorf("debounce window must be non-negative, got %s", o.DebounceWindow)
	}
	if o.PollInterval < 0 {
		return fmt.Errorf("poll interval must be non-negative, got %s", o.PollInterval)
	}
	for _, ext := range o.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	return nil
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// Filter decides which paths under the root are watched.
type Filter struct {
	extensions []string
	ignore     *gitignore.Matcher
}

// NewFilter creates a filter accepting files with one of extensions, or
// every file when extensions is empty, and rejecting whatever ignore
// matches. Extensions compare case-insensitively.
func NewFilter(extensions []string, ignore *gitignore.Matcher) Filter {
	exts := make([]string, len(extensions))
	for i, e := range extensions {
		exts[i] = strings.ToLower(e)
	}
	return Filter{extensions: exts, ignore: ignore}
}

// Ignore reports whether relPath is skipped. Hidden files and everything
// inside hidden directories (.git, .suggest) are always skipped.
func (f Filter) Ignore(relPath string, isDir bool) bool {
	if relPath == "" || relPath == "." {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	if f.ignore.Match(relPath, isDir) {
		return true
	}
	if isDir || len(f.extensions) == 0 {
		return false
	}
	return !slices.Contains(f.extensions, strings.ToLower(filepath.Ext(relPath)))
}
