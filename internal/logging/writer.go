package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Rotation defaults used when RotateOptions leaves a bound unset.
const (
	DefaultMaxSizeMB = 10
	DefaultMaxFiles  = 5
)

// RotateOptions bounds the log files kept on disk.
type RotateOptions struct {
	// MaxBytes is the size the active file may reach before it is moved
	// aside. Zero uses DefaultMaxSizeMB; a negative value rotates before
	// every write.
	MaxBytes int64
	// Keep is the number of rotated files kept next to the active one.
	Keep int
	// OnError receives rotation failures. Writing continues on the file
	// that was open.
	OnError func(error)
}

// RotatingWriter appends to a log file and moves it aside once the next
// write would take it past MaxBytes. Rotated files are path.1 (newest) up
// to path.Keep.
type RotatingWriter struct {
	path string
	opts RotateOptions

	mu   sync.Mutex
	f    *os.File
	size int64
}

// OpenRotating opens or creates the log file at path.
func OpenRotating(path string, opts RotateOptions) (*RotatingWriter, error) {
	if opts.MaxBytes == 0 {
		opts.MaxBytes = DefaultMaxSizeMB << 20
	}
	if opts.Keep <= 0 {
		opts.Keep = DefaultMaxFiles
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &RotatingWriter{path: path, opts: opts}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends p, rotating first when the file is full. Entries become
// visible to readers such as `suggest logs -f` as soon as Write returns.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && (w.opts.MaxBytes < 0 || w.size+int64(len(p)) > w.opts.MaxBytes) {
		if err := w.rotate(); err != nil && w.opts.OnError != nil {
			w.opts.OnError(err)
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// Close syncs and closes the active file. Later writes fail.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	err := errors.Join(w.f.Sync(), w.f.Close())
	w.f = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.f, w.size = f, info.Size()
	return nil
}

// rotated names the i-th rotated file.
func (w *RotatingWriter) rotated(i int) string {
	return fmt.Sprintf("%s.%d", w.path, i)
}

// rotate drops the oldest file, shifts the rest up by one and starts a new
// active file. The old handle is only closed once the new file is open.
func (w *RotatingWriter) rotate() error {
	if err := os.Remove(w.rotated(w.opts.Keep)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", w.rotated(w.opts.Keep), err)
	}
	for i := w.opts.Keep - 1; i >= 1; i-- {
		if err := os.Rename(w.rotated(i), w.rotated(i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("shift %s: %w", w.rotated(i), err)
		}
	}
	if err := os.Rename(w.path, w.rotated(1)); err != nil {
		return fmt.Errorf("move %s aside: %w", w.path, err)
	}

	old := w.f
	if err := w.open(); err != nil {
		return err
	}
	return old.Close()
}
