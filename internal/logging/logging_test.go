package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDefaultLogPath(t *testing.T) {
	dir := DefaultLogDir()
	if !strings.Contains(dir, ".suggest") || filepath.Base(dir) != "logs" {
		t.Errorf("DefaultLogDir should end with .suggest/logs, got: %s", dir)
	}

	path := DefaultLogPath()
	if filepath.Base(path) != "suggest.log" {
		t.Errorf("DefaultLogPath should end with suggest.log, got: %s", path)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("DefaultLogPath should live in %s, got: %s", dir, path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.MaxSizeMB != 10 || cfg.MaxFiles != 5 {
		t.Errorf("unexpected rotation defaults: %d MB, %d files", cfg.MaxSizeMB, cfg.MaxFiles)
	}
	if cfg.WriteToStderr {
		t.Error("default config should not write to stderr")
	}

	debug := DebugConfig()
	if debug.Level != "debug" || !debug.WriteToStderr {
		t.Errorf("debug config should log debug to stderr, got: %+v", debug)
	}
}

func TestSetup(t *testing.T) {
	// Given: a config pointing into a temp dir
	logPath := filepath.Join(t.TempDir(), "nested", "suggest.log")
	cfg := Config{Level: "warn", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 2}

	// When: logging at several levels
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("hidden_event")
	logger.Warn("shown_event", slog.String("op", "insert"))
	cleanup()

	// Then: only entries at or above the level reach the file as JSON
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if strings.Contains(string(content), "hidden_event") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(string(content), `"msg":"shown_event"`) || !strings.Contains(string(content), `"op":"insert"`) {
		t.Errorf("expected JSON warn entry, got: %s", content)
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.input); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFallback_NeverBelowWarn(t *testing.T) {
	logger := Fallback("debug")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("fallback logger should not emit info")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("fallback logger should emit warn")
	}
}

func TestFindLogFile(t *testing.T) {
	if _, err := FindLogFile("/nonexistent/suggest.log"); err == nil {
		t.Error("expected error for missing explicit path")
	}

	explicit := filepath.Join(t.TempDir(), "x.log")
	if err := os.WriteFile(explicit, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(explicit)
	if err != nil || got != explicit {
		t.Errorf("FindLogFile(%q) = %q, %v", explicit, got, err)
	}
}

// ============================================================================
// Viewer
// ============================================================================

func TestViewer_ParseLine(t *testing.T) {
	v := NewViewer(ViewerConfig{}, nil)

	entry := v.parseLine(`{"time":"2026-01-14T10:30:45.123Z","level":"INFO","msg":"search_complete","query":"re ca","results":2}`)
	if !entry.IsValid {
		t.Fatal("expected valid entry")
	}
	if entry.Level != "INFO" || entry.Msg != "search_complete" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !entry.Time.Equal(mustParseTime("2026-01-14T10:30:45.123Z")) {
		t.Errorf("unexpected time: %v", entry.Time)
	}
	if entry.Attrs["query"] != "re ca" || entry.Attrs["results"] != float64(2) {
		t.Errorf("unexpected attrs: %v", entry.Attrs)
	}

	bad := v.parseLine("panic: not json")
	if bad.IsValid || bad.Raw != "panic: not json" {
		t.Errorf("expected invalid raw entry, got: %+v", bad)
	}
}

func TestViewer_MatchesFilter(t *testing.T) {
	v := NewViewer(ViewerConfig{Level: "warn", Pattern: regexp.MustCompile("join_")}, nil)

	tests := []struct {
		line string
		want bool
	}{
		{`{"level":"WARN","msg":"join_stalled"}`, true},
		{`{"level":"ERROR","msg":"join_stalled"}`, true},
		{`{"level":"INFO","msg":"join_stalled"}`, false},
		{`{"level":"WARN","msg":"store_upgraded"}`, false},
		{`join_ raw text`, true},
	}
	for _, tt := range tests {
		if got := v.matchesFilter(v.parseLine(tt.line)); got != tt.want {
			t.Errorf("matchesFilter(%s) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestViewer_FormatEntry(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, nil)

	entry := v.parseLine(`{"time":"2026-01-14T10:30:45.123Z","level":"INFO","msg":"document_deleted","type":"note","id":"7"}`)
	got := v.FormatEntry(entry)

	// Attributes are sorted by key.
	want := entry.Time.Format("15:04:05.000") + " INFO  document_deleted id=7 type=note"
	if got != want {
		t.Errorf("FormatEntry = %q, want %q", got, want)
	}

	if got := v.FormatEntry(v.parseLine("plain")); got != "plain" {
		t.Errorf("invalid entry should print raw, got %q", got)
	}
}

func TestViewer_FormatLevel_Colors(t *testing.T) {
	v := NewViewer(ViewerConfig{}, nil)
	if got := v.formatLevel("error"); !strings.Contains(got, "\033[31m") {
		t.Errorf("error level should be red, got %q", got)
	}
	if got := v.formatLevel("custom"); got != "CUSTO" {
		t.Errorf("unknown level should be truncated and uncolored, got %q", got)
	}
}

func TestViewer_Tail(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tail.log")
	var lines []string
	for i := range 10 {
		level := "INFO"
		if i%2 == 1 {
			level = "ERROR"
		}
		lines = append(lines, fmt.Sprintf(`{"time":"2026-01-14T10:30:%02dZ","level":"%s","msg":"m%d"}`, i, level, i))
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := NewViewer(ViewerConfig{}, nil).Tail(logPath, 3)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 3 || entries[0].Msg != "m7" || entries[2].Msg != "m9" {
		t.Errorf("expected last three entries, got %+v", entries)
	}

	// The level filter applies after taking the last n lines.
	entries, err = NewViewer(ViewerConfig{Level: "error"}, nil).Tail(logPath, 4)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Msg != "m7" || entries[1].Msg != "m9" {
		t.Errorf("expected two error entries, got %+v", entries)
	}

	if _, err := NewViewer(ViewerConfig{}, nil).Tail(logPath+".missing", 3); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestViewer_Print(t *testing.T) {
	var buf bytes.Buffer
	v := NewViewer(ViewerConfig{NoColor: true}, &buf)
	v.Print([]LogEntry{{Raw: "one"}, {Raw: "two"}})
	if buf.String() != "one\ntwo\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestViewer_Follow(t *testing.T) {
	// Given: a log file being followed
	logPath := filepath.Join(t.TempDir(), "follow.log")
	w, err := OpenRotating(logPath, RotateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if _, err := w.Write([]byte(`{"level":"INFO","msg":"before"}` + "\n")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- NewViewer(ViewerConfig{}, nil).Follow(ctx, logPath, entries) }()

	// When: lines are appended until the follower picks one up
	deadline := time.After(4 * time.Second)
	var got LogEntry
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case got = <-entries:
			break loop
		case <-tick.C:
			if _, err := w.Write([]byte(`{"level":"INFO","msg":"after"}` + "\n")); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("follow did not deliver an entry")
		}
	}

	// Then: only appended entries are delivered
	if got.Msg != "after" {
		t.Errorf("expected appended entry, got %+v", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Follow returned %v", err)
	}
}

// ============================================================================
// Writer
// ============================================================================

func TestRotatingWriter_AppendsToExistingFile(t *testing.T) {
	// Given: a log file with an entry from an earlier run
	logPath := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(logPath, []byte("earlier\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// When: a new writer appends and closes
	w, err := OpenRotating(logPath, RotateOptions{})
	if err != nil {
		t.Fatalf("failed to open writer: %v", err)
	}
	line := []byte(`{"level":"INFO","msg":"later"}` + "\n")
	if n, err := w.Write(line); err != nil || n != len(line) {
		t.Fatalf("write = %d, %v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Then: both entries are kept in order and the writer refuses more
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := "earlier\n" + string(line); string(content) != want {
		t.Errorf("expected %q, got %q", want, content)
	}
	if _, err := w.Write(line); !errors.Is(err, os.ErrClosed) {
		t.Errorf("write after close: expected os.ErrClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestRotatingWriter_Rotation(t *testing.T) {
	// Given: a writer that rotates past 1 KiB
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	w, err := OpenRotating(logPath, RotateOptions{MaxBytes: 1024, Keep: 3})
	if err != nil {
		t.Fatalf("failed to open writer: %v", err)
	}
	defer w.Close()

	// When: three 800-byte chunks are written
	for _, c := range []string{"a", "b", "c"} {
		if _, err := w.Write([]byte(strings.Repeat(c, 800))); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	// Then: each chunk sits in its own file, newest in the active one
	if got := readFile(t, logPath); got != strings.Repeat("c", 800) {
		t.Errorf("active file holds %q...", got[:1])
	}
	if got := readFile(t, logPath+".1"); got != strings.Repeat("b", 800) {
		t.Errorf(".1 holds %q...", got[:1])
	}
	if got := readFile(t, logPath+".2"); got != strings.Repeat("a", 800) {
		t.Errorf(".2 holds %q...", got[:1])
	}
}

func TestRotatingWriter_KeepLimit(t *testing.T) {
	// Given: a writer that rotates before every write and keeps two files
	logPath := filepath.Join(t.TempDir(), "keep.log")
	w, err := OpenRotating(logPath, RotateOptions{MaxBytes: -1, Keep: 2})
	if err != nil {
		t.Fatalf("failed to open writer: %v", err)
	}
	defer w.Close()

	// When: five entries are written
	for i := 1; i <= 5; i++ {
		if _, err := fmt.Fprintf(w, "entry%d", i); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	// Then: only the three newest survive
	if got := readFile(t, logPath); got != "entry5" {
		t.Errorf("active file = %q", got)
	}
	if got := readFile(t, logPath+".1"); got != "entry4" {
		t.Errorf(".1 = %q", got)
	}
	if got := readFile(t, logPath+".2"); got != "entry3" {
		t.Errorf(".2 = %q", got)
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotated file .3 should not exist beyond Keep")
	}
}

func TestRotatingWriter_RotationFailureKeepsWriting(t *testing.T) {
	// Given: the oldest rotated slot is a directory that cannot be removed
	logPath := filepath.Join(t.TempDir(), "stuck.log")
	blocker := logPath + ".1"
	if err := os.MkdirAll(filepath.Join(blocker, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	var failures []error
	w, err := OpenRotating(logPath, RotateOptions{
		MaxBytes: -1,
		Keep:     1,
		OnError:  func(err error) { failures = append(failures, err) },
	})
	if err != nil {
		t.Fatalf("failed to open writer: %v", err)
	}
	defer w.Close()

	// When: a second write needs a rotation
	for _, s := range []string{"one\n", "two\n"} {
		if _, err := w.Write([]byte(s)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	// Then: the failure is reported and the entry still lands in the active file
	if len(failures) != 1 {
		t.Fatalf("expected one rotation failure, got %v", failures)
	}
	if got := readFile(t, logPath); got != "one\ntwo\n" {
		t.Errorf("active file = %q", got)
	}
}

func TestSetup_RotationUsesConfiguredLimits(t *testing.T) {
	// Given: a one-megabyte limit and a single kept file
	logPath := filepath.Join(t.TempDir(), "suggest.log")
	logger, cleanup, err := Setup(Config{Level: "info", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 1})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// When: more than two megabytes are logged
	payload := strings.Repeat("z", 64*1024)
	for range 40 {
		logger.Info("bulk", slog.String("payload", payload))
	}
	cleanup()

	// Then: the active file and one rotated file stay under the limit
	for _, p := range []string{logPath, logPath + ".1"} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("%s should exist: %v", p, err)
		}
		if info.Size() > 1<<20 {
			t.Errorf("%s is %d bytes, over the 1 MB limit", p, info.Size())
		}
	}
	if _, err := os.Stat(logPath + ".2"); !os.IsNotExist(err) {
		t.Error("only one rotated file should be kept")
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := OpenRotating(logPath, RotateOptions{MaxBytes: 10 << 20, Keep: 3})
	if err != nil {
		t.Fatalf("failed to open writer: %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				_, _ = fmt.Fprintf(w, `{"id":%d,"iter":%d,"msg":"test"}`+"\n", i, j)
			}
		}()
	}
	wg.Wait()

	if got := strings.Count(readFile(t, logPath), "\n"); got != 1000 {
		t.Errorf("expected 1000 lines, got %d", got)
	}
}

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t
}
