package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("🔍", "Searching...")

	// Then: output contains icon and message
	assert.Equal(t, "🔍 Searching...\n", buf.String())
}

func TestWriter_Status_NoIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Status("", "detail")
	assert.Equal(t, "   detail\n", buf.String())
}

func TestWriter_Levels_PrintIcons(t *testing.T) {
	tests := []struct {
		name  string
		print func(*Writer)
		icon  string
		msg   string
	}{
		{"success", func(w *Writer) { w.Successf("Imported %d documents", 3) }, "✅", "Imported 3 documents"},
		{"warning", func(w *Writer) { w.Warningf("skipped line %d", 4) }, "⚠️", "skipped line 4"},
		{"error", func(w *Writer) { w.Errorf("store %s locked", "x") }, "❌", "store x locked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.print(New(buf))
			assert.Contains(t, buf.String(), tt.icon)
			assert.Contains(t, buf.String(), tt.msg)
			// Buffers are never terminals, so no escape codes.
			assert.NotContains(t, buf.String(), "\033[")
		})
	}
}

func TestWriter_Suggestion_FlattensAndTruncates(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Suggestion(1, "note:1", "red\n  car")
	w.Suggestion(12, "note:2", strings.Repeat("a", 100))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "  1. note:1  red car", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], " 12. note:2  "))
	assert.True(t, strings.HasSuffix(lines[1], "…"))
	assert.Equal(t, 80, len([]rune(strings.TrimPrefix(lines[1], " 12. note:2  "))))
}

func TestWriter_KeyValue(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).KeyValue("documents", 42)
	assert.Equal(t, "  documents:   42\n", buf.String())
}

func TestWriter_Code_PrintsCodeBlock(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Code("suggest search red\nsuggest stats")
	assert.Equal(t, "\n  suggest search red\n  suggest stats\n\n", buf.String())
}

func TestWriter_Progress_NonInteractivePrintsFinalOnly(t *testing.T) {
	// Given: a non-terminal writer
	buf := &bytes.Buffer{}
	w := New(buf)
	require.False(t, w.Interactive())

	// When: reporting intermediate and final progress
	w.Progress(5, 10, "importing")
	assert.Empty(t, buf.String())
	w.Progress(10, 10, "importing")

	// Then: one complete line without carriage returns
	assert.Contains(t, buf.String(), "100% importing\n")
	assert.NotContains(t, buf.String(), "\r")
}

func TestWriter_Progress_ZeroTotal_NoOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Progress(0, 0, "nothing")
	assert.Empty(t, buf.String())
}

func TestIsTerminal_RegularFileIsNot(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTerminal(f))
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
		{"overflow clamps", 150, 100, 10, 10},
		{"zero total", 0, 0, 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)
			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}
