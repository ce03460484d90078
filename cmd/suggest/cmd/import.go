package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/importer"
	"github.com/Aman-CERP/suggest/internal/output"
)

// ImportOutput is the JSON output of the import command.
type ImportOutput struct {
	Imported   int           `json:"imported"`
	Skipped    []SkippedLine `json:"skipped"`
	DurationMS int64         `json:"duration_ms"`
}

// SkippedLine describes one rejected input line.
type SkippedLine struct {
	Line  int    `json:"line"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Import documents from a JSON-lines file",
		Long: `Upsert documents from a file with one JSON object per line:

  {"type": "city", "id": "1", "text": "San Francisco"}

Existing documents with the same type and id are replaced. Invalid lines are
reported and skipped. Use "-" to read from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return serrors.ValidationError(fmt.Sprintf("cannot open %s", args[0]), err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			s, err := opts.openStore(cmd.Context(), readWrite, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			cfg, _ := opts.config()
			if workers <= 0 {
				workers = cfg.Import.Workers
			}

			out := output.New(cmd.OutOrStdout())
			var progress func(int)
			if output.IsTerminal(cmd.ErrOrStderr()) {
				progress = func(done int) {
					if done%100 == 0 {
						_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\r  %d lines processed", done)
					}
				}
				defer func() { _, _ = fmt.Fprintln(cmd.ErrOrStderr()) }()
			}

			result, err := importer.Import(cmd.Context(), in, s, importer.Options{
				Workers:  workers,
				Progress: progress,
				Logger:   opts.log(),
			})
			if err != nil {
				if result != nil {
					opts.log().Warn("import_aborted",
						slog.Int("imported", result.Imported),
						slog.String("error", err.Error()))
				}
				return err
			}

			if opts.jsonOutput() {
				o := ImportOutput{
					Imported:   result.Imported,
					Skipped:    make([]SkippedLine, 0, len(result.Skipped)),
					DurationMS: result.Duration.Milliseconds(),
				}
				for _, le := range result.Skipped {
					o.Skipped = append(o.Skipped, SkippedLine{Line: le.Line, Code: serrors.GetCode(le.Err), Error: message(le.Err)})
				}
				return writeJSON(cmd.OutOrStdout(), o)
			}

			for _, le := range result.Skipped {
				out.Warningf("line %d skipped: %s", le.Line, message(le.Err))
			}
			out.Successf("Imported %d documents in %s", result.Imported, result.Duration.Round(time.Millisecond))
			if n := len(result.Skipped); n > 0 {
				out.Statusf("", "%d lines skipped", n)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent upserts (default: import.workers)")
	return cmd
}

// message returns the user-facing message of err.
func message(err error) string {
	if se, ok := serrors.As(err); ok {
		return se.Message
	}
	return err.Error()
}
