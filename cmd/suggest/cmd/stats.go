package cmd

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/suggest/internal/output"
	"github.com/Aman-CERP/suggest/internal/profiling"
)

// StatsOutput is the JSON output of the stats command.
type StatsOutput struct {
	Backend   string `json:"backend"`
	Path      string `json:"path,omitempty"`
	Documents int    `json:"documents"`
	Postings  int    `json:"postings"`
	SizeBytes int64  `json:"size_bytes"`
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long:  `Display the store backend and location, document and posting counts, and the size on disk.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.openStore(cmd.Context(), readOnly, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			st, err := s.Stats(cmd.Context())
			if err != nil {
				return err
			}
			result := StatsOutput{
				Backend:   string(s.Backend()),
				Path:      s.Path(),
				Documents: st.Documents,
				Postings:  st.Postings,
				SizeBytes: diskUsage(s.Path()),
			}

			if opts.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			out := output.New(cmd.OutOrStdout())
			out.Status("📊", "Index statistics")
			out.KeyValue("Backend", result.Backend)
			if result.Path != "" {
				out.KeyValue("Path", result.Path)
			}
			out.KeyValue("Documents", result.Documents)
			out.KeyValue("Postings", result.Postings)
			out.KeyValue("Size", profiling.FormatBytes(uint64(result.SizeBytes)))
			return nil
		},
	}
}

// diskUsage returns the size of a store file with its SQLite write-ahead
// log, or the total size of a store directory. Missing paths count as zero.
func diskUsage(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		size := info.Size()
		if wal, err := os.Stat(path + "-wal"); err == nil {
			size += wal.Size()
		}
		return size
	}
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
