package cmd

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/output"
	"github.com/Aman-CERP/suggest/internal/suggest"
)

// searchOutput is the JSON output of the search command.
type searchOutput struct {
	Query   string             `json:"query"`
	Total   int                `json:"total"`
	Results []suggest.Document `json:"results"`
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Suggest documents matching a query",
		Long: `Find the documents containing every word of the query, where the
last word may be incomplete. Results are ordered by how many query
prefixes each document matches, then by key.

Examples:
  suggest search "san fr"
  suggest search new yo --limit 5
  suggest search "red ca" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if limit < 0 {
				return serrors.ValidationError("--limit must not be negative", nil)
			}

			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if limit == 0 {
				limit = cfg.Search.MaxResults
			}

			s, err := opts.openStore(cmd.Context(), readOnly, nil)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			start := time.Now()
			docs, err := s.Search(cmd.Context(), query)
			if err != nil {
				return err
			}
			total := len(docs)
			if len(docs) > limit {
				docs = docs[:limit]
			}
			opts.log().Debug("search_command_complete",
				slog.String("query", query),
				slog.Int("total", total),
				slog.Int("shown", len(docs)),
				slog.Duration("duration", time.Since(start)))

			if opts.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), searchOutput{Query: query, Total: total, Results: docs})
			}

			out := output.New(cmd.OutOrStdout())
			if total == 0 {
				out.Statusf("🔍", "No suggestions for %q", query)
				return nil
			}
			for i, d := range docs {
				out.Suggestion(i+1, d.Key(), d.Text)
			}
			if total > len(docs) {
				out.Statusf("", "... %d more (use --limit to show more)", total-len(docs))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default: search.max_results)")
	return cmd
}
