package cmd

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/logging"
	"github.com/Aman-CERP/suggest/internal/output"
)

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View suggest logs",
		Long: `Show the last lines of the suggest log file. Use -f to follow new
entries as they are written, like 'tail -f'.

Examples:
  suggest logs
  suggest logs -n 200 --level warn
  suggest logs -f --filter search`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationNoLogFile: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := logging.FindLogFile(opts.logFile)
			if err != nil {
				return serrors.New(serrors.ErrCodeConfigNotFound, err.Error(), err)
			}

			cfg := logging.ViewerConfig{
				Level:   strings.ToLower(level),
				NoColor: noColor || !output.IsTerminal(cmd.OutOrStdout()),
			}
			if filter != "" {
				re, err := regexp.Compile(filter)
				if err != nil {
					return serrors.ValidationError(fmt.Sprintf("invalid filter %q", filter), err)
				}
				cfg.Pattern = re
			}
			viewer := logging.NewViewer(cfg, cmd.OutOrStdout())

			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return serrors.InternalError("failed to read log file", err)
			}
			viewer.Print(entries)
			if !follow {
				return nil
			}

			ch := make(chan logging.LogEntry, 64)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				defer close(ch)
				return viewer.Follow(ctx, path, ch)
			})
			g.Go(func() error {
				for entry := range ch {
					viewer.Print([]logging.LogEntry{entry})
				}
				return nil
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&filter, "filter", "", "Only show lines matching this regex")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}
