package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/gitignore"
	"github.com/Aman-CERP/suggest/internal/metrics"
	"github.com/Aman-CERP/suggest/internal/output"
	"github.com/Aman-CERP/suggest/internal/watcher"
)

type watchOptions struct {
	metricsAddr string
	poll        bool
	once        bool
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var wo watchOptions

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Keep the index in sync with a directory",
		Long: `Index every text file under a directory, then follow changes until
interrupted. Each file becomes a document with type watch.document_type and
the file's path relative to <dir> as its id.

Hidden files and directories are ignored, as is everything excluded by a
.gitignore or .suggestignore file at the root of <dir>. Only files with one
of the watch.extensions are indexed.

Examples:
  suggest watch ./notes
  suggest watch ./notes --metrics-addr 127.0.0.1:9464
  suggest watch ./notes --once`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args[0], wo)
		},
	}

	cmd.Flags().StringVar(&wo.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default: metrics.addr)")
	cmd.Flags().BoolVar(&wo.poll, "poll", false, "Poll for changes instead of using file system notifications")
	cmd.Flags().BoolVar(&wo.once, "once", false, "Index the directory and exit without watching")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *rootOptions, dir string, wo watchOptions) error {
	ctx := cmd.Context()
	root, err := filepath.Abs(dir)
	if err != nil {
		return serrors.ValidationError(fmt.Sprintf("invalid directory %s", dir), err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return serrors.ValidationError(fmt.Sprintf("%s is not a directory", dir), err)
	}

	cfg, err := opts.config()
	if err != nil {
		return err
	}
	logger := opts.log()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	addr := wo.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" && !wo.once {
		shutdown, err := metrics.StartServer(addr, reg)
		if err != nil {
			return serrors.ConfigError(fmt.Sprintf("cannot serve metrics on %s", addr), err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	s, err := opts.openStore(ctx, readWrite, m)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ignore, err := gitignore.LoadDir(root)
	if err != nil {
		return serrors.ValidationError("failed to read ignore files", err)
	}
	logger.Debug("watch_ignore_rules", slog.Int("rules", ignore.Len()))

	out := output.New(cmd.OutOrStdout())
	syncer := watcher.NewSyncer(root, s, watcher.SyncOptions{
		DocumentType: cfg.Watch.DocumentType,
		Extensions:   cfg.Watch.Extensions,
		Ignore:       ignore,
		Logger:       logger,
	})

	n, err := syncer.IndexAll(ctx)
	if err != nil {
		return serrors.New(serrors.ErrCodeIndexFailed, "initial indexing failed", err)
	}
	logger.Info("watch_initial_index", slog.String("root", root), slog.Int("files", n))
	if !opts.jsonOutput() {
		out.Successf("Indexed %d files from %s", n, root)
	}
	if wo.once {
		return opts.reportSync(cmd, syncer.Stats())
	}

	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: cfg.WatchDebounce(),
		Extensions:     cfg.Watch.Extensions,
		Ignore:         ignore,
		ForcePolling:   wo.poll,
	})
	if err != nil {
		return serrors.ConfigError("invalid watch configuration", err)
	}

	if !opts.jsonOutput() {
		out.Statusf("👀", "Watching %s (%s). Press Ctrl+C to stop.", root, w.WatcherType())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Start(gctx, root) })
	g.Go(func() error { return syncer.Run(gctx, w) })
	err = g.Wait()
	_ = w.Stop()

	logger.Info("watch_stopped",
		slog.Uint64("dropped_batches", w.DroppedBatches()),
		slog.Any("stats", syncer.Stats()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return opts.reportSync(cmd, syncer.Stats())
}

// reportSync prints the final counters of a watch run.
func (o *rootOptions) reportSync(cmd *cobra.Command, st watcher.SyncStats) error {
	if o.jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	out := output.New(cmd.OutOrStdout())
	out.KeyValue("Indexed", st.Indexed)
	out.KeyValue("Deleted", st.Deleted)
	out.KeyValue("Skipped", st.Skipped)
	out.KeyValue("Failed", st.Failed)
	return nil
}
