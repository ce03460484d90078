// Package cmd provides the CLI commands for suggest.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/suggest/internal/config"
	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/logging"
	"github.com/Aman-CERP/suggest/internal/profiling"
	"github.com/Aman-CERP/suggest/pkg/version"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
)

// annotationNoLogFile marks commands that must not write the log file.
const annotationNoLogFile = "suggest/no-log-file"

// rootOptions holds the persistent flags and the per-invocation state
// shared by every subcommand.
type rootOptions struct {
	projectDir string
	dataDir    string
	backend    string
	format     string
	logFile    string
	debug      bool
	profile    profiling.Options

	cfgOnce sync.Once
	cfg     *config.Config
	cfgErr  error

	logger     *slog.Logger
	logCleanup func()
	profiler   *profiling.Session
}

// NewRootCmd creates the root command for the suggest CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Local persistent suggestion index",
		Long: `suggest keeps a prefix-token index of short documents on disk and
answers type-ahead queries against it.

Documents are identified by a type and an id. Every word of a document,
and every prefix of its words and of the whole phrase, becomes searchable.

Examples:
  suggest add city 1 "San Francisco"
  suggest search "san fr"
  suggest import cities.jsonl
  suggest watch ./notes`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.start,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return opts.stop()
		},
	}
	cmd.SetVersionTemplate("suggest version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.projectDir, "project", "C", "", "Project directory (default: current directory)")
	pf.StringVar(&opts.dataDir, "data-dir", "", "Store directory (overrides store.data_dir)")
	pf.StringVar(&opts.backend, "backend", "", "Store backend: sqlite, bolt, badger, memory")
	pf.StringVar(&opts.format, "format", formatText, "Output format: text, json")
	pf.StringVar(&opts.logFile, "log-file", "", "Log file (default: ~/.suggest/logs/suggest.log)")
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging (file and stderr)")
	pf.StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newAddCmd(opts))
	cmd.AddCommand(newUpdateCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newGetCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd, opts
}

// Execute runs the root command and prints any error in the selected
// output format.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, opts := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	// PersistentPostRunE is skipped when the command fails.
	_ = opts.stop()
	if err != nil {
		opts.printError(cmd.ErrOrStderr(), err)
	}
	return err
}

// start sets up logging and profiling before any subcommand runs.
func (o *rootOptions) start(cmd *cobra.Command, _ []string) error {
	if o.format != formatText && o.format != formatJSON {
		return serrors.ValidationError(fmt.Sprintf("unknown output format %q", o.format), nil).
			WithSuggestion("Use --format text or --format json.")
	}

	logCfg := logging.DefaultConfig()
	if o.debug {
		logCfg = logging.DebugConfig()
	}
	if cfg, err := o.config(); err == nil {
		logCfg.Level = cfg.Logging.Level
		logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
		logCfg.MaxFiles = cfg.Logging.MaxFiles
	}
	if o.logFile != "" {
		logCfg.FilePath = o.logFile
	}

	var (
		logger  *slog.Logger
		cleanup = func() {}
		err     error
	)
	if cmd.Annotations[annotationNoLogFile] == "true" {
		logger = logging.Fallback(logCfg.Level)
	} else if logger, cleanup, err = logging.Setup(logCfg); err != nil {
		logger = logging.Fallback(logCfg.Level)
		logger.Warn("log_file_unavailable", slog.String("path", logCfg.FilePath), slog.String("error", err.Error()))
		cleanup = func() {}
	}
	o.logger = logger
	o.logCleanup = cleanup
	slog.SetDefault(logger)

	if o.profile.Enabled() {
		session, err := profiling.Start(o.profile)
		if err != nil {
			return err
		}
		o.profiler = session
	}

	logger.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Short()))
	return nil
}

// stop flushes profiles and closes the log file.
func (o *rootOptions) stop() error {
	err := o.profiler.Stop()
	o.profiler = nil
	if o.logCleanup != nil {
		o.logCleanup()
		o.logCleanup = nil
	}
	return err
}

// config loads the configuration once and applies flag overrides.
func (o *rootOptions) config() (*config.Config, error) {
	o.cfgOnce.Do(func() {
		dir, err := o.project()
		if err != nil {
			o.cfgErr = err
			return
		}
		cfg, err := config.Load(dir)
		if err != nil {
			o.cfgErr = serrors.ConfigError("failed to load configuration", err)
			return
		}
		if o.dataDir != "" {
			cfg.Store.DataDir = o.dataDir
		}
		if o.backend != "" {
			cfg.Store.Backend = o.backend
		}
		if o.debug {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			o.cfgErr = serrors.ConfigError("invalid configuration", err)
			return
		}
		o.cfg = cfg
	})
	return o.cfg, o.cfgErr
}

// project returns the project directory.
func (o *rootOptions) project() (string, error) {
	if o.projectDir != "" {
		return o.projectDir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", serrors.InternalError("failed to determine working directory", err)
	}
	return dir, nil
}

func (o *rootOptions) log() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

func (o *rootOptions) jsonOutput() bool { return o.format == formatJSON }

// printError writes err to w in the selected format.
func (o *rootOptions) printError(w io.Writer, err error) {
	if o.jsonOutput() {
		if data, jerr := serrors.FormatJSON(err); jerr == nil {
			_, _ = fmt.Fprintln(w, string(data))
			return
		}
	}
	if _, ok := serrors.As(err); ok {
		_, _ = fmt.Fprint(w, serrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
