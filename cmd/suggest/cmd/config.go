package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/suggest/configs"
	"github.com/Aman-CERP/suggest/internal/config"
	serrors "github.com/Aman-CERP/suggest/internal/errors"
	"github.com/Aman-CERP/suggest/internal/output"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the suggest configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/suggest/config.yaml)
  3. Project config (.suggest.yaml)
  4. Environment variables (SUGGEST_*)
  5. Command-line flags`,
		Example: `  # Create user config from template
  suggest config init

  # Show effective configuration
  suggest config show`,
	}

	cmd.AddCommand(newConfigInitCmd(opts))
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigBackupsCmd(opts))
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var (
		force   bool
		project bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Create the user configuration file from the built-in template, or the
project file .suggest.yaml with --project.

With --force an existing user configuration is backed up before it is
replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			path := config.GetUserConfigPath()
			if project {
				dir, err := opts.project()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, config.ProjectConfigName)
			}

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warning("Configuration already exists")
					out.Statusf("📁", "Location: %s", path)
					out.Status("💡", "Use --force to replace it")
					return nil
				}
				if !project {
					backup, err := config.BackupUserConfig()
					if err != nil {
						return serrors.ConfigError("failed to back up configuration", err)
					}
					out.Statusf("💾", "Backup: %s", backup)
				}
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return serrors.ConfigError("failed to create config directory", err)
			}
			if err := os.WriteFile(path, []byte(configs.ExampleConfig), 0o644); err != nil {
				return serrors.ConfigError("failed to write config file", err)
			}

			out.Success("Created configuration")
			out.Statusf("📁", "Location: %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing configuration")
	cmd.Flags().BoolVar(&project, "project", false, "Create .suggest.yaml in the project directory")

	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging every source, including flags.
With --defaults only the built-in defaults are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewConfig()
			if !defaults {
				var err error
				if cfg, err = opts.config(); err != nil {
					return err
				}
			}

			if opts.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return serrors.InternalError("failed to encode configuration", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show built-in defaults only")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigBackupsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List user config backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return serrors.ConfigError("failed to list backups", err)
			}
			if opts.jsonOutput() {
				if backups == nil {
					backups = []string{}
				}
				return writeJSON(cmd.OutOrStdout(), backups)
			}
			for _, b := range backups {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), b)
			}
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup>",
		Short: "Restore the user config from a backup",
		Long:  `Replace the user config with a backup. The current config is backed up first.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RestoreUserConfig(args[0]); err != nil {
				return serrors.ConfigError("failed to restore configuration", err)
			}
			output.New(cmd.OutOrStdout()).Successf("Restored %s", config.GetUserConfigPath())
			return nil
		},
	}
}
