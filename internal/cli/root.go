// Package cli holds the regsync command tree.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"regsync/internal/platform/config"
	"regsync/internal/platform/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command for the regsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "regsync",
		Short:         "Sync registration records into the person registry",
		Long:          "Polls the source table, resolves each record against the registry and keeps a ledger of failures for retry.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewMatchCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))

	return cmd
}

// loadConfig reads the config and builds the logger. Logs go to w so that
// commands printing JSON keep stdout clean.
func loadConfig(opts *RootOptions, w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, logger.NewWithWriter(w, cfg.Log.Level, cfg.Log.Format), nil
}
