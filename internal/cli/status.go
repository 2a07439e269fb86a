package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"regsync/internal/status"
)

// NewStatusCommand prints the current watermark and failure backlog.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the sync position and outstanding failure count as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runStatus(ctx context.Context, opts *RootOptions, out, errOut io.Writer) error {
	cfg, logger, err := loadConfig(opts, errOut)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}

	store, err := openStorage(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := status.New(cfg.Database.SourceTable, store.ingest, store.failureCounter(), status.WithLogger(logger))
	if err != nil {
		return err
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, stats)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
