package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	ledgerhandler "regsync/internal/ledger/handler"
	"regsync/internal/ledger/retry"
)

// NewLedgerCommand groups failure ledger maintenance commands.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and replay failure ledger entries",
	}
	cmd.AddCommand(newLedgerResyncCommand(rootOpts))
	return cmd
}

func newLedgerResyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <id>",
		Short: "Retry one ledger entry now, ignoring the cooldown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("ledger id must be a UUID: %w", err)
			}
			return runLedgerResync(cmd.Context(), rootOpts, id, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runLedgerResync(ctx context.Context, opts *RootOptions, id uuid.UUID, out, errOut io.Writer) error {
	cfg, logger, err := loadConfig(opts, errOut)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := openStorage(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	proc, err := buildProcessing(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer proc.Close()

	retrier, err := retry.New(store.ledger, proc.processor, retry.WithLogger(logger))
	if err != nil {
		return err
	}

	resyncErr := retrier.Resync(ctx, id)
	var attemptErr *retry.AttemptError
	if resyncErr != nil && !errors.As(resyncErr, &attemptErr) {
		return resyncErr
	}

	entry, err := store.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := writeJSON(out, ledgerhandler.FromEntry(entry)); err != nil {
		return err
	}
	if attemptErr != nil {
		return fmt.Errorf("resync attempt failed: %w", attemptErr)
	}
	return nil
}
