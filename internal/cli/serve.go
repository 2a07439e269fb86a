package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	ingestmetrics "regsync/internal/ingest/metrics"
	"regsync/internal/ingest/poller"
	ledgerhandler "regsync/internal/ledger/handler"
	ledgermetrics "regsync/internal/ledger/metrics"
	"regsync/internal/ledger/retry"
	matchingmetrics "regsync/internal/matching/metrics"
	pipelinemetrics "regsync/internal/pipeline/metrics"
	"regsync/internal/platform/httpserver"
	platformmetrics "regsync/internal/platform/metrics"
	registrymetrics "regsync/internal/registry/metrics"
	"regsync/internal/scheduler"
	schedulermetrics "regsync/internal/scheduler/metrics"
	"regsync/internal/status"
	statushandler "regsync/internal/status/handler"
	httptransport "regsync/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the long-running sync process.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll and retry schedules and the ops HTTP surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, logger, err := loadConfig(opts, os.Stdout)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := &metricSet{
		ledger:   ledgermetrics.New(),
		matching: matchingmetrics.New(),
		pipeline: pipelinemetrics.New(),
		registry: registrymetrics.New(),
	}

	store, err := openStorage(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	// Deferred first so it runs last: connections are released only after
	// in-flight cycles have finished.
	defer store.Close()

	proc, err := buildProcessing(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer proc.Close()

	table := cfg.Database.SourceTable
	poll, err := poller.New(table, store.ingest, proc.processor, store.ledger,
		poller.WithLogger(logger),
		poller.WithMetrics(ingestmetrics.New()),
		poller.WithBatchSize(cfg.Poller.BatchSize),
	)
	if err != nil {
		return err
	}
	retrier, err := retry.New(store.ledger, proc.processor,
		retry.WithLogger(logger),
		retry.WithMetrics(m.ledger),
		retry.WithBatchSize(cfg.Retry.BatchSize),
	)
	if err != nil {
		return err
	}

	sched := scheduler.New(
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(schedulermetrics.New()),
	)
	if err := sched.Add(scheduler.Task{
		Name:     "poll",
		Interval: cfg.Poller.Interval,
		Run: func(ctx context.Context) error {
			_, err := poll.Poll(ctx)
			return err
		},
	}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Task{
		Name:     "retry",
		Interval: cfg.Retry.Interval,
		Run: func(ctx context.Context) error {
			_, err := retrier.RunCycle(ctx)
			return err
		},
	}); err != nil {
		return err
	}

	statusOpts := append(healthChecks(store, proc), status.WithLogger(logger))
	statusSvc, err := status.New(table, store.ingest, store.failureCounter(), statusOpts...)
	if err != nil {
		return err
	}
	router := httptransport.NewRouter(logger, platformmetrics.New(),
		statushandler.New(statusSvc, logger),
		ledgerhandler.New(store.ledger, retrier, logger),
	)
	srv := httpserver.New(cfg.HTTP.Addr, router)

	logger.InfoContext(ctx, "regsync starting",
		"table", table,
		"http_addr", cfg.HTTP.Addr,
		"poll_interval", cfg.Poller.Interval.String(),
		"retry_interval", cfg.Retry.Interval.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("regsync stopped")
	return err
}
