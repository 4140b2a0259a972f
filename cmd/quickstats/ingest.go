package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/catalog"
	"github.com/nassdata/quickstats/pkg/ingest"
	"github.com/nassdata/quickstats/pkg/metrics"
	"github.com/nassdata/quickstats/pkg/quickstats"
	"github.com/nassdata/quickstats/pkg/sink"
	"github.com/nassdata/quickstats/pkg/state"
)

func newIngestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch catalog datasets into the configured sink",
		Long: `Fetch every selected catalog dataset, one job per year range, and write each job's
records to the configured output. Completed jobs are recorded in the state file and skipped
on the next run, so an interrupted ingest resumes where it stopped.

Example:
  quickstats ingest --category livestock --sink file --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, a)
		},
	}
	cmd.Flags().StringSlice("dataset", nil, "dataset keys to ingest (default: catalog.datasets or all)")
	cmd.Flags().String("category", "", "restrict to one category: crops, livestock, prices, economics, census")
	cmd.Flags().Bool("reset-state", false, "forget completed jobs before running")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().String("sink", "", "output type; overrides output.type")
	cmd.Flags().Int("concurrency", 0, "jobs fetched in parallel; overrides performance.max_concurrency")
	return cmd
}

func runIngest(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	cfg := a.cfg

	if t := a.v.GetString("sink"); t != "" {
		cfg.Output.Type = t
	}
	if n := a.v.GetInt("concurrency"); n > 0 {
		cfg.Performance.MaxConcurrency = n
	}
	keys := a.v.GetStringSlice("dataset")
	if len(keys) == 0 {
		keys = cfg.Catalog.Datasets
	}
	category := a.v.GetString("category")
	if category == "" {
		category = cfg.Catalog.Category
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	jobs, err := cat.Plan(keys, category)
	if err != nil {
		return err
	}

	store := state.NewFileStore(cfg.State.Path, a.logger)
	if a.v.GetBool("reset-state") {
		if err := store.Reset(ctx); err != nil {
			return err
		}
		a.logger.Info("state reset", zap.String("path", store.Path()))
	}

	addr := a.v.GetString("metrics-addr")
	if addr == "" && cfg.Observability.EnableMetrics {
		addr = cfg.Observability.MetricsAddr
	}
	if addr != "" {
		stop := serveMetrics(addr, a.logger)
		defer stop()
	}

	out, err := sink.New(ctx, cfg.Output, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("closing sink", zap.Error(err))
		}
	}()

	fetcher := quickstats.NewFetcher(cfg, a.logger)
	defer fetcher.Close()

	summary, err := ingest.NewRunner(fetcher, out, store, ingest.ConfigFrom(cfg), a.logger).Run(ctx, jobs)
	if summary != nil {
		fmt.Fprintf(cmd.OutOrStdout(),
			"run %s: %d planned, %d skipped, %d written, %d empty, %d records in %s\n",
			summary.RunID, summary.Planned, summary.Skipped, summary.Succeeded, summary.Empty,
			summary.Records, summary.Duration.Round(time.Millisecond))
	}
	return err
}

// serveMetrics exposes /metrics until the returned function is called.
func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
