// Package ingest drives a catalog run: it plans jobs, skips the ones already completed,
// fetches each remaining job in full, hands the batch to a sink and records completion.
//
// # Basic Usage
//
//	jobs, _ := catalog.Default().Plan(nil, "crops")
//	runner := ingest.NewRunner(fetcher, out, state.NewFileStore(path, logger), ingest.ConfigFrom(cfg), logger)
//	summary, err := runner.Run(ctx, jobs)
//
// A job is atomic: its batch is written and marked completed only after every page of
// every year sub-range was fetched. A failed run can be repeated and resumes with the
// first job that did not complete.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nassdata/quickstats/pkg/catalog"
	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/logger"
	"github.com/nassdata/quickstats/pkg/metrics"
	"github.com/nassdata/quickstats/pkg/observability"
	"github.com/nassdata/quickstats/pkg/quickstats"
	"github.com/nassdata/quickstats/pkg/sink"
	"github.com/nassdata/quickstats/pkg/state"
)

// Job outcomes reported to metrics.Jobs.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeEmpty     = "empty"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Fetcher returns every record matching a query. *quickstats.Fetcher implements it.
type Fetcher interface {
	FetchAll(ctx context.Context, q quickstats.Query) ([]quickstats.Record, error)
}

// Config controls pacing and parallelism.
type Config struct {
	// MaxConcurrency is the number of jobs in flight (1 = sequential)
	MaxConcurrency int
	// JobDelay is the pause after each job before its slot is reused
	JobDelay time.Duration
}

// ConfigFrom extracts the runner settings from the connector configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxConcurrency: cfg.Performance.MaxConcurrency,
		JobDelay:       cfg.Reliability.JobDelay,
	}
}

// Summary reports what a run did.
type Summary struct {
	RunID     string
	Planned   int
	Skipped   int
	Succeeded int
	Empty     int
	Records   int
	Duration  time.Duration
}

// Runner executes ingest jobs.
type Runner struct {
	fetcher Fetcher
	sink    sink.Sink
	store   state.Store
	config  Config
	logger  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner. The sink and store are used but not closed.
func NewRunner(f Fetcher, s sink.Sink, store state.Store, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &Runner{
		fetcher: f,
		sink:    s,
		store:   store,
		config:  cfg,
		logger:  logger.With(zap.String("component", "ingest")),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the jobs that are not yet completed. The first failing job stops the run;
// the returned summary still counts the jobs that finished before it.
func (r *Runner) Run(ctx context.Context, jobs []catalog.Job) (*Summary, error) {
	start := r.now()
	summary := &Summary{RunID: uuid.NewString(), Planned: len(jobs)}
	ctx = context.WithValue(ctx, logger.RunIDKey, summary.RunID)
	log := r.logger.With(zap.String("run_id", summary.RunID))

	completed, err := r.store.Completed(ctx)
	if err != nil {
		return summary, err
	}

	var pending []catalog.Job
	for _, job := range jobs {
		if completed[job.Key()] {
			summary.Skipped++
			continue
		}
		pending = append(pending, job)
	}
	metrics.Jobs.WithLabelValues(OutcomeSkipped).Add(float64(summary.Skipped))

	if len(pending) == 0 {
		log.Info("all datasets up to date", zap.Int("jobs", len(jobs)))
		summary.Duration = r.now().Sub(start)
		return summary, nil
	}

	log.Info("starting ingest",
		zap.Int("planned", len(jobs)),
		zap.Int("pending", len(pending)),
		zap.Int("skipped", summary.Skipped),
		zap.Int("max_concurrency", r.config.MaxConcurrency))

	ctx, span := observability.StartSpan(ctx, "ingest.run",
		attribute.String("run_id", summary.RunID),
		attribute.Int("jobs", len(pending)))
	defer span.End()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)

	stopped := false
	for i, job := range pending {
		if gctx.Err() != nil {
			stopped = true
			break
		}
		last := i == len(pending)-1
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			n, err := r.runJob(gctx, job, log)
			if err != nil {
				return err
			}

			mu.Lock()
			if n == 0 {
				summary.Empty++
			} else {
				summary.Succeeded++
				summary.Records += n
			}
			mu.Unlock()

			if last {
				return nil
			}
			return r.sleep(gctx, r.config.JobDelay)
		})
	}

	err = g.Wait()
	if err == nil && stopped {
		err = ctx.Err()
	}
	summary.Duration = r.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		log.Error("ingest stopped",
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("empty", summary.Empty),
			zap.Error(err))
		return summary, err
	}

	log.Info("ingest complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("empty", summary.Empty),
		zap.Int("skipped", summary.Skipped),
		zap.Int("records", summary.Records),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// runJob fetches, writes and marks one job. It returns the number of records written.
func (r *Runner) runJob(ctx context.Context, job catalog.Job, runLog *zap.Logger) (int, error) {
	start := r.now()
	ctx = logger.ContextWithJob(ctx, job.Dataset.Key, job.Key())
	log := runLog.With(zap.String("dataset", job.Dataset.Key), zap.String("job", job.Key()))

	ctx, span := observability.StartSpan(ctx, "ingest.job",
		attribute.String("dataset", job.Dataset.Key),
		attribute.Int("year_start", job.Range.Start),
		attribute.Int("year_end", job.Range.End))
	defer span.End()

	log.Info("fetching", zap.String("name", job.String()))
	records, err := r.fetchRange(ctx, job, job.Range, log)
	if err == nil && len(records) > 0 {
		err = r.sink.Write(ctx, &sink.Batch{
			Key:         job.Dataset.Key,
			Name:        job.Dataset.Name,
			Description: job.Dataset.Description,
			Category:    string(job.Dataset.Category),
			YearStart:   job.Range.Start,
			YearEnd:     job.Range.End,
			FetchedAt:   r.now().UTC(),
			Records:     records,
		})
	}
	if err == nil {
		err = r.store.MarkCompleted(ctx, job.Key())
	}
	if err != nil {
		metrics.Jobs.WithLabelValues(OutcomeFailed).Inc()
		span.RecordError(err)
		return 0, fmt.Errorf("job %s: %w", job.Key(), err)
	}

	metrics.JobDuration.Observe(r.now().Sub(start).Seconds())
	span.SetAttribute("records", len(records))
	if len(records) == 0 {
		metrics.Jobs.WithLabelValues(OutcomeEmpty).Inc()
		log.Info("no data available")
		return 0, nil
	}
	metrics.Jobs.WithLabelValues(OutcomeSucceeded).Inc()
	log.Info("job complete", zap.Int("records", len(records)))
	return len(records), nil
}

// fetchRange fetches rng, halving it while the server reports the result is over its cap.
// Halves are fetched in order so the concatenation stays sorted by range.
func (r *Runner) fetchRange(ctx context.Context, job catalog.Job, rng catalog.YearRange, log *zap.Logger) ([]quickstats.Record, error) {
	q, err := job.Query(rng)
	if err != nil {
		return nil, err
	}
	records, err := r.fetcher.FetchAll(ctx, q)
	if err == nil {
		return records, nil
	}
	if !errors.IsLimitExceeded(err) {
		return nil, err
	}

	lo, hi, ok := rng.Split()
	if !ok {
		return nil, fmt.Errorf("single year %d still exceeds the record limit: %w", rng.Start, err)
	}
	metrics.Bisections.Inc()
	log.Warn("record limit exceeded, splitting year range",
		zap.Stringer("range", rng),
		zap.Stringer("lower", lo),
		zap.Stringer("upper", hi))

	first, err := r.fetchRange(ctx, job, lo, log)
	if err != nil {
		return nil, err
	}
	second, err := r.fetchRange(ctx, job, hi, log)
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}
