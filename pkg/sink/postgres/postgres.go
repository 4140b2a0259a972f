// Package postgres loads batches into a PostgreSQL table with COPY
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
	"github.com/nassdata/quickstats/pkg/sink"
)

func init() {
	sink.MustRegister("postgres", "rows in a PostgreSQL table (jsonb records)", func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (sink.Sink, error) {
		return New(ctx, cfg, logger)
	})
}

// Columns of the target table, in COPY order.
var Columns = []string{"dataset", "year_start", "year_end", "fetched_at", "record"}

// Pool is the subset of *pgxpool.Pool the sink uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Sink replaces the rows of a job on every write, so re-running a job never duplicates it.
type Sink struct {
	pool   Pool
	table  pgx.Identifier
	logger *zap.Logger
}

// New connects to cfg.DSN and creates the table if it does not exist.
func New(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "output.dsn is required for the postgres sink")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parsing postgres DSN")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connecting to postgres")
	}
	s, err := NewWithPool(ctx, cfg, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool uses an existing pool.
func NewWithPool(ctx context.Context, cfg config.OutputConfig, pool Pool, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := cfg.Table
	if table == "" {
		table = "nass_records"
	}
	s := &Sink{
		pool:   pool,
		table:  pgx.Identifier(strings.Split(table, ".")),
		logger: logger,
	}
	if _, err := pool.Exec(ctx, s.createTableSQL()); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "creating table "+table)
	}
	return s, nil
}

func (s *Sink) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	dataset    text        NOT NULL,
	year_start integer     NOT NULL,
	year_end   integer     NOT NULL,
	fetched_at timestamptz NOT NULL,
	record     jsonb       NOT NULL
)`, s.table.Sanitize())
}

// rows converts a batch to COPY rows. Records are stored as jsonb.
func rows(b *sink.Batch) ([][]any, error) {
	out := make([][]any, 0, len(b.Records))
	fetched := b.FetchedAt.UTC()
	for _, r := range b.Records {
		doc, err := json.Marshal(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "encoding record")
		}
		out = append(out, []any{b.Key, int32(b.YearStart), int32(b.YearEnd), fetched, doc})
	}
	return out, nil
}

func (s *Sink) Write(ctx context.Context, b *sink.Batch) error {
	data, err := rows(b)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "starting transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	del := fmt.Sprintf("DELETE FROM %s WHERE dataset = $1 AND year_start = $2 AND year_end = $3", s.table.Sanitize())
	if _, err := tx.Exec(ctx, del, b.Key, int32(b.YearStart), int32(b.YearEnd)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "clearing previous rows")
	}

	n, err := tx.CopyFrom(ctx, s.table, Columns, pgx.CopyFromRows(data))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "copying rows")
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "committing rows")
	}

	s.logger.Info("batch loaded",
		zap.String("table", s.table.Sanitize()),
		zap.String("dataset", b.Key),
		zap.Int64("rows", n))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
