// Package snowflake loads batches into a Snowflake table, one VARIANT record per row
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // registers the "snowflake" driver
	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
	"github.com/nassdata/quickstats/pkg/sink"
)

func init() {
	sink.MustRegister("snowflake", "rows in a Snowflake table (VARIANT records)", func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (sink.Sink, error) {
		return New(ctx, cfg, logger)
	})
}

const (
	// chunkSize rows go into one INSERT statement, six binds each.
	chunkSize = 1000

	defaultTable = "NASS_RECORDS"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// Sink replaces the rows of a job on every write inside one transaction.
type Sink struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// New opens cfg.DSN (user:password@account/database/schema?warehouse=WH) and creates
// the table if it does not exist.
func New(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "output.dsn is required for the snowflake sink")
	}
	db, err := sql.Open("snowflake", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parsing snowflake DSN")
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connecting to snowflake")
	}
	s, err := NewWithDB(ctx, cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB uses an open database handle.
func NewWithDB(ctx context.Context, cfg config.OutputConfig, db *sql.DB, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !identifier.MatchString(table) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid snowflake table name %q", table)
	}

	s := &Sink{db: db, table: table, logger: logger}
	if _, err := db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "creating table "+table)
	}
	return s, nil
}

func (s *Sink) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	dataset STRING NOT NULL,
	category STRING,
	year_start INTEGER NOT NULL,
	year_end INTEGER NOT NULL,
	fetched_at TIMESTAMP_NTZ NOT NULL,
	record VARIANT NOT NULL
)`, s.table)
}

func insertSQL(table string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (dataset, category, year_start, year_end, fetched_at, record) "+
		"SELECT column1, column2, column3, column4, column5, PARSE_JSON(column6) FROM VALUES ", table)
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?)")
	}
	return b.String()
}

func (s *Sink) Write(ctx context.Context, b *sink.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE dataset = ? AND year_start = ? AND year_end = ?", s.table),
		b.Key, b.YearStart, b.YearEnd); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "clearing previous rows")
	}

	fetched := b.FetchedAt.UTC()
	for start := 0; start < len(b.Records); start += chunkSize {
		end := min(start+chunkSize, len(b.Records))
		args := make([]any, 0, (end-start)*6)
		for _, r := range b.Records[start:end] {
			data, err := json.Marshal(r)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "encoding record")
			}
			args = append(args, b.Key, b.Category, b.YearStart, b.YearEnd, fetched, string(data))
		}
		if _, err := tx.ExecContext(ctx, insertSQL(s.table, end-start), args...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "inserting into "+s.table)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "committing batch")
	}

	s.logger.Info("batch loaded",
		zap.String("table", s.table),
		zap.String("dataset", b.Key),
		zap.Int("rows", len(b.Records)))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	return s.db.Close()
}
