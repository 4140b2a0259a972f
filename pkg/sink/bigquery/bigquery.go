// Package bigquery streams batches into a BigQuery table with a fixed schema: one row per
// record, the record itself in a JSON column.
package bigquery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
	"github.com/nassdata/quickstats/pkg/sink"
)

func init() {
	sink.MustRegister("bigquery", "streaming inserts into a BigQuery table (JSON records)", func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (sink.Sink, error) {
		return New(ctx, cfg, logger)
	})
}

// chunkSize keeps each insertAll request under the recommended 500 rows.
const chunkSize = 500

// Schema is the layout of the target table.
var Schema = bigquery.Schema{
	{Name: "dataset", Type: bigquery.StringFieldType, Required: true},
	{Name: "category", Type: bigquery.StringFieldType},
	{Name: "year_start", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "year_end", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "fetched_at", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "record", Type: bigquery.JSONFieldType, Required: true},
}

// Inserter is the subset of *bigquery.Inserter the sink uses.
type Inserter interface {
	Put(ctx context.Context, src any) error
}

// Row is one record ready for insertion.
type Row struct {
	Dataset   string
	Category  string
	YearStart int
	YearEnd   int
	FetchedAt time.Time
	Record    string
	InsertID  string
}

// Save implements bigquery.ValueSaver. The insert ID lets BigQuery drop rows resent by
// a retried request.
func (r *Row) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"dataset":    r.Dataset,
		"category":   r.Category,
		"year_start": r.YearStart,
		"year_end":   r.YearEnd,
		"fetched_at": r.FetchedAt,
		"record":     r.Record,
	}, r.InsertID, nil
}

// Sink appends every batch; rows of a job re-fetched later are told apart by fetched_at.
type Sink struct {
	inserter Inserter
	table    string
	client   *bigquery.Client
	logger   *zap.Logger
}

// New connects to cfg.Project and creates the dataset (cfg.Database) and table if they do
// not exist. Endpoint points the client at an emulator.
func New(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (*Sink, error) {
	if cfg.Project == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "output.project is required for the bigquery sink")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := bigquery.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "creating BigQuery client")
	}

	table, err := ensureTable(ctx, client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	s := NewWithInserter(cfg, table.Inserter(), logger)
	s.client = client
	return s, nil
}

func ensureTable(ctx context.Context, client *bigquery.Client, cfg config.OutputConfig) (*bigquery.Table, error) {
	ds := client.Dataset(datasetName(cfg))
	if _, err := ds.Metadata(ctx); err != nil {
		if !notFound(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "reading dataset "+ds.DatasetID)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: cfg.Location}); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "creating dataset "+ds.DatasetID)
		}
	}

	table := ds.Table(tableName(cfg))
	if _, err := table.Metadata(ctx); err != nil {
		if !notFound(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "reading table "+table.FullyQualifiedName())
		}
		err := table.Create(ctx, &bigquery.TableMetadata{
			Schema:           Schema,
			TimePartitioning: &bigquery.TimePartitioning{Field: "fetched_at", Type: bigquery.DayPartitioningType},
			Clustering:       &bigquery.Clustering{Fields: []string{"dataset", "year_start"}},
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "creating table "+table.FullyQualifiedName())
		}
	}
	return table, nil
}

func notFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

func datasetName(cfg config.OutputConfig) string {
	if cfg.Database != "" {
		return cfg.Database
	}
	return "nass"
}

func tableName(cfg config.OutputConfig) string {
	if cfg.Table != "" {
		return cfg.Table
	}
	return "nass_records"
}

// NewWithInserter uses an existing inserter.
func NewWithInserter(cfg config.OutputConfig, inserter Inserter, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		inserter: inserter,
		table:    datasetName(cfg) + "." + tableName(cfg),
		logger:   logger,
	}
}

// Rows converts a batch into insertable rows.
func Rows(b *sink.Batch) ([]*Row, error) {
	fetched := b.FetchedAt.UTC()
	rows := make([]*Row, 0, len(b.Records))
	for i, r := range b.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "encoding record")
		}
		rows = append(rows, &Row{
			Dataset:   b.Key,
			Category:  b.Category,
			YearStart: b.YearStart,
			YearEnd:   b.YearEnd,
			FetchedAt: fetched,
			Record:    string(data),
			InsertID:  fmt.Sprintf("%s/%d/%d", b.JobKey(), fetched.UnixNano(), i),
		})
	}
	return rows, nil
}

func (s *Sink) Write(ctx context.Context, b *sink.Batch) error {
	rows, err := Rows(b)
	if err != nil {
		return err
	}

	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		if err := s.inserter.Put(ctx, rows[start:end]); err != nil {
			var rowErrs bigquery.PutMultiError
			if errors.As(err, &rowErrs) {
				return errors.Wrap(err, errors.ErrorTypeData,
					fmt.Sprintf("%d of %d rows rejected by %s", len(rowErrs), end-start, s.table))
			}
			return errors.Wrap(err, errors.ErrorTypeConnection, "inserting into "+s.table)
		}
	}

	s.logger.Info("batch streamed",
		zap.String("table", s.table),
		zap.String("dataset", b.Key),
		zap.Int("rows", len(rows)))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
