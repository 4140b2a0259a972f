// Package mongo stores fetched records as MongoDB documents.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/sink"
)

func init() {
	sink.MustRegister("mongo", "one document per record in a MongoDB collection", func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (sink.Sink, error) {
		return New(ctx, cfg, logger)
	})
}

// Collection is the subset of *mongo.Collection the sink uses.
type Collection interface {
	DeleteMany(ctx context.Context, filter any, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	InsertMany(ctx context.Context, documents []any, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

// Sink replaces a job's documents on every write.
type Sink struct {
	client *mongo.Client
	coll   Collection
	logger *zap.Logger
}

// New connects to cfg.URI.
func New(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (*Sink, error) {
	if cfg.URI == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "output.uri is required for the mongo sink")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetAppName("nass-quickstats"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "configuring mongo client")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connecting to mongo")
	}

	database, collection := cfg.Database, cfg.Collection
	if database == "" {
		database = "nass"
	}
	if collection == "" {
		collection = "quickstats"
	}
	s := NewWithCollection(client.Database(database).Collection(collection), logger)
	s.client = client
	return s, nil
}

// NewWithCollection writes to an existing collection.
func NewWithCollection(coll Collection, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{coll: coll, logger: logger}
}

// jobFilter matches the documents written for one job.
func jobFilter(b *sink.Batch) bson.D {
	return bson.D{
		{Key: "dataset", Value: b.Key},
		{Key: "year_start", Value: b.YearStart},
		{Key: "year_end", Value: b.YearEnd},
	}
}

// Documents converts a batch to insertable documents. The record keeps its field names
// under "record"; job metadata sits beside it for querying.
func Documents(b *sink.Batch) []any {
	docs := make([]any, 0, len(b.Records))
	for _, r := range b.Records {
		docs = append(docs, bson.D{
			{Key: "dataset", Value: b.Key},
			{Key: "category", Value: b.Category},
			{Key: "year_start", Value: b.YearStart},
			{Key: "year_end", Value: b.YearEnd},
			{Key: "fetched_at", Value: b.FetchedAt.UTC()},
			{Key: "record", Value: bson.M(r)},
		})
	}
	return docs
}

func (s *Sink) Write(ctx context.Context, b *sink.Batch) error {
	if _, err := s.coll.DeleteMany(ctx, jobFilter(b)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "clearing previous documents")
	}
	docs := Documents(b)
	if len(docs) == 0 {
		return nil
	}
	res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "inserting documents")
	}
	s.logger.Info("batch inserted",
		zap.String("dataset", b.Key),
		zap.Int("documents", len(res.InsertedIDs)))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "disconnecting from mongo")
	}
	return nil
}
