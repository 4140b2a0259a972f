// Package gcs writes batches to Google Cloud Storage
package gcs

import (
	"context"
	"io"
	"path"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/sink"
)

func init() {
	sink.MustRegister("gcs", "objects in a Google Cloud Storage bucket", func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (sink.Sink, error) {
		return New(ctx, cfg, logger)
	})
}

// OpenWriter starts an object upload. The object becomes visible when the writer is
// closed; cancelling ctx abandons it.
type OpenWriter func(ctx context.Context, bucket, object string, attrs storage.ObjectAttrs) io.WriteCloser

// Sink streams one object per batch to gs://{bucket}/{prefix}/{object name}.
type Sink struct {
	bucket string
	prefix string
	codec  *sink.Codec
	open   OpenWriter
	client *storage.Client
	logger *zap.Logger
}

// New creates a storage client. CredentialsFile selects a service account key; otherwise
// application default credentials are used. Endpoint points the client at an emulator.
func New(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (*Sink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "creating GCS client")
	}

	s, err := NewWithWriter(cfg, func(ctx context.Context, bucket, object string, attrs storage.ObjectAttrs) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = attrs.ContentType
		w.ContentEncoding = attrs.ContentEncoding
		w.Metadata = attrs.Metadata
		return w
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.client = client
	return s, nil
}

// NewWithWriter returns a sink that opens objects through open.
func NewWithWriter(cfg config.OutputConfig, open OpenWriter, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "output.bucket is required for the gcs sink")
	}
	codec, err := sink.NewCodec(cfg.Format, cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &Sink{
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		codec:  codec,
		open:   open,
		logger: logger,
	}, nil
}

// ObjectName is the object a batch is stored as.
func (s *Sink) ObjectName(b *sink.Batch) string {
	return path.Join(s.prefix, s.codec.ObjectName(b))
}

func (s *Sink) Write(ctx context.Context, b *sink.Batch) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	name := s.ObjectName(b)
	w := s.open(ctx, s.bucket, name, storage.ObjectAttrs{
		ContentType:     s.codec.ContentType(),
		ContentEncoding: s.codec.ContentEncoding(),
		Metadata: map[string]string{
			"dataset":    b.Key,
			"year_start": strconv.Itoa(b.YearStart),
			"year_end":   strconv.Itoa(b.YearEnd),
			"records":    strconv.Itoa(len(b.Records)),
		},
	})

	if err := s.codec.Encode(w, b); err != nil {
		cancel()
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "writing gs://"+s.bucket+"/"+name)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "finishing gs://"+s.bucket+"/"+name)
	}

	s.logger.Info("batch uploaded",
		zap.String("bucket", s.bucket),
		zap.String("object", name),
		zap.Int("records", len(b.Records)))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "closing GCS client")
	}
	return nil
}
