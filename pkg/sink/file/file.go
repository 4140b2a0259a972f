// Package file writes batches as files under a local directory
package file

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/sink"
)

func init() {
	sink.MustRegister("file", "compressed files in a local directory", func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (sink.Sink, error) {
		return New(cfg, logger)
	})
}

// Sink writes one file per batch, e.g. data/raw/nass_corn_yield_1950_2025.json.gz. A file
// appears only once it is complete.
type Sink struct {
	dir    string
	codec  *sink.Codec
	logger *zap.Logger
}

// New creates the output directory and returns a file sink.
func New(cfg config.OutputConfig, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "output.path is required for the file sink")
	}
	codec, err := sink.NewCodec(cfg.Format, cfg.Compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "creating output directory")
	}
	return &Sink{dir: cfg.Path, codec: codec, logger: logger}, nil
}

// PathFor returns the file a batch is written to.
func (s *Sink) PathFor(b *sink.Batch) string {
	return filepath.Join(s.dir, s.codec.ObjectName(b))
}

func (s *Sink) Write(ctx context.Context, b *sink.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.PathFor(b)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "creating output file")
	}
	tmpName := tmp.Name()

	if err := s.codec.Encode(tmp, b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeFile, "closing output file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeFile, "moving output file into place")
	}

	s.logger.Info("batch written",
		zap.String("file", path),
		zap.Int("records", len(b.Records)))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	return nil
}
