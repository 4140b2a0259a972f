// Package kafka publishes each fetched record as a Kafka message.
package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
	"github.com/nassdata/quickstats/pkg/sink"
)

func init() {
	sink.MustRegister("kafka", "one message per record on a Kafka topic", func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (sink.Sink, error) {
		return New(cfg, logger)
	})
}

// chunkSize bounds the messages handed to one SendMessages call.
const chunkSize = 1000

// Header names attached to every message.
const (
	HeaderDataset   = "nass-dataset"
	HeaderYearStart = "nass-year-start"
	HeaderYearEnd   = "nass-year-end"
	HeaderFetchedAt = "nass-fetched-at"
)

// Sink produces messages keyed by dataset so one dataset lands on one partition.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// SaramaConfig is the producer configuration for cfg. Compression maps onto the codecs
// Kafka supports natively; others fall back to none.
func SaramaConfig(cfg config.OutputConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = "nass-quickstats"
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.MaxMessageBytes = 1 << 20

	switch cfg.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
		sc.Version = sarama.V2_1_0_0
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}
	return sc
}

// New connects a synchronous producer to cfg.Brokers.
func New(cfg config.OutputConfig, logger *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "output.brokers is required for the kafka sink")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, SaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connecting to kafka")
	}
	return NewWithProducer(cfg, producer, logger)
}

// NewWithProducer uses an existing producer.
func NewWithProducer(cfg config.OutputConfig, producer sarama.SyncProducer, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "nass.quickstats"
	}
	return &Sink{producer: producer, topic: topic, logger: logger}, nil
}

// Messages builds the producer messages for b.
func (s *Sink) Messages(b *sink.Batch) ([]*sarama.ProducerMessage, error) {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderDataset), Value: []byte(b.Key)},
		{Key: []byte(HeaderYearStart), Value: []byte(strconv.Itoa(b.YearStart))},
		{Key: []byte(HeaderYearEnd), Value: []byte(strconv.Itoa(b.YearEnd))},
		{Key: []byte(HeaderFetchedAt), Value: []byte(b.FetchedAt.UTC().Format(time.RFC3339))},
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(b.Records))
	for _, r := range b.Records {
		value, err := json.Marshal(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "encoding record")
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:     s.topic,
			Key:       sarama.StringEncoder(b.Key),
			Value:     sarama.ByteEncoder(value),
			Headers:   headers,
			Timestamp: b.FetchedAt,
		})
	}
	return msgs, nil
}

// Write publishes the batch in chunks. A failed chunk fails the write; messages already
// acknowledged stay on the topic, so consumers must tolerate replays of a job.
func (s *Sink) Write(ctx context.Context, b *sink.Batch) error {
	msgs, err := s.Messages(b)
	if err != nil {
		return err
	}
	for start := 0; start < len(msgs); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+chunkSize, len(msgs))
		if err := s.producer.SendMessages(msgs[start:end]); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "publishing to "+s.topic)
		}
	}
	s.logger.Info("batch published",
		zap.String("topic", s.topic),
		zap.String("dataset", b.Key),
		zap.Int("messages", len(msgs)))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	if err := s.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "closing kafka producer")
	}
	return nil
}
