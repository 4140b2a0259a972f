package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
	"github.com/nassdata/quickstats/pkg/quickstats"
	"github.com/nassdata/quickstats/pkg/sink"
)

func batch(n int) *sink.Batch {
	b := &sink.Batch{
		Key:       "milk_production",
		YearStart: 2000,
		YearEnd:   2025,
		FetchedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < n; i++ {
		b.Records = append(b.Records, quickstats.Record{"state_name": fmt.Sprintf("STATE %d", i), "Value": float64(i)})
	}
	return b
}

func TestMessages(t *testing.T) {
	s, err := NewWithProducer(config.OutputConfig{}, nil, nil)
	require.NoError(t, err)

	msgs, err := s.Messages(batch(2))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	m := msgs[1]
	assert.Equal(t, "nass.quickstats", m.Topic)
	key, _ := m.Key.Encode()
	assert.Equal(t, "milk_production", string(key))
	value, _ := m.Value.Encode()
	assert.JSONEq(t, `{"state_name":"STATE 1","Value":1}`, string(value))

	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		HeaderDataset:   "milk_production",
		HeaderYearStart: "2000",
		HeaderYearEnd:   "2025",
		HeaderFetchedAt: "2024-01-02T00:00:00Z",
	}, headers)
}

func TestWritePublishesEveryRecord(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < chunkSize+5; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var r map[string]any
			return json.Unmarshal(val, &r)
		})
	}

	s, err := NewWithProducer(config.OutputConfig{Topic: "nass.raw"}, producer, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), batch(chunkSize+5)))
	require.NoError(t, s.Close(context.Background()))
}

func TestWriteFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s, err := NewWithProducer(config.OutputConfig{}, producer, nil)
	require.NoError(t, err)

	err = s.Write(context.Background(), batch(1))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	require.NoError(t, s.Close(context.Background()))
}

func TestSaramaConfigCompression(t *testing.T) {
	assert.Equal(t, sarama.CompressionZSTD, SaramaConfig(config.OutputConfig{Compression: "zstd"}).Producer.Compression)
	assert.Equal(t, sarama.CompressionNone, SaramaConfig(config.OutputConfig{Compression: "s2"}).Producer.Compression)
	assert.NoError(t, SaramaConfig(config.OutputConfig{Compression: "zstd"}).Validate())
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(config.OutputConfig{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
